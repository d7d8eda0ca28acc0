package serialsrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/hesai-decode/internal/lidar/parse"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

// Port is the subset of serial.Port the source needs.
type Port interface {
	io.Reader
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// Source reads framed packets from a Port.
type Source struct {
	port     Port
	deframer *Deframer
	chunk    []byte
	clock    timeutil.Clock
	crcLog   *monitoring.Throttle
	lastCRC  uint64
}

// Open opens the serial device at path.
func Open(path string, opts PortOptions) (*Source, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	normalized, _ := opts.Normalize()
	monitoring.Logf("Serial source reading %s at %s", path, normalized)
	return NewSource(port, nil)
}

// NewSource wraps an already open port. A nil clock uses the real clock.
func NewSource(port Port, clock timeutil.Clock) (*Source, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set serial read timeout: %w", err)
	}
	return &Source{
		port:     port,
		deframer: NewDeframer(parse.MaxPacketSize),
		chunk:    make([]byte, 4096),
		clock:    clock,
		crcLog:   monitoring.NewThrottle(10 * time.Second),
	}, nil
}

// ReadPacket returns the next payload with a valid CRC. Payloads larger
// than buf are skipped. A closed port reads as io.EOF.
func (s *Source) ReadPacket(ctx context.Context, buf []byte) (int, time.Time, error) {
	for {
		if payload, ok := s.deframer.Next(); ok {
			if len(payload) > len(buf) {
				continue
			}
			return copy(buf, payload), s.clock.Now(), nil
		}
		if err := ctx.Err(); err != nil {
			return 0, time.Time{}, err
		}
		n, err := s.port.Read(s.chunk)
		if n > 0 {
			s.deframer.Feed(s.chunk[:n])
			if s.deframer.CRCErrors != s.lastCRC {
				s.lastCRC = s.deframer.CRCErrors
				s.crcLog.Logf("Serial CRC errors: %d (frames ok: %d)", s.deframer.CRCErrors, s.deframer.Frames)
			}
		}
		if err != nil {
			if isClosed(err) {
				return 0, time.Time{}, io.EOF
			}
			return 0, time.Time{}, fmt.Errorf("serial read: %w", err)
		}
	}
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var perr *serial.PortError
	return errors.As(err, &perr) && perr.Code() == serial.PortClosed
}

// Counts returns frames accepted and frames rejected for CRC, length or
// overrun. Call it from the reading goroutine or after reading stops.
func (s *Source) Counts() (frames, crcErrors, runts, overruns uint64) {
	d := s.deframer
	return d.Frames, d.CRCErrors, d.Runts, d.Overruns
}

// Close closes the port.
func (s *Source) Close() error { return s.port.Close() }

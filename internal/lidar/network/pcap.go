package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/hesai-decode/internal/monitoring"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// PCAPConfig configures a capture-file replay.
type PCAPConfig struct {
	Path string
	// Port keeps only UDP datagrams to this destination port; 0 keeps all.
	Port int
	// Realtime paces packets by their capture timestamps, scaled by Speed.
	Realtime bool
	Speed    float64
	Clock    timeutil.Clock
}

type packetDataReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PCAPSource replays UDP payloads from a pcap or pcapng file. The receive
// time it reports is the capture timestamp.
type PCAPSource struct {
	file     *os.File
	reader   packetDataReader
	port     int
	realtime bool
	speed    float64
	clock    timeutil.Clock

	lastCapture time.Time
	packets     atomic.Uint64
	skipped     atomic.Uint64
}

// OpenPCAP opens cfg.Path, detecting pcap or pcapng from its magic number.
func OpenPCAP(cfg PCAPConfig) (*PCAPSource, error) {
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", cfg.Path, err)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read PCAP header %s: %w", cfg.Path, err)
	}

	var r packetDataReader
	if bytes.Equal(magic, pcapngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse PCAP header %s: %w", cfg.Path, err)
	}

	mode := "as fast as possible"
	if cfg.Realtime {
		mode = fmt.Sprintf("real time at %.1fx", cfg.Speed)
	}
	monitoring.Logf("PCAP replay of %s (udp port %d, %s)", cfg.Path, cfg.Port, mode)
	return &PCAPSource{
		file:     f,
		reader:   r,
		port:     cfg.Port,
		realtime: cfg.Realtime,
		speed:    cfg.Speed,
		clock:    cfg.Clock,
	}, nil
}

// ReadPacket returns the next matching UDP payload, or io.EOF at the end of
// the file.
func (s *PCAPSource) ReadPacket(ctx context.Context, buf []byte) (int, time.Time, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, time.Time{}, err
		}
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				monitoring.Logf("PCAP replay complete: %d packets, %d skipped", s.packets.Load(), s.skipped.Load())
				return 0, time.Time{}, io.EOF
			}
			return 0, time.Time{}, fmt.Errorf("read PCAP packet: %w", err)
		}

		payload, ok := s.udpPayload(data)
		if !ok || len(payload) > len(buf) {
			s.skipped.Add(1)
			continue
		}
		if err := s.pace(ctx, ci.Timestamp); err != nil {
			return 0, time.Time{}, err
		}
		s.packets.Add(1)
		return copy(buf, payload), ci.Timestamp, nil
	}
}

func (s *PCAPSource) udpPayload(data []byte) ([]byte, bool) {
	packet := gopacket.NewPacket(data, s.reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, false
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if s.port != 0 && int(udp.DstPort) != s.port {
		return nil, false
	}
	return udp.Payload, true
}

func (s *PCAPSource) pace(ctx context.Context, capture time.Time) error {
	if !s.realtime {
		return nil
	}
	last := s.lastCapture
	s.lastCapture = capture
	if last.IsZero() {
		return nil
	}
	delay := time.Duration(float64(capture.Sub(last)) / s.speed)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(delay):
		return nil
	}
}

// Counts returns packets delivered and packets skipped.
func (s *PCAPSource) Counts() (packets, skipped uint64) {
	return s.packets.Load(), s.skipped.Load()
}

// Close closes the capture file.
func (s *PCAPSource) Close() error { return s.file.Close() }

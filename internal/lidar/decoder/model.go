// Package decoder turns raw packets into frames. An Engine owns the per-stream
// state (split history, loss counters, the open frame) and drives a Model,
// the per-sensor implementation of packet decoding and point projection.
package decoder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/hesai-decode/internal/lidar/calib"
	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/parse"
)

var (
	// ErrCalibrationMissing is returned for every packet decoded while no
	// calibration table is loaded.
	ErrCalibrationMissing = errors.New("calibration not loaded")
	// ErrBufferOverflow is returned when a packet did not fit in the open
	// frame. Its points are dropped; the frame is still emitted.
	ErrBufferOverflow = errors.New("frame buffer overflow")
)

// TimestampSource picks where per-packet timestamps come from.
type TimestampSource int

const (
	// TimestampLidar uses the sensor's UTC and microsecond tail fields.
	TimestampLidar TimestampSource = iota
	// TimestampHost uses the time the packet was received.
	TimestampHost
)

func (s TimestampSource) String() string {
	if s == TimestampHost {
		return "host"
	}
	return "lidar"
}

// ParseTimestampSource accepts "lidar" or "host". Empty means lidar.
func ParseTimestampSource(s string) (TimestampSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lidar":
		return TimestampLidar, nil
	case "host":
		return TimestampHost, nil
	}
	return TimestampLidar, fmt.Errorf("unknown timestamp source %q (want lidar or host)", s)
}

// Options are the per-point decoding switches shared by every model.
type Options struct {
	FrameStartAzimuth        float64 // degrees
	FOV                      l2frames.FOV
	TimestampSource          TimestampSource
	EnableDistanceCorrection bool
	DistanceReference        calib.ReferencePoint
	EnableFiretimeCorrection bool
	Transform                l2frames.Transform
}

// Model is one sensor family's packet format and projection. A Model holds
// the split history for its stream, so each Engine needs its own instance.
type Model interface {
	Name() string
	Layout() parse.Layout

	// DecodePacket validates raw and, on success, writes frame-level
	// scalars and reserves a packet slot. packetIndex is -1 when the frame
	// was already full. A malformed packet leaves frame untouched.
	DecodePacket(frame *l2frames.Frame, raw parse.RawPacket) (pkt parse.Packet, packetIndex int, err error)

	// ComputeXYZI projects every return in pkt into the reserved slot and
	// returns the number of points written.
	ComputeXYZI(frame *l2frames.Frame, pkt parse.Packet, packetIndex int) int

	// IsNeedFrameSplit reports whether a packet ending at azimuth (0.01
	// degree units) closes the open frame, then records it in history.
	IsNeedFrameSplit(azimuth uint16) bool
}

// ModelFactory builds a Model reading calibration from store.
type ModelFactory func(opts Options, store *calib.Store) Model

var models = map[string]ModelFactory{
	"Pandar40P": func(opts Options, store *calib.Store) Model { return NewPandar40P(opts, store) },
}

// NewModel builds the named model. Names are case-insensitive.
func NewModel(name string, opts Options, store *calib.Store) (Model, error) {
	for k, f := range models {
		if strings.EqualFold(k, name) {
			return f(opts, store), nil
		}
	}
	return nil, fmt.Errorf("unknown sensor model %q (supported: %s)", name, strings.Join(ModelNames(), ", "))
}

// ModelNames lists the registered models.
func ModelNames() []string {
	names := make([]string, 0, len(models))
	for k := range models {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func packetTime(src TimestampSource, tail parse.Tail, raw parse.RawPacket) uint64 {
	if src == TimestampHost {
		if us := raw.ReceivedMicros(); us != 0 {
			return us
		}
		return uint64(time.Now().UnixMicro())
	}
	return tail.MicroLidarTime()
}

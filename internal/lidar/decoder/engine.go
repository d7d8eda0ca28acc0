package decoder

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/hesai-decode/internal/lidar/calib"
	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/loss"
	"github.com/banshee-data/hesai-decode/internal/lidar/parse"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
)

// DefaultMaxPacketsPerFrame covers one revolution at the slowest spin rate
// with room to spare.
const DefaultMaxPacketsPerFrame = 1000

// Config selects the model and its options for one sensor stream.
type Config struct {
	SensorID           string
	Model              string
	Options            Options
	MaxPacketsPerFrame int
	TimeLossThreshold  time.Duration
}

// Stats is a snapshot of an Engine's counters.
type Stats struct {
	SensorID           string        `json:"sensor_id"`
	Model              string        `json:"model"`
	Packets            uint64        `json:"packets"`
	Malformed          uint64        `json:"malformed"`
	CalibrationMissing uint64        `json:"calibration_missing"`
	PointsWritten      uint64        `json:"points_written"`
	FramesCompleted    uint64        `json:"frames_completed"`
	OverflowFrames     uint64        `json:"overflow_frames"`
	DroppedPoints      uint64        `json:"dropped_points"`
	SplitPhase         string        `json:"split_phase"`
	Loss               loss.Snapshot `json:"loss"`
}

type splitPhaser interface {
	SplitPhase() l2frames.SplitPhase
}

// Engine decodes one packet stream. Decode, Flush and Release belong to a
// single goroutine; Stats is safe from any goroutine.
type Engine struct {
	cfg     Config
	model   Model
	layout  parse.Layout
	store   *calib.Store
	tracker *loss.Tracker
	pool    *l2frames.Pool
	current *l2frames.Frame

	frameIndex  uint64
	calibLogged bool
	badPackets  *monitoring.Throttle

	packets            atomic.Uint64
	malformed          atomic.Uint64
	calibrationMissing atomic.Uint64
	pointsWritten      atomic.Uint64
	framesCompleted    atomic.Uint64
	overflowFrames     atomic.Uint64
	droppedPoints      atomic.Uint64
	phase              atomic.Int32
}

// NewEngine builds an Engine for cfg.Model reading calibration from store.
func NewEngine(cfg Config, store *calib.Store) (*Engine, error) {
	if cfg.Model == "" {
		cfg.Model = parse.Pandar40P.Name
	}
	if cfg.MaxPacketsPerFrame <= 0 {
		cfg.MaxPacketsPerFrame = DefaultMaxPacketsPerFrame
	}
	if store == nil {
		store = calib.NewStore(nil)
	}
	start := l2frames.NormalizeStartAzimuth(cfg.Options.FrameStartAzimuth)
	if start != cfg.Options.FrameStartAzimuth {
		monitoring.Logf("[decoder] frame start azimuth %.2f out of [0, 360), using %.2f", cfg.Options.FrameStartAzimuth, start)
		cfg.Options.FrameStartAzimuth = start
	}

	model, err := NewModel(cfg.Model, cfg.Options, store)
	if err != nil {
		return nil, err
	}
	layout := model.Layout()
	e := &Engine{
		cfg:        cfg,
		model:      model,
		layout:     layout,
		store:      store,
		tracker:    loss.NewTracker(cfg.TimeLossThreshold),
		pool:       l2frames.NewPool(cfg.MaxPacketsPerFrame, layout.PointsPerPacket()),
		badPackets: monitoring.NewThrottle(5 * time.Second),
	}
	e.current = e.nextFrame()
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Model returns the engine's model.
func (e *Engine) Model() Model { return e.model }

// Calibration returns the store the engine reads tables from.
func (e *Engine) Calibration() *calib.Store { return e.store }

func (e *Engine) nextFrame() *l2frames.Frame {
	f := e.pool.Get()
	e.frameIndex++
	f.ID = uuid.New()
	f.Index = e.frameIndex
	f.SensorID = e.cfg.SensorID
	return f
}

// Decode consumes one packet. It returns a completed frame when this packet
// closes a revolution; the packet's own points belong to that frame.
//
// Errors are per packet and never fatal: malformed and calibration errors
// return a nil frame with state unchanged, while ErrBufferOverflow may
// accompany a completed frame.
func (e *Engine) Decode(raw parse.RawPacket) (*l2frames.Frame, error) {
	e.packets.Add(1)
	frame := e.current

	pkt, idx, err := e.model.DecodePacket(frame, raw)
	if err != nil {
		if errors.Is(err, ErrCalibrationMissing) {
			e.calibrationMissing.Add(1)
			if !e.calibLogged {
				e.calibLogged = true
				monitoring.Logf("[decoder] %s: %v; point decoding disabled", e.sensorLabel(), err)
			}
			return nil, err
		}
		e.malformed.Add(1)
		e.badPackets.Logf("[decoder] %s: dropping packet: %v", e.sensorLabel(), err)
		return nil, err
	}
	if e.calibLogged {
		e.calibLogged = false
		monitoring.Logf("[decoder] %s: calibration available, decoding points", e.sensorLabel())
	}

	var result error
	if idx < 0 {
		frame.MarkOverflow()
		e.droppedPoints.Add(uint64(e.layout.PointsPerPacket()))
		if frame.DroppedPackets == 1 {
			e.overflowFrames.Add(1)
			monitoring.Logf("[decoder] %s: frame %d exceeded %d packets; dropping points until next split",
				e.sensorLabel(), frame.Index, frame.MaxPackets())
		}
		result = fmt.Errorf("%w: frame %d holds %d packets", ErrBufferOverflow, frame.Index, frame.MaxPackets())
	} else {
		e.pointsWritten.Add(uint64(e.model.ComputeXYZI(frame, pkt, idx)))
	}

	tail := pkt.Tail()
	if tail.HasSequence {
		e.tracker.ObserveSequence(tail.Sequence)
	}
	if _, dated := tail.UTCTime(); dated {
		e.tracker.ObserveTimestamp(tail.MicroLidarTime())
	} else {
		e.tracker.ObserveSubsecond(tail.Timestamp)
	}

	split := e.model.IsNeedFrameSplit(pkt.BlockAzimuth(e.layout.BlockCount - 1))
	if p, ok := e.model.(splitPhaser); ok {
		e.phase.Store(int32(p.SplitPhase()))
	}
	if !split {
		return nil, result
	}

	frame.ScanComplete = true
	e.framesCompleted.Add(1)
	monitoring.Debugf("[decoder] %s: frame %d complete: packets=%d points=%d overflow=%v",
		e.sensorLabel(), frame.Index, frame.PacketCount, frame.PointCount, frame.Overflow)
	e.current = e.nextFrame()
	return frame, result
}

// Flush hands over the open frame if it holds any packets. The frame's
// ScanComplete is false. Used when a finite source runs dry.
func (e *Engine) Flush() *l2frames.Frame {
	f := e.current
	if f.PacketCount == 0 && !f.Overflow {
		return nil
	}
	e.current = e.nextFrame()
	return f
}

// Release returns a consumed frame to the engine's pool. It is safe to call
// from the consumer goroutine.
func (e *Engine) Release(f *l2frames.Frame) {
	e.pool.Put(f)
}

// Stats returns the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		SensorID:           e.cfg.SensorID,
		Model:              e.model.Name(),
		Packets:            e.packets.Load(),
		Malformed:          e.malformed.Load(),
		CalibrationMissing: e.calibrationMissing.Load(),
		PointsWritten:      e.pointsWritten.Load(),
		FramesCompleted:    e.framesCompleted.Load(),
		OverflowFrames:     e.overflowFrames.Load(),
		DroppedPoints:      e.droppedPoints.Load(),
		SplitPhase:         l2frames.SplitPhase(e.phase.Load()).String(),
		Loss:               e.tracker.Snapshot(),
	}
}

func (e *Engine) sensorLabel() string {
	if e.cfg.SensorID == "" {
		return e.model.Name()
	}
	return e.cfg.SensorID
}

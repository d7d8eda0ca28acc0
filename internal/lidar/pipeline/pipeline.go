package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/hesai-decode/internal/lidar/decoder"
	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/parse"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

// DefaultQueueDepth is the number of packets that may wait for decode.
const DefaultQueueDepth = 256

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("pipeline already started")

// Source yields raw payloads. ReadPacket returns io.EOF when a finite input
// is exhausted.
type Source interface {
	ReadPacket(ctx context.Context, buf []byte) (int, time.Time, error)
	Close() error
}

// Tap sees every received payload before decode. payload is only valid for
// the duration of the call.
type Tap interface {
	Tap(payload []byte, at time.Time)
}

// FrameHandler consumes a completed frame. The frame is recycled once every
// handler has returned, so handlers must copy anything they keep.
type FrameHandler func(*l2frames.Frame)

// Config tunes queueing.
type Config struct {
	QueueDepth int
	// FrameQueue is how many completed frames may wait for handlers.
	FrameQueue int
	// DropSlowFrames discards completed frames when handlers fall behind
	// instead of stalling decode. Live sources want this; file replay does
	// not.
	DropSlowFrames bool
	StatsInterval  time.Duration
	Clock          timeutil.Clock
}

// Stats combines queue counters with the engine's.
type Stats struct {
	Received        uint64        `json:"received"`
	FramesDelivered uint64        `json:"frames_delivered"`
	FramesDropped   uint64        `json:"frames_dropped"`
	QueueLen        int           `json:"queue_len"`
	Decoder         decoder.Stats `json:"decoder"`
}

type queued struct {
	buf []byte
	n   int
	at  time.Time
}

// Pipeline owns the goroutines around one Engine.
type Pipeline struct {
	engine   *decoder.Engine
	cfg      Config
	taps     []Tap
	handlers []FrameHandler

	free   chan []byte
	queue  chan queued
	frames chan *l2frames.Frame

	started   atomic.Bool
	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a Pipeline around engine.
func New(engine *decoder.Engine, cfg Config) *Pipeline {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = 8
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Pipeline{
		engine: engine,
		cfg:    cfg,
		free:   make(chan []byte, cfg.QueueDepth),
		queue:  make(chan queued, cfg.QueueDepth),
		frames: make(chan *l2frames.Frame, cfg.FrameQueue),
	}
}

// AddTap registers a tap. Call before Run.
func (p *Pipeline) AddTap(t Tap) {
	p.taps = append(p.taps, t)
}

// OnFrame registers a frame handler. Handlers run in registration order on
// one goroutine. Call before Run.
func (p *Pipeline) OnFrame(h FrameHandler) {
	p.handlers = append(p.handlers, h)
}

// Engine returns the decoder the pipeline drives.
func (p *Pipeline) Engine() *decoder.Engine { return p.engine }

// Run reads src until it is exhausted or ctx is done, then drains the
// queue, flushes the open frame and waits for handlers. It returns nil at
// the end of a finite source and ctx.Err() on cancellation. A Pipeline runs
// once.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	for i := 0; i < p.cfg.QueueDepth; i++ {
		p.free <- make([]byte, parse.MaxPacketSize)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.consumeFrames()
	}()
	decodeDone := make(chan struct{})
	go func() {
		defer close(decodeDone)
		p.decodeLoop()
	}()
	statsCtx, stopStats := context.WithCancel(ctx)
	if p.cfg.StatsInterval > 0 {
		go p.logStats(statsCtx)
	}

	err := p.receive(ctx, src)
	close(p.queue)
	<-decodeDone
	close(p.frames)
	wg.Wait()
	stopStats()

	s := p.Stats()
	monitoring.Logf("[pipeline] stopped: received=%d frames=%d dropped_frames=%d malformed=%d",
		s.Received, s.FramesDelivered, s.FramesDropped, s.Decoder.Malformed)
	return err
}

func (p *Pipeline) receive(ctx context.Context, src Source) error {
	for {
		var buf []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case buf = <-p.free:
		}
		n, at, err := src.ReadPacket(ctx, buf)
		if err != nil {
			p.free <- buf
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		p.received.Add(1)
		for _, t := range p.taps {
			t.Tap(buf[:n], at)
		}
		p.queue <- queued{buf: buf, n: n, at: at}
	}
}

// decodeLoop is the only goroutine that touches the engine's decode state.
func (p *Pipeline) decodeLoop() {
	for q := range p.queue {
		// Per-packet errors are counted and logged by the engine.
		frame, _ := p.engine.Decode(parse.NewRawPacket(q.buf[:q.n], q.at))
		p.free <- q.buf
		if frame != nil {
			p.deliver(frame)
		}
	}
	if frame := p.engine.Flush(); frame != nil {
		p.deliver(frame)
	}
}

func (p *Pipeline) deliver(frame *l2frames.Frame) {
	if !p.cfg.DropSlowFrames {
		p.frames <- frame
		return
	}
	select {
	case p.frames <- frame:
	default:
		if p.dropped.Add(1)%100 == 1 {
			monitoring.Logf("[pipeline] frame consumers falling behind; dropped %d frames", p.dropped.Load())
		}
		p.engine.Release(frame)
	}
}

func (p *Pipeline) consumeFrames() {
	for frame := range p.frames {
		for _, h := range p.handlers {
			h(frame)
		}
		p.delivered.Add(1)
		p.engine.Release(frame)
	}
}

func (p *Pipeline) logStats(ctx context.Context) {
	ticker := p.cfg.Clock.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s := p.Stats()
			d := s.Decoder
			monitoring.Logf("[pipeline] %s: received=%d frames=%d points=%d malformed=%d lost=%d (%.3f%%) time_loss=%d queue=%d",
				d.Model, s.Received, d.FramesCompleted, d.PointsWritten, d.Malformed,
				d.Loss.LostPackets, d.Loss.LossRatio()*100, d.Loss.TimeLossEvents, s.QueueLen)
		}
	}
}

// Stats is safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:        p.received.Load(),
		FramesDelivered: p.delivered.Load(),
		FramesDropped:   p.dropped.Load(),
		QueueLen:        len(p.queue),
		Decoder:         p.engine.Stats(),
	}
}

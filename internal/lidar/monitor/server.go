// Package monitor serves the decoder's operational surface: health and
// status JSON, Prometheus metrics, chart pages, tsweb debug pages and a
// gRPC health service.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"tailscale.com/tsweb"

	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/pipeline"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
	"github.com/banshee-data/hesai-decode/internal/version"
)

// StatsProvider reports pipeline counters.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// Config describes what the monitor reports on.
type Config struct {
	Address        string
	SensorID       string
	Source         string // human-readable input description
	Stats          StatsProvider
	MaxChartPoints int // points kept from the latest frame, default 8000
	HistoryLength  int // frames kept for the loss plot, default 600
	Clock          timeutil.Clock
}

// frameSample is one frame's entry in the history ring.
type frameSample struct {
	Index   uint64
	At      time.Time
	Packets int
	Points  int
	Lost    uint64 // packets lost since the previous frame
}

// chartPoint is a decimated copy of a frame point.
type chartPoint struct {
	X, Y, Z   float32
	Intensity uint8
}

// Server is the monitoring HTTP server. It is also a frame handler: each
// frame it sees updates the charts and metrics.
type Server struct {
	cfg     Config
	started time.Time
	mux     *http.ServeMux
	server  *http.Server
	metrics *metrics

	mu         sync.Mutex
	latest     []chartPoint
	latestMeta frameSample
	history    []frameSample
	lastLost   uint64
	lastFrame  time.Time
}

// NewServer builds the routes. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.MaxChartPoints <= 0 {
		cfg.MaxChartPoints = 8000
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = 600
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &Server{
		cfg:     cfg,
		started: cfg.Clock.Now(),
		mux:     http.NewServeMux(),
	}
	s.metrics = newMetrics(prometheus.NewRegistry(), cfg.Stats)
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/frames/latest", s.handleLatestFrame)
	s.mux.Handle("/metrics", s.metrics.handler())
	s.mux.HandleFunc("/charts/frame", s.handleFrameChart)
	s.mux.HandleFunc("/charts/loss.png", s.handleLossPlot)
	s.mux.HandleFunc("/", s.handleIndex)

	debug := tsweb.Debugger(s.mux)
	debug.KV("Version", version.String())
	debug.KV("Source", s.cfg.Source)
	debug.KVFunc("Uptime", func() any { return s.cfg.Clock.Since(s.started).Round(time.Second).String() })
	if s.cfg.Stats != nil {
		debug.KVFunc("Packets received", func() any { return s.cfg.Stats.Stats().Received })
		debug.KVFunc("Frames completed", func() any { return s.cfg.Stats.Stats().Decoder.FramesCompleted })
		debug.KVFunc("Packets lost", func() any { return s.cfg.Stats.Stats().Decoder.Loss.LostPackets })
		debug.KVFunc("Split phase", func() any { return s.cfg.Stats.Stats().Decoder.SplitPhase })
	}
}

// Mux exposes the route table so other packages can mount debug routes.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// HandleFrame records a completed frame. It matches pipeline.FrameHandler.
func (s *Server) HandleFrame(f *l2frames.Frame) {
	now := s.cfg.Clock.Now()
	var lost uint64
	if s.cfg.Stats != nil {
		lost = s.cfg.Stats.Stats().Decoder.Loss.LostPackets
	}

	stride := 1
	if f.PointCount > s.cfg.MaxChartPoints {
		stride = (f.PointCount + s.cfg.MaxChartPoints - 1) / s.cfg.MaxChartPoints
	}
	points := make([]chartPoint, 0, f.PointCount/stride+1)
	n := 0
	f.Each(func(_ int, p *l2frames.Point) {
		if n%stride == 0 {
			points = append(points, chartPoint{p.X, p.Y, p.Z, p.Intensity})
		}
		n++
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	sample := frameSample{Index: f.Index, At: now, Packets: f.PacketCount, Points: f.PointCount, Lost: lost - s.lastLost}
	s.lastLost = lost
	s.lastFrame = now
	s.latest = points
	s.latestMeta = sample
	s.history = append(s.history, sample)
	if len(s.history) > s.cfg.HistoryLength {
		s.history = s.history[len(s.history)-s.cfg.HistoryLength:]
	}
	s.metrics.observeFrame(f)
}

// LastFrameAt returns when the last frame arrived, zero if none has.
func (s *Server) LastFrameAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("monitor listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		errc <- s.server.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

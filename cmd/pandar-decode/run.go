package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/hesai-decode/internal/config"
	"github.com/banshee-data/hesai-decode/internal/lidar/calib"
	"github.com/banshee-data/hesai-decode/internal/lidar/decoder"
	"github.com/banshee-data/hesai-decode/internal/lidar/framelog"
	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/loss"
	"github.com/banshee-data/hesai-decode/internal/lidar/monitor"
	"github.com/banshee-data/hesai-decode/internal/lidar/network"
	"github.com/banshee-data/hesai-decode/internal/lidar/pipeline"
	"github.com/banshee-data/hesai-decode/internal/lidar/serialsrc"
	"github.com/banshee-data/hesai-decode/internal/lidar/synth"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
)

type options struct {
	ConfigFile   string
	Source       string
	SensorID     string
	UDPAddr      string
	UDPPort      int
	RcvBuf       int
	PCAPFile     string
	PCAPRealtime bool
	PCAPSpeed    float64
	SerialPort   string
	BaudRate     int
	SynthRevs    int
	ForwardAddr  string
	ForwardPort  int
	RecordFile   string
	Listen       string
	GRPCListen   string
	DBFile       string
	ExportDir    string
	StatsEvery   time.Duration
}

// liveSource reports whether the source produces packets on its own
// schedule, in which case slow frame handlers must not stall decoding.
func (o options) liveSource() bool {
	switch o.Source {
	case "udp", "serial":
		return true
	case "pcap":
		return o.PCAPRealtime
	}
	return false
}

func (o options) sourceDescription() string {
	switch o.Source {
	case "udp":
		return "udp " + net.JoinHostPort(o.UDPAddr, strconv.Itoa(o.UDPPort))
	case "pcap":
		return "pcap " + o.PCAPFile
	case "serial":
		return "serial " + o.SerialPort
	}
	return o.Source
}

func loadConfig(path string) (*config.DecoderConfig, error) {
	if path == "" {
		return &config.DecoderConfig{}, nil
	}
	cfg, err := config.LoadDecoderConfig(path)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("Loaded decoder config from %s", path)
	return cfg, nil
}

func openSource(o options, cfg *config.DecoderConfig) (pipeline.Source, error) {
	switch o.Source {
	case "udp":
		return network.NewUDPSource(network.UDPConfig{
			Address: net.JoinHostPort(o.UDPAddr, strconv.Itoa(o.UDPPort)),
			RcvBuf:  o.RcvBuf,
		})
	case "pcap":
		if o.PCAPFile == "" {
			return nil, errors.New("-source pcap requires -pcap")
		}
		return network.OpenPCAP(network.PCAPConfig{
			Path:     o.PCAPFile,
			Port:     o.UDPPort,
			Realtime: o.PCAPRealtime,
			Speed:    o.PCAPSpeed,
		})
	case "serial":
		if o.SerialPort == "" {
			return nil, errors.New("-source serial requires -serial-port")
		}
		portOpts := cfg.GetSerial()
		if o.BaudRate > 0 {
			portOpts.BaudRate = o.BaudRate
		}
		return serialsrc.Open(o.SerialPort, portOpts)
	case "synthetic":
		return synth.New(synth.Config{
			Revolutions:  o.SynthRevs,
			WithSequence: true,
			StartAzimuth: cfg.GetFrameStartAzimuth(),
			Realtime:     true,
		}), nil
	}
	return nil, fmt.Errorf("unknown source %q (want udp, pcap, serial or synthetic)", o.Source)
}

// run wires one source through the decoder to every configured consumer
// and blocks until the source ends or ctx is done.
func run(ctx context.Context, o options) error {
	cfg, err := loadConfig(o.ConfigFile)
	if err != nil {
		return err
	}

	table, err := cfg.LoadCalibration(40)
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	engine, err := decoder.NewEngine(cfg.EngineConfig(o.SensorID), calib.NewStore(table))
	if err != nil {
		return err
	}

	src, err := openSource(o, cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pipeline.New(engine, pipeline.Config{
		QueueDepth:     cfg.GetQueueDepth(),
		FrameQueue:     cfg.GetFrameQueue(),
		DropSlowFrames: o.liveSource(),
		StatsInterval:  o.StatsEvery,
	})

	if o.ForwardAddr != "" {
		fwd, err := network.NewPacketForwarder(o.ForwardAddr, o.ForwardPort, 0, 0)
		if err != nil {
			return err
		}
		defer fwd.Close()
		fwd.Start(ctx)
		p.AddTap(fwd)
	}

	if o.RecordFile != "" {
		rec, err := network.NewPCAPRecorder(o.RecordFile, o.UDPPort)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				monitoring.Logf("close %s: %v", o.RecordFile, err)
			}
			monitoring.Logf("Recorded %d packets to %s", rec.Written(), o.RecordFile)
		}()
		p.AddTap(rec)
	}

	var wg sync.WaitGroup
	serve := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				monitoring.Logf("%s: %v", name, err)
			}
		}()
	}

	srv := monitor.NewServer(monitor.Config{
		Address:  o.Listen,
		SensorID: engine.Config().SensorID,
		Source:   o.sourceDescription(),
		Stats:    p,
	})
	p.OnFrame(srv.HandleFrame)

	if o.DBFile != "" {
		db, err := framelog.Open(o.DBFile)
		if err != nil {
			return fmt.Errorf("open frame log: %w", err)
		}
		defer db.Close()
		session, err := db.StartSession(engine.Config().SensorID, engine.Model().Name(), o.sourceDescription(), cfg)
		if err != nil {
			return err
		}
		monitoring.Logf("Frame log session %s in %s", session.ID, o.DBFile)
		rec := framelog.NewRecorder(db, session, framelog.LossFunc(func() loss.Snapshot {
			return engine.Stats().Loss
		}), 0)
		defer rec.Close()
		p.OnFrame(rec.HandleFrame)
		if err := db.AttachAdminRoutes(srv.Mux()); err != nil {
			return err
		}
	}

	if o.ExportDir != "" {
		p.OnFrame(exportFrame(o.ExportDir))
	}

	if o.Listen != "" {
		serve("monitor", func() error { return srv.Start(ctx) })
	}
	if o.GRPCListen != "" {
		health := monitor.NewHealthReporter(srv, 0, nil)
		serve("health", func() error { return health.Serve(ctx, o.GRPCListen) })
	}

	monitoring.Logf("Decoding %s packets from %s", engine.Model().Name(), o.sourceDescription())
	err = p.Run(ctx, src)
	cancel()
	wg.Wait()

	s := p.Stats()
	monitoring.Logf("Decoded %d packets into %d frames (%d malformed, %d lost)",
		s.Decoder.Packets, s.Decoder.FramesCompleted, s.Decoder.Malformed, s.Decoder.Loss.LostPackets)

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func exportFrame(dir string) pipeline.FrameHandler {
	errLog := monitoring.NewThrottle(30 * time.Second)
	return func(f *l2frames.Frame) {
		if f.PointCount == 0 {
			return
		}
		path, err := l2frames.ExportASC(dir, f)
		if err != nil {
			errLog.Logf("export frame %d: %v", f.Index, err)
			return
		}
		monitoring.Debugf("exported frame %d to %s", f.Index, path)
	}
}

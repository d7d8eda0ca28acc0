// Command pandar-decode receives Pandar40P point-cloud packets from the
// network, a capture file, a serial link or a synthetic generator, assembles
// them into frames and serves status, metrics and health while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/hesai-decode/internal/lidar/network"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
	"github.com/banshee-data/hesai-decode/internal/version"
)

var (
	configFile   = flag.String("config", "", "Decoder config file (.json, .yaml or .yml)")
	sourceKind   = flag.String("source", "udp", "Packet source: udp, pcap, serial or synthetic")
	sensorID     = flag.String("sensor-id", "hesai-pandar40p", "Sensor identifier used in logs, metrics and the frame log")
	udpAddr      = flag.String("udp-addr", "", "UDP bind address (default: all interfaces)")
	udpPort      = flag.Int("udp-port", network.DefaultUDPPort, "UDP port the sensor sends to")
	rcvBuf       = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	pcapFile     = flag.String("pcap", "", "Capture file to replay with -source pcap")
	pcapRealtime = flag.Bool("pcap-realtime", false, "Replay the capture at its recorded pace")
	pcapSpeed    = flag.Float64("pcap-speed", 1.0, "Replay speed multiplier for -pcap-realtime")
	serialPort   = flag.String("serial-port", "", "Serial device for -source serial")
	baudRate     = flag.Int("baud", 0, "Serial baud rate (default from config or 3125000)")
	synthRevs    = flag.Int("synthetic-revolutions", 0, "Revolutions to generate with -source synthetic (0 runs forever)")
	forwardAddr  = flag.String("forward-addr", "", "Forward every raw packet to this host")
	forwardPort  = flag.Int("forward-port", 2369, "Port for -forward-addr")
	recordFile   = flag.String("record", "", "Write every raw packet to this pcap file")
	listen       = flag.String("listen", ":8082", "HTTP listen address for status, charts and metrics (empty disables)")
	grpcListen   = flag.String("grpc-listen", "", "gRPC health service listen address (empty disables)")
	dbFile       = flag.String("db", "", "SQLite frame log path (empty disables)")
	exportDir    = flag.String("export-asc-dir", "", "Write every completed frame as an .asc point file into this directory")
	logFile      = flag.String("log-file", "", "Also write logs to this rotating file")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	statsEvery   = flag.Duration("stats-interval", 10*time.Second, "Pipeline statistics log interval (0 disables)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if *logFile != "" {
		closer := monitoring.SetupFileLogging(monitoring.FileLogOptions{Path: *logFile, Stderr: true})
		defer closer.Close()
	}
	monitoring.SetDebug(*debug)
	monitoring.Logf("pandar-decode %s", version.String())

	opts := options{
		ConfigFile:   *configFile,
		Source:       *sourceKind,
		SensorID:     *sensorID,
		UDPAddr:      *udpAddr,
		UDPPort:      *udpPort,
		RcvBuf:       *rcvBuf,
		PCAPFile:     *pcapFile,
		PCAPRealtime: *pcapRealtime,
		PCAPSpeed:    *pcapSpeed,
		SerialPort:   *serialPort,
		BaudRate:     *baudRate,
		SynthRevs:    *synthRevs,
		ForwardAddr:  *forwardAddr,
		ForwardPort:  *forwardPort,
		RecordFile:   *recordFile,
		Listen:       *listen,
		GRPCListen:   *grpcListen,
		DBFile:       *dbFile,
		ExportDir:    *exportDir,
		StatsEvery:   *statsEvery,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Printf("pandar-decode: %v", err)
		stop()
		os.Exit(1)
	}
	monitoring.Logf("pandar-decode stopped")
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hesai-decode/internal/config"
	"github.com/banshee-data/hesai-decode/internal/lidar/framelog"
	"github.com/banshee-data/hesai-decode/internal/lidar/network"
	"github.com/banshee-data/hesai-decode/internal/testutil"
)

func TestOpenSourceErrors(t *testing.T) {
	cfg := &config.DecoderConfig{}
	tests := []struct {
		name    string
		opts    options
		wantErr string
	}{
		{"unknown", options{Source: "can"}, "unknown source"},
		{"pcap without file", options{Source: "pcap"}, "requires -pcap"},
		{"serial without port", options{Source: "serial"}, "requires -serial-port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := openSource(tt.opts, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSourceDescriptions(t *testing.T) {
	assert.Equal(t, "udp 0.0.0.0:2368", options{Source: "udp", UDPAddr: "0.0.0.0", UDPPort: 2368}.sourceDescription())
	assert.Equal(t, "pcap run.pcap", options{Source: "pcap", PCAPFile: "run.pcap"}.sourceDescription())
	assert.Equal(t, "serial /dev/ttyUSB0", options{Source: "serial", SerialPort: "/dev/ttyUSB0"}.sourceDescription())
	assert.Equal(t, "synthetic", options{Source: "synthetic"}.sourceDescription())

	assert.True(t, options{Source: "udp"}.liveSource())
	assert.True(t, options{Source: "serial"}.liveSource())
	assert.False(t, options{Source: "pcap"}.liveSource())
	assert.True(t, options{Source: "pcap", PCAPRealtime: true}.liveSource())
	assert.False(t, options{Source: "synthetic"}.liveSource())
}

func TestRunRejectsBadConfig(t *testing.T) {
	testutil.Quiet(t)
	path := filepath.Join(t.TempDir(), "decoder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timestamp_source: gps\n"), 0o644))
	err := run(context.Background(), options{ConfigFile: path, Source: "synthetic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp source")
}

func TestRunSyntheticThenReplay(t *testing.T) {
	testutil.Quiet(t)
	dir := t.TempDir()
	capture := filepath.Join(dir, "synthetic.pcap")
	dbPath := filepath.Join(dir, "frames.db")
	ascDir := filepath.Join(dir, "asc")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, options{
		Source:     "synthetic",
		SensorID:   "synthetic-test",
		SynthRevs:  2,
		UDPPort:    network.DefaultUDPPort,
		RecordFile: capture,
		DBFile:     dbPath,
		ExportDir:  ascDir,
	})
	require.NoError(t, err)

	db, err := framelog.Open(dbPath)
	require.NoError(t, err)
	frames, err := db.RecentFrames(10)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.Len(t, frames, 2)
	assert.Equal(t, "synthetic-test", frames[0].SensorID)
	assert.False(t, frames[0].ScanComplete, "final frame is flushed partial")
	assert.True(t, frames[1].ScanComplete)

	exported, err := filepath.Glob(filepath.Join(ascDir, "*.asc"))
	require.NoError(t, err)
	assert.Len(t, exported, 2)

	// Replaying the recording through the same decoder yields the same frames.
	replayDB := filepath.Join(dir, "replay.db")
	err = run(ctx, options{
		Source:   "pcap",
		PCAPFile: capture,
		UDPPort:  network.DefaultUDPPort,
		DBFile:   replayDB,
	})
	require.NoError(t, err)

	db, err = framelog.Open(replayDB)
	require.NoError(t, err)
	defer db.Close()
	replayed, err := db.RecentFrames(10)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	for i := range frames {
		assert.Equal(t, frames[i].PacketCount, replayed[i].PacketCount)
		assert.Equal(t, frames[i].PointCount, replayed[i].PointCount)
	}
}

// Package testutil holds fixtures shared by the decoder's package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/hesai-decode/internal/lidar/calib"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
)

// LogSink collects lines written through monitoring.Logf.
type LogSink struct {
	mu    sync.Mutex
	lines []string
}

// Contains reports whether any captured line contains s.
func (l *LogSink) Contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// Lines returns a copy of everything captured so far.
func (l *LogSink) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// CaptureLogs redirects monitoring.Logf into a LogSink for the rest of the
// test.
func CaptureLogs(t testing.TB) *LogSink {
	t.Helper()
	sink := &LogSink{}
	original := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		sink.mu.Lock()
		sink.lines = append(sink.lines, fmt.Sprintf(format, v...))
		sink.mu.Unlock()
	})
	t.Cleanup(func() { monitoring.Logf = original })
	return sink
}

// Quiet mutes monitoring.Logf for the rest of the test.
func Quiet(t testing.TB) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

// DefaultCalibration returns a store holding the embedded Pandar40P tables.
func DefaultCalibration(t testing.TB) *calib.Store {
	t.Helper()
	table, err := calib.LoadDefault()
	if err != nil {
		t.Fatalf("load embedded calibration: %v", err)
	}
	return calib.NewStore(table)
}

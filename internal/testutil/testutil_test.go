package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/hesai-decode/internal/monitoring"
)

func TestCaptureLogs(t *testing.T) {
	sink := CaptureLogs(t)
	monitoring.Logf("frame %d complete", 7)
	assert.True(t, sink.Contains("frame 7"))
	assert.False(t, sink.Contains("frame 8"))
	assert.Equal(t, []string{"frame 7 complete"}, sink.Lines())
}

func TestDefaultCalibration(t *testing.T) {
	store := DefaultCalibration(t)
	assert.Equal(t, 40, store.Load().Channels())
}

package l2frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// deg converts degrees to packet azimuth units.
func deg(d float64) uint16 { return uint16(d * 100) }

func runSplits(s *SplitState, azimuths ...float64) []bool {
	out := make([]bool, len(azimuths))
	for i, a := range azimuths {
		out[i] = s.Step(deg(a))
	}
	return out
}

func TestSplitNoCrossing(t *testing.T) {
	s := NewSplitState(15)
	assert.Equal(t, []bool{false, false, false}, runSplits(s, 10, 20, 30))
}

func TestSplitForwardWrap(t *testing.T) {
	s := NewSplitState(0)
	assert.Equal(t, []bool{false, false, true, false}, runSplits(s, 340, 350, 5, 15))
}

func TestSplitForwardCrossing(t *testing.T) {
	s := NewSplitState(90)
	assert.Equal(t, []bool{false, false, false, true, false}, runSplits(s, 80, 84, 88, 92, 96))
}

func TestSplitReverse(t *testing.T) {
	s := NewSplitState(25)
	assert.Equal(t, []bool{false, false, true, false}, runSplits(s, 40, 30, 20, 10))

	s = NewSplitState(0)
	assert.Equal(t, []bool{false, false, true, false}, runSplits(s, 20, 10, 355, 345))
}

func TestSplitDuplicatesKeepHistory(t *testing.T) {
	s := NewSplitState(0)
	got := runSplits(s, 340, 350, 350, 350)
	assert.Equal(t, []bool{false, false, false, false}, got)
	last, lastLast := s.History()
	assert.Equal(t, int64(35000*256), last)
	assert.Equal(t, int64(34000*256), lastLast)

	// History is intact, so the wrap is still detected.
	assert.True(t, s.Step(deg(5)))
}

func TestSplitHistoryEmpty(t *testing.T) {
	s := NewSplitState(0)
	last, lastLast := s.History()
	assert.Equal(t, int64(-1), last)
	assert.Equal(t, int64(-1), lastLast)
}

func TestSplitOncePerRevolution(t *testing.T) {
	for _, start := range []float64{0, 90, 180.5, 359} {
		s := NewSplitState(start)
		splits := 0
		for i := 0; i < 540; i++ {
			az := float64((1 + 2*i) % 360)
			if s.Step(deg(az)) {
				splits++
			}
		}
		// Three revolutions from 1 degree; the first crossing of 0 happens
		// after one full turn, every other start is crossed three times.
		want := 3
		if start == 0 {
			want = 2
		}
		assert.Equal(t, want, splits, "start=%v", start)
	}
}

func TestSplitPhase(t *testing.T) {
	s := NewSplitState(0)
	assert.Equal(t, WaitingFirstSample, s.Phase())
	s.Step(deg(10))
	assert.Equal(t, WaitingSecondSample, s.Phase())
	s.Step(deg(10))
	assert.Equal(t, WaitingSecondSample, s.Phase())
	s.Step(deg(20))
	assert.Equal(t, Tracking, s.Phase())
	assert.Equal(t, "tracking", s.Phase().String())

	s.Reset()
	assert.Equal(t, WaitingFirstSample, s.Phase())
}

func TestSplitStartNormalization(t *testing.T) {
	assert.Equal(t, 0.0, NewSplitState(370).StartDegrees())
	assert.Equal(t, 0.0, NewSplitState(-5).StartDegrees())
	assert.Equal(t, 0.0, NewSplitState(360).StartDegrees())
	assert.InDelta(t, 359.5, NewSplitState(359.5).StartDegrees(), 1e-9)
}

package l2frames

import (
	"math"

	"github.com/banshee-data/hesai-decode/internal/lidar/calib"
)

// SplitPhase reports how much azimuth history a SplitState holds.
type SplitPhase int

const (
	WaitingFirstSample SplitPhase = iota
	WaitingSecondSample
	Tracking
)

func (p SplitPhase) String() string {
	switch p {
	case WaitingFirstSample:
		return "waiting-first-sample"
	case WaitingSecondSample:
		return "waiting-second-sample"
	case Tracking:
		return "tracking"
	}
	return "unknown"
}

const noSample = -1

// SplitState decides where one revolution ends. It keeps the last two
// distinct packet azimuths and infers rotation direction from them, so it
// works for either spin direction and across the 360 to 0 wrap.
//
// Azimuths are compared in fine units. A split fires on the packet whose
// azimuth first reaches or passes the configured start angle.
type SplitState struct {
	start    int64 // fine units
	last     int64
	lastLast int64
}

// NewSplitState returns a state that splits at startDegrees. Values outside
// [0, 360) are replaced with 0.
func NewSplitState(startDegrees float64) *SplitState {
	s := &SplitState{last: noSample, lastLast: noSample}
	s.SetStart(startDegrees)
	return s
}

// NormalizeStartAzimuth applies the [0, 360) rule used by NewSplitState.
func NormalizeStartAzimuth(deg float64) float64 {
	if math.IsNaN(deg) || deg < 0 || deg >= 360 {
		return 0
	}
	return deg
}

// SetStart changes the split angle without clearing history.
func (s *SplitState) SetStart(deg float64) {
	s.start = int64(NormalizeStartAzimuth(deg) * calib.AllFineResolution)
}

// StartDegrees returns the effective split angle.
func (s *SplitState) StartDegrees() float64 {
	return float64(s.start) / calib.AllFineResolution
}

// Phase reports how much history has been observed.
func (s *SplitState) Phase() SplitPhase {
	switch {
	case s.last == noSample:
		return WaitingFirstSample
	case s.lastLast == noSample:
		return WaitingSecondSample
	}
	return Tracking
}

// History returns the last two distinct azimuths in fine units, newest
// first. Missing samples are -1.
func (s *SplitState) History() (last, lastLast int64) {
	return s.last, s.lastLast
}

// Reset forgets all history.
func (s *SplitState) Reset() {
	s.last, s.lastLast = noSample, noSample
}

// IsNeedFrameSplit reports whether a packet whose last block has the given
// raw azimuth (0.01 degree units) closes the current frame. It does not
// modify history; call Observe afterwards.
func (s *SplitState) IsNeedFrameSplit(azimuth uint16) bool {
	if s.lastLast == noSample || s.last == noSample {
		return false
	}
	cur := int64(azimuth) * calib.FineResolution
	last, lastLast := s.last, s.lastLast

	division := min(abs64(last-lastLast), abs64(last-cur))
	if division == 0 {
		return false
	}
	reverse := lastLast-last == division || last-cur == division

	if !reverse {
		if last-cur > division {
			// wrapped past 360
			return s.start > last || s.start <= cur
		}
		// start in (last, cur]
		return last < cur && last < s.start && cur >= s.start
	}
	if cur-last > division {
		// wrapped past 0
		return s.start <= last || s.start > cur
	}
	// start in [cur, last)
	return last > cur && last > s.start && cur <= s.start
}

// Observe records azimuth into history. Repeats of the last azimuth are
// ignored so duplicates cannot collapse the direction estimate.
func (s *SplitState) Observe(azimuth uint16) {
	cur := int64(azimuth) * calib.FineResolution
	if cur == s.last {
		return
	}
	s.lastLast = s.last
	s.last = cur
}

// Step runs IsNeedFrameSplit followed by Observe.
func (s *SplitState) Step(azimuth uint16) bool {
	split := s.IsNeedFrameSplit(azimuth)
	s.Observe(azimuth)
	return split
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package l2frames

import "github.com/banshee-data/hesai-decode/internal/lidar/calib"

// FOV is an azimuth window points must fall in to be kept. Bounds are whole
// degrees and inclusive, and a point is tested by its truncated degree, so
// [80, 100] keeps 100.5. A window whose start is past its end wraps through 0.
type FOV struct {
	start, end int32 // whole degrees
	enabled    bool
}

// AllAround keeps every azimuth.
func AllAround() FOV { return FOV{} }

// NewFOV builds a window from degrees, truncating fractional bounds.
// A negative bound disables filtering.
func NewFOV(startDegrees, endDegrees float64) FOV {
	if startDegrees < 0 || endDegrees < 0 {
		return FOV{}
	}
	f := FOV{
		start:   int32(startDegrees) % 360,
		end:     int32(endDegrees),
		enabled: true,
	}
	if f.end >= 360 {
		f.end = 359
	}
	return f
}

// Enabled reports whether the window filters anything.
func (f FOV) Enabled() bool { return f.enabled }

// Contains reports whether a normalized fine azimuth is inside the window.
func (f FOV) Contains(azimuth int32) bool {
	if !f.enabled {
		return true
	}
	deg := azimuth / calib.AllFineResolution
	if f.start <= f.end {
		return deg >= f.start && deg <= f.end
	}
	return deg >= f.start || deg <= f.end
}

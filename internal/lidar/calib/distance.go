package calib

import (
	"fmt"
	"math"
	"strings"
)

// ReferencePoint selects which origin corrected distances are measured from.
type ReferencePoint int

const (
	// OpticalCenter leaves distances as measured by the receiver.
	OpticalCenter ReferencePoint = iota
	// GeometricCenter re-expresses distances from the housing centre.
	GeometricCenter
)

// Returns closer than this are left alone; they are dominated by noise.
const minCorrectionDistance = 0.09

func (r ReferencePoint) String() string {
	switch r {
	case OpticalCenter:
		return "optical"
	case GeometricCenter:
		return "geometric"
	default:
		return fmt.Sprintf("ReferencePoint(%d)", int(r))
	}
}

// ParseReferencePoint accepts "optical" or "geometric". Empty means optical.
func ParseReferencePoint(s string) (ReferencePoint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "optical":
		return OpticalCenter, nil
	case "geometric":
		return GeometricCenter, nil
	}
	return OpticalCenter, fmt.Errorf("unknown distance reference %q (want optical or geometric)", s)
}

// CorrectDistance returns the range of a return at the given fine azimuth and
// elevation as seen from the selected reference point.
func (t *Table) CorrectDistance(azimuth, elevation int32, distance float32, ref ReferencePoint) float32 {
	if ref != GeometricCenter || t.optical == (Offset{}) || distance <= minCorrectionDistance {
		return distance
	}
	tr := Trig()
	xy := distance * tr.Cos(elevation)
	x := xy*tr.Sin(azimuth) + t.optical.X
	y := xy*tr.Cos(azimuth) + t.optical.Y
	z := distance*tr.Sin(elevation) + t.optical.Z
	return float32(math.Sqrt(float64(x*x + y*y + z*z)))
}

// Package calib holds per-channel angle and firetime corrections and the
// fixed-point angle arithmetic the point projection runs on.
package calib

import (
	"math"
	"sync"
)

// Angles are carried as integers in fine units: 1/25600 of a degree. Packet
// azimuths arrive in 0.01 degree steps and are scaled up by FineResolution.
const (
	Resolution        = 100
	FineResolution    = 256
	AllFineResolution = Resolution * FineResolution
	Circle            = 360 * AllFineResolution
)

// TrigTable is a precomputed sine/cosine table indexed by fine angle.
type TrigTable struct {
	sin []float32
	cos []float32
}

var (
	trigOnce  sync.Once
	trigTable *TrigTable
)

// Trig returns the process-wide table, building it on first use.
func Trig() *TrigTable {
	trigOnce.Do(func() {
		trigTable = buildTrig()
	})
	return trigTable
}

func buildTrig() *TrigTable {
	t := &TrigTable{
		sin: make([]float32, Circle),
		cos: make([]float32, Circle),
	}
	for i := 0; i < Circle; i++ {
		rad := float64(i) / AllFineResolution * math.Pi / 180
		s, c := math.Sincos(rad)
		t.sin[i] = float32(s)
		t.cos[i] = float32(c)
	}
	return t
}

// Sin returns the sine of a fine angle in [0, Circle).
func (t *TrigTable) Sin(a int32) float32 { return t.sin[a] }

// Cos returns the cosine of a fine angle in [0, Circle).
func (t *TrigTable) Cos(a int32) float32 { return t.cos[a] }

// Normalize reduces a fine angle into [0, Circle).
func Normalize(a int64) int32 {
	a %= Circle
	if a < 0 {
		a += Circle
	}
	return int32(a)
}

// DegreesToFine converts degrees to a normalized fine angle.
func DegreesToFine(deg float64) int32 {
	return Normalize(int64(math.Round(deg * AllFineResolution)))
}

// FineToDegrees converts a fine angle back to degrees.
func FineToDegrees(a int32) float64 {
	return float64(a) / AllFineResolution
}

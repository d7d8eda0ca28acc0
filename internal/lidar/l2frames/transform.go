package l2frames

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Transform is a rigid-body pose applied to every point: a 3x4 row-major
// matrix [R | t]. The zero value is the identity.
type Transform struct {
	m      [12]float32
	active bool
}

var identityMatrix = [12]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0}

// Identity returns the no-op transform.
func Identity() Transform { return Transform{} }

// NewTransform builds a pose from a translation in metres and roll, pitch and
// yaw in radians, composed as Rz(yaw) * Ry(pitch) * Rx(roll).
func NewTransform(x, y, z, roll, pitch, yaw float64) Transform {
	if x == 0 && y == 0 && z == 0 && roll == 0 && pitch == 0 && yaw == 0 {
		return Identity()
	}
	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)
	sy, cy := math.Sincos(yaw)

	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cr, -sr,
		0, sr, cr,
	})
	ry := mat.NewDense(3, 3, []float64{
		cp, 0, sp,
		0, 1, 0,
		-sp, 0, cp,
	})
	rz := mat.NewDense(3, 3, []float64{
		cy, -sy, 0,
		sy, cy, 0,
		0, 0, 1,
	})

	var r mat.Dense
	r.Product(rz, ry, rx)

	t := Transform{active: true}
	tr := [3]float64{x, y, z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.m[i*4+j] = float32(r.At(i, j))
		}
		t.m[i*4+3] = float32(tr[i])
	}
	return t
}

// IsIdentity reports whether Apply would return its input unchanged.
func (t Transform) IsIdentity() bool { return !t.active }

// Matrix returns the 3x4 row-major matrix.
func (t Transform) Matrix() [12]float32 {
	if !t.active {
		return identityMatrix
	}
	return t.m
}

// Apply maps a sensor-frame point into the target frame.
func (t Transform) Apply(x, y, z float32) (float32, float32, float32) {
	if !t.active {
		return x, y, z
	}
	m := &t.m
	return m[0]*x + m[1]*y + m[2]*z + m[3],
		m[4]*x + m[5]*y + m[6]*z + m[7],
		m[8]*x + m[9]*y + m[10]*z + m[11]
}

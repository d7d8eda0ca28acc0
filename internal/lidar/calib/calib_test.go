package calib

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   int64
		want int32
	}{
		{0, 0},
		{Circle, 0},
		{Circle + 5, 5},
		{-1, Circle - 1},
		{-Circle - 3, Circle - 3},
		{3*Circle + 7, 7},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDegreesToFine(t *testing.T) {
	assert.Equal(t, int32(0), DegreesToFine(0))
	assert.Equal(t, int32(90*AllFineResolution), DegreesToFine(90))
	assert.Equal(t, int32(Circle-AllFineResolution), DegreesToFine(-1))
	assert.Equal(t, int32(0), DegreesToFine(360))
	assert.InDelta(t, 12.34, FineToDegrees(DegreesToFine(12.34)), 1e-4)
}

func TestTrigTable(t *testing.T) {
	tr := Trig()
	for _, deg := range []float64{0, 30, 45, 90, 180, 270, 359.99} {
		a := DegreesToFine(deg)
		rad := deg * math.Pi / 180
		assert.InDelta(t, math.Sin(rad), float64(tr.Sin(a)), 1e-5, "sin(%v)", deg)
		assert.InDelta(t, math.Cos(rad), float64(tr.Cos(a)), 1e-5, "cos(%v)", deg)
	}
	assert.Same(t, tr, Trig())
}

func TestLoadDefault(t *testing.T) {
	table, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, Pandar40PChannels, table.Channels())
	assert.True(t, table.HasFiretimes())

	angles := table.Angles()
	assert.Equal(t, 1, angles[0].Channel)
	assert.Equal(t, 15.0, angles[0].Elevation)
	assert.Equal(t, -25.0, angles[39].Elevation)
	assert.Equal(t, DegreesToFine(-1.042), table.Azimuth(0))
	assert.Equal(t, DegreesToFine(-25), table.Elevation(39))
}

func TestNewTableValidation(t *testing.T) {
	good := []AngleCorrection{{Channel: 1}, {Channel: 2}}

	_, err := NewTable(good[:1], nil, 2)
	assert.ErrorContains(t, err, "got 1 rows")

	_, err = NewTable([]AngleCorrection{{Channel: 1}, {Channel: 1}}, nil, 2)
	assert.ErrorContains(t, err, "duplicate channel 1")

	_, err = NewTable([]AngleCorrection{{Channel: 1}, {Channel: 3}}, nil, 2)
	assert.ErrorContains(t, err, "out of range")

	_, err = NewTable(good, []FiretimeCorrection{{Channel: 1}}, 2)
	assert.ErrorContains(t, err, "firetime corrections")

	table, err := NewTable(good, nil, 2)
	require.NoError(t, err)
	assert.False(t, table.HasFiretimes())
	assert.Zero(t, table.FiretimeDegrees(0, 600))
}

func TestFiretimeDeltas(t *testing.T) {
	table, err := NewTable(
		[]AngleCorrection{{Channel: 1}, {Channel: 2}},
		[]FiretimeCorrection{{Channel: 1, FireTime: 10}, {Channel: 2, FireTime: 0}},
		2,
	)
	require.NoError(t, err)

	// 600 rpm is 3600 deg/s, so 10 us sweeps 0.036 deg.
	assert.InDelta(t, 0.036, table.FiretimeDegrees(0, 600), 1e-9)

	deltas := make([]int32, 2)
	table.FiretimeDeltas(600, deltas)
	assert.Equal(t, []int32{int32(math.Round(0.036 * AllFineResolution)), 0}, deltas)
}

func TestParseAngleCSV(t *testing.T) {
	in := "Channel,Elevation,Azimuth\n1,15,-1.042\n2, 11, 1.042\n"
	got, err := ParseAngleCSV(strings.NewReader(in), 2)
	require.NoError(t, err)
	want := []AngleCorrection{
		{Channel: 1, Elevation: 15, Azimuth: -1.042},
		{Channel: 2, Elevation: 11, Azimuth: 1.042},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseAngleCSV mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAngleCSVErrors(t *testing.T) {
	tests := map[string]string{
		"header only":   "Channel,Elevation,Azimuth\n",
		"bad header":    "Ch,Elev,Az\n1,2,3\n",
		"bad channel":   "Channel,Elevation,Azimuth\nx,2,3\n",
		"range":         "Channel,Elevation,Azimuth\n41,2,3\n",
		"bad elevation": "Channel,Elevation,Azimuth\n1,up,3\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAngleCSV(strings.NewReader(in), 40)
			assert.Error(t, err)
		})
	}
}

func TestParseFiretimeCSV(t *testing.T) {
	got, err := ParseFiretimeCSV(strings.NewReader("Channel,fire time(us)\n1,42.22\n"), 40)
	require.NoError(t, err)
	assert.Equal(t, []FiretimeCorrection{{Channel: 1, FireTime: 42.22}}, got)

	_, err = ParseFiretimeCSV(strings.NewReader("Channel,delay\n1,42.22\n"), 40)
	assert.ErrorContains(t, err, "invalid header")
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	anglePath := filepath.Join(dir, "angles.csv")
	firePath := filepath.Join(dir, "firetimes.csv")
	require.NoError(t, os.WriteFile(anglePath, []byte("Channel,Elevation,Azimuth\n1,2,0\n2,-2,0\n"), 0o644))
	require.NoError(t, os.WriteFile(firePath, []byte("Channel,fire time(us)\n1,1.5\n2,3.0\n"), 0o644))

	table, err := LoadFiles(anglePath, "", 2)
	require.NoError(t, err)
	assert.False(t, table.HasFiretimes())

	table, err = LoadFiles(anglePath, firePath, 2)
	require.NoError(t, err)
	assert.True(t, table.HasFiretimes())
	assert.Equal(t, DegreesToFine(-2), table.Elevation(1))

	_, err = LoadFiles(filepath.Join(dir, "missing.csv"), "", 2)
	assert.ErrorContains(t, err, "open angle corrections")
}

func TestStore(t *testing.T) {
	s := NewStore(nil)
	assert.Nil(t, s.Load())

	a, err := NewTable([]AngleCorrection{{Channel: 1}}, nil, 1)
	require.NoError(t, err)
	b, err := NewTable([]AngleCorrection{{Channel: 1, Elevation: 1}}, nil, 1)
	require.NoError(t, err)

	assert.Nil(t, s.Swap(a))
	assert.Same(t, a, s.Load())
	assert.Same(t, a, s.Swap(b))
	assert.Same(t, b, s.Load())
}

func TestCorrectDistance(t *testing.T) {
	table, err := NewTable([]AngleCorrection{{Channel: 1}}, nil, 1)
	require.NoError(t, err)

	// No offset configured: both reference points agree.
	assert.Equal(t, float32(10), table.CorrectDistance(0, 0, 10, GeometricCenter))

	shifted := table.WithOpticalOffset(Offset{Y: 0.5})
	assert.Equal(t, Offset{}, table.OpticalOffset())
	assert.Equal(t, float32(10), shifted.CorrectDistance(0, 0, 10, OpticalCenter))
	// Azimuth 0 points along +Y, so the offset adds straight onto the range.
	assert.InDelta(t, 10.5, shifted.CorrectDistance(0, 0, 10, GeometricCenter), 1e-4)
	assert.Equal(t, float32(0.05), shifted.CorrectDistance(0, 0, 0.05, GeometricCenter))
}

func TestParseReferencePoint(t *testing.T) {
	for in, want := range map[string]ReferencePoint{"": OpticalCenter, "optical": OpticalCenter, "Geometric": GeometricCenter} {
		got, err := ParseReferencePoint(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseReferencePoint("lens")
	assert.Error(t, err)
	assert.Equal(t, "geometric", GeometricCenter.String())
}

package calib

import (
	"fmt"
	"math"
)

// AngleCorrection is one row of an angle correction file.
type AngleCorrection struct {
	Channel   int
	Elevation float64
	Azimuth   float64
}

// FiretimeCorrection is one row of a firetime correction file. FireTime is
// the channel's firing delay within a block, in microseconds.
type FiretimeCorrection struct {
	Channel  int
	FireTime float64
}

// Offset is a translation in metres.
type Offset struct {
	X, Y, Z float32
}

// Table is an immutable calibration snapshot for one sensor. Offsets are
// stored pre-normalized in fine units, indexed by zero-based channel.
type Table struct {
	channels  int
	azimuth   []int32
	elevation []int32
	firetime  []float64
	angles    []AngleCorrection
	optical   Offset
}

// NewTable validates the correction rows and builds a Table. Every channel in
// 1..channels must appear exactly once in angles. firetimes may be empty; if
// present it must cover every channel as well.
func NewTable(angles []AngleCorrection, firetimes []FiretimeCorrection, channels int) (*Table, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if len(angles) != channels {
		return nil, fmt.Errorf("angle corrections: got %d rows, want %d", len(angles), channels)
	}

	t := &Table{
		channels:  channels,
		azimuth:   make([]int32, channels),
		elevation: make([]int32, channels),
		angles:    make([]AngleCorrection, channels),
	}
	seen := make([]bool, channels)
	for _, a := range angles {
		if a.Channel < 1 || a.Channel > channels {
			return nil, fmt.Errorf("angle corrections: channel %d out of range (1-%d)", a.Channel, channels)
		}
		i := a.Channel - 1
		if seen[i] {
			return nil, fmt.Errorf("angle corrections: duplicate channel %d", a.Channel)
		}
		if math.IsNaN(a.Elevation) || math.IsNaN(a.Azimuth) {
			return nil, fmt.Errorf("angle corrections: channel %d has NaN angle", a.Channel)
		}
		seen[i] = true
		t.angles[i] = a
		t.azimuth[i] = DegreesToFine(a.Azimuth)
		t.elevation[i] = DegreesToFine(a.Elevation)
	}

	if len(firetimes) == 0 {
		return t, nil
	}
	if len(firetimes) != channels {
		return nil, fmt.Errorf("firetime corrections: got %d rows, want %d", len(firetimes), channels)
	}
	t.firetime = make([]float64, channels)
	seen = make([]bool, channels)
	for _, f := range firetimes {
		if f.Channel < 1 || f.Channel > channels {
			return nil, fmt.Errorf("firetime corrections: channel %d out of range (1-%d)", f.Channel, channels)
		}
		if seen[f.Channel-1] {
			return nil, fmt.Errorf("firetime corrections: duplicate channel %d", f.Channel)
		}
		seen[f.Channel-1] = true
		t.firetime[f.Channel-1] = f.FireTime
	}
	return t, nil
}

// Channels returns the number of channels the table covers.
func (t *Table) Channels() int { return t.channels }

// Azimuth returns the channel's horizontal offset in fine units.
func (t *Table) Azimuth(ch int) int32 { return t.azimuth[ch] }

// Elevation returns the channel's elevation in fine units.
func (t *Table) Elevation(ch int) int32 { return t.elevation[ch] }

// Angles returns a copy of the source rows ordered by channel.
func (t *Table) Angles() []AngleCorrection {
	out := make([]AngleCorrection, len(t.angles))
	copy(out, t.angles)
	return out
}

// HasFiretimes reports whether firetime corrections were loaded.
func (t *Table) HasFiretimes() bool { return t.firetime != nil }

// FiretimeDegrees returns the azimuth the rotor sweeps during the channel's
// firing delay at the given motor speed.
func (t *Table) FiretimeDegrees(ch int, rpm uint16) float64 {
	if t.firetime == nil {
		return 0
	}
	// rpm * 360 deg / 60 s / 1e6 us = rpm * 6e-6 deg/us
	return t.firetime[ch] * float64(rpm) * 6e-6
}

// FiretimeDeltas fills dst with per-channel firetime azimuth shifts in fine
// units. dst must have at least Channels() entries.
func (t *Table) FiretimeDeltas(rpm uint16, dst []int32) {
	for ch := 0; ch < t.channels; ch++ {
		dst[ch] = int32(math.Round(t.FiretimeDegrees(ch, rpm) * AllFineResolution))
	}
}

// WithOpticalOffset returns a copy of t carrying the translation from the
// geometric centre of the sensor to its optical centre.
func (t *Table) WithOpticalOffset(o Offset) *Table {
	c := *t
	c.optical = o
	return &c
}

// OpticalOffset returns the configured optical centre offset.
func (t *Table) OpticalOffset() Offset { return t.optical }

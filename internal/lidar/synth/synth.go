// Package synth generates well-formed Pandar40P packets for demos, load
// tests and pipeline tests when no sensor or capture is at hand.
package synth

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/banshee-data/hesai-decode/internal/lidar/parse"
	"github.com/banshee-data/hesai-decode/internal/timeutil"
)

// blockRate is the Pandar40P firing rate in blocks per second at 600 rpm.
const blockRate = 18000.0

// Config shapes the generated stream.
type Config struct {
	RPM          uint16    // default 600
	Revolutions  int       // stop with io.EOF after this many; 0 runs forever
	DistanceM    float64   // radius of the synthetic room wall, default 10
	WithSequence bool      // append the UDP sequence number
	DropEvery    int       // skip one sequence number every N packets
	StartAzimuth float64   // degrees
	Start        time.Time // hardware clock origin, default now
	Realtime     bool      // pace packets at the sensor's rate
	Clock        timeutil.Clock
}

// Source emits one packet per ReadPacket call.
type Source struct {
	cfg     Config
	builder *parse.Builder

	azimuth  float64 // hundredths of a degree
	step     float64 // per block
	interval time.Duration
	emitted  int
	limit    int
	seq      uint32
	next     time.Time
}

// New returns a Source for cfg.
func New(cfg Config) *Source {
	if cfg.RPM == 0 {
		cfg.RPM = 600
	}
	if cfg.DistanceM <= 0 {
		cfg.DistanceM = 10
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	layout := parse.Pandar40P
	// Block timing is fixed by the laser, so faster spin widens the step.
	step := float64(cfg.RPM) * 6 / blockRate * 100
	blocksPerRev := 36000 / step
	s := &Source{
		cfg:      cfg,
		builder:  parse.NewBuilder(layout, cfg.WithSequence),
		azimuth:  math.Mod(cfg.StartAzimuth*100, 36000),
		step:     step,
		interval: time.Duration(float64(layout.BlockCount) / blockRate * float64(time.Second)),
		next:     cfg.Start,
	}
	if cfg.Revolutions > 0 {
		s.limit = int(math.Ceil(blocksPerRev/float64(layout.BlockCount))) * cfg.Revolutions
	}
	return s
}

// PacketsPerRevolution returns how many packets cover one full turn.
func (s *Source) PacketsPerRevolution() int {
	return int(math.Ceil(36000 / s.step / float64(parse.Pandar40P.BlockCount)))
}

// ReadPacket writes the next packet into buf.
func (s *Source) ReadPacket(ctx context.Context, buf []byte) (int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	if s.limit > 0 && s.emitted >= s.limit {
		return 0, time.Time{}, io.EOF
	}
	if s.cfg.Realtime && s.emitted > 0 {
		select {
		case <-ctx.Done():
			return 0, time.Time{}, ctx.Err()
		case <-s.cfg.Clock.After(s.interval):
		}
	}

	layout := parse.Pandar40P
	for blk := 0; blk < layout.BlockCount; blk++ {
		az := uint16(math.Mod(s.azimuth, 36000))
		s.builder.BlockAzimuth(blk, az)
		for ch := 0; ch < layout.ChannelCount; ch++ {
			s.builder.Return(blk, ch, s.distance(az, ch), uint8(ch*6))
		}
		s.azimuth = math.Mod(s.azimuth+s.step, 36000)
	}

	s.seq++
	if s.cfg.DropEvery > 0 && s.emitted > 0 && s.emitted%s.cfg.DropEvery == 0 {
		s.seq++
	}
	hw := s.next.UTC()
	s.builder.Tail(parse.Tail{
		MotorSpeed: s.cfg.RPM,
		Timestamp:  uint32(hw.Nanosecond() / 1000),
		ReturnMode: parse.ReturnModeStrongest,
		UTC: [6]uint8{uint8(hw.Year() - 2000), uint8(hw.Month()), uint8(hw.Day()),
			uint8(hw.Hour()), uint8(hw.Minute()), uint8(hw.Second())},
		Sequence: s.seq,
	})
	s.next = s.next.Add(s.interval)
	s.emitted++

	n := copy(buf, s.builder.Bytes())
	return n, s.cfg.Clock.Now(), nil
}

// distance traces a square room with a pillar, in 4 mm units.
func (s *Source) distance(azimuth uint16, channel int) uint16 {
	rad := float64(azimuth) / 100 * math.Pi / 180
	d := s.cfg.DistanceM / math.Max(math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad)))
	if azimuth >= 4500 && azimuth < 4800 && channel >= 10 {
		d = s.cfg.DistanceM / 3
	}
	d += float64(channel) * 0.01
	return uint16(math.Min(d/0.004, math.MaxUint16))
}

// Close is a no-op.
func (s *Source) Close() error { return nil }

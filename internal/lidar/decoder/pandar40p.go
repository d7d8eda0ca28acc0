package decoder

import (
	"fmt"

	"github.com/banshee-data/hesai-decode/internal/lidar/calib"
	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/parse"
)

// Pandar40P decodes the 40-channel mechanical sensor.
type Pandar40P struct {
	opts   Options
	layout parse.Layout
	store  *calib.Store
	trig   *calib.TrigTable
	split  *l2frames.SplitState

	// table is the calibration snapshot for the packet in flight.
	table *calib.Table

	// firetime shifts cached per (table, rpm).
	firetime      []int32
	firetimeRPM   uint16
	firetimeTable *calib.Table
}

// NewPandar40P returns a Pandar40P model reading calibration from store.
func NewPandar40P(opts Options, store *calib.Store) *Pandar40P {
	return &Pandar40P{
		opts:     opts,
		layout:   parse.Pandar40P,
		store:    store,
		trig:     calib.Trig(),
		split:    l2frames.NewSplitState(opts.FrameStartAzimuth),
		firetime: make([]int32, parse.Pandar40P.ChannelCount),
	}
}

func (m *Pandar40P) Name() string         { return m.layout.Name }
func (m *Pandar40P) Layout() parse.Layout { return m.layout }

// SplitPhase exposes the split history state for status reporting.
func (m *Pandar40P) SplitPhase() l2frames.SplitPhase { return m.split.Phase() }

func (m *Pandar40P) DecodePacket(frame *l2frames.Frame, raw parse.RawPacket) (parse.Packet, int, error) {
	table := m.store.Load()
	if table == nil {
		return parse.Packet{}, -1, ErrCalibrationMissing
	}
	if table.Channels() != m.layout.ChannelCount {
		return parse.Packet{}, -1, fmt.Errorf("%w: table has %d channels, %s has %d",
			ErrCalibrationMissing, table.Channels(), m.layout.Name, m.layout.ChannelCount)
	}
	pkt, err := parse.Decode(raw.Data, m.layout)
	if err != nil {
		return parse.Packet{}, -1, err
	}
	m.table = table

	tail := pkt.Tail()
	if frame.PacketCount == 0 {
		frame.HostTimestamp = raw.ReceivedAt
	}
	frame.BlockCount = m.layout.BlockCount
	frame.ChannelCount = m.layout.ChannelCount
	frame.DistanceUnit = m.layout.DistanceUnit
	frame.SpinSpeed = tail.MotorSpeed
	frame.LidarState = tail.Shutdown
	frame.ReturnMode = tail.ReturnMode

	idx, ok := frame.ReservePacket(packetTime(m.opts.TimestampSource, tail, raw))
	if !ok {
		return pkt, -1, nil
	}
	return pkt, idx, nil
}

func (m *Pandar40P) firetimeShifts(rpm uint16) []int32 {
	if !m.opts.EnableFiretimeCorrection || !m.table.HasFiretimes() {
		return nil
	}
	if m.firetimeTable != m.table || m.firetimeRPM != rpm {
		m.table.FiretimeDeltas(rpm, m.firetime)
		m.firetimeTable = m.table
		m.firetimeRPM = rpm
	}
	return m.firetime
}

func (m *Pandar40P) ComputeXYZI(frame *l2frames.Frame, pkt parse.Packet, packetIndex int) int {
	if packetIndex < 0 || m.table == nil {
		return 0
	}
	table := m.table
	trig := m.trig
	blocks := m.layout.BlockCount
	channels := m.layout.ChannelCount
	unit := float32(m.layout.DistanceUnit)
	ts := float64(frame.SensorTimestamps[packetIndex]) / 1e6
	shifts := m.firetimeShifts(frame.SpinSpeed)
	points := frame.PacketPoints(packetIndex)
	transform := m.opts.Transform

	written := 0
	for b := 0; b < blocks; b++ {
		blockAzimuth := int64(pkt.BlockAzimuth(b)) * calib.FineResolution
		for c := 0; c < channels; c++ {
			az := blockAzimuth + int64(table.Azimuth(c))
			if shifts != nil {
				az += int64(shifts[c])
			}
			azimuth := calib.Normalize(az)
			elevation := table.Elevation(c)
			distance := float32(pkt.Distance(b, c)) * unit
			if m.opts.EnableDistanceCorrection {
				distance = table.CorrectDistance(azimuth, elevation, distance, m.opts.DistanceReference)
			}
			if !m.opts.FOV.Contains(azimuth) {
				continue
			}

			xy := distance * trig.Cos(elevation)
			x := xy * trig.Sin(azimuth)
			y := xy * trig.Cos(azimuth)
			z := distance * trig.Sin(elevation)
			if !transform.IsIdentity() {
				x, y, z = transform.Apply(x, y, z)
			}

			p := &points[b*channels+c]
			p.X, p.Y, p.Z = x, y, z
			p.Intensity = pkt.Reflectivity(b, c)
			p.Timestamp = ts
			p.Ring = uint16(c)
			p.Valid = true
			written++
		}
	}
	frame.PointCount += written
	return written
}

func (m *Pandar40P) IsNeedFrameSplit(azimuth uint16) bool {
	return m.split.Step(azimuth)
}

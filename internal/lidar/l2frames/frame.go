package l2frames

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Point is one projected return. Slots skipped by the field-of-view filter,
// or never written, have Valid == false.
type Point struct {
	X, Y, Z   float32
	Intensity uint8
	Ring      uint16
	Valid     bool
	Timestamp float64 // seconds
}

// Frame is one revolution of returns. Points is indexed by
// packet*PointsPerPacket + block*ChannelCount + channel and is sized for
// MaxPackets packets up front, so appending never reallocates.
type Frame struct {
	ID            uuid.UUID
	Index         uint64
	SensorID      string
	HostTimestamp time.Time // receive time of the first packet

	Points           []Point
	SensorTimestamps []uint64 // per stored packet, microseconds

	BlockCount      int
	ChannelCount    int
	PointsPerPacket int
	DistanceUnit    float64
	SpinSpeed       uint16
	LidarState      uint8
	ReturnMode      uint8

	PacketCount    int // packets stored
	PointCount     int // slots marked Valid
	ScanComplete   bool
	Overflow       bool
	DroppedPackets int

	maxPackets int
}

// NewFrame allocates a frame able to hold maxPackets packets of
// pointsPerPacket returns each.
func NewFrame(maxPackets, pointsPerPacket int) *Frame {
	return &Frame{
		Points:           make([]Point, maxPackets*pointsPerPacket),
		SensorTimestamps: make([]uint64, maxPackets),
		PointsPerPacket:  pointsPerPacket,
		maxPackets:       maxPackets,
	}
}

// MaxPackets is the packet capacity fixed at allocation.
func (f *Frame) MaxPackets() int { return f.maxPackets }

// Capacity is the number of point slots.
func (f *Frame) Capacity() int { return len(f.Points) }

// ReservePacket claims the next packet slot, recording its timestamp. ok is
// false when the frame is full; the caller then owns overflow accounting.
func (f *Frame) ReservePacket(timestamp uint64) (index int, ok bool) {
	if f.PacketCount >= f.maxPackets {
		return -1, false
	}
	index = f.PacketCount
	f.SensorTimestamps[index] = timestamp
	f.PacketCount++
	return index, true
}

// MarkOverflow records a packet that did not fit.
func (f *Frame) MarkOverflow() {
	f.Overflow = true
	f.DroppedPackets++
}

// PacketPoints returns the slots belonging to a stored packet.
func (f *Frame) PacketPoints(packet int) []Point {
	start := packet * f.PointsPerPacket
	return f.Points[start : start+f.PointsPerPacket]
}

// Reset clears the frame for reuse. Only the slots that were handed out are
// zeroed.
func (f *Frame) Reset() {
	used := f.PacketCount * f.PointsPerPacket
	clear(f.Points[:used])
	clear(f.SensorTimestamps[:f.PacketCount])
	*f = Frame{
		Points:           f.Points,
		SensorTimestamps: f.SensorTimestamps,
		PointsPerPacket:  f.PointsPerPacket,
		maxPackets:       f.maxPackets,
	}
}

// Each calls fn for every valid point in slot order.
func (f *Frame) Each(fn func(i int, p *Point)) {
	used := f.PacketCount * f.PointsPerPacket
	for i := 0; i < used; i++ {
		if f.Points[i].Valid {
			fn(i, &f.Points[i])
		}
	}
}

// ValidPoints copies the valid points out of the frame.
func (f *Frame) ValidPoints() []Point {
	out := make([]Point, 0, f.PointCount)
	f.Each(func(_ int, p *Point) {
		out = append(out, *p)
	})
	return out
}

// StartMicros and EndMicros bound the frame's packet timestamps.
func (f *Frame) StartMicros() uint64 {
	if f.PacketCount == 0 {
		return 0
	}
	return f.SensorTimestamps[0]
}

func (f *Frame) EndMicros() uint64 {
	if f.PacketCount == 0 {
		return 0
	}
	return f.SensorTimestamps[f.PacketCount-1]
}

// Pool recycles frames of one shape so steady-state decoding does not
// allocate point buffers.
type Pool struct {
	maxPackets      int
	pointsPerPacket int
	pool            sync.Pool
}

// NewPool returns a pool of frames sized for maxPackets packets.
func NewPool(maxPackets, pointsPerPacket int) *Pool {
	p := &Pool{maxPackets: maxPackets, pointsPerPacket: pointsPerPacket}
	p.pool.New = func() any {
		return NewFrame(maxPackets, pointsPerPacket)
	}
	return p
}

// Get returns an empty frame.
func (p *Pool) Get() *Frame {
	return p.pool.Get().(*Frame)
}

// Put resets f and returns it to the pool. Frames of another shape are
// dropped.
func (p *Pool) Put(f *Frame) {
	if f == nil || f.maxPackets != p.maxPackets || f.PointsPerPacket != p.pointsPerPacket {
		return
	}
	f.Reset()
	p.pool.Put(f)
}

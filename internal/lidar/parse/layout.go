// Package parse reads fields out of raw Hesai point-cloud UDP payloads. It
// validates framing and exposes zero-copy accessors over the packet bytes.
package parse

// Block preamble bytes that open every data block.
const (
	MagicByte0 = 0xFF
	MagicByte1 = 0xEE
)

// Return mode codes carried in the tail.
const (
	ReturnModeStrongest = 0x37
	ReturnModeLast      = 0x38
	ReturnModeDual      = 0x39
)

// MaxPacketSize bounds any payload a receive buffer must hold.
const MaxPacketSize = 1500

// Layout describes the fixed geometry of one sensor model's packet.
type Layout struct {
	Name              string
	BlockCount        int
	ChannelCount      int
	BlockHeaderSize   int // preamble plus azimuth
	ChannelRecordSize int // distance plus reflectivity
	TailSize          int
	SequenceSize      int
	DistanceUnit      float64 // metres per raw distance count
}

// Pandar40P is the 40-channel mechanical sensor layout.
var Pandar40P = Layout{
	Name:              "Pandar40P",
	BlockCount:        10,
	ChannelCount:      40,
	BlockHeaderSize:   4,
	ChannelRecordSize: 3,
	TailSize:          22,
	SequenceSize:      4,
	DistanceUnit:      0.004,
}

// BlockSize is the byte length of one data block.
func (l Layout) BlockSize() int {
	return l.BlockHeaderSize + l.ChannelCount*l.ChannelRecordSize
}

// TailOffset is where the tail starts, right after the last block.
func (l Layout) TailOffset() int {
	return l.BlockCount * l.BlockSize()
}

// MinPacketSize is the length of a packet without the UDP sequence field.
func (l Layout) MinPacketSize() int {
	return l.TailOffset() + l.TailSize
}

// SequencedPacketSize is the length of a packet that carries a sequence.
func (l Layout) SequencedPacketSize() int {
	return l.MinPacketSize() + l.SequenceSize
}

// PointsPerPacket is the number of returns one packet can contribute.
func (l Layout) PointsPerPacket() int {
	return l.BlockCount * l.ChannelCount
}

package parse

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedPacket is wrapped by every framing or length error.
var ErrMalformedPacket = errors.New("malformed packet")

// RawPacket is an undecoded payload and the host time it was received.
type RawPacket struct {
	Data       []byte
	ReceivedAt time.Time
}

// NewRawPacket wraps data without copying it.
func NewRawPacket(data []byte, receivedAt time.Time) RawPacket {
	return RawPacket{Data: data, ReceivedAt: receivedAt}
}

// ReceivedMicros returns the receive time in microseconds since the epoch.
func (p RawPacket) ReceivedMicros() uint64 {
	if p.ReceivedAt.IsZero() {
		return 0
	}
	return uint64(p.ReceivedAt.UnixMicro())
}

// Packet is a validated view over a payload. It aliases the caller's buffer,
// so it must not outlive the RawPacket it came from.
type Packet struct {
	data   []byte
	layout Layout
	hasSeq bool
}

// Decode checks length and block preambles and returns a view of data.
// Trailing bytes past a sequenced packet are ignored.
func Decode(data []byte, layout Layout) (Packet, error) {
	if len(data) < layout.MinPacketSize() {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(data), layout.MinPacketSize())
	}
	if data[0] != MagicByte0 || data[1] != MagicByte1 {
		return Packet{}, fmt.Errorf("%w: bad preamble 0x%02X%02X", ErrMalformedPacket, data[0], data[1])
	}
	bs := layout.BlockSize()
	for b := 1; b < layout.BlockCount; b++ {
		off := b * bs
		if data[off] != MagicByte0 || data[off+1] != MagicByte1 {
			return Packet{}, fmt.Errorf("%w: block %d preamble 0x%02X%02X", ErrMalformedPacket, b, data[off], data[off+1])
		}
	}
	return Packet{
		data:   data,
		layout: layout,
		hasSeq: len(data) >= layout.SequencedPacketSize(),
	}, nil
}

// Layout returns the geometry the packet was decoded with.
func (p Packet) Layout() Layout { return p.layout }

// HasSequence reports whether the payload carries a UDP sequence number.
func (p Packet) HasSequence() bool { return p.hasSeq }

func (p Packet) u16(off int) uint16 {
	if off < 0 || off+2 > len(p.data) {
		return 0
	}
	return binary.LittleEndian.Uint16(p.data[off:])
}

func (p Packet) u32(off int) uint32 {
	if off < 0 || off+4 > len(p.data) {
		return 0
	}
	return binary.LittleEndian.Uint32(p.data[off:])
}

func (p Packet) u8(off int) uint8 {
	if off < 0 || off >= len(p.data) {
		return 0
	}
	return p.data[off]
}

// BlockAzimuth returns block b's azimuth in 0.01 degree units.
func (p Packet) BlockAzimuth(b int) uint16 {
	return p.u16(b*p.layout.BlockSize() + 2)
}

func (p Packet) channelOffset(b, c int) int {
	return b*p.layout.BlockSize() + p.layout.BlockHeaderSize + c*p.layout.ChannelRecordSize
}

// Distance returns the raw range count for block b, channel c.
func (p Packet) Distance(b, c int) uint16 {
	return p.u16(p.channelOffset(b, c))
}

// Reflectivity returns the raw reflectivity for block b, channel c.
func (p Packet) Reflectivity(b, c int) uint8 {
	return p.u8(p.channelOffset(b, c) + 2)
}

// Tail decodes the status trailer.
func (p Packet) Tail() Tail {
	off := p.layout.TailOffset()
	t := Tail{
		Shutdown:    p.u8(off + 5),
		MotorSpeed:  p.u16(off + 8),
		Timestamp:   p.u32(off + 10),
		ReturnMode:  p.u8(off + 14),
		FactoryInfo: p.u8(off + 15),
		HasSequence: p.hasSeq,
	}
	copy(t.UTC[:], p.data[off+16:off+22])
	if p.hasSeq {
		t.Sequence = p.u32(p.layout.MinPacketSize())
	}
	return t
}

package parse

import "encoding/binary"

// Builder assembles well-formed payloads. It backs the synthetic source and
// the decoder tests.
type Builder struct {
	layout Layout
	buf    []byte
}

// NewBuilder returns a Builder with every block preamble written and all
// returns zeroed.
func NewBuilder(layout Layout, withSequence bool) *Builder {
	size := layout.MinPacketSize()
	if withSequence {
		size = layout.SequencedPacketSize()
	}
	b := &Builder{layout: layout, buf: make([]byte, size)}
	bs := layout.BlockSize()
	for i := 0; i < layout.BlockCount; i++ {
		b.buf[i*bs] = MagicByte0
		b.buf[i*bs+1] = MagicByte1
	}
	return b
}

// BlockAzimuth sets block i's azimuth in 0.01 degree units.
func (b *Builder) BlockAzimuth(i int, azimuth uint16) *Builder {
	binary.LittleEndian.PutUint16(b.buf[i*b.layout.BlockSize()+2:], azimuth)
	return b
}

// AllAzimuths sets every block to the same azimuth.
func (b *Builder) AllAzimuths(azimuth uint16) *Builder {
	for i := 0; i < b.layout.BlockCount; i++ {
		b.BlockAzimuth(i, azimuth)
	}
	return b
}

// Return sets the distance and reflectivity of one channel in one block.
func (b *Builder) Return(block, channel int, distance uint16, reflectivity uint8) *Builder {
	off := block*b.layout.BlockSize() + b.layout.BlockHeaderSize + channel*b.layout.ChannelRecordSize
	binary.LittleEndian.PutUint16(b.buf[off:], distance)
	b.buf[off+2] = reflectivity
	return b
}

// Tail writes the status trailer. The sequence is written only when the
// builder was created with room for it.
func (b *Builder) Tail(t Tail) *Builder {
	off := b.layout.TailOffset()
	b.buf[off+5] = t.Shutdown
	binary.LittleEndian.PutUint16(b.buf[off+8:], t.MotorSpeed)
	binary.LittleEndian.PutUint32(b.buf[off+10:], t.Timestamp)
	b.buf[off+14] = t.ReturnMode
	b.buf[off+15] = t.FactoryInfo
	copy(b.buf[off+16:off+22], t.UTC[:])
	if len(b.buf) >= b.layout.SequencedPacketSize() {
		binary.LittleEndian.PutUint32(b.buf[b.layout.MinPacketSize():], t.Sequence)
	}
	return b
}

// Bytes returns a copy of the assembled payload.
func (b *Builder) Bytes() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

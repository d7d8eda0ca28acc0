package serialsrc

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	escapeXor  = 0x20
	crcSize    = 4
)

// Frame wraps payload for the wire: a flag, the stuffed payload and its
// little-endian CRC-32 (IEEE), and a closing flag.
func Frame(payload []byte) []byte {
	var crc [crcSize]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(payload))

	out := make([]byte, 0, len(payload)+len(payload)/8+crcSize+2)
	out = append(out, flagByte)
	out = stuff(out, payload)
	out = stuff(out, crc[:])
	return append(out, flagByte)
}

func stuff(dst, src []byte) []byte {
	for _, b := range src {
		if b == flagByte || b == escapeByte {
			dst = append(dst, escapeByte, b^escapeXor)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Deframer reassembles frames from an arbitrary chunking of the byte
// stream. Bytes before the first flag are discarded, and a flag both closes
// one frame and opens the next.
type Deframer struct {
	maxPayload int
	buf        []byte
	inFrame    bool
	escaped    bool
	overrun    bool
	ready      [][]byte

	Frames    uint64
	CRCErrors uint64
	Overruns  uint64
	Runts     uint64
}

// NewDeframer returns a Deframer that drops frames whose payload exceeds
// maxPayload bytes.
func NewDeframer(maxPayload int) *Deframer {
	return &Deframer{
		maxPayload: maxPayload,
		buf:        make([]byte, 0, maxPayload+crcSize),
	}
}

// Feed consumes a chunk of the stream. Completed payloads become available
// through Next.
func (d *Deframer) Feed(p []byte) {
	for _, b := range p {
		switch {
		case b == flagByte:
			if d.inFrame {
				d.finish()
			}
			d.inFrame = true
			d.escaped = false
			d.overrun = false
			d.buf = d.buf[:0]
		case !d.inFrame || d.overrun:
		case b == escapeByte:
			d.escaped = true
		default:
			if d.escaped {
				b ^= escapeXor
				d.escaped = false
			}
			if len(d.buf) == d.maxPayload+crcSize {
				d.overrun = true
				d.Overruns++
				continue
			}
			d.buf = append(d.buf, b)
		}
	}
}

func (d *Deframer) finish() {
	if d.overrun || len(d.buf) == 0 {
		return
	}
	if len(d.buf) <= crcSize {
		d.Runts++
		return
	}
	body := d.buf[:len(d.buf)-crcSize]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(d.buf[len(body):]) {
		d.CRCErrors++
		return
	}
	payload := make([]byte, len(body))
	copy(payload, body)
	d.ready = append(d.ready, payload)
	d.Frames++
}

// Next pops the oldest completed payload.
func (d *Deframer) Next() ([]byte, bool) {
	if len(d.ready) == 0 {
		return nil, false
	}
	p := d.ready[0]
	d.ready[0] = nil
	d.ready = d.ready[1:]
	return p, true
}

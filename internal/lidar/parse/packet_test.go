package parse

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPandar40PLayout(t *testing.T) {
	l := Pandar40P
	checks := []struct {
		name      string
		got, want int
	}{
		{"BlockSize", l.BlockSize(), 124},
		{"TailOffset", l.TailOffset(), 1240},
		{"MinPacketSize", l.MinPacketSize(), 1262},
		{"SequencedPacketSize", l.SequencedPacketSize(), 1266},
		{"PointsPerPacket", l.PointsPerPacket(), 400},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	good := NewBuilder(Pandar40P, false).Bytes()

	badMagic := NewBuilder(Pandar40P, false).Bytes()
	badMagic[1] = 0xEF

	badBlock := NewBuilder(Pandar40P, false).Bytes()
	badBlock[3*124] = 0x00

	tests := map[string][]byte{
		"empty":       nil,
		"short":       good[:1261],
		"bad magic":   badMagic,
		"bad block 3": badBlock,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data, Pandar40P)
			if !errors.Is(err, ErrMalformedPacket) {
				t.Fatalf("Decode error = %v, want ErrMalformedPacket", err)
			}
		})
	}
}

func TestDecodeFields(t *testing.T) {
	tail := Tail{
		Shutdown:    0x01,
		MotorSpeed:  600,
		Timestamp:   271005,
		ReturnMode:  ReturnModeLast,
		FactoryInfo: 0x42,
		UTC:         [6]uint8{24, 3, 15, 12, 30, 45},
		Sequence:    63234,
	}
	data := NewBuilder(Pandar40P, true).
		BlockAzimuth(0, 100).
		BlockAzimuth(9, 35999).
		Return(0, 0, 2500, 77).
		Return(9, 39, 0xFFFF, 255).
		Tail(tail).
		Bytes()

	pkt, err := Decode(data, Pandar40P)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !pkt.HasSequence() {
		t.Fatal("HasSequence() = false for 1266-byte packet")
	}
	if got := pkt.BlockAzimuth(0); got != 100 {
		t.Errorf("BlockAzimuth(0) = %d, want 100", got)
	}
	if got := pkt.BlockAzimuth(9); got != 35999 {
		t.Errorf("BlockAzimuth(9) = %d, want 35999", got)
	}
	if got := pkt.Distance(0, 0); got != 2500 {
		t.Errorf("Distance(0,0) = %d, want 2500", got)
	}
	if got := pkt.Reflectivity(0, 0); got != 77 {
		t.Errorf("Reflectivity(0,0) = %d, want 77", got)
	}
	if got := pkt.Distance(9, 39); got != 0xFFFF {
		t.Errorf("Distance(9,39) = %d, want 65535", got)
	}

	want := tail
	want.HasSequence = true
	if diff := cmp.Diff(want, pkt.Tail()); diff != "" {
		t.Errorf("Tail mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeWithoutSequence(t *testing.T) {
	data := NewBuilder(Pandar40P, false).Tail(Tail{Sequence: 99}).Bytes()
	pkt, err := Decode(data, Pandar40P)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if pkt.HasSequence() {
		t.Error("HasSequence() = true for 1262-byte packet")
	}
	if tail := pkt.Tail(); tail.Sequence != 0 || tail.HasSequence {
		t.Errorf("Tail sequence = %d/%v, want 0/false", tail.Sequence, tail.HasSequence)
	}
}

// Bytes captured from a sensor tail: 02 2f ae 01 89 33 2e 09 79 77 00 0d 0e 00
// 38 42 11 09 06 0e 21 26, followed by sequence 02 f7 00 00.
func TestDecodeCapturedTail(t *testing.T) {
	data := NewBuilder(Pandar40P, true).Bytes()
	copy(data[1240:], []byte{
		0x02, 0x2f, 0xae, 0x01, 0x89, 0x33, 0x2e, 0x09, 0x79, 0x77, 0x00, 0x0d, 0x0e, 0x00,
		0x38, 0x42, 0x11, 0x09, 0x06, 0x0e, 0x21, 0x26, 0x02, 0xf7, 0x00, 0x00,
	})
	pkt, err := Decode(data, Pandar40P)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tail := pkt.Tail()
	if tail.Shutdown != 0x33 || tail.MotorSpeed != 0x7779 || tail.Timestamp != 0x000e0d00 {
		t.Errorf("tail = %+v", tail)
	}
	if tail.ReturnMode != ReturnModeLast || tail.FactoryInfo != 0x42 || tail.Sequence != 63234 {
		t.Errorf("tail = %+v", tail)
	}
	wall, ok := tail.UTCTime()
	if !ok {
		t.Fatal("UTCTime() not ok")
	}
	if want := time.Date(2017, 9, 6, 14, 33, 38, 0, time.UTC); !wall.Equal(want) {
		t.Errorf("UTCTime = %v, want %v", wall, want)
	}
}

func TestMicroLidarTime(t *testing.T) {
	tail := Tail{Timestamp: 500, UTC: [6]uint8{20, 1, 1, 0, 0, 1}}
	want := uint64(time.Date(2020, 1, 1, 0, 0, 1, 0, time.UTC).Unix())*1_000_000 + 500
	if got := tail.MicroLidarTime(); got != want {
		t.Errorf("MicroLidarTime = %d, want %d", got, want)
	}

	undated := Tail{Timestamp: 500}
	if got := undated.MicroLidarTime(); got != 500 {
		t.Errorf("undated MicroLidarTime = %d, want 500", got)
	}
}

func TestRawPacketReceivedMicros(t *testing.T) {
	ts := time.UnixMicro(1_700_000_000_123_456)
	if got := NewRawPacket(nil, ts).ReceivedMicros(); got != 1_700_000_000_123_456 {
		t.Errorf("ReceivedMicros = %d", got)
	}
	if got := NewRawPacket(nil, time.Time{}).ReceivedMicros(); got != 0 {
		t.Errorf("zero ReceivedMicros = %d", got)
	}
}

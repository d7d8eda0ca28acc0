package parse

import "time"

// Tail is the 22-byte status trailer plus the optional sequence number.
type Tail struct {
	Shutdown    uint8  // lidar state flag
	MotorSpeed  uint16 // rpm
	Timestamp   uint32 // microseconds within the UTC second
	ReturnMode  uint8
	FactoryInfo uint8
	UTC         [6]uint8 // year-2000, month, day, hour, minute, second
	Sequence    uint32
	HasSequence bool
}

// UTCTime returns the tail's whole-second wall clock. ok is false when the
// sensor has not been given a date (month or day zero).
func (t Tail) UTCTime() (time.Time, bool) {
	if t.UTC[1] == 0 || t.UTC[2] == 0 {
		return time.Time{}, false
	}
	return time.Date(2000+int(t.UTC[0]), time.Month(t.UTC[1]), int(t.UTC[2]),
		int(t.UTC[3]), int(t.UTC[4]), int(t.UTC[5]), 0, time.UTC), true
}

// MicroLidarTime combines the UTC fields and microsecond counter into
// microseconds since the Unix epoch. Without a date only the counter is used.
func (t Tail) MicroLidarTime() uint64 {
	base, ok := t.UTCTime()
	if !ok {
		return uint64(t.Timestamp)
	}
	return uint64(base.Unix())*1_000_000 + uint64(t.Timestamp)
}

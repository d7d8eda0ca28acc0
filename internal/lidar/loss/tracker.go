// Package loss counts dropped and anomalous packets from sequence numbers
// and sensor timestamps. It observes the stream but never gates it.
package loss

import (
	"sync/atomic"
	"time"
)

// DefaultTimeLossThreshold is the packet-to-packet timestamp gap above which
// packets are assumed lost. A Pandar40P at 20 Hz sends a packet every ~278us.
const DefaultTimeLossThreshold = time.Millisecond

// Tracker accumulates loss statistics. Observe* must be called from a single
// goroutine; Snapshot may be called from any goroutine.
type Tracker struct {
	threshold uint64 // microseconds

	lastSeq  uint32
	haveSeq  bool
	lastTime uint64
	haveTime bool

	lastSub    uint32
	haveSub    bool
	secondBase uint64

	sequenced      atomic.Uint64
	lostPackets    atomic.Uint64
	sequenceGaps   atomic.Uint64
	duplicates     atomic.Uint64
	outOfOrder     atomic.Uint64
	timeLossEvents atomic.Uint64
	timeLostMicros atomic.Uint64
	clockStalls    atomic.Uint64
	clockResets    atomic.Uint64
	lastSequence   atomic.Uint32
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	SequencedPackets uint64 `json:"sequenced_packets"`
	LostPackets      uint64 `json:"lost_packets"`
	SequenceGaps     uint64 `json:"sequence_gaps"`
	Duplicates       uint64 `json:"duplicates"`
	OutOfOrder       uint64 `json:"out_of_order"`
	TimeLossEvents   uint64 `json:"time_loss_events"`
	TimeLostMicros   uint64 `json:"time_lost_us"`
	ClockStalls      uint64 `json:"clock_stalls"`
	ClockResets      uint64 `json:"clock_resets"`
	LastSequence     uint32 `json:"last_sequence"`
}

// LossRatio is lost packets over lost plus received sequenced packets.
func (s Snapshot) LossRatio() float64 {
	total := s.LostPackets + s.SequencedPackets
	if total == 0 {
		return 0
	}
	return float64(s.LostPackets) / float64(total)
}

// NewTracker returns a Tracker flagging timestamp gaps above threshold.
// A non-positive threshold selects DefaultTimeLossThreshold.
func NewTracker(threshold time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultTimeLossThreshold
	}
	return &Tracker{threshold: uint64(threshold.Microseconds())}
}

// ObserveSequence records a packet's UDP sequence number and returns how many
// packets it implies were lost since the previous one. Sequence arithmetic
// wraps at 2^32. A jump backwards is counted as out-of-order rather than as
// billions of lost packets, and becomes the new reference.
func (t *Tracker) ObserveSequence(seq uint32) uint32 {
	t.sequenced.Add(1)
	t.lastSequence.Store(seq)
	if !t.haveSeq {
		t.haveSeq = true
		t.lastSeq = seq
		return 0
	}
	delta := seq - t.lastSeq
	t.lastSeq = seq

	switch {
	case delta == 1:
		return 0
	case delta == 0:
		t.duplicates.Add(1)
		return 0
	case delta >= 1<<31:
		t.outOfOrder.Add(1)
		return 0
	}
	lost := delta - 1
	t.lostPackets.Add(uint64(lost))
	t.sequenceGaps.Add(1)
	return lost
}

// ObserveTimestamp records a packet's sensor time in microseconds and reports
// whether the gap from the previous packet exceeded the threshold.
func (t *Tracker) ObserveTimestamp(us uint64) bool {
	if !t.haveTime {
		t.haveTime = true
		t.lastTime = us
		return false
	}
	last := t.lastTime
	t.lastTime = us

	switch {
	case us == last:
		t.clockStalls.Add(1)
		return false
	case us < last:
		t.clockResets.Add(1)
		return false
	}
	gap := us - last
	if gap <= t.threshold {
		return false
	}
	t.timeLossEvents.Add(1)
	t.timeLostMicros.Add(gap)
	return true
}

// ObserveSubsecond records a microsecond-within-second counter from a sensor
// that has no date. A drop of half a second or more is taken as the counter
// rolling into the next second rather than a clock reset.
func (t *Tracker) ObserveSubsecond(us uint32) bool {
	if t.haveSub && us < t.lastSub && t.lastSub-us >= 500_000 {
		t.secondBase += 1_000_000
	}
	t.haveSub = true
	t.lastSub = us
	return t.ObserveTimestamp(t.secondBase + uint64(us))
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		SequencedPackets: t.sequenced.Load(),
		LostPackets:      t.lostPackets.Load(),
		SequenceGaps:     t.sequenceGaps.Load(),
		Duplicates:       t.duplicates.Load(),
		OutOfOrder:       t.outOfOrder.Load(),
		TimeLossEvents:   t.timeLossEvents.Load(),
		TimeLostMicros:   t.timeLostMicros.Load(),
		ClockStalls:      t.clockStalls.Load(),
		ClockResets:      t.clockResets.Load(),
		LastSequence:     t.lastSequence.Load(),
	}
}

package framelog

import (
	"time"

	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/loss"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
)

// LossSource supplies loss counters for periodic snapshots.
type LossSource interface {
	LossSnapshot() loss.Snapshot
}

// LossFunc adapts a function to LossSource.
type LossFunc func() loss.Snapshot

func (f LossFunc) LossSnapshot() loss.Snapshot { return f() }

// Recorder stores every frame it is handed and a loss snapshot every
// LossEvery frames.
type Recorder struct {
	db        *DB
	session   Session
	lossSrc   LossSource
	lossEvery int
	errLog    *monitoring.Throttle

	frames int
	now    func() time.Time
}

// NewRecorder records into session. lossSrc may be nil.
func NewRecorder(db *DB, session Session, lossSrc LossSource, lossEvery int) *Recorder {
	if lossEvery <= 0 {
		lossEvery = 100
	}
	return &Recorder{
		db:        db,
		session:   session,
		lossSrc:   lossSrc,
		lossEvery: lossEvery,
		errLog:    monitoring.NewThrottle(30 * time.Second),
		now:       time.Now,
	}
}

// HandleFrame is a pipeline frame handler. Write errors are logged and do
// not stop the stream.
func (r *Recorder) HandleFrame(f *l2frames.Frame) {
	if err := r.db.RecordFrame(r.session.ID, Summarize(f)); err != nil {
		r.errLog.Logf("[framelog] %v", err)
	}
	r.frames++
	if r.lossSrc != nil && r.frames%r.lossEvery == 0 {
		r.snapshot()
	}
}

// Close writes a final loss snapshot.
func (r *Recorder) Close() {
	if r.lossSrc != nil {
		r.snapshot()
	}
}

func (r *Recorder) snapshot() {
	if err := r.db.RecordLoss(r.session.ID, r.now(), r.lossSrc.LossSnapshot()); err != nil {
		r.errLog.Logf("[framelog] %v", err)
	}
}

package framelog

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/loss"
	"github.com/banshee-data/hesai-decode/internal/monitoring"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	db, err := Open(filepath.Join(t.TempDir(), "frames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testFrame(index uint64) *l2frames.Frame {
	f := l2frames.NewFrame(4, 400)
	f.ID = uuid.New()
	f.Index = index
	f.SensorID = "lidar-1"
	f.HostTimestamp = time.Unix(1_700_000_000, int64(index)*1000).UTC()
	f.SpinSpeed = 600
	f.ReturnMode = 0x37
	f.ReservePacket(1_000_000 + index)
	f.PointCount = 400
	f.ScanComplete = true
	return f
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRecordAndListFrames(t *testing.T) {
	db := openTestDB(t)
	session, err := db.StartSession("lidar-1", "Pandar40P", "pcap", map[string]any{"frame_start_azimuth": 0})
	require.NoError(t, err)

	var want []FrameSummary
	for i := uint64(1); i <= 3; i++ {
		s := Summarize(testFrame(i))
		require.NoError(t, db.RecordFrame(session.ID, s))
		s.SessionID = session.ID
		want = append([]FrameSummary{s}, want...)
	}

	got, err := db.RecentFrames(10)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RecentFrames mismatch (-want +got):\n%s", diff)
	}

	got, err = db.RecentFrames(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Index)
}

func TestRecordFrameRequiresSession(t *testing.T) {
	db := openTestDB(t)
	err := db.RecordFrame(uuid.New(), Summarize(testFrame(1)))
	assert.Error(t, err, "foreign key should reject an unknown session")
}

func TestRecorderWritesLossSnapshots(t *testing.T) {
	db := openTestDB(t)
	session, err := db.StartSession("lidar-1", "Pandar40P", "udp", nil)
	require.NoError(t, err)

	lost := uint64(0)
	rec := NewRecorder(db, session, LossFunc(func() loss.Snapshot {
		lost++
		return loss.Snapshot{SequencedPackets: 1000, LostPackets: lost}
	}), 2)
	at := time.Unix(5000, 0)
	rec.now = func() time.Time { at = at.Add(time.Second); return at }

	for i := uint64(1); i <= 5; i++ {
		rec.HandleFrame(testFrame(i))
	}
	rec.Close()

	frames, err := db.RecentFrames(0)
	require.NoError(t, err)
	assert.Len(t, frames, 5)

	snap, taken, err := db.LatestLoss(session.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.LostPackets, "snapshots after frame 2, 4 and on close")
	assert.Equal(t, time.Unix(5003, 0), taken)
}

func TestAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	session, err := db.StartSession("lidar-1", "Pandar40P", "udp", nil)
	require.NoError(t, err)
	require.NoError(t, db.RecordFrame(session.ID, Summarize(testFrame(7))))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "127.0.0.1:40000"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		return w
	}

	w := get("/debug/frames?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	var frames []FrameSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&frames))
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(7), frames[0].Index)

	assert.Equal(t, http.StatusBadRequest, get("/debug/frames?limit=x").Code)

	w = get("/debug/backup")
	require.Equal(t, http.StatusOK, w.Code)
	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	header := make([]byte, 16)
	_, err = io.ReadFull(gz, header)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(header))

	assert.NotEqual(t, http.StatusNotFound, get("/debug/tailsql/").Code)
}

// Package framelog keeps a SQLite record of decode sessions, completed frame
// summaries and loss snapshots. Point data is never stored.
package framelog

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/hesai-decode/internal/lidar/l2frames"
	"github.com/banshee-data/hesai-decode/internal/lidar/loss"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps the frame log database.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the database at path and applies pending
// migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer.
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Session identifies one run of the decoder.
type Session struct {
	ID        uuid.UUID `json:"session_id"`
	SensorID  string    `json:"sensor_id"`
	Model     string    `json:"model"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
}

// StartSession records a new session. config is stored as JSON.
func (db *DB) StartSession(sensorID, model, source string, config any) (Session, error) {
	s := Session{ID: uuid.New(), SensorID: sensorID, Model: model, Source: source, StartedAt: time.Now()}
	cfg := []byte("{}")
	if config != nil {
		var err error
		if cfg, err = json.Marshal(config); err != nil {
			return Session{}, fmt.Errorf("encode session config: %w", err)
		}
	}
	_, err := db.Exec(`INSERT INTO sessions (session_id, sensor_id, model, source, config_json, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.SensorID, s.Model, s.Source, string(cfg), s.StartedAt.UnixNano())
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// FrameSummary is the stored view of a frame.
type FrameSummary struct {
	FrameID        uuid.UUID `json:"frame_id"`
	SessionID      uuid.UUID `json:"session_id"`
	Index          uint64    `json:"index"`
	SensorID       string    `json:"sensor_id"`
	HostTimestamp  time.Time `json:"host_timestamp"`
	StartMicros    uint64    `json:"start_us"`
	EndMicros      uint64    `json:"end_us"`
	PacketCount    int       `json:"packet_count"`
	PointCount     int       `json:"point_count"`
	ScanComplete   bool      `json:"scan_complete"`
	Overflow       bool      `json:"overflow"`
	DroppedPackets int       `json:"dropped_packets"`
	SpinRPM        uint16    `json:"spin_rpm"`
	ReturnMode     uint8     `json:"return_mode"`
}

// Summarize copies the frame's scalars.
func Summarize(f *l2frames.Frame) FrameSummary {
	return FrameSummary{
		FrameID:        f.ID,
		Index:          f.Index,
		SensorID:       f.SensorID,
		HostTimestamp:  f.HostTimestamp,
		StartMicros:    f.StartMicros(),
		EndMicros:      f.EndMicros(),
		PacketCount:    f.PacketCount,
		PointCount:     f.PointCount,
		ScanComplete:   f.ScanComplete,
		Overflow:       f.Overflow,
		DroppedPackets: f.DroppedPackets,
		SpinRPM:        f.SpinSpeed,
		ReturnMode:     f.ReturnMode,
	}
}

// RecordFrame stores one summary under session.
func (db *DB) RecordFrame(session uuid.UUID, s FrameSummary) error {
	_, err := db.Exec(`INSERT INTO frames (frame_id, session_id, frame_index, sensor_id, host_timestamp,
			start_us, end_us, packet_count, point_count, scan_complete, overflow, dropped_packets,
			spin_rpm, return_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.FrameID.String(), session.String(), int64(s.Index), s.SensorID, s.HostTimestamp.UnixNano(),
		int64(s.StartMicros), int64(s.EndMicros), s.PacketCount, s.PointCount,
		s.ScanComplete, s.Overflow, s.DroppedPackets, int(s.SpinRPM), int(s.ReturnMode))
	if err != nil {
		return fmt.Errorf("insert frame %d: %w", s.Index, err)
	}
	return nil
}

// RecentFrames returns up to limit summaries, newest first.
func (db *DB) RecentFrames(limit int) ([]FrameSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT frame_id, session_id, frame_index, sensor_id, host_timestamp,
			start_us, end_us, packet_count, point_count, scan_complete, overflow, dropped_packets,
			spin_rpm, return_mode
		FROM frames ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameSummary
	for rows.Next() {
		var (
			s                FrameSummary
			frameID, session string
			index, host      int64
			start, end       int64
			spin, returnMode int
		)
		if err := rows.Scan(&frameID, &session, &index, &s.SensorID, &host, &start, &end,
			&s.PacketCount, &s.PointCount, &s.ScanComplete, &s.Overflow, &s.DroppedPackets,
			&spin, &returnMode); err != nil {
			return nil, err
		}
		if s.FrameID, err = uuid.Parse(frameID); err != nil {
			return nil, fmt.Errorf("frame id %q: %w", frameID, err)
		}
		if s.SessionID, err = uuid.Parse(session); err != nil {
			return nil, fmt.Errorf("session id %q: %w", session, err)
		}
		s.Index = uint64(index)
		s.HostTimestamp = time.Unix(0, host)
		s.StartMicros = uint64(start)
		s.EndMicros = uint64(end)
		s.SpinRPM = uint16(spin)
		s.ReturnMode = uint8(returnMode)
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordLoss stores a loss snapshot taken at at.
func (db *DB) RecordLoss(session uuid.UUID, at time.Time, s loss.Snapshot) error {
	_, err := db.Exec(`INSERT INTO loss_snapshots (session_id, taken_at, sequenced_packets, lost_packets,
			sequence_gaps, duplicates, out_of_order, time_loss_events, time_lost_us, clock_stalls, clock_resets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.String(), at.UnixNano(), int64(s.SequencedPackets), int64(s.LostPackets),
		int64(s.SequenceGaps), int64(s.Duplicates), int64(s.OutOfOrder), int64(s.TimeLossEvents),
		int64(s.TimeLostMicros), int64(s.ClockStalls), int64(s.ClockResets))
	if err != nil {
		return fmt.Errorf("insert loss snapshot: %w", err)
	}
	return nil
}

// LatestLoss returns the newest snapshot for session.
func (db *DB) LatestLoss(session uuid.UUID) (loss.Snapshot, time.Time, error) {
	var (
		s     loss.Snapshot
		taken int64
	)
	err := db.QueryRow(`SELECT taken_at, sequenced_packets, lost_packets, sequence_gaps, duplicates,
			out_of_order, time_loss_events, time_lost_us, clock_stalls, clock_resets
		FROM loss_snapshots WHERE session_id = ? ORDER BY taken_at DESC LIMIT 1`, session.String()).
		Scan(&taken, &s.SequencedPackets, &s.LostPackets, &s.SequenceGaps, &s.Duplicates,
			&s.OutOfOrder, &s.TimeLossEvents, &s.TimeLostMicros, &s.ClockStalls, &s.ClockResets)
	if err != nil {
		return loss.Snapshot{}, time.Time{}, err
	}
	return s, time.Unix(0, taken), nil
}

// Package store keeps a local ledger of bridge events and the latest
// progress per learner, course and unit.
//
// The ledger is best effort: the player logs write failures and carries on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// Event is one accepted bridge message with the progress it produced.
type Event struct {
	SessionID    string
	UserID       string
	CourseID     string
	UnitID       string
	SCOID        string
	Type         string
	Element      string
	Value        string
	Score        int
	HasScore     bool
	LessonStatus string
	SessionTime  string
	Finished     bool
	Commits      int
	At           time.Time
}

// UnitProgress is the latest known state of one unit for one learner.
type UnitProgress struct {
	UnitID       string    `json:"unit_id"`
	SCOID        string    `json:"sco_id"`
	Score        *int      `json:"score,omitempty"`
	LessonStatus string    `json:"lesson_status,omitempty"`
	SessionTime  string    `json:"session_time,omitempty"`
	Finished     bool      `json:"finished"`
	Commits      int       `json:"commits"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SQLiteStore is the ledger backed by a sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the ledger at path. Use ":memory:"
// for a private in-memory database.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps ":memory:" to a single database.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bridge_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			unit_id TEXT NOT NULL,
			sco_id TEXT NOT NULL,
			type TEXT NOT NULL,
			element TEXT NOT NULL DEFAULT '',
			value TEXT NOT NULL DEFAULT '',
			created_ts TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS bridge_events_session ON bridge_events(session_id, id);`,
		`CREATE TABLE IF NOT EXISTS unit_progress (
			user_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			unit_id TEXT NOT NULL,
			sco_id TEXT NOT NULL,
			score INTEGER,
			lesson_status TEXT NOT NULL DEFAULT '',
			session_time TEXT NOT NULL DEFAULT '',
			finished INTEGER NOT NULL DEFAULT 0,
			commits INTEGER NOT NULL DEFAULT 0,
			updated_ts TEXT NOT NULL,
			PRIMARY KEY(user_id, course_id, unit_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RecordEvent appends ev and folds it into the unit's latest progress.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev Event) error {
	if strings.TrimSpace(ev.Type) == "" {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	ts := at.UTC().Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bridge_events(session_id, user_id, course_id, unit_id, sco_id, type, element, value, created_ts)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		ev.SessionID, ev.UserID, ev.CourseID, ev.UnitID, ev.SCOID, ev.Type, ev.Element, ev.Value, ts,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	var score any
	if ev.HasScore {
		score = ev.Score
	}
	finished := 0
	if ev.Finished {
		finished = 1
	}

	// A later session of the same unit keeps earlier values it has not
	// overwritten yet.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO unit_progress(user_id, course_id, unit_id, sco_id, score, lesson_status, session_time, finished, commits, updated_ts)
		VALUES(?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(user_id, course_id, unit_id) DO UPDATE SET
			sco_id = excluded.sco_id,
			score = COALESCE(excluded.score, unit_progress.score),
			lesson_status = CASE WHEN excluded.lesson_status = '' THEN unit_progress.lesson_status ELSE excluded.lesson_status END,
			session_time = CASE WHEN excluded.session_time = '' THEN unit_progress.session_time ELSE excluded.session_time END,
			finished = MAX(unit_progress.finished, excluded.finished),
			commits = unit_progress.commits + CASE WHEN ? = 'scorm_commit' THEN 1 ELSE 0 END,
			updated_ts = excluded.updated_ts`,
		ev.UserID, ev.CourseID, ev.UnitID, ev.SCOID, score, ev.LessonStatus, ev.SessionTime, finished, ev.Commits, ts,
		ev.Type,
	); err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}

	return tx.Commit()
}

// CourseProgress returns the latest progress of every unit the learner has
// touched in the course.
func (s *SQLiteStore) CourseProgress(ctx context.Context, userID, courseID string) ([]UnitProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, sco_id, score, lesson_status, session_time, finished, commits, updated_ts
		FROM unit_progress
		WHERE user_id = ? AND course_id = ?
		ORDER BY unit_id`, userID, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnitProgress
	for rows.Next() {
		var (
			p        UnitProgress
			score    sql.NullInt64
			finished int
			ts       string
		)
		if err := rows.Scan(&p.UnitID, &p.SCOID, &score, &p.LessonStatus, &p.SessionTime, &finished, &p.Commits, &ts); err != nil {
			return nil, err
		}
		if score.Valid {
			v := int(score.Int64)
			p.Score = &v
		}
		p.Finished = finished != 0
		p.UpdatedAt, _ = time.Parse(timeLayout, ts)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SessionEvents returns the events of one runtime session in arrival order.
func (s *SQLiteStore) SessionEvents(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, course_id, unit_id, sco_id, type, element, value, created_ts
		FROM bridge_events
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev Event
			ts string
		)
		if err := rows.Scan(&ev.SessionID, &ev.UserID, &ev.CourseID, &ev.UnitID, &ev.SCOID, &ev.Type, &ev.Element, &ev.Value, &ts); err != nil {
			return nil, err
		}
		ev.At, _ = time.Parse(timeLayout, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

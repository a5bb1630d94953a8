// Package callog persists call-detail records in SQLite.
package callog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dialkit/dialkit/internal/call"
)

// Record is one call-detail record.
type Record struct {
	CallID     string     `json:"call_id"`
	Role       string     `json:"role"`
	Peer       string     `json:"peer"`
	Video      bool       `json:"video"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	FinalState string     `json:"final_state,omitempty"`
}

// Store wraps a SQLite database holding call history.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the call log in the given directory.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "calls.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			call_id     TEXT PRIMARY KEY,
			role        TEXT NOT NULL,
			peer        TEXT NOT NULL,
			video       INTEGER NOT NULL DEFAULT 0,
			started_at  DATETIME NOT NULL,
			ended_at    DATETIME,
			final_state TEXT DEFAULT ''
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CallStarted records a new call the moment it is created.
func (s *Store) CallStarted(callID string, role call.Role, peer string, video bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO calls (call_id, role, peer, video, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, callID, string(role), peer, video, at.UTC())
	if err != nil {
		return fmt.Errorf("record call start: %w", err)
	}
	return nil
}

// CallEnded stamps the end time and final state on an existing record.
func (s *Store) CallEnded(callID string, at time.Time, finalState call.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE calls SET ended_at = ?, final_state = ? WHERE call_id = ?
	`, at.UTC(), finalState.String(), callID)
	if err != nil {
		return fmt.Errorf("record call end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no call record for %s", callID)
	}
	return nil
}

// Recent returns the most recent calls, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT call_id, role, peer, video, started_at, ended_at, COALESCE(final_state, '')
		FROM calls ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var ended sql.NullTime
		if err := rows.Scan(&r.CallID, &r.Role, &r.Peer, &r.Video, &r.StartedAt, &ended, &r.FinalState); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

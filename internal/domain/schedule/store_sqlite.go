// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store backing: a pure-Go embedded database
// (no cgo), the same choice the teacher repo makes for its own local
// persistence. It survives process restarts, which the sequential
// play-mode position counter needs (spec.md §4.1: "State advances
// exactly once per (channel, date)" across the life of the channel).
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS resolved_days (
	channel TEXT NOT NULL,
	day     TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (channel, day)
);
CREATE TABLE IF NOT EXISTS sequence_positions (
	channel    TEXT NOT NULL,
	program_id TEXT NOT NULL,
	position   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (channel, program_id)
);`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetResolvedDay(ctx context.Context, channel string, date time.Time) (*ResolvedDay, bool, error) {
	day := date.UTC().Format("2006-01-02")
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM resolved_days WHERE channel = ? AND day = ?`, channel, day,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get resolved day: %w", err)
	}
	var out ResolvedDay
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, false, fmt.Errorf("decode resolved day: %w", err)
	}
	return &out, true, nil
}

func (s *SQLiteStore) PutResolvedDay(ctx context.Context, channel string, date time.Time, rd *ResolvedDay) error {
	day := date.UTC().Format("2006-01-02")
	payload, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("encode resolved day: %w", err)
	}
	// INSERT OR IGNORE: first writer wins, matching MemStore's idempotent semantics.
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO resolved_days (channel, day, payload) VALUES (?, ?, ?)`,
		channel, day, string(payload),
	)
	if err != nil {
		return fmt.Errorf("put resolved day: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AdvancePosition(ctx context.Context, channel, programID string, wrapAt int) (int, error) {
	if wrapAt <= 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("advance position: begin tx: %w", err)
	}
	defer tx.Rollback()

	var pos int
	err = tx.QueryRowContext(ctx,
		`SELECT position FROM sequence_positions WHERE channel = ? AND program_id = ?`, channel, programID,
	).Scan(&pos)
	if err == sql.ErrNoRows {
		pos = 0
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sequence_positions (channel, program_id, position) VALUES (?, ?, ?)`,
			channel, programID, (pos+1)%wrapAt)
	} else if err == nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE sequence_positions SET position = ? WHERE channel = ? AND program_id = ?`,
			(pos+1)%wrapAt, channel, programID)
	}
	if err != nil {
		return 0, fmt.Errorf("advance position: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("advance position: commit: %w", err)
	}
	return pos, nil
}

var _ Store = (*SQLiteStore)(nil)

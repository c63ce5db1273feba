// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history keeps a local SQLite record of verification runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/helixml/hyprmoon/internal/persistence/sqlite"
	"github.com/helixml/hyprmoon/internal/verification"
)

const schemaVersion = 1

// ErrNotFound is returned when a run ID is unknown.
var ErrNotFound = errors.New("run not found")

// Entry is the summary row of one run.
type Entry struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Passed      bool
	Interrupted bool
	FailedStage string
	Strategy    string
	Method      string
	Confidence  float64
	Degraded    bool
}

// Store persists run summaries and full JSON reports.
type Store struct {
	DB *sql.DB
}

// Open opens (and migrates) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		passed BOOLEAN NOT NULL,
		interrupted BOOLEAN NOT NULL DEFAULT 0,
		failed_stage TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		degraded BOOLEAN NOT NULL DEFAULT 0,
		report_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Record stores r. Recording the same run twice replaces the earlier row.
func (s *Store) Record(ctx context.Context, r *verification.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: encode report: %w", err)
	}
	e := summarize(r)
	query := `
	INSERT INTO runs (run_id, started_at_ms, duration_ms, passed, interrupted, failed_stage, strategy, method, confidence, degraded, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		started_at_ms = excluded.started_at_ms,
		duration_ms = excluded.duration_ms,
		passed = excluded.passed,
		interrupted = excluded.interrupted,
		failed_stage = excluded.failed_stage,
		strategy = excluded.strategy,
		method = excluded.method,
		confidence = excluded.confidence,
		degraded = excluded.degraded,
		report_json = excluded.report_json
	`
	_, err = s.DB.ExecContext(ctx, query,
		e.RunID, e.StartedAt.UnixMilli(), e.Duration.Milliseconds(), e.Passed, e.Interrupted,
		e.FailedStage, e.Strategy, e.Method, e.Confidence, e.Degraded, string(raw),
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", e.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
	SELECT run_id, started_at_ms, duration_ms, passed, interrupted, failed_stage, strategy, method, confidence, degraded
	FROM runs ORDER BY started_at_ms DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                     Entry
			startedMs, durationMs int64
		)
		if err := rows.Scan(&e.RunID, &startedMs, &durationMs, &e.Passed, &e.Interrupted,
			&e.FailedStage, &e.Strategy, &e.Method, &e.Confidence, &e.Degraded); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedMs).UTC()
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Report returns the full stored report of runID.
func (s *Store) Report(ctx context.Context, runID string) (*verification.Report, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT report_json FROM runs WHERE run_id = ?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("history: load %s: %w", runID, err)
	}
	var r verification.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", runID, err)
	}
	return &r, nil
}

// PassRate returns passed/total over the last n runs.
func (s *Store) PassRate(ctx context.Context, n int) (passed, total int, err error) {
	entries, err := s.Recent(ctx, n)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if e.Passed {
			passed++
		}
	}
	return passed, len(entries), nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func summarize(r *verification.Report) Entry {
	e := Entry{
		RunID:       r.RunID,
		StartedAt:   r.StartedAt,
		Duration:    r.Duration(),
		Passed:      r.Passed,
		Interrupted: r.Interrupted,
		FailedStage: r.FailedStage,
	}
	if r.Artifact != nil {
		e.Strategy = r.Artifact.Strategy
	}
	if v := r.Verdict; v != nil {
		e.Method = string(v.Method)
		e.Confidence = v.Confidence
		e.Degraded = v.Degraded
	}
	return e
}

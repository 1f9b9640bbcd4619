package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/spectrometer/internal/pipeline"
)

// RunRecord is one acquisition run as persisted.
type RunRecord struct {
	RunID     string          `json:"run_id"`
	Source    string          `json:"source"`
	StartedAt time.Time       `json:"started_at"`
	StoppedAt *time.Time      `json:"stopped_at,omitempty"`
	Counts    pipeline.Counts `json:"counts"`
	LastError string          `json:"last_error,omitempty"`
}

// CycleEvent is one dropped cycle or rejected line.
type CycleEvent struct {
	RunID  string    `json:"run_id"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	Detail string    `json:"detail"`
}

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}

// RecordRunStart inserts a new run row.
func (db *DB) RecordRunStart(runID, sourceName string, startedAt time.Time) error {
	_, err := db.Exec(
		`INSERT INTO acquisition_runs (run_id, source, started_at) VALUES (?, ?, ?)`,
		runID, sourceName, formatTime(startedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// RecordRunStop closes a run row with its final counts.
func (db *DB) RecordRunStop(runID string, stoppedAt time.Time, counts pipeline.Counts, lastErr string) error {
	res, err := db.Exec(
		`UPDATE acquisition_runs SET
			stopped_at = ?, lines = ?, readings = ?, malformed_records = ?,
			protocol_desyncs = ?, empty_series = ?, invalid_measurements = ?,
			discarded_incomplete = ?, last_error = ?
		WHERE run_id = ?`,
		formatTime(stoppedAt), counts.Lines, counts.Readings, counts.MalformedRecords,
		counts.ProtocolDesyncs, counts.EmptySeries, counts.InvalidMeasurement,
		counts.Discarded, lastErr, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordCycleDropped appends a cycle event for the run.
func (db *DB) RecordCycleDropped(runID string, at time.Time, reason, detail string) error {
	_, err := db.Exec(
		`INSERT INTO cycle_events (run_id, at, reason, detail) VALUES (?, ?, ?, ?)`,
		runID, formatTime(at), reason, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle event: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (db *DB) RecentRuns(limit int) ([]RunRecord, error) {
	rows, err := db.Query(
		`SELECT run_id, source, started_at, stopped_at, lines, readings,
			malformed_records, protocol_desyncs, empty_series,
			invalid_measurements, discarded_incomplete, last_error
		FROM acquisition_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		var (
			r       RunRecord
			started string
			stopped sql.NullString
		)
		if err := rows.Scan(&r.RunID, &r.Source, &started, &stopped,
			&r.Counts.Lines, &r.Counts.Readings, &r.Counts.MalformedRecords,
			&r.Counts.ProtocolDesyncs, &r.Counts.EmptySeries,
			&r.Counts.InvalidMeasurement, &r.Counts.Discarded, &r.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if stopped.Valid {
			t, err := parseTime(stopped.String)
			if err != nil {
				return nil, err
			}
			r.StoppedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CycleEvents returns the events recorded for a run in order.
func (db *DB) CycleEvents(runID string) ([]CycleEvent, error) {
	rows, err := db.Query(
		`SELECT run_id, at, reason, detail FROM cycle_events
		WHERE run_id = ?
		ORDER BY event_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle events: %w", err)
	}
	defer rows.Close()

	events := []CycleEvent{}
	for rows.Next() {
		var (
			e  CycleEvent
			at string
		)
		if err := rows.Scan(&e.RunID, &at, &e.Reason, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan cycle event: %w", err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var _ pipeline.DiagnosticsRecorder = (*DB)(nil)

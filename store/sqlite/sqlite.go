// Package sqlite implements store.RunStore using SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/healbot/healbot/model"
)

// Store manages run and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			repo_url     TEXT NOT NULL,
			team_name    TEXT NOT NULL DEFAULT '',
			leader_name  TEXT NOT NULL DEFAULT '',
			branch       TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'running',
			error        TEXT NOT NULL DEFAULT '',
			report       TEXT NOT NULL DEFAULT '',
			started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
			completed_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS run_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			event      TEXT NOT NULL,
			agent      TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT '',
			data       TEXT NOT NULL DEFAULT '',
			progress   INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_run_events_run_id
			ON run_events(run_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(run *model.Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, repo_url, team_name, leader_name, branch, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RepoURL, run.TeamName, run.LeaderName, run.Branch,
		run.Status, run.StartedAt,
	)
	return err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, repo_url, team_name, leader_name, branch, status, error,
		        report, started_at, completed_at
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// ListRuns returns all runs ordered by start time (newest first).
func (s *Store) ListRuns() ([]*model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, repo_url, team_name, leader_name, branch, status, error,
		        report, started_at, completed_at
		 FROM runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRun updates mutable fields of a run.
func (s *Store) UpdateRun(run *model.Run) error {
	var report string
	if run.Report != nil {
		data, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		report = string(data)
	}

	var completed any
	if !run.CompletedAt.IsZero() {
		completed = run.CompletedAt
	}

	_, err := s.db.Exec(
		`UPDATE runs SET
			branch = ?, status = ?, error = ?, report = ?, completed_at = ?
		 WHERE id = ?`,
		run.Branch, run.Status, run.Error, report, completed, run.ID,
	)
	return err
}

// AddEvent inserts a new event and fills in its ID.
func (s *Store) AddEvent(event *model.Event) error {
	var data string
	if event.Data != nil {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("encoding event data: %w", err)
		}
		data = string(encoded)
	}

	result, err := s.db.Exec(
		`INSERT INTO run_events (run_id, event, agent, message, data, progress, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.Event, event.Agent, event.Message, data,
		event.Progress, event.Timestamp,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a run, optionally after a given event ID.
func (s *Store) GetEvents(runID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, event, agent, message, data, progress, created_at
		 FROM run_events
		 WHERE run_id = ? AND id > ?
		 ORDER BY id ASC`,
		runID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		var data string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.Agent, &e.Message,
			&data, &e.Progress, &e.Timestamp); err != nil {
			return nil, err
		}
		if data != "" {
			var decoded any
			if err := json.Unmarshal([]byte(data), &decoded); err == nil {
				e.Data = decoded
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// scannable abstracts sql.Row and sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	run := &model.Run{}
	var report string
	var completed sql.NullTime
	err := row.Scan(
		&run.ID, &run.RepoURL, &run.TeamName, &run.LeaderName, &run.Branch,
		&run.Status, &run.Error, &report, &run.StartedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		run.CompletedAt = completed.Time
	}
	if report != "" {
		var fr model.FinalReport
		if err := json.Unmarshal([]byte(report), &fr); err != nil {
			return nil, fmt.Errorf("decoding report: %w", err)
		}
		run.Report = &fr
	}
	run.StartedAt = run.StartedAt.UTC()
	if !run.CompletedAt.IsZero() {
		run.CompletedAt = run.CompletedAt.UTC()
	}
	return run, nil
}

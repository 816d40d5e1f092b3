// Package store defines the persistence interface for runs and their event
// streams.
package store

import "github.com/healbot/healbot/model"

// RunStore persists runs and their event history.
type RunStore interface {
	CreateRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	ListRuns() ([]*model.Run, error)
	UpdateRun(run *model.Run) error

	// AddEvent appends an event to a run's history and fills in its ID.
	AddEvent(event *model.Event) error
	// GetEvents returns a run's events with ID greater than afterID,
	// oldest first.
	GetEvents(runID string, afterID int64) ([]*model.Event, error)

	Close() error
}

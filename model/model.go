// Package model defines the core domain types shared across all healbot packages.
// It has zero dependencies on other healbot packages.
package model

import "time"

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusError means the pipeline aborted on an unhandled failure.
	StatusError Status = "error"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusError
}

// Run represents a single healing run against a repository.
type Run struct {
	ID          string    `json:"id"`
	RepoURL     string    `json:"repoUrl"`
	TeamName    string    `json:"teamName"`
	LeaderName  string    `json:"leaderName"`
	Branch      string    `json:"branch"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`

	// Report is set once the run reaches a terminal state.
	Report *FinalReport `json:"report,omitempty"`
}

// Event represents a single structured event in a run's lifecycle.
type Event struct {
	ID        int64     `json:"id,omitempty"`
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Progress  int       `json:"progress,omitempty"`
}

// ErrorKind classifies a single test-failure line.
type ErrorKind string

const (
	KindSyntax      ErrorKind = "SYNTAX"
	KindLinting     ErrorKind = "LINTING"
	KindLogic       ErrorKind = "LOGIC"
	KindTypeError   ErrorKind = "TYPE_ERROR"
	KindImport      ErrorKind = "IMPORT"
	KindIndentation ErrorKind = "INDENTATION"
	KindRuntime     ErrorKind = "RUNTIME"
	KindUnknown     ErrorKind = "UNKNOWN"
)

// ErrorRecord is one classified error extracted from raw test output.
type ErrorRecord struct {
	Kind       ErrorKind `json:"kind"`
	File       string    `json:"file,omitempty"`
	Line       int       `json:"line,omitempty"`
	RawMessage string    `json:"rawMessage"`
}

// FixProposal is an LLM-produced patch candidate for one error.
type FixProposal struct {
	File          string    `json:"file"`
	Line          int       `json:"line,omitempty"`
	Kind          ErrorKind `json:"kind,omitempty"`
	Description   string    `json:"description"`
	OriginalCode  string    `json:"originalCode"`
	FixedCode     string    `json:"fixedCode"`
	CommitMessage string    `json:"commitMessage"`
}

// FixStatus is the terminal outcome of attempting one fix proposal.
type FixStatus string

const (
	FixApplied FixStatus = "Fixed"
	FixFailed  FixStatus = "Failed"
	FixSkipped FixStatus = "Skipped"
)

// AppliedFix is a fix proposal after the patch applier has attempted it.
type AppliedFix struct {
	FixProposal
	Status FixStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// IterationStatus is the outcome recorded for one heal-loop pass.
type IterationStatus string

const (
	IterPassed      IterationStatus = "PASSED"
	IterFailed      IterationStatus = "FAILED"
	IterNoFixes     IterationStatus = "NO_FIXES"
	IterApplyFailed IterationStatus = "APPLY_FAILED"
	IterCIPassed    IterationStatus = "CI_PASSED"
	IterError       IterationStatus = "ERROR"
)

// IterationRecord is one timeline entry. Iteration 0 is the initial analysis;
// iteration N>0 is the Nth repair attempt.
type IterationRecord struct {
	Iteration int             `json:"iteration"`
	Status    IterationStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// RuntimeDescriptor describes how to install and test a detected language.
type RuntimeDescriptor struct {
	Image      string `json:"image"`
	InstallCmd string `json:"installCmd"`
	TestCmd    string `json:"testCmd"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

package model

import (
	"fmt"
	"time"
)

// FinalStatus is the overall verdict of a run.
type FinalStatus string

const (
	RunPassed FinalStatus = "PASSED"
	RunFailed FinalStatus = "FAILED"
)

// ScoreBreakdown is the scored summary of a run. Penalties are stored as
// non-positive values so the serialized breakdown sums to the total.
type ScoreBreakdown struct {
	Base             int `json:"base"`
	SpeedBonus       int `json:"speedBonus"`
	FixBonus         int `json:"fixBonus"`
	CommitPenalty    int `json:"commitPenalty"`
	IterationPenalty int `json:"iterationPenalty"`
	Total            int `json:"total"`
}

// ReportFix is one applied fix as it appears in the final report.
type ReportFix struct {
	File          string    `json:"file"`
	BugType       ErrorKind `json:"bugType"`
	LineNumber    int       `json:"lineNumber"`
	CommitMessage string    `json:"commitMessage"`
	Description   string    `json:"description"`
	Status        FixStatus `json:"status"`
}

// FinalReport is the structured result document produced at the end of a run.
// Its keys are stable; external consumers parse it directly.
type FinalReport struct {
	RunID          string            `json:"runId"`
	RepoURL        string            `json:"repoUrl"`
	TeamName       string            `json:"teamName"`
	LeaderName     string            `json:"leaderName"`
	Branch         string            `json:"branch"`
	TotalFailures  int               `json:"totalFailures"`
	TotalFixes     int               `json:"totalFixes"`
	TotalCommits   int               `json:"totalCommits"`
	FinalStatus    FinalStatus       `json:"finalStatus"`
	TotalTime      string            `json:"totalTime"`
	TotalTimeMs    int64             `json:"totalTimeMs"`
	ScoreBreakdown ScoreBreakdown    `json:"scoreBreakdown"`
	Fixes          []ReportFix       `json:"fixes"`
	Timeline       []IterationRecord `json:"timeline"`
	GeneratedAt    time.Time         `json:"generatedAt"`
}

// FormatDuration renders a duration as a human "Xm Ys" string.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

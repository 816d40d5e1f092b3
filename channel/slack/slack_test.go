package slack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healbot/healbot/model"
)

func sampleReport() *model.FinalReport {
	return &model.FinalReport{
		RunID:          "abcd1234",
		Branch:         "TEAM_ROCKET_JESSIE_AI",
		FinalStatus:    model.RunPassed,
		TotalFailures:  3,
		TotalFixes:     3,
		TotalCommits:   2,
		TotalTime:      "2m 10s",
		ScoreBreakdown: model.ScoreBreakdown{Total: 116},
	}
}

func TestSummary(t *testing.T) {
	msg := Summary(sampleReport())
	assert.Contains(t, msg, ":white_check_mark:")
	assert.Contains(t, msg, "PASSED")
	assert.Contains(t, msg, "abcd1234")
	assert.Contains(t, msg, "3 failures, 3 fixes, 2 commits")
	assert.Contains(t, msg, "116")

	failed := sampleReport()
	failed.FinalStatus = model.RunFailed
	assert.Contains(t, Summary(failed), ":x:")
}

func TestReportFromEventTyped(t *testing.T) {
	report := sampleReport()
	ev := model.Event{RunID: "abcd1234", Event: "pipeline_done", Data: report}
	got := reportFromEvent(ev)
	require.NotNil(t, got)
	assert.Equal(t, report.RunID, got.RunID)
}

func TestReportFromEventDecodedJSON(t *testing.T) {
	// Events replayed from the store carry map payloads.
	ev := model.Event{RunID: "abcd1234", Event: "pipeline_done", Data: map[string]any{
		"runId":       "abcd1234",
		"finalStatus": "FAILED",
	}}
	got := reportFromEvent(ev)
	require.NotNil(t, got)
	assert.Equal(t, model.RunFailed, got.FinalStatus)
}

func TestReportFromEventGarbage(t *testing.T) {
	assert.Nil(t, reportFromEvent(model.Event{Event: "pipeline_done", Data: "nope"}))
	assert.Nil(t, reportFromEvent(model.Event{Event: "pipeline_done"}))
}

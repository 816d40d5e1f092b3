// Package slack posts run summaries to a Slack channel.
//
// The notifier subscribes to the event bus firehose and, whenever a run
// finishes, posts its final report summary. No inbound Slack traffic is
// handled.
//
// Setup:
//  1. Create a Slack app with the chat:write bot scope
//  2. Invite the bot to the target channel
//  3. Set SLACK_BOT_TOKEN and SLACK_CHANNEL_ID in your environment
package slack

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/healbot/healbot/eventbus"
	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/model"
)

var logger = logging.New("slack")

// Notifier relays pipeline_done events to Slack.
type Notifier struct {
	api       *slack.Client
	bus       *eventbus.Bus
	channelID string
}

// New creates a Slack notifier posting to channelID.
func New(botToken, channelID string, bus *eventbus.Bus) *Notifier {
	return &Notifier{
		api:       slack.New(botToken),
		bus:       bus,
		channelID: channelID,
	}
}

// Name returns the channel name.
func (n *Notifier) Name() string { return "slack" }

// Run subscribes to the bus and posts a summary for every finished run. It
// blocks until the context is canceled.
func (n *Notifier) Run(ctx context.Context) error {
	events, cancel := n.bus.SubscribeAll()
	defer cancel()

	logger.Info("slack notifier started", "channel", n.channelID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Event != "pipeline_done" {
				continue
			}
			n.post(ctx, ev)
		}
	}
}

func (n *Notifier) post(ctx context.Context, ev model.Event) {
	report := reportFromEvent(ev)
	if report == nil {
		logger.Warn("pipeline_done without report payload", "run", ev.RunID)
		return
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(Summary(report), false))
	if err != nil {
		logger.Warn("posting run summary", "run", ev.RunID, "err", err)
	}
}

// reportFromEvent recovers the FinalReport from the event payload, which
// arrives either typed (in-process) or as decoded JSON (replayed from the
// store).
func reportFromEvent(ev model.Event) *model.FinalReport {
	switch data := ev.Data.(type) {
	case *model.FinalReport:
		return data
	case model.FinalReport:
		return &data
	default:
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return nil
		}
		var report model.FinalReport
		if err := json.Unmarshal(raw, &report); err != nil || report.RunID == "" {
			return nil
		}
		return &report
	}
}

// Summary renders a final report as a Slack message.
func Summary(r *model.FinalReport) string {
	icon := ":white_check_mark:"
	if r.FinalStatus != model.RunPassed {
		icon = ":x:"
	}
	return fmt.Sprintf("%s *%s* run `%s` on `%s`\n%d failures, %d fixes, %d commits in %s, score *%d*",
		icon, r.FinalStatus, r.RunID, r.Branch,
		r.TotalFailures, r.TotalFixes, r.TotalCommits, r.TotalTime,
		r.ScoreBreakdown.Total)
}

// Package monitor triggers GitHub Actions on the fix branch and polls for a
// verdict.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/healbot/healbot/internal/logging"
)

var logger = logging.New("monitor")

// Polling behavior.
const (
	settleDelay  = 5 * time.Second
	pollInterval = 10 * time.Second
	pollTimeout  = 5 * time.Minute
)

// Verdict is the outcome of observing CI for a pushed branch.
type Verdict struct {
	Triggered  bool   `json:"triggered"`
	Passed     bool   `json:"passed"`
	Conclusion string `json:"conclusion"`
	Reason     string `json:"reason,omitempty"`
	RunURL     string `json:"runUrl,omitempty"`
}

// CIClient is the slice of the GitHub Actions API the monitor needs.
type CIClient interface {
	ListWorkflows(ctx context.Context, owner, repo string) ([]*github.Workflow, error)
	DispatchWorkflow(ctx context.Context, owner, repo string, workflowID int64, ref string) error
	LatestRun(ctx context.Context, owner, repo, branch string) (*github.WorkflowRun, error)
}

// Monitor watches GitHub Actions for one repository.
type Monitor struct {
	client       CIClient
	settleDelay  time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// New creates a Monitor over the given client.
func New(client CIClient) *Monitor {
	return &Monitor{
		client:       client,
		settleDelay:  settleDelay,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// WithTiming overrides the poll cadence, for tests.
func (m *Monitor) WithTiming(settle, interval, timeout time.Duration) *Monitor {
	m.settleDelay = settle
	m.pollInterval = interval
	m.pollTimeout = timeout
	return m
}

// Notify reports monitoring progress. event is a short machine name,
// message a human summary. May be nil.
type Notify func(event, message string)

// Observe triggers the repository's workflow on branch and polls until the
// run completes or the poll budget is exhausted. Repositories without
// workflows yield a non-triggered verdict rather than an error.
func (m *Monitor) Observe(ctx context.Context, owner, repo, branch string, notify Notify) (*Verdict, error) {
	if notify == nil {
		notify = func(string, string) {}
	}

	workflows, err := m.client.ListWorkflows(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	if len(workflows) == 0 {
		return &Verdict{Triggered: false, Conclusion: "no_ci", Reason: "No workflows configured"}, nil
	}

	wf := pickWorkflow(workflows)
	logger.Info("dispatching workflow", "workflow", wf.GetName(), "branch", branch)

	// Dispatch is best effort: push-triggered workflows are already running
	// and reject manual dispatch.
	if err := m.client.DispatchWorkflow(ctx, owner, repo, wf.GetID(), branch); err != nil {
		logger.Debug("workflow dispatch rejected, relying on push trigger", "err", err)
	}
	notify("ci_triggered", fmt.Sprintf("Workflow %q triggered on %s", wf.GetName(), branch))

	if err := sleepCtx(ctx, m.settleDelay); err != nil {
		return nil, err
	}
	notify("ci_poll_start", fmt.Sprintf("Polling workflow runs on %s", branch))
	return m.poll(ctx, owner, repo, branch)
}

func (m *Monitor) poll(ctx context.Context, owner, repo, branch string) (*Verdict, error) {
	deadline := time.Now().Add(m.pollTimeout)
	for {
		run, err := m.client.LatestRun(ctx, owner, repo, branch)
		if err != nil {
			logger.Warn("polling workflow run failed", "err", err)
		} else if run != nil && run.GetStatus() == "completed" {
			conclusion := run.GetConclusion()
			return &Verdict{
				Triggered:  true,
				Passed:     conclusion == "success",
				Conclusion: conclusion,
				RunURL:     run.GetHTMLURL(),
			}, nil
		}

		if time.Now().After(deadline) {
			return &Verdict{
				Triggered:  true,
				Passed:     false,
				Conclusion: "timeout",
				Reason:     fmt.Sprintf("CI did not complete within %s", m.pollTimeout),
			}, nil
		}
		if err := sleepCtx(ctx, m.pollInterval); err != nil {
			return nil, err
		}
	}
}

// pickWorkflow prefers the first active workflow, falling back to the first.
func pickWorkflow(workflows []*github.Workflow) *github.Workflow {
	for _, wf := range workflows {
		if wf.GetState() == "active" {
			return wf
		}
	}
	return workflows[0]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParseRepoURL extracts owner and repo from an https GitHub URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(repoURL, "https://github.com/"), ".git")
	trimmed = strings.TrimSuffix(trimmed, "/")
	parts := strings.Split(trimmed, "/")
	if strings.HasPrefix(repoURL, "https://github.com/") && len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("not a github repository URL: %s", repoURL)
}

package monitor

import (
	"context"

	"github.com/google/go-github/v68/github"
)

// GitHubClient implements CIClient against the real GitHub API.
type GitHubClient struct {
	gh *github.Client
}

// NewGitHubClient creates a CI client authenticated with token.
func NewGitHubClient(token string) *GitHubClient {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubClient{gh: client}
}

func (c *GitHubClient) ListWorkflows(ctx context.Context, owner, repo string) ([]*github.Workflow, error) {
	workflows, _, err := c.gh.Actions.ListWorkflows(ctx, owner, repo, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, err
	}
	return workflows.Workflows, nil
}

func (c *GitHubClient) DispatchWorkflow(ctx context.Context, owner, repo string, workflowID int64, ref string) error {
	_, err := c.gh.Actions.CreateWorkflowDispatchEventByID(ctx, owner, repo, workflowID,
		github.CreateWorkflowDispatchEventRequest{Ref: ref})
	return err
}

func (c *GitHubClient) LatestRun(ctx context.Context, owner, repo, branch string) (*github.WorkflowRun, error) {
	runs, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &github.ListWorkflowRunsOptions{
		Branch:      branch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(runs.WorkflowRuns) == 0 {
		return nil, nil
	}
	return runs.WorkflowRuns[0], nil
}

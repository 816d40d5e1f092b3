// Package committer stages applied fixes on a dedicated branch and pushes
// them to the remote so CI can pick them up.
package committer

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"sort"
	"strings"

	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/model"
)

var logger = logging.New("committer")

// CommitPrefix marks every commit made by the agent.
const CommitPrefix = "[AI-AGENT]"

const (
	authorName  = "healbot"
	authorEmail = "healbot@users.noreply.github.com"
)

// Committer drives git in a cloned working tree.
type Committer struct {
	dir   string
	token string
}

// New creates a Committer for the working tree at dir. token, when set, is
// used to authenticate the push.
func New(dir, token string) *Committer {
	return &Committer{dir: dir, token: token}
}

// EnsureBranch checks out branch, creating it when it does not exist yet.
// It also pins the commit identity so commits succeed in bare environments.
func (c *Committer) EnsureBranch(ctx context.Context, branch string) error {
	if _, err := c.git(ctx, "config", "user.name", authorName); err != nil {
		return fmt.Errorf("configuring git identity: %w", err)
	}
	if _, err := c.git(ctx, "config", "user.email", authorEmail); err != nil {
		return fmt.Errorf("configuring git identity: %w", err)
	}

	if _, err := c.git(ctx, "checkout", branch); err == nil {
		return nil
	}
	if out, err := c.git(ctx, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("creating branch %s: %w: %s", branch, err, out)
	}
	return nil
}

// CommitFixes groups successfully applied fixes by file and, for each touched
// file, stages it and creates a commit describing that file's fixes. Returns
// the number of commits created; zero without error when no fix was applied.
func (c *Committer) CommitFixes(ctx context.Context, fixes []model.AppliedFix) (int, error) {
	files := appliedFiles(fixes)
	byFile := fixesByFile(fixes)

	commits := 0
	for _, f := range files {
		if out, err := c.git(ctx, "add", f); err != nil {
			return commits, fmt.Errorf("staging %s: %w: %s", f, err, out)
		}
		msg := CommitMessage(byFile[f])
		if out, err := c.git(ctx, "commit", "-m", msg); err != nil {
			return commits, fmt.Errorf("committing %s: %w: %s", f, err, out)
		}
		commits++
	}
	if commits > 0 {
		logger.Info("fixes committed", "commits", commits)
	}
	return commits, nil
}

// Push force-pushes the branch to origin, rewriting the remote URL with the
// access token when one is configured.
func (c *Committer) Push(ctx context.Context, repoURL, branch string) error {
	remote := "origin"
	if c.token != "" {
		if authed := injectToken(repoURL, c.token); authed != "" {
			remote = authed
		}
	}
	if out, err := c.git(ctx, "push", "-u", "--force", remote, branch); err != nil {
		return fmt.Errorf("pushing branch %s: %w: %s", branch, err, out)
	}
	logger.Info("branch pushed", "branch", branch)
	return nil
}

func (c *Committer) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// appliedFiles returns the sorted, deduplicated file set touched by fixes
// with status Fixed.
func appliedFiles(fixes []model.AppliedFix) []string {
	seen := map[string]bool{}
	var files []string
	for _, f := range fixes {
		if f.Status != model.FixApplied || f.File == "" {
			continue
		}
		if !seen[f.File] {
			seen[f.File] = true
			files = append(files, f.File)
		}
	}
	sort.Strings(files)
	return files
}

// fixesByFile groups fixes with status Fixed by the file they touched.
func fixesByFile(fixes []model.AppliedFix) map[string][]model.AppliedFix {
	byFile := map[string][]model.AppliedFix{}
	for _, f := range fixes {
		if f.Status != model.FixApplied || f.File == "" {
			continue
		}
		byFile[f.File] = append(byFile[f.File], f)
	}
	return byFile
}

// CommitMessage builds the commit message for a batch of applied fixes:
// the agent prefix followed by one clause per fix, semicolon-joined.
func CommitMessage(fixes []model.AppliedFix) string {
	var clauses []string
	for _, f := range fixes {
		if f.Status != model.FixApplied {
			continue
		}
		desc := f.CommitMessage
		if desc == "" {
			desc = f.Description
		}
		clauses = append(clauses, fmt.Sprintf("%s %s:%d %s", f.Kind, f.File, f.Line, desc))
	}
	if len(clauses) == 0 {
		return CommitPrefix + " automated fixes"
	}
	return CommitPrefix + " " + strings.Join(clauses, "; ")
}

// injectToken returns repoURL with token credentials, or "" when the URL is
// not a plain https URL.
func injectToken(repoURL, token string) string {
	u, err := url.Parse(repoURL)
	if err != nil || u.Scheme != "https" || u.User != nil {
		return ""
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String()
}

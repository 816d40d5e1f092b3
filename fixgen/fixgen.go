// Package fixgen turns raw test output into LLM-backed fix proposals.
// It classifies the log, enriches each error with source context from the
// working tree, and asks the language model for a JSON array of patches.
package fixgen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/healbot/healbot/classify"
	"github.com/healbot/healbot/internal/jsonutil"
	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/llm"
	"github.com/healbot/healbot/model"
)

var logger = logging.New("fixgen")

// contextRadius is how many lines of source to include around an error line.
const contextRadius = 5

// Result is the outcome of one generation pass.
type Result struct {
	Errors    []model.ErrorRecord
	Proposals []model.FixProposal
	// Degraded is true when the proposals are placeholders because the model
	// chain was exhausted or returned no JSON array.
	Degraded bool
}

// Generator produces fix proposals for classified errors.
type Generator struct {
	llm llm.Client
}

// New creates a Generator backed by the given LLM client.
func New(client llm.Client) *Generator {
	return &Generator{llm: client}
}

// Generate classifies rawLog and asks the model for one fix per error.
// An exhausted model chain or an unparseable response degrades to placeholder
// proposals; any other model error propagates.
func (g *Generator) Generate(ctx context.Context, rawLog, workDir string) (*Result, error) {
	errs := classify.Errors(rawLog)
	if len(errs) == 0 {
		return &Result{}, nil
	}
	if g.llm == nil {
		logger.Warn("no model configured, emitting placeholder proposals", "errors", len(errs))
		return &Result{Errors: errs, Proposals: placeholders(errs), Degraded: true}, nil
	}

	user := buildUserPrompt(rawLog, errs, workDir)

	response, err := g.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		if errors.Is(err, llm.ErrExhausted) {
			logger.Warn("model chain exhausted, emitting placeholder proposals", "errors", len(errs))
			return &Result{Errors: errs, Proposals: placeholders(errs), Degraded: true}, nil
		}
		return nil, fmt.Errorf("generating fixes: %w", err)
	}

	var proposals []model.FixProposal
	if err := jsonutil.ExtractArrayInto(response, &proposals); err != nil {
		logger.Warn("response contained no JSON array, emitting placeholder proposals", "errors", len(errs))
		return &Result{Errors: errs, Proposals: placeholders(errs), Degraded: true}, nil
	}

	return &Result{Errors: errs, Proposals: proposals}, nil
}

func buildUserPrompt(rawLog string, errs []model.ErrorRecord, workDir string) string {
	var b strings.Builder
	b.WriteString("## Test Output\n```\n")
	b.WriteString(rawLog)
	b.WriteString("\n```\n\n## Classified Errors\n")

	for i, e := range errs {
		fmt.Fprintf(&b, "\n### Error %d: %s\n", i+1, e.Kind)
		if e.File != "" {
			fmt.Fprintf(&b, "File: %s", e.File)
			if e.Line > 0 {
				fmt.Fprintf(&b, ", line %d", e.Line)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Message: %s\n", e.RawMessage)
		if snippet := sourceContext(workDir, e.File, e.Line); snippet != "" {
			fmt.Fprintf(&b, "Source context:\n```\n%s```\n", snippet)
		}
	}
	return b.String()
}

// sourceContext returns ±contextRadius numbered lines around line in the
// named file, or "" when the file cannot be read or the location is unknown.
func sourceContext(workDir, file string, line int) string {
	if file == "" || line <= 0 {
		return ""
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, file)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	lines := strings.Split(string(data), "\n")
	start := line - 1 - contextRadius
	if start < 0 {
		start = 0
	}
	end := line + contextRadius
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, lines[i])
	}
	return b.String()
}

// placeholders builds one empty proposal per error. The patch applier marks
// these Skipped, keeping the iteration's bookkeeping intact.
func placeholders(errs []model.ErrorRecord) []model.FixProposal {
	proposals := make([]model.FixProposal, 0, len(errs))
	for _, e := range errs {
		proposals = append(proposals, model.FixProposal{
			File:          e.File,
			Line:          e.Line,
			Kind:          e.Kind,
			Description:   fmt.Sprintf("Automatic fix unavailable for %s error", e.Kind),
			CommitMessage: fmt.Sprintf("fix %s error in %s", strings.ToLower(string(e.Kind)), orUnknown(e.File)),
		})
	}
	return proposals
}

func orUnknown(file string) string {
	if file == "" {
		return "unknown file"
	}
	return file
}

// Package orchestrator drives the heal loop for one run: analyze, generate
// fixes, apply, commit, push, re-test, observe CI, report.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healbot/healbot/analyzer"
	"github.com/healbot/healbot/classify"
	"github.com/healbot/healbot/eventbus"
	"github.com/healbot/healbot/fixgen"
	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/model"
	"github.com/healbot/healbot/monitor"
	"github.com/healbot/healbot/store"
)

var logger = logging.New("orchestrator")

// DefaultRetryLimit bounds repair iterations per run.
const DefaultRetryLimit = 5

// agent names used in emitted events.
const (
	agentOrchestrator = "orchestrator"
	agentAnalyzer     = "analyzer"
	agentFixer        = "fixer"
	agentCommitter    = "committer"
	agentMonitor      = "monitor"
)

// RepoAnalyzer clones repositories and runs their tests in the sandbox.
// Language detection and test discovery are pure filesystem inspections and
// stay as package functions on analyzer.
type RepoAnalyzer interface {
	Clone(ctx context.Context, repoURL, dir string) error
	RunTests(ctx context.Context, runID, dir string, rt model.RuntimeDescriptor) (*analyzer.TestResult, error)
}

// FixGenerator turns a failing test log into fix proposals.
type FixGenerator interface {
	Generate(ctx context.Context, rawLog, workDir string) (*fixgen.Result, error)
}

// PatchApplier applies fix proposals to a working tree.
type PatchApplier interface {
	Apply(workDir string, proposals []model.FixProposal) []model.AppliedFix
}

// Pusher stages and publishes fixes from one working tree. CommitFixes
// returns the number of commits created (one per touched file).
type Pusher interface {
	EnsureBranch(ctx context.Context, branch string) error
	CommitFixes(ctx context.Context, fixes []model.AppliedFix) (int, error)
	Push(ctx context.Context, repoURL, branch string) error
}

// CIMonitor observes the remote CI pipeline for a branch.
type CIMonitor interface {
	Observe(ctx context.Context, owner, repo, branch string, notify monitor.Notify) (*monitor.Verdict, error)
}

// Config tunes the orchestrator.
type Config struct {
	// RetryLimit is the maximum number of repair iterations.
	RetryLimit int
	// WorkRoot is where per-run working directories are created.
	WorkRoot string
	// ResultsDir is where final reports are written as JSON.
	ResultsDir string
}

func (c *Config) applyDefaults() {
	if c.RetryLimit <= 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.WorkRoot == "" {
		c.WorkRoot = "tmp"
	}
	if c.ResultsDir == "" {
		c.ResultsDir = "results"
	}
}

// Request describes one run to start.
type Request struct {
	RepoURL    string
	TeamName   string
	LeaderName string
}

// Orchestrator runs heal loops. Each run executes on its own goroutine;
// within a run the loop is strictly sequential.
type Orchestrator struct {
	cfg     Config
	store   store.RunStore
	bus     *eventbus.Bus
	repos   RepoAnalyzer
	fixer   FixGenerator
	patcher PatchApplier
	pushers func(workDir string) Pusher
	ci      CIMonitor // nil disables CI observation
	wg      sync.WaitGroup
}

// New creates an Orchestrator. newPusher builds a Pusher bound to a working
// tree; ci may be nil to skip CI observation.
func New(cfg Config, st store.RunStore, bus *eventbus.Bus, repos RepoAnalyzer,
	fixer FixGenerator, patcher PatchApplier, newPusher func(workDir string) Pusher, ci CIMonitor) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		bus:     bus,
		repos:   repos,
		fixer:   fixer,
		patcher: patcher,
		pushers: newPusher,
		ci:      ci,
	}
}

// StartRun registers a new run and launches its heal loop in the background.
func (o *Orchestrator) StartRun(ctx context.Context, req Request) (*model.Run, error) {
	run := &model.Run{
		ID:         uuid.NewString()[:8],
		RepoURL:    req.RepoURL,
		TeamName:   req.TeamName,
		LeaderName: req.LeaderName,
		Branch:     model.BranchName(req.TeamName, req.LeaderName),
		Status:     model.StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := o.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("registering run: %w", err)
	}

	// The heal loop outlives the submitting request, so detach from its
	// cancellation while keeping any values.
	runCtx := context.WithoutCancel(ctx)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.heal(runCtx, run)
	}()
	return run, nil
}

// Wait blocks until every in-flight run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runState accumulates everything the final report needs.
type runState struct {
	run           *model.Run
	workDir       string
	timeline      []model.IterationRecord
	fixes         []model.AppliedFix
	commits       int
	totalFailures int
	finalized     bool
}

func (st *runState) record(iteration int, status model.IterationStatus) {
	st.timeline = append(st.timeline, model.IterationRecord{
		Iteration: iteration,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// heal executes the full state machine for one run. The working directory is
// removed on every exit path, including panic.
func (o *Orchestrator) heal(ctx context.Context, run *model.Run) {
	st := &runState{run: run, workDir: filepath.Join(o.cfg.WorkRoot, run.ID)}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panicked", "run", run.ID, "panic", r)
			run.Error = fmt.Sprintf("pipeline panic: %v", r)
			st.record(len(st.timeline), model.IterError)
			o.finalize(st, model.RunFailed, model.StatusError)
		}
		if err := os.RemoveAll(st.workDir); err != nil {
			logger.Warn("removing working directory", "run", run.ID, "err", err)
		}
	}()

	o.emit(run.ID, "pipeline_start", agentOrchestrator,
		fmt.Sprintf("Healing %s on branch %s", run.RepoURL, run.Branch), nil, 0)

	output, passed, ok := o.analyze(ctx, st)
	if !ok {
		return
	}
	if passed {
		st.record(0, model.IterPassed)
		o.finalize(st, model.RunPassed, model.StatusCompleted)
		return
	}
	st.record(0, model.IterFailed)
	st.totalFailures = len(classify.Errors(output))

	for i := 1; i <= o.cfg.RetryLimit; i++ {
		output, passed, ok = o.iterate(ctx, st, i, output)
		if !ok {
			return
		}
		if passed {
			return
		}
	}
	o.finalize(st, model.RunFailed, model.StatusFailed)
}

// analyze clones the repository and runs the initial test pass. Returns the
// combined test output and whether the suite passed; ok=false means the run
// was finalized on an error path.
func (o *Orchestrator) analyze(ctx context.Context, st *runState) (output string, passed, ok bool) {
	run := st.run

	o.emit(run.ID, "clone_start", agentAnalyzer, "Cloning "+run.RepoURL, nil, 5)
	if err := o.repos.Clone(ctx, run.RepoURL, st.workDir); err != nil {
		return "", false, o.fail(st, 0, err)
	}
	o.emit(run.ID, "clone_done", agentAnalyzer, "Clone complete", nil, 10)

	lang := analyzer.DetectLanguage(st.workDir)
	rt := analyzer.Runtime(lang)
	o.emit(run.ID, "detect_done", agentAnalyzer, "Detected language: "+lang,
		map[string]any{"language": lang, "image": rt.Image}, 15)

	testFiles, err := analyzer.DiscoverTests(st.workDir, lang)
	if err != nil {
		return "", false, o.fail(st, 0, err)
	}
	o.emit(run.ID, "tests_discovered", agentAnalyzer,
		fmt.Sprintf("Found %d test files", len(testFiles)),
		map[string]any{"testFiles": testFiles}, 20)

	o.emit(run.ID, "tests_start", agentAnalyzer, "Running test suite", nil, 25)
	res, err := o.repos.RunTests(ctx, run.ID, st.workDir, rt)
	if err != nil {
		return "", false, o.fail(st, 0, err)
	}
	o.emit(run.ID, "tests_done", agentAnalyzer,
		fmt.Sprintf("Tests finished with exit code %d", res.ExitCode),
		map[string]any{"exitCode": res.ExitCode, "passed": res.Passed}, 30)

	return res.Output, res.Passed, true
}

// iterate runs one repair pass. ok=false means the run was finalized (error,
// no fixes, nothing applied, tests passed, or CI passed); passed reports
// whether the pass ended the run successfully.
func (o *Orchestrator) iterate(ctx context.Context, st *runState, i int, output string) (nextOutput string, passed, ok bool) {
	run := st.run
	progress := 30 + (i*60)/o.cfg.RetryLimit

	o.emit(run.ID, "iteration_start", agentOrchestrator,
		fmt.Sprintf("Repair iteration %d/%d", i, o.cfg.RetryLimit), nil, progress)

	o.emit(run.ID, "fix_generate_start", agentFixer, "Generating fixes", nil, progress)
	gen, err := o.fixer.Generate(ctx, output, st.workDir)
	if err != nil {
		return "", false, o.fail(st, i, err)
	}
	o.emit(run.ID, "fix_generate_done", agentFixer,
		fmt.Sprintf("Generated %d fix proposals", len(gen.Proposals)),
		map[string]any{"proposals": len(gen.Proposals), "degraded": gen.Degraded}, progress)

	if len(gen.Proposals) == 0 {
		st.record(i, model.IterNoFixes)
		o.finalize(st, model.RunFailed, model.StatusFailed)
		return "", false, false
	}

	applied := o.patcher.Apply(st.workDir, gen.Proposals)
	st.fixes = append(st.fixes, applied...)
	fixedCount := countFixed(applied)
	o.emit(run.ID, "fix_applied", agentFixer,
		fmt.Sprintf("Applied %d of %d fixes", fixedCount, len(applied)),
		map[string]any{"applied": fixedCount}, progress)

	if fixedCount == 0 {
		st.record(i, model.IterApplyFailed)
		o.finalize(st, model.RunFailed, model.StatusFailed)
		return "", false, false
	}

	pusher := o.pushers(st.workDir)
	if err := pusher.EnsureBranch(ctx, run.Branch); err != nil {
		return "", false, o.fail(st, i, err)
	}
	o.emit(run.ID, "branch_ready", agentCommitter, "On branch "+run.Branch, nil, progress)

	commits, err := pusher.CommitFixes(ctx, applied)
	if err != nil {
		return "", false, o.fail(st, i, err)
	}
	if commits > 0 {
		st.commits += commits
		o.emit(run.ID, "committed", agentCommitter,
			fmt.Sprintf("Created %d commits", commits),
			map[string]any{"commits": commits}, progress)
		if err := pusher.Push(ctx, run.RepoURL, run.Branch); err != nil {
			return "", false, o.fail(st, i, err)
		}
		o.emit(run.ID, "pushed", agentCommitter, "Branch pushed to origin", nil, progress)
	}

	lang := analyzer.DetectLanguage(st.workDir)
	o.emit(run.ID, "tests_start", agentAnalyzer, "Re-running test suite", nil, progress)
	res, err := o.repos.RunTests(ctx, run.ID, st.workDir, analyzer.Runtime(lang))
	if err != nil {
		return "", false, o.fail(st, i, err)
	}
	o.emit(run.ID, "tests_done", agentAnalyzer,
		fmt.Sprintf("Tests finished with exit code %d", res.ExitCode),
		map[string]any{"exitCode": res.ExitCode, "passed": res.Passed}, progress)

	if res.Passed {
		st.record(i, model.IterPassed)
		o.finalize(st, model.RunPassed, model.StatusCompleted)
		return "", true, false
	}

	if o.observeCI(ctx, st, i) {
		return "", true, false
	}
	st.record(i, model.IterFailed)
	return res.Output, false, true
}

// observeCI checks the remote pipeline after an in-sandbox failure. CI is
// optional: errors are logged and skipped rather than failing the iteration.
// Returns true when CI passed and the run was finalized.
func (o *Orchestrator) observeCI(ctx context.Context, st *runState, i int) bool {
	if o.ci == nil {
		return false
	}
	run := st.run

	owner, repo, err := monitor.ParseRepoURL(run.RepoURL)
	if err != nil {
		logger.Warn("skipping CI observation", "run", run.ID, "err", err)
		return false
	}

	o.emit(run.ID, "ci_trigger_start", agentMonitor, "Checking remote CI", nil, 0)
	verdict, err := o.ci.Observe(ctx, owner, repo, run.Branch, func(event, message string) {
		o.emit(run.ID, event, agentMonitor, message, nil, 0)
	})
	if err != nil {
		logger.Warn("CI observation failed, continuing without it", "run", run.ID, "err", err)
		return false
	}

	o.emit(run.ID, "ci_status", agentMonitor,
		fmt.Sprintf("CI conclusion: %s", verdict.Conclusion), verdict, 0)

	if verdict.Passed {
		st.record(i, model.IterCIPassed)
		o.finalize(st, model.RunPassed, model.StatusCompleted)
		return true
	}
	return false
}

// fail records an ERROR timeline entry and finalizes the run as failed.
// Always returns false so callers can return its value as ok.
func (o *Orchestrator) fail(st *runState, iteration int, err error) bool {
	logger.Error("pipeline step failed", "run", st.run.ID, "iteration", iteration, "err", err)
	st.run.Error = err.Error()
	st.record(iteration, model.IterError)
	o.finalize(st, model.RunFailed, model.StatusError)
	return false
}

// finalize computes the score, builds the report, persists it, writes it to
// disk, and emits pipeline_done as the run's last event.
func (o *Orchestrator) finalize(st *runState, verdict model.FinalStatus, status model.Status) {
	if st.finalized {
		return
	}
	st.finalized = true
	run := st.run

	// The working tree must be gone before the terminal event is observable.
	if err := os.RemoveAll(st.workDir); err != nil {
		logger.Warn("removing working directory", "run", run.ID, "err", err)
	}

	now := time.Now().UTC()
	elapsed := now.Sub(run.StartedAt)

	report := o.buildReport(st, verdict, elapsed, now)
	run.Status = status
	run.CompletedAt = now
	run.Report = report

	if err := o.store.UpdateRun(run); err != nil {
		logger.Error("persisting final run state", "run", run.ID, "err", err)
	}
	if err := o.writeReport(run.ID, report); err != nil {
		logger.Error("writing report file", "run", run.ID, "err", err)
	}

	o.emit(run.ID, "pipeline_done", agentOrchestrator,
		fmt.Sprintf("Run %s: %s (score %d)", run.ID, report.FinalStatus, report.ScoreBreakdown.Total),
		report, 100)
	logger.Info("run finished", "run", run.ID, "status", report.FinalStatus,
		"score", report.ScoreBreakdown.Total, "elapsed", elapsed)
}

func (o *Orchestrator) buildReport(st *runState, verdict model.FinalStatus, elapsed time.Duration, now time.Time) *model.FinalReport {
	run := st.run

	iterations := 0
	for _, rec := range st.timeline {
		if rec.Iteration > 0 {
			iterations++
		}
	}
	fixed := countFixed(st.fixes)

	breakdown := Score(Metrics{
		TotalTimeMs:    elapsed.Milliseconds(),
		CommitCount:    st.commits,
		FixCount:       fixed,
		IterationCount: iterations,
	})

	fixes := make([]model.ReportFix, 0, len(st.fixes))
	for _, f := range st.fixes {
		fixes = append(fixes, model.ReportFix{
			File:          f.File,
			BugType:       f.Kind,
			LineNumber:    f.Line,
			CommitMessage: f.CommitMessage,
			Description:   f.Description,
			Status:        f.Status,
		})
	}

	return &model.FinalReport{
		RunID:          run.ID,
		RepoURL:        run.RepoURL,
		TeamName:       run.TeamName,
		LeaderName:     run.LeaderName,
		Branch:         run.Branch,
		TotalFailures:  st.totalFailures,
		TotalFixes:     fixed,
		TotalCommits:   st.commits,
		FinalStatus:    verdict,
		TotalTime:      model.FormatDuration(elapsed),
		TotalTimeMs:    elapsed.Milliseconds(),
		ScoreBreakdown: breakdown,
		Fixes:          fixes,
		Timeline:       st.timeline,
		GeneratedAt:    now,
	}
}

func (o *Orchestrator) writeReport(runID string, report *model.FinalReport) error {
	if err := os.MkdirAll(o.cfg.ResultsDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(o.cfg.ResultsDir, runID+".json"), data, 0o644)
}

func (o *Orchestrator) emit(runID, event, agent, message string, data any, progress int) {
	ev := &model.Event{
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Event:     event,
		Agent:     agent,
		Message:   message,
		Data:      data,
		Progress:  progress,
	}
	if err := o.store.AddEvent(ev); err != nil {
		logger.Warn("persisting event", "run", runID, "event", event, "err", err)
	}
	o.bus.Publish(*ev)
}

func countFixed(fixes []model.AppliedFix) int {
	n := 0
	for _, f := range fixes {
		if f.Status == model.FixApplied {
			n++
		}
	}
	return n
}

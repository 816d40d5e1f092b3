package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healbot/healbot/analyzer"
	"github.com/healbot/healbot/eventbus"
	"github.com/healbot/healbot/fixgen"
	"github.com/healbot/healbot/model"
	"github.com/healbot/healbot/monitor"
	"github.com/healbot/healbot/patch"
)

// memStore is an in-memory RunStore for tests.
type memStore struct {
	mu     sync.Mutex
	runs   map[string]*model.Run
	events map[string][]*model.Event
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]*model.Run{}, events: map[string][]*model.Event{}}
}

func (m *memStore) CreateRun(run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) GetRun(id string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns() ([]*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Run
	for _, r := range m.runs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) UpdateRun(run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memStore) AddEvent(ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	cp := *ev
	m.events[ev.RunID] = append(m.events[ev.RunID], &cp)
	return nil
}

func (m *memStore) GetEvents(runID string, afterID int64) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for _, ev := range m.events[runID] {
		if ev.ID > afterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// fakeRepo materializes a working tree on clone and replays scripted test
// results.
type fakeRepo struct {
	cloneErr error
	files    map[string]string
	results  []*analyzer.TestResult
	calls    int
}

func (f *fakeRepo) Clone(_ context.Context, _, dir string) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	for name, content := range f.files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepo) RunTests(context.Context, string, string, model.RuntimeDescriptor) (*analyzer.TestResult, error) {
	if f.calls >= len(f.results) {
		return f.results[len(f.results)-1], nil
	}
	res := f.results[f.calls]
	f.calls++
	return res, nil
}

type fakeFixer struct {
	results []*fixgen.Result
	err     error
	calls   int
}

func (f *fakeFixer) Generate(context.Context, string, string) (*fixgen.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	if f.calls > len(f.results) {
		return f.results[len(f.results)-1], nil
	}
	return f.results[f.calls-1], nil
}

type fakePusher struct {
	branches []string
	commits  int
	pushes   int
	pushErr  error
}

func (p *fakePusher) EnsureBranch(_ context.Context, branch string) error {
	p.branches = append(p.branches, branch)
	return nil
}

func (p *fakePusher) CommitFixes(_ context.Context, fixes []model.AppliedFix) (int, error) {
	files := map[string]bool{}
	for _, f := range fixes {
		if f.Status == model.FixApplied {
			files[f.File] = true
		}
	}
	p.commits += len(files)
	return len(files), nil
}

func (p *fakePusher) Push(context.Context, string, string) error {
	if p.pushErr != nil {
		return p.pushErr
	}
	p.pushes++
	return nil
}

type fakeCI struct {
	verdict *monitor.Verdict
	err     error
}

func (f *fakeCI) Observe(context.Context, string, string, string, monitor.Notify) (*monitor.Verdict, error) {
	return f.verdict, f.err
}

const pythonFailLog = `Traceback (most recent call last):
  File "app.py", line 1
    def f(:
SyntaxError: invalid syntax
`

func goodProposal() model.FixProposal {
	return model.FixProposal{
		File:          "app.py",
		Line:          1,
		Kind:          model.KindSyntax,
		Description:   "fix malformed signature",
		OriginalCode:  "def f(:",
		FixedCode:     "def f():",
		CommitMessage: "fix syntax error in app.py",
	}
}

type harness struct {
	store  *memStore
	bus    *eventbus.Bus
	pusher *fakePusher
	orch   *Orchestrator
	work   string
	out    string
}

func newHarness(t *testing.T, repo *fakeRepo, fixer *fakeFixer, ci CIMonitor, limit int) *harness {
	t.Helper()
	h := &harness{
		store:  newMemStore(),
		bus:    eventbus.New(),
		pusher: &fakePusher{},
		work:   filepath.Join(t.TempDir(), "tmp"),
		out:    filepath.Join(t.TempDir(), "results"),
	}
	h.orch = New(Config{RetryLimit: limit, WorkRoot: h.work, ResultsDir: h.out},
		h.store, h.bus, repo, fixer, patch.New(),
		func(string) Pusher { return h.pusher }, ci)
	return h
}

func (h *harness) execute(t *testing.T, req Request) *model.Run {
	t.Helper()
	run, err := h.orch.StartRun(context.Background(), req)
	require.NoError(t, err)
	h.orch.Wait()
	final, err := h.store.GetRun(run.ID)
	require.NoError(t, err)
	return final
}

func pass() *analyzer.TestResult {
	return &analyzer.TestResult{Output: "all green", ExitCode: 0, Passed: true}
}

func fail() *analyzer.TestResult {
	return &analyzer.TestResult{Output: pythonFailLog, ExitCode: 1, Passed: false}
}

func req() Request {
	return Request{
		RepoURL:    "https://github.com/acme/widget.git",
		TeamName:   "team rocket",
		LeaderName: "jessie",
	}
}

func TestGreenOnFirstRun(t *testing.T) {
	repo := &fakeRepo{files: map[string]string{"requirements.txt": ""}, results: []*analyzer.TestResult{pass()}}
	h := newHarness(t, repo, &fakeFixer{}, nil, 5)

	run := h.execute(t, req())

	assert.Equal(t, model.StatusCompleted, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, model.RunPassed, run.Report.FinalStatus)
	assert.Equal(t, 0, run.Report.TotalFailures)
	assert.Equal(t, 0, run.Report.TotalFixes)
	require.Len(t, run.Report.Timeline, 1)
	assert.Equal(t, 0, run.Report.Timeline[0].Iteration)
	assert.Equal(t, model.IterPassed, run.Report.Timeline[0].Status)
	assert.Equal(t, "TEAM_ROCKET_JESSIE_AI", run.Report.Branch)
}

func TestOneShotFix(t *testing.T) {
	repo := &fakeRepo{
		files:   map[string]string{"requirements.txt": "", "app.py": "def f(:\n"},
		results: []*analyzer.TestResult{fail(), pass()},
	}
	fixer := &fakeFixer{results: []*fixgen.Result{{Proposals: []model.FixProposal{goodProposal()}}}}
	h := newHarness(t, repo, fixer, nil, 5)

	run := h.execute(t, req())

	assert.Equal(t, model.StatusCompleted, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, model.RunPassed, run.Report.FinalStatus)
	assert.Equal(t, 1, run.Report.TotalFailures)
	assert.Equal(t, 1, run.Report.TotalFixes)
	assert.Equal(t, 1, run.Report.TotalCommits)
	require.Len(t, run.Report.Timeline, 2)
	assert.Equal(t, model.IterFailed, run.Report.Timeline[0].Status)
	assert.Equal(t, model.IterPassed, run.Report.Timeline[1].Status)
	assert.Equal(t, []string{"TEAM_ROCKET_JESSIE_AI"}, h.pusher.branches)
	assert.Equal(t, 1, h.pusher.pushes)
}

func TestDegradedProposalsEndInApplyFailed(t *testing.T) {
	repo := &fakeRepo{
		files:   map[string]string{"requirements.txt": "", "app.py": "def f(:\n"},
		results: []*analyzer.TestResult{fail()},
	}
	// Placeholder proposals carry no code and cannot be applied.
	placeholder := model.FixProposal{File: "app.py", Line: 1, Kind: model.KindSyntax, CommitMessage: "x"}
	fixer := &fakeFixer{results: []*fixgen.Result{{Proposals: []model.FixProposal{placeholder}, Degraded: true}}}
	h := newHarness(t, repo, fixer, nil, 5)

	run := h.execute(t, req())

	assert.Equal(t, model.StatusFailed, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, model.RunFailed, run.Report.FinalStatus)
	require.Len(t, run.Report.Timeline, 2)
	assert.Equal(t, model.IterApplyFailed, run.Report.Timeline[1].Status)
	assert.Equal(t, 0, run.Report.TotalCommits)
}

func TestNoFixesEndsRun(t *testing.T) {
	repo := &fakeRepo{files: map[string]string{"requirements.txt": ""}, results: []*analyzer.TestResult{fail()}}
	fixer := &fakeFixer{results: []*fixgen.Result{{}}}
	h := newHarness(t, repo, fixer, nil, 5)

	run := h.execute(t, req())

	assert.Equal(t, model.StatusFailed, run.Status)
	require.Len(t, run.Report.Timeline, 2)
	assert.Equal(t, model.IterNoFixes, run.Report.Timeline[1].Status)
}

func TestRetryBudgetExhausted(t *testing.T) {
	repo := &fakeRepo{
		files:   map[string]string{"requirements.txt": "", "app.py": "def f(:\ndef g(:\n"},
		results: []*analyzer.TestResult{fail()},
	}
	// Every iteration applies a fix but the suite keeps failing. The
	// proposal targets by line so repeated passes still apply.
	fixer := &fakeFixer{results: []*fixgen.Result{{Proposals: []model.FixProposal{{
		File: "app.py", Line: 2, Kind: model.KindSyntax,
		Description: "still broken", OriginalCode: "def g(:", FixedCode: "def g(:",
		CommitMessage: "retry",
	}}}}}
	h := newHarness(t, repo, fixer, nil, 3)

	run := h.execute(t, req())

	assert.Equal(t, model.StatusFailed, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, model.RunFailed, run.Report.FinalStatus)
	// Initial analysis plus one entry per iteration, bounded by the limit.
	require.Len(t, run.Report.Timeline, 4)
	for _, rec := range run.Report.Timeline[1:] {
		assert.Equal(t, model.IterFailed, rec.Status)
	}
}

func TestCloneErrorRecordsErrorIteration(t *testing.T) {
	repo := &fakeRepo{cloneErr: errors.New("remote hung up")}
	h := newHarness(t, repo, &fakeFixer{}, nil, 5)

	run := h.execute(t, req())

	assert.Equal(t, model.StatusError, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, model.RunFailed, run.Report.FinalStatus)
	require.Len(t, run.Report.Timeline, 1)
	assert.Equal(t, model.IterError, run.Report.Timeline[0].Status)
	assert.Contains(t, run.Error, "remote hung up")
}

func TestCIPassEndsRun(t *testing.T) {
	repo := &fakeRepo{
		files:   map[string]string{"requirements.txt": "", "app.py": "def f(:\n"},
		results: []*analyzer.TestResult{fail(), fail()},
	}
	fixer := &fakeFixer{results: []*fixgen.Result{{Proposals: []model.FixProposal{goodProposal()}}}}
	ci := &fakeCI{verdict: &monitor.Verdict{Triggered: true, Passed: true, Conclusion: "success"}}
	h := newHarness(t, repo, fixer, ci, 5)

	run := h.execute(t, req())

	assert.Equal(t, model.StatusCompleted, run.Status)
	require.NotNil(t, run.Report)
	assert.Equal(t, model.RunPassed, run.Report.FinalStatus)
	assert.Equal(t, model.IterCIPassed, run.Report.Timeline[len(run.Report.Timeline)-1].Status)
}

func TestCIErrorIsSkipped(t *testing.T) {
	repo := &fakeRepo{
		files:   map[string]string{"requirements.txt": "", "app.py": "def f(:\n"},
		results: []*analyzer.TestResult{fail(), fail(), pass()},
	}
	fixer := &fakeFixer{results: []*fixgen.Result{{Proposals: []model.FixProposal{goodProposal()}}}}
	ci := &fakeCI{err: errors.New("api unavailable")}
	h := newHarness(t, repo, fixer, ci, 5)

	run := h.execute(t, req())

	// CI failure does not abort the loop; the next iteration passes.
	assert.Equal(t, model.StatusCompleted, run.Status)
	assert.Equal(t, model.RunPassed, run.Report.FinalStatus)
}

func TestWorkDirRemovedOnAllPaths(t *testing.T) {
	cases := []struct {
		name string
		repo *fakeRepo
	}{
		{"green run", &fakeRepo{files: map[string]string{"requirements.txt": ""}, results: []*analyzer.TestResult{pass()}}},
		{"clone error", &fakeRepo{cloneErr: errors.New("boom")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.repo, &fakeFixer{results: []*fixgen.Result{{}}}, nil, 2)
			run := h.execute(t, req())
			_, err := os.Stat(filepath.Join(h.work, run.ID))
			assert.True(t, os.IsNotExist(err), "working directory must be removed")
		})
	}
}

func TestCommitPerTouchedFile(t *testing.T) {
	repo := &fakeRepo{
		files: map[string]string{
			"requirements.txt": "",
			"app.py":           "def f(:\n",
			"util.py":          "def g(:\n",
		},
		results: []*analyzer.TestResult{fail(), pass()},
	}
	second := model.FixProposal{
		File: "util.py", Line: 1, Kind: model.KindSyntax,
		Description: "fix malformed signature", OriginalCode: "def g(:", FixedCode: "def g():",
		CommitMessage: "fix syntax error in util.py",
	}
	fixer := &fakeFixer{results: []*fixgen.Result{{Proposals: []model.FixProposal{goodProposal(), second}}}}
	h := newHarness(t, repo, fixer, nil, 5)

	run := h.execute(t, req())

	require.NotNil(t, run.Report)
	assert.Equal(t, 2, run.Report.TotalFixes)
	assert.Equal(t, 2, run.Report.TotalCommits)
	assert.Equal(t, 2, h.pusher.commits)
	assert.Equal(t, 1, h.pusher.pushes)
}

// terminalObserver wraps memStore and records whether any working tree still
// existed under the work root when the terminal event was persisted.
type terminalObserver struct {
	*memStore
	workRoot   string
	sawDone    bool
	sawWorkDir bool
}

func (o *terminalObserver) AddEvent(ev *model.Event) error {
	if ev.Event == "pipeline_done" {
		o.sawDone = true
		if entries, err := os.ReadDir(o.workRoot); err == nil && len(entries) > 0 {
			o.sawWorkDir = true
		}
	}
	return o.memStore.AddEvent(ev)
}

func TestWorkDirRemovedBeforeTerminalEvent(t *testing.T) {
	cases := []struct {
		name string
		repo *fakeRepo
	}{
		{"green run", &fakeRepo{files: map[string]string{"requirements.txt": ""}, results: []*analyzer.TestResult{pass()}}},
		{"clone error", &fakeRepo{cloneErr: errors.New("boom")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			work := filepath.Join(t.TempDir(), "tmp")
			obs := &terminalObserver{memStore: newMemStore(), workRoot: work}
			orch := New(Config{RetryLimit: 2, WorkRoot: work, ResultsDir: filepath.Join(t.TempDir(), "results")},
				obs, eventbus.New(), tc.repo, &fakeFixer{results: []*fixgen.Result{{}}}, patch.New(),
				func(string) Pusher { return &fakePusher{} }, nil)

			_, err := orch.StartRun(context.Background(), req())
			require.NoError(t, err)
			orch.Wait()

			require.True(t, obs.sawDone)
			assert.False(t, obs.sawWorkDir, "working tree must be gone before pipeline_done is emitted")
		})
	}
}

func TestReportWrittenToDiskAndCoherent(t *testing.T) {
	repo := &fakeRepo{files: map[string]string{"requirements.txt": ""}, results: []*analyzer.TestResult{pass()}}
	h := newHarness(t, repo, &fakeFixer{}, nil, 5)

	sub, cancel := h.bus.SubscribeAll()
	defer cancel()

	run := h.execute(t, req())

	data, err := os.ReadFile(filepath.Join(h.out, run.ID+".json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"finalStatus": "PASSED"`)
	assert.Contains(t, string(data), `"runId": "`+run.ID+`"`)

	// pipeline_done is the last event and carries the stored report.
	events, err := h.store.GetEvents(run.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "pipeline_done", last.Event)
	report, ok := last.Data.(*model.FinalReport)
	require.True(t, ok)
	assert.Equal(t, run.Report.ScoreBreakdown, report.ScoreBreakdown)

	// The bus saw pipeline_start first and pipeline_done last.
	var names []string
	for {
		select {
		case ev := <-sub:
			names = append(names, ev.Event)
		default:
			goto done
		}
	}
done:
	require.NotEmpty(t, names)
	assert.Equal(t, "pipeline_start", names[0])
	assert.Equal(t, "pipeline_done", names[len(names)-1])
}

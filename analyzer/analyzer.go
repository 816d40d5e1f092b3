// Package analyzer prepares a repository for healing: clone, language
// detection, test discovery, and the initial (and subsequent) test runs
// through the sandbox executor.
package analyzer

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/healbot/healbot/internal/logging"
	"github.com/healbot/healbot/model"
	"github.com/healbot/healbot/sandbox"
)

var logger = logging.New("analyzer")

// DefaultTestTimeout bounds one sandboxed install+test invocation.
const DefaultTestTimeout = 120 * time.Second

// runtimes maps a detected language to its sandbox runtime.
var runtimes = map[string]model.RuntimeDescriptor{
	"node":   {Image: "node:20-alpine", InstallCmd: "npm install", TestCmd: "npm test"},
	"python": {Image: "python:3.11-slim", InstallCmd: "pip install -r requirements.txt || true", TestCmd: "python -m pytest"},
	"go":     {Image: "golang:1.22-alpine", InstallCmd: "", TestCmd: "go test ./..."},
	"rust":   {Image: "rust:1.79-slim", InstallCmd: "", TestCmd: "cargo test"},
	"java":   {Image: "maven:3.9-eclipse-temurin-17", InstallCmd: "", TestCmd: "mvn test"},
}

// languageMarkers is checked in order; the first marker present wins.
var languageMarkers = []struct {
	file string
	lang string
}{
	{"package.json", "node"},
	{"requirements.txt", "python"},
	{"setup.py", "python"},
	{"pyproject.toml", "python"},
	{"go.mod", "go"},
	{"Cargo.toml", "rust"},
	{"pom.xml", "java"},
	{"build.gradle", "java"},
}

// testFilePatterns matches test file basenames per language.
var testFilePatterns = map[string]*regexp.Regexp{
	"node":   regexp.MustCompile(`\.(test|spec)\.(m?js|jsx|ts|tsx)$`),
	"python": regexp.MustCompile(`^(test_.+|.+_test)\.py$`),
	"go":     regexp.MustCompile(`_test\.go$`),
	"rust":   regexp.MustCompile(`\.rs$`),
	"java":   regexp.MustCompile(`^.+Tests?\.java$`),
}

// skipDirs are never descended into during test discovery.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// TestResult is the outcome of one sandboxed test run.
type TestResult struct {
	Output   string
	ExitCode int
	Passed   bool
}

// Analysis is the full result of preparing a repository.
type Analysis struct {
	Language  string
	Runtime   model.RuntimeDescriptor
	TestFiles []string
	Test      *TestResult
}

// Analyzer clones repositories and drives test runs through an executor.
type Analyzer struct {
	exec        sandbox.Executor
	token       string
	testTimeout time.Duration
}

// New creates an Analyzer. token, when non-empty, is injected into clone URLs
// for private repositories.
func New(exec sandbox.Executor, token string) *Analyzer {
	return &Analyzer{exec: exec, token: token, testTimeout: DefaultTestTimeout}
}

// WithTestTimeout overrides the per-test-run budget.
func (a *Analyzer) WithTestTimeout(d time.Duration) *Analyzer {
	a.testTimeout = d
	return a
}

// Analyze clones repoURL into dir, detects the language, discovers test
// files, and runs the test suite once.
func (a *Analyzer) Analyze(ctx context.Context, runID, repoURL, dir string) (*Analysis, error) {
	if err := a.Clone(ctx, repoURL, dir); err != nil {
		return nil, err
	}

	lang := DetectLanguage(dir)
	rt := runtimes[lang]
	logger.Info("language detected", "run", runID, "language", lang, "image", rt.Image)

	testFiles, err := DiscoverTests(dir, lang)
	if err != nil {
		return nil, fmt.Errorf("discovering tests: %w", err)
	}

	test, err := a.RunTests(ctx, runID, dir, rt)
	if err != nil {
		return nil, err
	}

	return &Analysis{
		Language:  lang,
		Runtime:   rt,
		TestFiles: testFiles,
		Test:      test,
	}, nil
}

// Clone performs a shallow clone, falling back to a full clone when the
// shallow attempt fails (some servers reject depth-limited fetches).
func (a *Analyzer) Clone(ctx context.Context, repoURL, dir string) error {
	cloneURL := a.injectToken(repoURL)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating clone target: %w", err)
	}

	if out, err := gitClone(ctx, cloneURL, dir, true); err != nil {
		logger.Warn("shallow clone failed, retrying full clone", "err", err)
		if err := emptyDir(dir); err != nil {
			return fmt.Errorf("resetting clone target: %w", err)
		}
		if out, err = gitClone(ctx, cloneURL, dir, false); err != nil {
			return fmt.Errorf("cloning repository: %w: %s", err, strings.TrimSpace(out))
		}
	}
	return nil
}

func gitClone(ctx context.Context, url, dir string, shallow bool) (string, error) {
	args := []string{"clone"}
	if shallow {
		args = append(args, "--depth", "1")
	}
	args = append(args, url, dir)
	out, err := exec.CommandContext(ctx, "git", args...).CombinedOutput()
	return string(out), err
}

// injectToken adds the access token to an https GitHub URL. URLs that
// already carry credentials, or non-https URLs, pass through unchanged.
func (a *Analyzer) injectToken(repoURL string) string {
	if a.token == "" {
		return repoURL
	}
	u, err := url.Parse(repoURL)
	if err != nil || u.Scheme != "https" || u.User != nil {
		return repoURL
	}
	u.User = url.UserPassword("x-access-token", a.token)
	return u.String()
}

func emptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// DetectLanguage inspects the top-level file set for language markers.
// Defaults to node when nothing matches.
func DetectLanguage(dir string) string {
	for _, m := range languageMarkers {
		if _, err := os.Stat(filepath.Join(dir, m.file)); err == nil {
			return m.lang
		}
	}
	return "node"
}

// Runtime returns the runtime descriptor for a language, defaulting to node.
func Runtime(lang string) model.RuntimeDescriptor {
	if rt, ok := runtimes[lang]; ok {
		return rt
	}
	return runtimes["node"]
}

// DiscoverTests walks dir collecting test files for the language, skipping
// hidden directories and common vendor directories. Files inside a directory
// named tests/test/__tests__ count as tests when they carry the language's
// test pattern extension family.
func DiscoverTests(dir, lang string) ([]string, error) {
	pattern := testFilePatterns[lang]
	if pattern == nil {
		pattern = testFilePatterns["node"]
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		parent := filepath.Base(filepath.Dir(path))
		inTestDir := parent == "tests" || parent == "test" || parent == "__tests__"
		if pattern.MatchString(name) && (lang != "rust" || inTestDir) {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// RunTests executes the runtime's install and test commands in the sandbox.
// The returned output is combined stdout+stderr; Passed reflects exit code 0.
func (a *Analyzer) RunTests(ctx context.Context, runID, dir string, rt model.RuntimeDescriptor) (*TestResult, error) {
	command := rt.TestCmd
	if rt.InstallCmd != "" {
		command = rt.InstallCmd + " && " + rt.TestCmd
	}

	result, err := a.exec.Execute(ctx, sandbox.Options{
		RunID:   runID,
		Image:   rt.Image,
		WorkDir: dir,
		Command: command,
		Timeout: a.testTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("running tests: %w", err)
	}

	output := result.Stdout
	if result.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += result.Stderr
	}

	return &TestResult{
		Output:   output,
		ExitCode: result.ExitCode,
		Passed:   result.ExitCode == 0,
	}, nil
}

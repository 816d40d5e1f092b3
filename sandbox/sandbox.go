// Package sandbox runs arbitrary shell commands against a working tree in an
// isolated, resource-capped environment. Two Executor variants exist: Docker
// containers when a daemon is reachable, direct process execution otherwise.
package sandbox

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/healbot/healbot/internal/logging"
)

var logger = logging.New("sandbox")

// TimeoutMarker is the stderr content returned when a command exceeds its
// time budget.
const TimeoutMarker = "TIMEOUT: command exceeded time limit"

// ExitTimeout is the exit code reported for a timed-out command.
const ExitTimeout = 124

// maxStreamBytes bounds each captured stream to its last 50,000 bytes.
const maxStreamBytes = 50_000

// Options describes one sandboxed command.
type Options struct {
	// RunID scopes container names and labels to the owning run.
	RunID string
	// Image is the container image; ignored by the native executor.
	Image string
	// WorkDir is the host working tree, mounted read-write in the sandbox.
	WorkDir string
	// Command is passed to `sh -c`.
	Command string
	// Timeout is the wall-clock budget for the command.
	Timeout time.Duration
}

// Result is the captured outcome of one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs one command to completion. Infrastructure failures are
// reported through Result (non-zero exit, failure text on stderr), not as
// errors; the error return is reserved for contract violations such as a
// cancelled context.
type Executor interface {
	Execute(ctx context.Context, opts Options) (*Result, error)
}

// New returns the best available executor: Docker when the daemon responds,
// otherwise native process execution.
func New() Executor {
	if status := ProbeDocker(context.Background()); status.Available {
		logger.Info("docker daemon detected", "version", status.Version)
		return NewDocker()
	}
	logger.Warn("docker unavailable, falling back to native execution")
	return NewNative()
}

// DockerStatus describes the local container daemon.
type DockerStatus struct {
	Available  bool   `json:"available"`
	Version    string `json:"version,omitempty"`
	Containers int    `json:"containers,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProbeDocker checks whether a Docker daemon is reachable.
func ProbeDocker(ctx context.Context) DockerStatus {
	out, err := exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}} {{.Containers}}").Output()
	if err != nil {
		return DockerStatus{Available: false, Error: err.Error()}
	}
	status := DockerStatus{Available: true}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) > 0 {
		status.Version = fields[0]
	}
	if len(fields) > 1 {
		if n, err := strconv.Atoi(fields[1]); err == nil {
			status.Containers = n
		}
	}
	return status
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

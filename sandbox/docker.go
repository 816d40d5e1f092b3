package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Resource caps applied to every container.
const (
	memoryLimit = "512m"
	swapLimit   = "1g"
	cpuLimit    = "2"
	mountPoint  = "/workspace"
)

// DockerExecutor runs commands inside throwaway containers via the docker
// CLI. Containers are named and labeled per run and force-removed on every
// exit path, including timeout.
type DockerExecutor struct{}

// NewDocker creates a Docker-backed executor.
func NewDocker() *DockerExecutor {
	return &DockerExecutor{}
}

func (d *DockerExecutor) Execute(ctx context.Context, opts Options) (*Result, error) {
	name := fmt.Sprintf("healbot-%s-%d", opts.RunID, time.Now().UnixNano())

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--name", name,
		"--label", "healbot.run=" + opts.RunID,
		"--memory", memoryLimit,
		"--memory-swap", swapLimit,
		"--cpus", cpuLimit,
		"-v", opts.WorkDir + ":" + mountPoint,
		"-w", mountPoint,
		opts.Image,
		"sh", "-c", opts.Command,
	}
	cmd := exec.CommandContext(runCtx, "docker", args...)

	stdout, stderr, runErr := runCapture(cmd)

	// --rm handles the normal path; after a kill the container can linger.
	defer d.remove(name)

	if runCtx.Err() == context.DeadlineExceeded {
		logger.Warn("container timed out", "run", opts.RunID, "timeout", opts.Timeout)
		return &Result{ExitCode: ExitTimeout, Stdout: tail(stdout, maxStreamBytes), Stderr: TimeoutMarker}, nil
	}

	result := &Result{
		ExitCode: 0,
		Stdout:   tail(stdout, maxStreamBytes),
		Stderr:   tail(stderr, maxStreamBytes),
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// Daemon unreachable, image pull failure, and similar
			// infrastructure errors surface as a failed result.
			result.ExitCode = 1
			result.Stderr = runErr.Error()
		}
	}
	return result, nil
}

func (d *DockerExecutor) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()
}

// runCapture runs cmd with both streams buffered. WaitDelay stops a
// timed-out child's orphaned descendants from holding the pipes open
// forever after the kill.
func runCapture(cmd *exec.Cmd) (string, string, error) {
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.WaitDelay = 5 * time.Second
	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

package sandbox

import (
	"context"
	"os/exec"
)

// NativeExecutor runs commands directly on the host, in the working tree.
// It applies the same timeout and truncation policy as the Docker variant
// but offers no resource isolation; it is the fallback when no container
// daemon is available.
type NativeExecutor struct{}

// NewNative creates a native process executor.
func NewNative() *NativeExecutor {
	return &NativeExecutor{}
}

func (n *NativeExecutor) Execute(ctx context.Context, opts Options) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", opts.Command)
	cmd.Dir = opts.WorkDir

	stdout, stderr, runErr := runCapture(cmd)

	if runCtx.Err() == context.DeadlineExceeded {
		logger.Warn("native command timed out", "run", opts.RunID, "timeout", opts.Timeout)
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
			result.ExitCode = 1
			result.Stderr = runErr.Error()
		}
	}
	return result, nil
}

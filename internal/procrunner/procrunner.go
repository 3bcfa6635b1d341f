// Package procrunner wraps os/exec for the gateway's three subprocess
// boundaries: the orchestrator executable, the worker/message client, and
// the LLM executable used by the dispatch planner and direct path.
package procrunner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Runner executes external commands with a bounded timeout. It exists as
// an interface so planner/dispatch tests can substitute a fake instead
// of forking real processes.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner is the concrete os/exec-backed Runner.
type ExecRunner struct {
	// Env, if non-nil, is appended to the spawned process's environment
	// (on top of the gateway's own environment); used to pass
	// AOE_TEAM_DIR to the worker/message client.
	Env []string
}

// Run starts name with args, killing it if it exceeds timeout.
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, string, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(), fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return stdout.String(), stderr.String(), nil
}

// Package orchclient wraps the orchestrator and worker/message-client
// executables behind small Go interfaces, so the dispatch executor and
// lifecycle reconciler never shell out directly.
package orchclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/lifecycle"
	"github.com/kimyoungjin06/aoe-orch-control/internal/procrunner"
)

// RunOptions configures one orchestrator "run" invocation.
type RunOptions struct {
	ProjectRoot     string
	TeamDir         string
	Priority        string // P1|P2|P3
	TimeoutSec      int
	PollSec         int
	Channel         string
	Origin          string // "<platform>:<chat-id>"
	Roles           string // csv, empty to let the orchestrator pick
	NoSpawnMissing  bool
	NoWait          bool
}

// Client is the orchestrator/worker subprocess boundary.
type Client struct {
	Binary       string // orchestrator executable path
	WorkerBinary string // worker/message-client executable path
	Runner       procrunner.Runner
	CommandTimeout time.Duration // orch_command_timeout_sec (status/init/spawn/add-role)
	RunTimeout     time.Duration // orch_timeout_sec ceiling for run's own --timeout-sec
}

type runSnapshotWire struct {
	RequestID   string `json:"request_id"`
	Roles       []struct {
		Role      string `json:"role"`
		Status    string `json:"status"`
		MessageID string `json:"message_id,omitempty"`
	} `json:"roles"`
	Counts struct {
		Assignments int `json:"assignments"`
		Replies     int `json:"replies"`
	} `json:"counts"`
	Complete        bool     `json:"complete"`
	DoneRoles       []string `json:"done_roles"`
	FailedRoles     []string `json:"failed_roles"`
	PendingRoles    []string `json:"pending_roles"`
	UnresolvedRoles []string `json:"unresolved_roles"`
	Replies         []struct {
		Role string `json:"role"`
		Body string `json:"body"`
	} `json:"replies"`
}

func (w *runSnapshotWire) replyBodies() []string {
	out := make([]string, 0, len(w.Replies))
	for _, r := range w.Replies {
		if r.Body != "" {
			out = append(out, r.Body)
		}
	}
	return out
}

// Run invokes "orch run ..." with prompt and returns the parsed snapshot.
func (c *Client) Run(ctx context.Context, prompt string, opts RunOptions) (lifecycle.Snapshot, error) {
	args := []string{
		"run",
		"--project-root", opts.ProjectRoot,
		"--team-dir", opts.TeamDir,
		"--priority", opts.Priority,
		"--timeout-sec", fmt.Sprint(opts.TimeoutSec),
		"--poll-sec", fmt.Sprint(opts.PollSec),
		"--channel", opts.Channel,
		"--origin", opts.Origin,
		"--json",
	}
	if opts.Roles != "" {
		args = append(args, "--roles", opts.Roles)
	}
	if opts.NoSpawnMissing {
		args = append(args, "--no-spawn-missing")
	}
	if opts.NoWait {
		args = append(args, "--no-wait")
	}
	args = append(args, prompt)

	timeout := time.Duration(opts.TimeoutSec) * time.Second
	if c.RunTimeout > 0 && timeout > c.RunTimeout {
		timeout = c.RunTimeout
	}
	stdout, _, err := c.Runner.Run(ctx, timeout, c.Binary, args...)
	if err != nil {
		return lifecycle.Snapshot{}, fmt.Errorf("orchestrator run: %w", err)
	}

	var wire runSnapshotWire
	if err := json.Unmarshal([]byte(stdout), &wire); err != nil {
		return lifecycle.Snapshot{}, fmt.Errorf("orchestrator run: invalid JSON reply: %w", err)
	}

	pending := wire.PendingRoles
	if len(pending) == 0 {
		pending = wire.UnresolvedRoles
	}
	roles := make([]lifecycle.RoleStatus, 0, len(wire.Roles))
	for _, r := range wire.Roles {
		roles = append(roles, lifecycle.RoleStatus{Role: r.Role, Status: r.Status, MessageID: r.MessageID})
	}
	return lifecycle.Snapshot{
		RequestID:    wire.RequestID,
		Roles:        roles,
		Assignments:  wire.Counts.Assignments,
		Replies:      wire.Counts.Replies,
		Complete:     wire.Complete,
		DoneRoles:    wire.DoneRoles,
		FailedRoles:  wire.FailedRoles,
		PendingRoles: pending,
		ReplyBodies:  wire.replyBodies(),
	}, nil
}

// Status runs "orch status" and returns its raw text reply.
func (c *Client) Status(ctx context.Context, projectRoot, teamDir string) (string, error) {
	stdout, _, err := c.Runner.Run(ctx, c.CommandTimeout, c.Binary, "status", "--project-root", projectRoot, "--team-dir", teamDir)
	if err != nil {
		return "", fmt.Errorf("orchestrator status: %w", err)
	}
	return stdout, nil
}

// Init runs "orch init" (idempotent: an existing config is left as-is).
func (c *Client) Init(ctx context.Context, projectRoot, overview string) (string, error) {
	args := []string{"init", "--project-root", projectRoot}
	if overview != "" {
		args = append(args, "--overview", overview)
	}
	stdout, _, err := c.Runner.Run(ctx, c.CommandTimeout, c.Binary, args...)
	if err != nil {
		return "", fmt.Errorf("orchestrator init: %w", err)
	}
	return stdout, nil
}

// Spawn runs "orch spawn".
func (c *Client) Spawn(ctx context.Context, projectRoot, teamDir string) (string, error) {
	stdout, _, err := c.Runner.Run(ctx, c.CommandTimeout, c.Binary, "spawn", "--project-root", projectRoot, "--team-dir", teamDir)
	if err != nil {
		return "", fmt.Errorf("orchestrator spawn: %w", err)
	}
	return stdout, nil
}

// AddRoleOptions configures an "orch add-role" invocation.
type AddRoleOptions struct {
	ProjectRoot, TeamDir, Role, Provider, Launch string
	Spawn                                        bool
}

// AddRole runs "orch add-role" and returns the parsed JSON reply.
func (c *Client) AddRole(ctx context.Context, opts AddRoleOptions) (map[string]any, error) {
	args := []string{
		"add-role", "--project-root", opts.ProjectRoot, "--team-dir", opts.TeamDir, "--role", opts.Role, "--json",
	}
	if opts.Provider != "" {
		args = append(args, "--provider", opts.Provider)
	}
	if opts.Launch != "" {
		args = append(args, "--launch", opts.Launch)
	}
	if opts.Spawn {
		args = append(args, "--spawn")
	} else {
		args = append(args, "--no-spawn")
	}
	stdout, _, err := c.Runner.Run(ctx, c.CommandTimeout, c.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("orchestrator add-role: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return nil, fmt.Errorf("orchestrator add-role: invalid JSON reply: %w", err)
	}
	return out, nil
}

// RequestSnapshot runs the worker/message client's "request
// --request-id --json" query, reporting the snapshot for an
// already-dispatched task (used by orch-check/orch-task polling).
func (c *Client) RequestSnapshot(ctx context.Context, teamDir, requestID string) (lifecycle.Snapshot, error) {
	r := &procrunner.ExecRunner{Env: []string{"AOE_TEAM_DIR=" + teamDir}}
	stdout, _, err := r.Run(ctx, c.CommandTimeout, c.WorkerBinary, "request", "--request-id", requestID, "--json")
	if err != nil {
		return lifecycle.Snapshot{}, fmt.Errorf("request query failed: %w", err)
	}
	var wire runSnapshotWire
	if err := json.Unmarshal([]byte(stdout), &wire); err != nil {
		return lifecycle.Snapshot{}, fmt.Errorf("request query failed: invalid JSON reply: %w", err)
	}
	roles := make([]lifecycle.RoleStatus, 0, len(wire.Roles))
	for _, r := range wire.Roles {
		roles = append(roles, lifecycle.RoleStatus{Role: r.Role, Status: r.Status, MessageID: r.MessageID})
	}
	return lifecycle.Snapshot{
		RequestID: wire.RequestID, Roles: roles,
		Assignments: wire.Counts.Assignments, Replies: wire.Counts.Replies,
		Complete: wire.Complete, DoneRoles: wire.DoneRoles,
		FailedRoles: wire.FailedRoles, PendingRoles: wire.PendingRoles,
		ReplyBodies: wire.replyBodies(),
	}, nil
}

// Fail cancels a pending assignment via the worker client.
func (c *Client) Fail(ctx context.Context, teamDir, messageID, note, forRole string) error {
	r := &procrunner.ExecRunner{Env: []string{"AOE_TEAM_DIR=" + teamDir}}
	args := []string{"fail", messageID, "--force", "--note", note}
	if forRole != "" {
		args = append(args, "--for", forRole)
	}
	_, _, err := r.Run(ctx, c.CommandTimeout, c.WorkerBinary, args...)
	if err != nil {
		return fmt.Errorf("fail assignment: %w", err)
	}
	return nil
}

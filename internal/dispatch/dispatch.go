// Package dispatch is the "run" executor: it resolves dispatch-vs-direct
// mode, runs the planner when task planning is enabled, enforces the
// verifier and plan gates, invokes the orchestrator (or the LLM directly),
// reconciles the task's seven-stage lifecycle from the result, records
// retry/replan lineage, and assembles the chat reply.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/errtax"
	"github.com/kimyoungjin06/aoe-orch-control/internal/guard"
	"github.com/kimyoungjin06/aoe-orch-control/internal/lifecycle"
	"github.com/kimyoungjin06/aoe-orch-control/internal/llmclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/orchclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/planner"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// Config bounds one gateway's dispatch behavior, set once at startup from
// CLI/env/file configuration.
type Config struct {
	ProjectRoot string
	TeamDir     string
	OrchName    string // label used only in the dry-run preview

	DefaultPriority string
	OrchTimeoutSec  int
	OrchPollSec     int
	NoSpawnMissing  bool
	DefaultNoWait   bool

	AutoDispatchEnabled bool
	RequireVerifier     bool
	VerifierCandidates  []string

	TaskPlanning       bool
	PlanMaxSubtasks    int
	PlanAutoReplan     bool
	PlanReplanAttempts int
	PlanBlockOnCritic  bool

	RateLimits guard.RateLimits
	ConfirmTTL time.Duration

	DryRun bool
}

// Request is one resolved "run" ready for the executor.
type Request struct {
	ChatID           string
	Prompt           string
	RolesOverride    string
	PriorityOverride string
	TimeoutOverride  int  // 0 means "unset, use the default"
	NoWaitOverride   *bool
	ForceMode        string            // "", "direct", "dispatch"
	AutoSource       string            // "", "pending", "default", "confirmed"
	ControlMode      state.ControlMode // "", retry, replan
	SourceRequestID  string
	SourceTask       *state.TaskRecord
	ProjectRolesCSV  string
	AvailableRoles   []string
}

// Reply is everything the caller needs to answer the chat and log an
// event row for this "run".
type Reply struct {
	Text        string
	Task        *state.TaskRecord
	RequestID   string
	EventName   string
	EventStage  string
	EventStatus string
	ErrorCode   errtax.Code // "" unless this reply represents a failure
}

// Deps are the live collaborators the executor needs; Session may be nil
// when the high-risk confirmation gate is not applicable to this call.
type Deps struct {
	Orch    *orchclient.Client
	LLM     *llmclient.Client
	Lister  guard.TaskLister
	Session *state.ChatSession
}

// Run executes the full plan -> dispatch -> reconcile -> reply pipeline
// for one resolved "run" request. Domain-level rejections (rate limit,
// confirmation required, verifier gate, plan gate) surface as a terminal
// Reply, never as a Go error. A non-nil error means the orchestrator or
// LLM subprocess itself failed; the caller should classify it with
// errtax.FromError.
func Run(ctx context.Context, cfg Config, deps Deps, req Request, now time.Time) (Reply, error) {
	if req.AutoSource != "confirmed" && req.ControlMode == "" {
		if rr := guard.CheckRate(deps.Lister, req.ChatID, cfg.RateLimits, now); rr.Blocked {
			return Reply{
				Text:        rr.Reason + "\nnext: check /monitor or /check for existing tasks.",
				EventName:   "rate_limited", EventStage: "intake", EventStatus: "rejected",
				ErrorCode: errtax.EGate,
			}, nil
		}
	}

	if req.AutoSource == "default" && deps.Session != nil {
		mode := state.Mode(req.ForceMode)
		if mode == "" {
			mode = state.ModeDispatch
		}
		gate := guard.CheckHighRiskGate(deps.Session, mode, req.Prompt, true, now)
		if gate.Triggered {
			return Reply{
				Text: fmt.Sprintf(
					"고위험 자동실행 감지: 확인이 필요합니다.\n- risk: %s\n- mode: %s\n- preview: %s\n실행: /ok\n취소: /cancel",
					gate.RiskTag, mode, previewText(req.Prompt, 160)),
				EventName: "confirm_required", EventStage: "intake", EventStatus: "pending",
			}, nil
		}
	}

	res := resolveDispatchModeAndRoles(req.ForceMode, req.RolesOverride, req.ProjectRolesCSV, cfg.AutoDispatchEnabled, req.Prompt)

	if !res.DispatchMode {
		return runDirect(ctx, deps, req, cfg)
	}
	return runDispatch(ctx, cfg, deps, req, res, now)
}

func previewText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const directPersonaPrompt = "You are a project orchestrator. Answer the chat user naturally, as part of a conversation.\n" +
	"Principles:\n" +
	"- Do not expose internal roles, protocol details, or request ids unless asked.\n" +
	"- Never assert figures or facts you have no basis for.\n" +
	"- Be concise and practical; suggest a next action only when useful.\n\n" +
	"User message:\n%s\n"

func runDirect(ctx context.Context, deps Deps, req Request, cfg Config) (Reply, error) {
	if cfg.DryRun {
		preview := buildDryRunPreview(dryRunPreviewInput{
			OrchName: cfg.OrchName, DispatchMode: false, Prompt: req.Prompt,
			EffectivePriority: effectivePriority(req, cfg), EffectiveTimeout: effectiveTimeout(req, cfg),
			EffectiveNoWait: effectiveNoWait(req, cfg),
		})
		return Reply{Text: preview, EventName: "direct_dry_run", EventStage: "intake", EventStatus: "ok"}, nil
	}

	text, err := deps.LLM.Complete(ctx, fmt.Sprintf(directPersonaPrompt, strings.TrimSpace(req.Prompt)))
	if err != nil {
		return Reply{}, fmt.Errorf("direct response failed: %w", err)
	}
	return Reply{Text: text, EventName: "direct_done", EventStage: "close", EventStatus: "completed"}, nil
}

func effectivePriority(req Request, cfg Config) string {
	if req.PriorityOverride != "" {
		return req.PriorityOverride
	}
	if cfg.DefaultPriority != "" {
		return cfg.DefaultPriority
	}
	return "P2"
}

func effectiveTimeout(req Request, cfg Config) int {
	if req.TimeoutOverride > 0 {
		return req.TimeoutOverride
	}
	if cfg.OrchTimeoutSec > 0 {
		return cfg.OrchTimeoutSec
	}
	return 600
}

func effectiveNoWait(req Request, cfg Config) bool {
	if req.NoWaitOverride != nil {
		return *req.NoWaitOverride
	}
	return cfg.DefaultNoWait
}

func runDispatch(ctx context.Context, cfg Config, deps Deps, req Request, res modeResolution, now time.Time) (Reply, error) {
	selected := ParseRolesCSV(res.RolesCSV)

	planningEnabled := cfg.TaskPlanning || req.ControlMode == state.ControlReplan
	reuseSourcePlan := req.ControlMode == state.ControlRetry && req.SourceTask != nil && req.SourceTask.Plan != nil

	var plan state.Plan
	var critic state.Critic = state.Critic{Approved: true}
	var replans []state.ReplanAttempt
	var planErr string
	planGateBlocked := false
	planGateReason := ""
	havePlan := false

	if planningEnabled || reuseSourcePlan {
		switch {
		case reuseSourcePlan:
			plan = *req.SourceTask.Plan
			if req.SourceTask.PlanCritic != nil {
				critic = *req.SourceTask.PlanCritic
			}
			havePlan = true
		case planningEnabled:
			result := planner.Build(ctx, deps.LLM, req.Prompt, planner.Options{
				AvailableRoles: req.AvailableRoles,
				MaxSubtasks:    cfg.PlanMaxSubtasks,
				AutoReplan:     cfg.PlanAutoReplan,
				MaxReplans:     cfg.PlanReplanAttempts,
				BlockOnCritic:  cfg.PlanBlockOnCritic,
			})
			if result.Err != nil {
				planErr = previewText(result.Err.Error(), 260)
			} else {
				plan = result.Plan
				critic = result.Critic
				replans = result.Replans
				planGateBlocked = result.GateBlocked
				planGateReason = result.GateReason
				havePlan = true
				if len(selected) == 0 && len(result.Roles) > 0 {
					selected = result.Roles
				}
			}
		}
	}

	outcome := ensureVerifierRoles(selected, req.AvailableRoles, cfg.VerifierCandidates)
	dispatchRolesCSV := strings.Join(outcome.Selected, ",")

	if cfg.RequireVerifier && len(outcome.VerifierRoles) == 0 {
		return Reply{
			Text: fmt.Sprintf(
				"error: verifier gate enabled but no verifier role is available.\nrequired_candidates=%s\nproject_roles=%s\nhint: add a verifier role (e.g. Reviewer) or disable the gate.",
				joinOrDash(cfg.VerifierCandidates), joinOrDash(req.AvailableRoles)),
			EventName: "verifier_setup_failed", EventStage: "intake", EventStatus: "rejected",
			ErrorCode: errtax.EGate,
		}, nil
	}

	if planGateBlocked {
		return Reply{
			Text: fmt.Sprintf(
				"plan gate blocked: critic issues remain after auto-replan.\nreason: %s\nhint: narrow the request's scope or roles and retry.\nreplan_attempts: %d",
				orDash(planGateReason, "unresolved issues"), len(replans)),
			EventName: "planning_gate_blocked", EventStage: "planning", EventStatus: "rejected",
			ErrorCode: errtax.EGate,
		}, nil
	}

	effPriority := effectivePriority(req, cfg)
	effTimeout := effectiveTimeout(req, cfg)
	effNoWait := effectiveNoWait(req, cfg)

	if cfg.DryRun {
		preview := buildDryRunPreview(dryRunPreviewInput{
			OrchName: cfg.OrchName, DispatchMode: true, Prompt: req.Prompt,
			DispatchRoles: dispatchRolesCSV, RequireVerifier: cfg.RequireVerifier,
			VerifierRoles: outcome.VerifierRoles, VerifierAdded: outcome.Added,
			ControlMode: string(req.ControlMode), SourceRequestID: req.SourceRequestID,
			PlanningEnabled: planningEnabled, PlanReused: reuseSourcePlan && havePlan,
			PlanSubtasks: len(plan.Subtasks), PlanReplans: len(replans),
			PlanGateBlocked: planGateBlocked, PlanError: planErr,
			EffectivePriority: effPriority, EffectiveTimeout: effTimeout, EffectiveNoWait: effNoWait,
		})
		return Reply{Text: preview, EventName: "dispatch_dry_run", EventStage: "intake", EventStatus: "ok"}, nil
	}

	dispatchPrompt := req.Prompt
	if havePlan {
		dispatchPrompt = planner.BuildDispatchPrompt(req.Prompt, plan, critic)
	}

	snap, err := deps.Orch.Run(ctx, dispatchPrompt, orchclient.RunOptions{
		ProjectRoot: cfg.ProjectRoot, TeamDir: cfg.TeamDir,
		Priority: effPriority, TimeoutSec: effTimeout, PollSec: cfg.OrchPollSec,
		Channel: "telegram", Origin: "telegram:" + req.ChatID,
		Roles: dispatchRolesCSV, NoSpawnMissing: cfg.NoSpawnMissing, NoWait: effNoWait,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("dispatch failed: %w", err)
	}

	// A retry/replan always files a fresh child record under the new
	// request id; the source task only contributes its plan and receives
	// the lineage back-link.
	task := state.NewTaskRecord(snap.RequestID, "", "", state.ModeDispatch, req.Prompt, req.ChatID, now)

	lifecycle.Reconcile(task, snap, lifecycle.Context{
		RequireVerifier: cfg.RequireVerifier,
		VerifierRoles:   outcome.VerifierRoles,
	}, now)

	task.Roles = outcome.Selected
	task.VerifierRoles = outcome.VerifierRoles
	task.RequireVerifier = cfg.RequireVerifier
	task.Result = state.TaskResult{
		Assignments:  snap.Assignments,
		Replies:      snap.Replies,
		Complete:     snap.Complete,
		DoneRoles:    snap.DoneRoles,
		FailedRoles:  snap.FailedRoles,
		PendingRoles: snap.PendingRoles,
	}

	if havePlan {
		task.Plan = &plan
		task.PlanCritic = &critic
		task.PlanReplans = replans
		task.PlanGatePassed = !planGateBlocked
	} else if planErr != "" {
		task.SetStage(state.StagePlanning, state.StatusDone, "fallback_no_plan: "+planErr, now)
	}

	applyLineage(task, req, now)

	return buildDispatchReply(ctx, deps, req, task, snap, cfg), nil
}

func joinOrDash(in []string) string {
	if len(in) == 0 {
		return "-"
	}
	return strings.Join(in, ", ")
}

func orDash(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// applyLineage records retry/replan parentage on task and appends task's
// request id to the source task's child list, capped at 20.
func applyLineage(task *state.TaskRecord, req Request, now time.Time) {
	if req.ControlMode == "" || req.SourceRequestID == "" {
		return
	}
	task.SourceRequestID = req.SourceRequestID
	task.ControlMode = req.ControlMode
	task.SetStage(state.StageIntake, state.StatusDone, fmt.Sprintf("%s_of=%s", req.ControlMode, req.SourceRequestID), now)

	if req.SourceTask == nil {
		return
	}
	switch req.ControlMode {
	case state.ControlRetry:
		req.SourceTask.AddRetryChild(task.RequestID)
	case state.ControlReplan:
		req.SourceTask.AddReplanChild(task.RequestID)
	}
	req.SourceTask.UpdatedAt = now
}

const synthesisPrompt = "You are a team orchestrator. Merge the sub-agent replies below into one answer for the user.\n" +
	"Rules:\n" +
	"- hide operational details like internal role names, protocol, or request ids\n" +
	"- reconcile contradictions conservatively, and say so when something is uncertain\n" +
	"- never assert a figure or fact with no basis in the replies\n" +
	"- answer the user in one natural voice\n\n" +
	"User request:\n%s\n\n" +
	"Sub-agent replies:\n%s\n"

func buildDispatchReply(ctx context.Context, deps Deps, req Request, task *state.TaskRecord, snap lifecycle.Snapshot, cfg Config) Reply {
	label := taskLabel(task, snap.RequestID)

	if cfg.RequireVerifier && task.Stages.Get(state.StageVerification) == state.StatusFailed {
		return Reply{
			Text: fmt.Sprintf("task %s: verifier gate failed at stage %s (%s).", label, task.Stage, task.Status),
			Task: task, RequestID: snap.RequestID,
			EventName: "dispatch_failed", EventStage: "verification", EventStatus: "failed",
			ErrorCode: errtax.EGate,
		}
	}

	if snap.Complete && len(snap.ReplyBodies) > 0 {
		joined := strings.Join(snap.ReplyBodies, "\n\n")
		text, err := deps.LLM.Complete(ctx, fmt.Sprintf(synthesisPrompt, strings.TrimSpace(req.Prompt), joined))
		if err == nil && strings.TrimSpace(text) != "" {
			return Reply{
				Text: text, Task: task, RequestID: snap.RequestID,
				EventName: "dispatch_completed", EventStage: string(task.Stage), EventStatus: string(task.Status),
			}
		}
	}

	return Reply{
		Text: renderRunResponse(snap, task, label), Task: task, RequestID: snap.RequestID,
		EventName: "dispatch_result", EventStage: string(task.Stage), EventStatus: string(task.Status),
	}
}

// taskLabel prefers a human alias, then the short id, then the raw
// request id.
func taskLabel(task *state.TaskRecord, fallbackRequestID string) string {
	if task != nil {
		if task.Alias != "" {
			return task.Alias
		}
		if task.ShortID != "" {
			return task.ShortID
		}
	}
	if fallbackRequestID != "" {
		return fallbackRequestID
	}
	return "-"
}

// renderRunResponse renders the plain fallback reply when no LLM
// synthesis ran (still pending, or synthesis failed).
func renderRunResponse(snap lifecycle.Snapshot, task *state.TaskRecord, label string) string {
	if snap.Complete && len(snap.ReplyBodies) > 0 {
		if len(snap.ReplyBodies) == 1 {
			return snap.ReplyBodies[0]
		}
		var b strings.Builder
		for i, body := range snap.ReplyBodies {
			if i >= 6 {
				break
			}
			b.WriteString(body)
			b.WriteString("\n\n")
		}
		return strings.TrimSpace(b.String())
	}
	if !snap.Complete {
		return fmt.Sprintf("task accepted: %s\nprogress: /check %s\ndetail: /task %s", label, label, label)
	}
	return fmt.Sprintf("task complete: %s\n(no agent reply body yet)", label)
}

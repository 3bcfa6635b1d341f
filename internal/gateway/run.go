package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/command"
	"github.com/kimyoungjin06/aoe-orch-control/internal/dispatch"
	"github.com/kimyoungjin06/aoe-orch-control/internal/eventlog"
	"github.com/kimyoungjin06/aoe-orch-control/internal/guard"
	"github.com/kimyoungjin06/aoe-orch-control/internal/lifecycle"
	"github.com/kimyoungjin06/aoe-orch-control/internal/parser"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// resolveConfirmTransition implements "/ok": redeem the pending
// confirmation token and, if valid, rewrite the resolved command into a
// confirmed "run". Returns terminal=true when a reply was already sent.
func (g *Gateway) resolveConfirmTransition(m *msgCtx) (command.ResolvedCommand, bool) {
	now := g.now()
	if m.session.ConfirmAction == nil {
		g.send(m, "확인 대기 중인 실행이 없습니다.\n고위험 평문 자동실행이 감지되면 /ok 로 승인할 수 있습니다.", true, "confirm-empty")
		g.logEvent(m, eventlog.Row{Event: "confirm_empty", Stage: "intake", Status: "rejected"})
		return command.ResolvedCommand{}, true
	}

	ttl := guard.ClampConfirmTTL(time.Duration(g.Cfg.ConfirmTTLSec) * time.Second)
	outcome := guard.RedeemConfirm(m.session, ttl, now)
	if outcome.Expired {
		g.send(m, "확인 요청이 만료되었습니다.\n다시 평문으로 요청하거나 /dispatch 로 재실행하세요.", true, "confirm-expired")
		g.logEvent(m, eventlog.Row{Event: "confirm_expired", Stage: "intake", Status: "rejected"})
		return command.ResolvedCommand{}, true
	}

	mode := outcome.Mode
	if mode == "" {
		mode = state.ModeDispatch
	}
	return command.ResolvedCommand{
		Cmd: parser.Intent{
			Cmd:       "run",
			Prompt:    outcome.Prompt,
			ForceMode: string(mode),
		},
		RunForceMode:  mode,
		RunAutoSource: "confirmed",
	}, false
}

// resolveRetryReplanTransition implements "/retry" and "/replan": find
// the source task, then rewrite into a lineage-carrying "run" that reuses
// the source prompt, roles, and mode.
func (g *Gateway) resolveRetryReplanTransition(m *msgCtx, cmd string, in parser.Intent) (command.ResolvedCommand, bool) {
	usage := "/retry"
	control := state.ControlRetry
	if cmd == "orch-replan" {
		usage = "/replan"
		control = state.ControlReplan
	}

	key, p := g.projectContext(m.st, in.Orch)
	ref := strings.TrimSpace(in.RequestID)
	if ref == "" && m.session.SelectedTaskRefs != nil {
		ref = m.session.SelectedTaskRefs[key]
	}
	if ref == "" {
		g.send(m, fmt.Sprintf("usage: %s <request_or_alias>\norch=%s", usage, key), false, cmd+" usage")
		g.logEvent(m, eventlog.Row{Event: "retry_usage", Project: key, Stage: "intake", Status: "rejected"})
		return command.ResolvedCommand{}, true
	}

	reqID := g.resolveTaskRef(m, key, p, ref)
	if reqID == "" {
		g.send(m, fmt.Sprintf("request not found: %s (orch=%s)", ref, key), false, cmd+" missing")
		g.logEvent(m, eventlog.Row{Event: "retry_missing", Project: key, Stage: "intake", Status: "rejected"})
		return command.ResolvedCommand{}, true
	}

	source, ok := p.Tasks[reqID]
	if !ok {
		var err error
		source, err = g.refreshTaskFromOrchestrator(m, key, p, reqID)
		if err != nil {
			source = nil
		}
	}
	if source == nil {
		g.send(m, "no lifecycle record for retry/replan target: "+ref, false, cmd+" missing task")
		g.logEvent(m, eventlog.Row{Event: "retry_missing", Project: key, RequestID: reqID, Stage: "intake", Status: "rejected"})
		return command.ResolvedCommand{}, true
	}
	if strings.TrimSpace(source.Prompt) == "" {
		g.send(m, "cannot retry/replan: source task prompt is missing.\nrequest_id="+reqID, false, cmd+" missing prompt")
		g.logEvent(m, eventlog.Row{Event: "retry_missing", Project: key, RequestID: reqID, Stage: "intake", Status: "rejected"})
		return command.ResolvedCommand{}, true
	}

	now := g.now()
	m.session.RememberTask(key, reqID, now)
	m.session.SelectTask(key, reqID, now)

	forceMode := "dispatch"
	if source.Mode == state.ModeDirect {
		forceMode = "direct"
	}
	m.runControlMode = control
	m.runSourceRequestID = reqID
	m.runSourceTask = source

	return command.ResolvedCommand{
		Cmd: parser.Intent{
			Cmd:       "run",
			Prompt:    source.Prompt,
			Roles:     strings.Join(source.Roles, ","),
			ForceMode: forceMode,
			Orch:      key,
		},
		RunForceMode: state.Mode(forceMode),
	}, false
}

// handleRun executes "run" (or rejects an unknown command). One terminal
// reply and one outcome event row either way.
func (g *Gateway) handleRun(m *msgCtx, cmd string, resolved command.ResolvedCommand) {
	in := resolved.Cmd

	if cmd != "run" {
		g.send(m, "unknown command. send /help\n\n"+helpText(), true, "unknown")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "cmd=" + cmd})
		return
	}

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		g.send(m, "usage: /run <prompt> | /dispatch <요청> | /direct <질문>", true, "run usage")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "empty prompt"})
		return
	}

	key, p := g.projectContext(m.st, in.Orch)
	available := loadOrchestratorRoles(p.TeamDir)

	var noWaitOverride *bool
	if in.NoWait {
		v := true
		noWaitOverride = &v
	}
	if m.runControlMode != "" {
		v := false
		noWaitOverride = &v
	}

	req := dispatch.Request{
		ChatID:           m.chatID,
		Prompt:           prompt,
		RolesOverride:    in.Roles,
		PriorityOverride: in.Priority,
		TimeoutOverride:  in.TimeoutSec,
		NoWaitOverride:   noWaitOverride,
		ForceMode:        in.ForceMode,
		AutoSource:       resolved.RunAutoSource,
		ControlMode:      m.runControlMode,
		SourceRequestID:  m.runSourceRequestID,
		SourceTask:       m.runSourceTask,
		AvailableRoles:   available,
	}

	cfg := g.dispatchConfig(key, p)
	deps := dispatch.Deps{Orch: g.Orch, LLM: g.LLM, Lister: m.st, Session: m.session}

	reply, err := dispatch.Run(m.ctx, cfg, deps, req, g.now())
	if err != nil {
		g.failureReply(m, err, "/check 또는 /monitor 로 상태를 확인하세요.", "run")
		return
	}

	if reply.Task != nil && reply.RequestID != "" {
		g.registerRunTask(m, key, p, reply)
	}

	body := reply.Text
	if reply.ErrorCode != "" {
		body = "error_code: " + string(reply.ErrorCode) + "\n" + body
	}
	g.send(m, body, true, "run")
	g.logEvent(m, eventlog.Row{
		Event: reply.EventName, Project: key, RequestID: reply.RequestID,
		TaskShortID: shortID(reply.Task), TaskAlias: taskAlias(reply.Task),
		Stage: reply.EventStage, Status: reply.EventStatus,
		ErrorCode: string(reply.ErrorCode),
	})
}

func shortID(t *state.TaskRecord) string {
	if t == nil {
		return ""
	}
	return t.ShortID
}

func taskAlias(t *state.TaskRecord) string {
	if t == nil {
		return ""
	}
	return t.Alias
}

// dispatchConfig projects the gateway config down to the executor's view
// for one project.
func (g *Gateway) dispatchConfig(key string, p *state.Project) dispatch.Config {
	return dispatch.Config{
		ProjectRoot:         p.ProjectRoot,
		TeamDir:             p.TeamDir,
		OrchName:            key,
		DefaultPriority:     g.Cfg.DefaultPriority,
		OrchTimeoutSec:      g.Cfg.OrchTimeoutSec,
		OrchPollSec:         g.Cfg.OrchPollSec,
		NoSpawnMissing:      g.Cfg.NoSpawnMissing,
		DefaultNoWait:       g.Cfg.DefaultNoWait,
		AutoDispatchEnabled: g.Cfg.AutoDispatch,
		RequireVerifier:     g.Cfg.RequireVerifier,
		VerifierCandidates:  dispatch.ResolveVerifierCandidates(g.Cfg.VerifierRoles),
		TaskPlanning:        g.Cfg.TaskPlanning,
		PlanMaxSubtasks:     g.Cfg.PlanMaxSubtasks,
		PlanAutoReplan:      g.Cfg.PlanAutoReplan,
		PlanReplanAttempts:  g.Cfg.PlanReplanAttempts,
		PlanBlockOnCritic:   g.Cfg.PlanBlockOnCritic,
		RateLimits: guard.RateLimits{
			ChatMaxRunning: g.Cfg.ChatMaxRunning,
			ChatDailyCap:   g.Cfg.ChatDailyCap,
		},
		ConfirmTTL: time.Duration(g.Cfg.ConfirmTTLSec) * time.Second,
		DryRun:     g.Cfg.DryRun,
	}
}

// registerRunTask files the executor's task record under the project
// (assigning short id and alias for fresh tasks) and focuses it for the
// chat.
func (g *Gateway) registerRunTask(m *msgCtx, key string, p *state.Project, reply dispatch.Reply) {
	now := g.now()
	task := reply.Task
	if _, exists := p.Tasks[task.RequestID]; !exists {
		if task.ShortID == "" {
			task.ShortID = p.NextShortID()
		}
		if task.Alias == "" {
			task.Alias = p.UniqueAlias(state.DeriveAliasBase(task.Prompt), task.RequestID)
		}
		p.AddTask(task)
	} else {
		p.Tasks[task.RequestID] = task
		p.LastRequestID = task.RequestID
		p.RebuildAliasIndex()
	}
	p.UpdatedAt = now
	m.session.RememberTask(key, task.RequestID, now)
	m.session.SelectTask(key, task.RequestID, now)
}

// syncTaskLifecycle reconciles one snapshot into a task record: roles
// fall back to the snapshot's own role rows, verifier roles fall back to the
// candidate intersection, and the reconciled snapshot counts are written
// into the task's result block.
func syncTaskLifecycle(task *state.TaskRecord, snap lifecycle.Snapshot, selectedRoles, verifierRoles []string, requireVerifier bool, candidates []string, now time.Time) {
	roles := selectedRoles
	if len(roles) == 0 {
		for _, r := range snap.Roles {
			if strings.TrimSpace(r.Role) != "" {
				roles = append(roles, strings.TrimSpace(r.Role))
			}
		}
	}
	roles = dedupeStrings(roles)

	verifiers := verifierRoles
	if len(verifiers) == 0 {
		lowerCandidates := make(map[string]struct{}, len(candidates))
		for _, c := range candidates {
			lowerCandidates[strings.ToLower(c)] = struct{}{}
		}
		for _, r := range roles {
			if _, ok := lowerCandidates[strings.ToLower(r)]; ok {
				verifiers = append(verifiers, r)
			}
		}
	}
	verifiers = dedupeStrings(verifiers)

	if len(roles) > 0 {
		task.Roles = roles
	}
	task.VerifierRoles = verifiers
	task.RequireVerifier = requireVerifier

	lifecycle.Reconcile(task, snap, lifecycle.Context{
		RequireVerifier: requireVerifier,
		VerifierRoles:   verifiers,
	}, now)

	task.Result = state.TaskResult{
		Assignments:  snap.Assignments,
		Replies:      snap.Replies,
		Complete:     snap.Complete,
		DoneRoles:    snap.DoneRoles,
		FailedRoles:  snap.FailedRoles,
		PendingRoles: snap.PendingRoles,
	}
}

// Package gateway wires the per-message pipeline: command resolution,
// role enforcement, the confirmation-redemption shortcut, the non-run
// handler families (mode/ACL/task/management), and the run executor.
// Every terminal branch sends at most one reply and emits exactly one
// outcome event row.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/acl"
	"github.com/kimyoungjin06/aoe-orch-control/internal/command"
	"github.com/kimyoungjin06/aoe-orch-control/internal/config"
	"github.com/kimyoungjin06/aoe-orch-control/internal/dispatch"
	"github.com/kimyoungjin06/aoe-orch-control/internal/errtax"
	"github.com/kimyoungjin06/aoe-orch-control/internal/eventlog"
	"github.com/kimyoungjin06/aoe-orch-control/internal/llmclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/orchclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// SendFunc delivers one reply to a chat. withMenu attaches the
// persistent command keyboard to the first chunk. The bool reports
// delivery success; failures are logged and never abort the handler.
type SendFunc func(chatID, text string, withMenu bool) bool

// Gateway holds the live collaborators for message handling. All fields
// are required except Now, which defaults to time.Now, and AliasPath,
// whose empty value disables alias persistence.
type Gateway struct {
	Cfg       config.Config
	Store     *state.Store
	ACL       *acl.ACL
	Aliases   *acl.AliasBook
	AliasPath string // chat-alias map file; empty disables persistence
	Orch      *orchclient.Client
	LLM       *llmclient.Client
	Log       *eventlog.Log
	Send      SendFunc
	Now       func() time.Time
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// msgCtx is the per-message bundle threaded through the handlers.
type msgCtx struct {
	ctx     context.Context
	st      *state.ManagerState
	session *state.ChatSession
	chatID  string
	alias   string
	text    string
	traceID string
	started time.Time

	// run transition slots, filled by the confirm/retry shortcuts.
	runControlMode     state.ControlMode
	runSourceRequestID string
	runSourceTask      *state.TaskRecord
}

func (g *Gateway) elapsedMS(m *msgCtx) int {
	return int(g.now().Sub(m.started).Milliseconds())
}

// logEvent writes one event row stamped with the message's trace id,
// actor, and latency so far.
func (g *Gateway) logEvent(m *msgCtx, row eventlog.Row) {
	row.TraceID = m.traceID
	row.Actor = "telegram:" + m.chatID
	row.LatencyMS = g.elapsedMS(m)
	_ = g.Log.Append(row, g.now())
}

// send delivers body and logs the send_message row. Delivery failure is
// an E_TELEGRAM event, never a handler error.
func (g *Gateway) send(m *msgCtx, body string, withMenu bool, context string) bool {
	ok := g.Send(m.chatID, body, withMenu)
	row := eventlog.Row{
		Event:  "send_message",
		Status: "sent",
		Detail: fmt.Sprintf("context=%s chars=%d", context, len(body)),
	}
	if !ok {
		row.Status = "failed"
		row.ErrorCode = string(errtax.ETelegram)
	}
	g.logEvent(m, row)
	return ok
}

// HandleMessage runs the full pipeline for one inbound message. It never
// returns an error for domain-level failures (those become replies and
// event rows); only a state-store failure surfaces, and the poller logs
// it and moves on.
func (g *Gateway) HandleMessage(ctx context.Context, chatID, text, traceID string) error {
	return g.Store.WithLock(func(st *state.ManagerState) error {
		m := &msgCtx{
			ctx:     ctx,
			st:      st,
			session: st.Session(chatID),
			chatID:  chatID,
			text:    text,
			traceID: traceID,
			started: g.now(),
		}
		if g.Aliases != nil {
			m.alias = g.Aliases.Ensure(chatID)
			g.saveAliases()
		}
		g.dispatchMessage(m)
		return nil
	})
}

func (g *Gateway) saveAliases() {
	if g.Aliases == nil || g.AliasPath == "" || g.Cfg.DryRun {
		return
	}
	_ = g.Aliases.Save(g.AliasPath)
}

// dispatchMessage is the resolver → auth → shortcut → handler chain.
func (g *Gateway) dispatchMessage(m *msgCtx) {
	resolved := command.Resolve(m.text, command.Deps{SlashOnly: g.Cfg.SlashOnly, Session: m.session})

	if resolved.RunAutoSource == "pending" {
		m.session.ClearPendingMode(g.now())
	}

	if resolved.Rejected {
		g.send(m, "error_code: E_COMMAND\n"+resolved.Reason, true, "input-rejected")
		g.logEvent(m, eventlog.Row{
			Event: "input_rejected", Stage: "intake", Status: "rejected",
			ErrorCode: string(errtax.ECommand), Detail: resolved.Reason,
		})
		return
	}

	cmd := normalizeCmd(resolved.Cmd.Cmd)
	resolved.Cmd.Cmd = cmd

	if denied := g.enforceAuth(m, cmd); denied {
		return
	}

	g.logEvent(m, eventlog.Row{
		Event: "command_resolved", Stage: "intake", Status: "accepted",
		Detail: "cmd=" + cmd,
	})

	if cmd == "confirm-run" {
		next, terminal := g.resolveConfirmTransition(m)
		if terminal {
			return
		}
		resolved = next
		cmd = resolved.Cmd.Cmd
	}

	if cmd == "orch-retry" || cmd == "orch-replan" {
		next, terminal := g.resolveRetryReplanTransition(m, cmd, resolved.Cmd)
		if terminal {
			return
		}
		resolved = next
		cmd = resolved.Cmd.Cmd
	}

	if g.handleManagement(m, cmd, resolved) {
		return
	}
	if g.handleOverview(m, cmd, resolved.Cmd) {
		return
	}
	if g.handleTask(m, cmd, resolved.Cmd) {
		return
	}

	g.handleRun(m, cmd, resolved)
}

// normalizeCmd folds the slash aliases that resolve 1:1 to an internal
// handler name.
func normalizeCmd(cmd string) string {
	switch cmd {
	case "orch-help", "start":
		return cmd // start keeps its identity for the auth table
	case "check", "progress":
		return "orch-check"
	case "task", "lifecycle":
		return "orch-task"
	case "pick", "select":
		return "orch-pick"
	case "monitor", "tasks", "board":
		return "orch-monitor"
	case "kpi", "metrics":
		return "orch-kpi"
	case "retry":
		return "orch-retry"
	case "replan":
		return "orch-replan"
	default:
		return cmd
	}
}

// enforceAuth applies the role/command policy. Returns true (and replies)
// when the command is denied.
func (g *Gateway) enforceAuth(m *msgCtx, cmd string) bool {
	role := g.ACL.Role(m.chatID)
	aclNonEmpty := len(g.ACL.Allow) > 0 || len(g.ACL.Admin) > 0 || len(g.ACL.Readonly) > 0
	decision := acl.Enforce(role, cmd, g.ACL.Owner != "", aclNonEmpty)
	if decision.Allowed {
		return false
	}

	var body string
	switch {
	case role == acl.RoleUnknown:
		body = "permission denied: unauthorized chat."
	case strings.Contains(decision.Reason, "owner-only"):
		body = fmt.Sprintf("permission denied: /%s is owner-only.\nowner_chat_id: %s", cmd, g.ACL.Owner)
	case role == acl.RoleReadonly:
		body = "permission denied: readonly chat.\nallowed: /status /check /task /monitor /pick /kpi /help /whoami /mode /acl"
	default:
		body = "permission denied: " + decision.Reason
	}
	g.send(m, body, true, "auth-deny")
	g.logEvent(m, eventlog.Row{
		Event: "auth_denied", Stage: "intake", Status: "rejected",
		ErrorCode: string(errtax.EAuth),
		Detail:    fmt.Sprintf("role=%s cmd=%s", role, cmd),
	})
	return true
}

// projectContext resolves the project a command targets: the named orch
// key, else the active project, else the default project seeded from the
// gateway's own --project-root.
func (g *Gateway) projectContext(st *state.ManagerState, target string) (string, *state.Project) {
	key := strings.ToLower(strings.TrimSpace(target))
	if key == "" {
		key = st.Active
	}
	if key == "" {
		key = state.DefaultProjectKey
	}
	if p, ok := st.Projects[key]; ok {
		return key, p
	}
	now := g.now()
	teamDir := g.Cfg.TeamDir
	if teamDir == "" {
		teamDir = filepath.Join(g.Cfg.ProjectRoot, ".aoe-team")
	}
	return key, st.Project(key, g.Cfg.ProjectRoot, teamDir, now)
}

// loadOrchestratorRoles reads the project's team config and returns the
// declared coordinator+agent roles; a missing or malformed file is an
// empty role set, never an error.
func loadOrchestratorRoles(teamDir string) []string {
	data, err := os.ReadFile(filepath.Join(teamDir, "orchestrator.json"))
	if err != nil {
		return nil
	}
	var cfg struct {
		Coordinator struct {
			Role string `json:"role"`
		} `json:"coordinator"`
		Agents []json.RawMessage `json:"agents"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	var roles []string
	if r := strings.TrimSpace(cfg.Coordinator.Role); r != "" {
		roles = append(roles, r)
	}
	for _, raw := range cfg.Agents {
		var row struct {
			Role string `json:"role"`
		}
		if err := json.Unmarshal(raw, &row); err == nil && strings.TrimSpace(row.Role) != "" {
			roles = append(roles, strings.TrimSpace(row.Role))
			continue
		}
		var plain string
		if err := json.Unmarshal(raw, &plain); err == nil && strings.TrimSpace(plain) != "" {
			roles = append(roles, strings.TrimSpace(plain))
		}
	}
	return dedupeStrings(roles)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// resolveTaskRef maps a user-typed reference (1-based recent index, raw
// request id, alias, or short id) to a request id within the project.
func (g *Gateway) resolveTaskRef(m *msgCtx, projectKey string, p *state.Project, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	var recent []string
	if m.session.RecentTaskRefs != nil {
		recent = m.session.RecentTaskRefs[projectKey]
	}
	if id, ok := p.ResolveTaskRef(ref, recent); ok {
		return id
	}
	return ""
}

// refreshTaskFromOrchestrator queries the worker snapshot for requestID
// and reconciles it into the project's task record, creating the record
// if it never existed (e.g. task submitted before a gateway restart).
func (g *Gateway) refreshTaskFromOrchestrator(m *msgCtx, projectKey string, p *state.Project, requestID string) (*state.TaskRecord, error) {
	snap, err := g.Orch.RequestSnapshot(m.ctx, p.TeamDir, requestID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	task, ok := p.Tasks[requestID]
	if !ok {
		task = p.NewTask(requestID, state.ModeDispatch, "", m.chatID, now)
	}
	candidates := dispatch.ResolveVerifierCandidates(g.Cfg.VerifierRoles)
	syncTaskLifecycle(task, snap, nil, task.VerifierRoles, g.Cfg.RequireVerifier, candidates, now)
	if id := strings.TrimSpace(snap.RequestID); id != "" {
		p.LastRequestID = id
	} else {
		p.LastRequestID = requestID
	}
	p.UpdatedAt = now
	m.session.RememberTask(projectKey, requestID, now)
	m.session.SelectTask(projectKey, requestID, now)
	return task, nil
}

// failureReply classifies err and sends the standard failure reply with
// its E_* first line, then logs the handler_error row.
func (g *Gateway) failureReply(m *msgCtx, err error, next, context string) {
	ge := errtax.FromError(err, next)
	g.send(m, ge.ReplyLine(), true, context)
	g.logEvent(m, eventlog.Row{
		Event: "handler_error", Stage: "intake", Status: "failed",
		ErrorCode: string(ge.Code), Detail: errtax.Redact(err.Error()),
	})
}

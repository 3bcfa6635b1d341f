package gateway

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kimyoungjin06/aoe-orch-control/internal/dispatch"
	"github.com/kimyoungjin06/aoe-orch-control/internal/eventlog"
	"github.com/kimyoungjin06/aoe-orch-control/internal/lifecycle"
	"github.com/kimyoungjin06/aoe-orch-control/internal/orchclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/parser"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
	"github.com/kimyoungjin06/aoe-orch-control/internal/util"
)

// handleOverview covers the registry/monitor/KPI family.
func (g *Gateway) handleOverview(m *msgCtx, cmd string, in parser.Intent) bool {
	switch cmd {
	case "orch-list":
		g.send(m, summarizeOrchRegistry(m.st), false, "orch-list")
		g.logEvent(m, eventlog.Row{Event: "orch_list", Stage: "intake", Status: "completed"})
		return true

	case "orch-monitor":
		key, p := g.projectContext(m.st, in.Orch)
		limit := clamp(in.Limit, 1, 50, 12)
		refs := latestTaskRequestRefs(p, limit)
		now := g.now()
		if len(refs) > 0 {
			if m.session.RecentTaskRefs == nil {
				m.session.RecentTaskRefs = make(map[string][]string)
			}
			m.session.RecentTaskRefs[key] = refs
			m.session.UpdatedAt = now
			if m.session.SelectedTaskRefs == nil || m.session.SelectedTaskRefs[key] == "" {
				m.session.SelectTask(key, refs[0], now)
			}
		}
		g.send(m, summarizeTaskMonitor(key, p, limit), true, "orch-monitor")
		g.logEvent(m, eventlog.Row{Event: "monitor_sent", Project: key, Stage: "intake", Status: "completed"})
		return true

	case "orch-kpi":
		key, _ := g.projectContext(m.st, in.Orch)
		hours := clamp(in.Hours, 1, 168, 24)
		g.send(m, g.Log.Summarize(key, hours, g.now()), true, "orch-kpi")
		g.logEvent(m, eventlog.Row{Event: "kpi_sent", Project: key, Stage: "intake", Status: "completed"})
		return true

	case "orch-use":
		if strings.TrimSpace(in.Orch) == "" {
			g.send(m, "usage: aoe orch use <name>", false, "orch-use usage")
			g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "orch-use missing name"})
			return true
		}
		key, _ := g.projectContext(m.st, in.Orch)
		m.st.Active = key
		g.send(m, "active orch changed: "+key, false, "orch-use")
		g.logEvent(m, eventlog.Row{Event: "orch_use", Project: key, Stage: "intake", Status: "completed"})
		return true
	}
	return false
}

// handleTask covers the per-task lifecycle family.
func (g *Gateway) handleTask(m *msgCtx, cmd string, in parser.Intent) bool {
	switch cmd {
	case "status", "orch-status":
		key, p := g.projectContext(m.st, in.Orch)
		status, err := g.Orch.Status(m.ctx, p.ProjectRoot, p.TeamDir)
		if err != nil {
			g.failureReply(m, err, "/orch-list 로 등록된 프로젝트를 확인하세요.", "status")
			return true
		}
		g.send(m, fmt.Sprintf("orch: %s\nroot: %s\nteam: %s\nlast_request: %s\n\n%s",
			key, p.ProjectRoot, p.TeamDir, orToken(p.LastRequestID, "-"), status), false, "status")
		g.logEvent(m, eventlog.Row{Event: "status_sent", Project: key, Stage: "intake", Status: "completed"})
		return true

	case "request":
		if strings.TrimSpace(in.RequestID) == "" {
			g.send(m, "usage: /request <request_or_alias> | aoe request <request_or_alias>", false, "request usage")
			g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "request missing id"})
			return true
		}
		key, p := g.projectContext(m.st, "")
		g.queryAndReply(m, key, p, in.RequestID, "request", func(task *state.TaskRecord) string {
			return fmt.Sprintf("orch: %s\n%s", key, summarizeRequestState(task))
		})
		return true

	case "orch-check":
		key, p := g.projectContext(m.st, in.Orch)
		ref := g.fallbackTaskRef(m, key, p, in.RequestID)
		if ref == "" {
			g.send(m, fmt.Sprintf("no request id. usage: aoe orch check [--orch <name>] [<request_or_alias>]\norch=%s", key), false, "orch-check usage")
			g.logEvent(m, eventlog.Row{Event: "input_rejected", Project: key, Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "check missing id"})
			return true
		}
		g.queryAndReply(m, key, p, ref, "orch-check", func(task *state.TaskRecord) string {
			return summarizeThreeStageRequest(key, task)
		})
		return true

	case "orch-task":
		g.handleTaskDetail(m, in)
		return true

	case "orch-pick":
		g.handlePick(m, in)
		return true

	case "orch-cancel":
		g.handleCancel(m, in)
		return true

	case "orch-add":
		g.handleOrchAdd(m, in)
		return true

	case "add-role":
		g.handleAddRole(m, in)
		return true
	}
	return false
}

// fallbackTaskRef implements the reference fallback chain: explicit ref,
// else the chat's selected task, else the project's last request.
func (g *Gateway) fallbackTaskRef(m *msgCtx, key string, p *state.Project, explicit string) string {
	ref := strings.TrimSpace(explicit)
	if ref == "" && m.session.SelectedTaskRefs != nil {
		ref = m.session.SelectedTaskRefs[key]
	}
	if ref == "" {
		ref = p.LastRequestID
	}
	return ref
}

// queryAndReply refreshes one task from the orchestrator and replies
// with the renderer's output.
func (g *Gateway) queryAndReply(m *msgCtx, key string, p *state.Project, ref, context string, render func(*state.TaskRecord) string) {
	reqID := g.resolveTaskRef(m, key, p, ref)
	if reqID == "" {
		reqID = strings.TrimSpace(ref) // allow querying ids the registry never saw
	}
	task, err := g.refreshTaskFromOrchestrator(m, key, p, reqID)
	if err != nil {
		g.failureReply(m, err, "/monitor 로 작업 목록을 확인하세요.", context)
		return
	}
	g.send(m, render(task), false, context)
	g.logEvent(m, eventlog.Row{
		Event: strings.ReplaceAll(context, "-", "_") + "_sent", Project: key, RequestID: reqID,
		TaskShortID: task.ShortID, TaskAlias: task.Alias,
		Stage: string(task.Stage), Status: "completed",
	})
}

func (g *Gateway) handleTaskDetail(m *msgCtx, in parser.Intent) {
	key, p := g.projectContext(m.st, in.Orch)
	ref := g.fallbackTaskRef(m, key, p, in.RequestID)
	if ref == "" {
		g.send(m, fmt.Sprintf("no request id. usage: aoe orch task [--orch <name>] [<request_or_alias>]\norch=%s", key), false, "orch-task usage")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Project: key, Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "task missing id"})
		return
	}
	reqID := g.resolveTaskRef(m, key, p, ref)
	if reqID == "" {
		reqID = strings.TrimSpace(ref)
	}
	task := p.Tasks[reqID]
	if task == nil {
		var err error
		task, err = g.refreshTaskFromOrchestrator(m, key, p, reqID)
		if err != nil {
			task = nil
		}
	}
	if task == nil {
		g.send(m, fmt.Sprintf("no lifecycle record: request_or_alias=%s (orch=%s)", ref, key), false, "orch-task missing")
		g.logEvent(m, eventlog.Row{Event: "task_missing", Project: key, RequestID: reqID, Stage: "intake", Status: "rejected"})
		return
	}
	now := g.now()
	m.session.RememberTask(key, reqID, now)
	m.session.SelectTask(key, reqID, now)
	g.send(m, summarizeTaskLifecycle(key, task), false, "orch-task")
	g.logEvent(m, eventlog.Row{Event: "task_sent", Project: key, RequestID: reqID,
		TaskShortID: task.ShortID, TaskAlias: task.Alias, Stage: string(task.Stage), Status: "completed"})
}

func (g *Gateway) handlePick(m *msgCtx, in parser.Intent) {
	key, p := g.projectContext(m.st, in.Orch)
	ref := strings.TrimSpace(in.RequestID)
	if ref == "" {
		g.send(m, "usage: /pick <number|request_or_alias> | aoe pick <number|request_or_alias>", true, "orch-pick usage")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Project: key, Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "pick missing ref"})
		return
	}
	reqID := g.resolveTaskRef(m, key, p, ref)
	if reqID == "" {
		g.send(m, fmt.Sprintf("task not found: %s (orch=%s)", ref, key), true, "orch-pick missing")
		g.logEvent(m, eventlog.Row{Event: "task_missing", Project: key, Stage: "intake", Status: "rejected", Detail: "ref=" + ref})
		return
	}
	now := g.now()
	m.session.SelectTask(key, reqID, now)
	m.session.RememberTask(key, reqID, now)
	task := p.Tasks[reqID]
	label := taskDisplayLabel(task, reqID)
	g.send(m, fmt.Sprintf(
		"selected task updated\n- orch: %s\n- task: %s\n- request_id: %s\nnext: /check, /task, /retry, /replan, /cancel",
		key, label, reqID), true, "orch-pick")
	g.logEvent(m, eventlog.Row{Event: "task_picked", Project: key, RequestID: reqID,
		TaskShortID: shortID(task), TaskAlias: taskAlias(task), Stage: "intake", Status: "completed"})
}

func (g *Gateway) handleCancel(m *msgCtx, in parser.Intent) {
	key, p := g.projectContext(m.st, in.Orch)
	ref := g.fallbackTaskRef(m, key, p, in.RequestID)
	if ref == "" {
		g.send(m, fmt.Sprintf(
			"no request id. usage: /cancel <request_or_alias> | aoe orch cancel [--orch <name>] [<request_or_alias>]\norch=%s", key), false, "orch-cancel usage")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Project: key, Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "cancel missing id"})
		return
	}
	reqID := g.resolveTaskRef(m, key, p, ref)
	if reqID == "" {
		reqID = strings.TrimSpace(ref)
	}

	before, err := g.Orch.RequestSnapshot(m.ctx, p.TeamDir, reqID)
	if err != nil {
		g.failureReply(m, err, "/monitor 로 작업 목록을 확인하세요.", "orch-cancel")
		return
	}

	note := "canceled by telegram:" + m.chatID
	result := g.cancelAssignments(m, p.TeamDir, before, note)

	after, err := g.Orch.RequestSnapshot(m.ctx, p.TeamDir, reqID)
	if err != nil {
		after = before
	}

	now := g.now()
	task := p.Tasks[reqID]
	if task == nil {
		task = p.NewTask(reqID, state.ModeDispatch, "", m.chatID, now)
	}
	candidates := g.verifierCandidates()
	syncTaskLifecycle(task, after, nil, task.VerifierRoles, g.Cfg.RequireVerifier, candidates, now)
	for _, st := range []state.Stage{state.StageExecution, state.StageVerification, state.StageIntegration, state.StageClose} {
		task.SetStage(st, state.StatusFailed, note, now)
	}
	task.Status = state.TaskFailed
	task.Cancelled = true
	task.CancelNote = note
	p.LastRequestID = reqID
	p.UpdatedAt = now
	m.session.RememberTask(key, reqID, now)
	m.session.SelectTask(key, reqID, now)

	g.send(m, summarizeCancelResult(key, reqID, task, result), true, "orch-cancel")
	g.logEvent(m, eventlog.Row{Event: "dispatch_canceled", Project: key, RequestID: reqID,
		TaskShortID: task.ShortID, TaskAlias: task.Alias, Stage: "close", Status: "failed"})
}

// cancelResult aggregates one cancellation sweep over a request's
// assignments.
type cancelResult struct {
	Targets  int
	Canceled []string
	Failed   []string
	Skipped  []string
}

// cancelAssignments fails every non-terminal assignment that still has
// a message id.
func (g *Gateway) cancelAssignments(m *msgCtx, teamDir string, snap lifecycle.Snapshot, note string) cancelResult {
	var res cancelResult
	for _, row := range snap.Roles {
		role := strings.TrimSpace(row.Role)
		status := strings.ToLower(strings.TrimSpace(row.Status))
		if row.MessageID == "" {
			res.Skipped = append(res.Skipped, orToken(role, "?")+"(no_message_id)")
			continue
		}
		switch status {
		case "done", "failed", "error", "fail":
			res.Skipped = append(res.Skipped, orToken(role, "?")+"("+orToken(status, "terminal")+")")
			continue
		}
		res.Targets++
		label := fmt.Sprintf("%s:%s:%s", orToken(role, "?"), row.MessageID, orToken(status, "pending"))
		if err := g.Orch.Fail(m.ctx, teamDir, row.MessageID, note, role); err != nil {
			res.Failed = append(res.Failed, label+":"+truncateStr(err.Error(), 120))
		} else {
			res.Canceled = append(res.Canceled, label)
		}
	}
	return res
}

func (g *Gateway) handleOrchAdd(m *msgCtx, in parser.Intent) {
	name := strings.ToLower(strings.TrimSpace(in.Orch))
	path := strings.TrimSpace(in.ProjectRoot)
	if name == "" || path == "" {
		g.send(m, "usage: aoe orch add <name> --path <project_root> [--overview <text>] [--init|--no-init] [--spawn|--no-spawn]", false, "orch-add usage")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "orch-add usage"})
		return
	}

	projectRoot := util.ExpandHome(path)
	if root := strings.TrimSpace(g.Cfg.WorkspaceRoot); root != "" && !pathWithin(projectRoot, root) {
		g.send(m, fmt.Sprintf("error: path must be under workspace root (%s)\npath=%s", root, projectRoot), false, "orch-add path")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "orch-add outside workspace root"})
		return
	}
	teamDir := filepath.Join(projectRoot, ".aoe-team")
	overview := strings.TrimSpace(in.Overview)
	if overview == "" {
		overview = name + " project orchestration"
	}

	if g.Cfg.DryRun {
		g.send(m, fmt.Sprintf(
			"[DRY-RUN] orch add\n- name: %s\n- path: %s\n- team: %s\n- init: %s\n- spawn: %s\n- set_active: %s",
			name, projectRoot, teamDir, yesNo(in.DoInit), yesNo(in.DoSpawn), yesNo(in.SetActive)), false, "orch-add dry-run")
		g.logEvent(m, eventlog.Row{Event: "orch_add_dry_run", Project: name, Stage: "intake", Status: "ok"})
		return
	}

	now := g.now()
	p, existed := m.st.Projects[name]
	if !existed {
		p = state.NewProject(projectRoot, teamDir, now)
		m.st.Projects[name] = p
	} else {
		p.ProjectRoot = projectRoot
		p.TeamDir = teamDir
	}
	p.Overview = overview
	p.UpdatedAt = now
	if in.SetActive {
		m.st.Active = name
	}

	var logs []string
	if in.DoInit {
		out, err := g.Orch.Init(m.ctx, projectRoot, overview)
		if err != nil {
			g.failureReply(m, err, "aoe orch add "+name+" --path "+path+" --no-init 로 다시 시도하세요.", "orch-add")
			return
		}
		logs = append(logs, lastLine(out))
	}
	if in.DoSpawn {
		out, err := g.Orch.Spawn(m.ctx, projectRoot, teamDir)
		if err != nil {
			g.failureReply(m, err, "aoe spawn 으로 다시 시도하세요.", "orch-add")
			return
		}
		logs = append(logs, lastLine(out))
	}

	lines := []string{
		"orch ready: " + name,
		"root: " + p.ProjectRoot,
		"team: " + p.TeamDir,
		"active: " + yesNo(m.st.Active == name),
	}
	if len(logs) > 0 {
		lines = append(lines, "logs:")
		lines = append(lines, logs...)
	}
	g.send(m, strings.Join(lines, "\n"), false, "orch-add")
	g.logEvent(m, eventlog.Row{Event: "orch_added", Project: name, Stage: "intake", Status: "completed"})
}

func (g *Gateway) handleAddRole(m *msgCtx, in parser.Intent) {
	key, p := g.projectContext(m.st, in.Orch)
	role := strings.TrimSpace(in.Role)
	if role == "" {
		g.send(m, "usage: aoe add-role --role <Role> [--provider <name>] [--launch <cmd>] [--spawn|--no-spawn]", false, "add-role usage")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Project: key, Stage: "intake", Status: "rejected", ErrorCode: "E_COMMAND", Detail: "add-role usage"})
		return
	}
	if g.Cfg.DryRun {
		g.send(m, fmt.Sprintf(
			"[DRY-RUN] add-role\n- orch: %s\n- role: %s\n- provider: %s\n- launch: %s\n- spawn: %s",
			key, role, orToken(in.Provider, "-"), orToken(in.Launch, "-"), yesNo(in.Spawn)), false, "add-role dry-run")
		g.logEvent(m, eventlog.Row{Event: "add_role_dry_run", Project: key, Stage: "intake", Status: "ok"})
		return
	}
	out, err := g.Orch.AddRole(m.ctx, orchclient.AddRoleOptions{
		ProjectRoot: p.ProjectRoot, TeamDir: p.TeamDir,
		Role: role, Provider: in.Provider, Launch: in.Launch, Spawn: in.Spawn,
	})
	if err != nil {
		g.failureReply(m, err, "aoe status 로 팀 구성을 확인하세요.", "add-role")
		return
	}
	lines := []string{"role added: " + role, "orch: " + key}
	if v, ok := out["status"].(string); ok && v != "" {
		lines = append(lines, "status: "+v)
	}
	if v, ok := out["session"].(string); ok && v != "" {
		lines = append(lines, "session: "+v)
	}
	g.send(m, strings.Join(lines, "\n"), false, "add-role")
	g.logEvent(m, eventlog.Row{Event: "role_added", Project: key, Stage: "staffing", Status: "completed", Detail: "role=" + role})
}

func (g *Gateway) verifierCandidates() []string {
	return dispatch.ResolveVerifierCandidates(g.Cfg.VerifierRoles)
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[len(lines)-1]) == "" {
		return "(empty)"
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

// pathWithin reports whether path sits inside root after cleaning.
func pathWithin(path, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

func helpText() string {
	return "AOE Telegram Gateway commands\n" +
		"Quick mode (slash-only default)\n" +
		"- /status /check /task /monitor /kpi /help\n" +
		"- /mode [on|off|direct]\n" +
		"- /on /off\n" +
		"- /ok (고위험 자동실행 확인)\n" +
		"- /whoami /lockme\n" +
		"- /acl /grant /revoke\n" +
		"- /pick <번호|task_label>\n" +
		"- /dispatch <요청>   (서브에이전트 배정)\n" +
		"- /direct <질문>     (오케스트레이터 직접 답변)\n" +
		"- /dispatch 또는 /direct만 입력하면 다음 메시지 1회 모드\n" +
		"- /cancel (대기 모드 해제)\n" +
		"\n" +
		"Slash mode\n" +
		"- /help\n" +
		"- /status\n" +
		"- /mode [on|off|direct|dispatch]\n" +
		"- /on /off\n" +
		"- /ok\n" +
		"- /acl\n" +
		"- /grant <allow|admin|readonly> <chat_id|alias>\n" +
		"- /revoke <allow|admin|readonly|all> <chat_id|alias>\n" +
		"- /kpi [hours]\n" +
		"- /pick <number|request_or_alias>\n" +
		"- /cancel [request_or_alias]\n" +
		"- /retry <request_or_alias>\n" +
		"- /replan <request_or_alias>\n" +
		"- /request <request_or_alias>\n" +
		"- /run <prompt>\n" +
		"\n" +
		"CLI mode\n" +
		"- aoe status\n" +
		"- aoe monitor [limit]\n" +
		"- aoe run [--roles <csv>] [--priority P1|P2|P3] [--direct|--dispatch] <prompt>\n" +
		"- aoe orch add <name> --path <root> [--overview <text>]\n" +
		"- aoe orch use <name>\n" +
		"- aoe add-role --role <Role> [--provider <name>]"
}

// taskDisplayLabel prefers alias, then short id, then the request id.
func taskDisplayLabel(task *state.TaskRecord, fallbackRequestID string) string {
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

// latestTaskRequestRefs returns up to limit request ids ordered by most
// recent update.
func latestTaskRequestRefs(p *state.Project, limit int) []string {
	type row struct {
		id   string
		task *state.TaskRecord
	}
	rows := make([]row, 0, len(p.Tasks))
	for id, t := range p.Tasks {
		rows = append(rows, row{id, t})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].task.UpdatedAt.After(rows[j].task.UpdatedAt)
	})
	if limit > len(rows) {
		limit = len(rows)
	}
	out := make([]string, 0, limit)
	for _, r := range rows[:limit] {
		out = append(out, r.id)
	}
	return out
}

func summarizeTaskMonitor(projectName string, p *state.Project, limit int) string {
	if len(p.Tasks) == 0 {
		return fmt.Sprintf("orch: %s\n작업이 없습니다.", projectName)
	}

	refs := latestTaskRequestRefs(p, limit)
	counts := map[state.TaskStatus]int{}
	for _, t := range p.Tasks {
		counts[t.Status]++
	}

	lines := []string{
		"orch: " + projectName,
		fmt.Sprintf("task monitor: latest %d", len(refs)),
		"format: label | status/stage | roles | updated",
		fmt.Sprintf("summary: total=%d running=%d completed=%d failed=%d pending=%d",
			len(p.Tasks), counts[state.TaskRunning], counts[state.TaskCompleted],
			counts[state.TaskFailed], counts[state.TaskPending]),
	}

	for i, id := range refs {
		t := p.Tasks[id]
		roles := t.Roles
		roleText := strings.Join(firstNStrings(roles, 2), ", ")
		if len(roles) > 2 {
			roleText += fmt.Sprintf(" +%d", len(roles)-2)
		}
		updated := "-"
		if !t.UpdatedAt.IsZero() {
			updated = t.UpdatedAt.Format("2006-01-02 15:04")
		}
		lines = append(lines, fmt.Sprintf("- %d. %s | %s/%s | %s | %s",
			i+1, taskDisplayLabel(t, id), t.Status, t.Stage, orToken(roleText, "-"), updated))
	}

	lines = append(lines, "", "alias map (number/label -> request_id):")
	for i, id := range refs {
		lines = append(lines, fmt.Sprintf("- %d. %s -> %s", i+1, taskDisplayLabel(p.Tasks[id], id), id))
	}
	lines = append(lines, "", "quick actions: /check <번호|label> /task <번호|label> /retry <번호|label> /replan <번호|label> /cancel <번호|label>")
	return strings.Join(lines, "\n")
}

func summarizeTaskLifecycle(projectName string, t *state.TaskRecord) string {
	lines := []string{
		"orch: " + projectName,
		"task: " + taskDisplayLabel(t, t.RequestID),
		"request_id: " + orToken(t.RequestID, "-"),
		"status: " + string(t.Status),
		"mode: " + string(t.Mode),
		"roles: " + orToken(strings.Join(t.Roles, ", "), "-"),
		"verifier_roles: " + orToken(strings.Join(t.VerifierRoles, ", "), "-"),
		"lifecycle:",
	}
	for _, stage := range state.Stages() {
		lines = append(lines, fmt.Sprintf("- %s: %s", stage, t.Stages.Get(stage)))
	}

	if t.Plan != nil {
		if s := strings.TrimSpace(t.Plan.Summary); s != "" {
			lines = append(lines, "plan_summary: "+s)
		}
		lines = append(lines, fmt.Sprintf("plan_subtasks: %d", len(t.Plan.Subtasks)))
		for _, sub := range t.Plan.Subtasks {
			if len(lines) > 40 {
				break
			}
			lines = append(lines, fmt.Sprintf("- plan %s [%s] %s",
				orToken(sub.ID, "S"), orToken(sub.OwnerRole, "Worker"), orToken(sub.Title, orToken(sub.Goal, "subtask"))))
		}
	}
	if t.PlanCritic != nil {
		verdict := "approved"
		if !t.PlanCritic.Approved || len(t.PlanCritic.Issues) > 0 {
			verdict = "needs_fix"
		}
		lines = append(lines, "plan_critic: "+verdict)
		for _, issue := range firstNStrings(t.PlanCritic.Issues, 4) {
			lines = append(lines, "- issue: "+issue)
		}
		for _, rec := range firstNStrings(t.PlanCritic.Recommendations, 4) {
			lines = append(lines, "- recommendation: "+rec)
		}
		lines = append(lines, "plan_gate: "+map[bool]string{true: "passed", false: "blocked"}[t.PlanGatePassed])
	}
	if n := len(t.PlanReplans); n > 0 {
		lines = append(lines, fmt.Sprintf("plan_replans: %d", n))
		start := n - 3
		if start < 0 {
			start = 0
		}
		for _, r := range t.PlanReplans[start:] {
			lines = append(lines, fmt.Sprintf("- replan#%d: critic=%s subtasks=%d", r.Attempt, r.Critic, len(r.Subtasks)))
		}
	}

	res := t.Result
	lines = append(lines, fmt.Sprintf("result: assignments=%d replies=%d complete=%s",
		res.Assignments, res.Replies, yesNo(res.Complete)))
	if len(res.DoneRoles) > 0 {
		lines = append(lines, "done_roles: "+strings.Join(res.DoneRoles, ", "))
	}
	if len(res.FailedRoles) > 0 {
		lines = append(lines, "failed_roles: "+strings.Join(res.FailedRoles, ", "))
	}
	if len(res.PendingRoles) > 0 {
		lines = append(lines, "pending_roles: "+strings.Join(res.PendingRoles, ", "))
	}

	if t.SourceRequestID != "" {
		lines = append(lines, fmt.Sprintf("lineage: %s_of=%s", t.ControlMode, t.SourceRequestID))
	}
	if len(t.RetryChildren) > 0 {
		lines = append(lines, "retry_children: "+strings.Join(t.RetryChildren, ", "))
	}
	if len(t.ReplanChildren) > 0 {
		lines = append(lines, "replan_children: "+strings.Join(t.ReplanChildren, ", "))
	}
	return strings.Join(lines, "\n")
}

func summarizeThreeStageRequest(projectName string, t *state.TaskRecord) string {
	res := t.Result

	stage1 := "대기"
	if res.Assignments > 0 {
		stage1 = "완료"
	}

	stage2 := "대기"
	switch {
	case len(res.FailedRoles) > 0:
		stage2 = "이슈"
	case len(res.PendingRoles) > 0:
		stage2 = "진행중"
	case res.Assignments > 0:
		stage2 = "완료"
	}

	stage3 := "대기"
	switch {
	case res.Complete && len(res.FailedRoles) == 0:
		stage3 = "완료"
	case res.Replies > 0:
		stage3 = "부분완료"
	}

	lines := []string{
		"orch: " + projectName,
		"task: " + taskDisplayLabel(t, t.RequestID),
		"request_id: " + orToken(t.RequestID, "-"),
		"3단계 진행확인",
		fmt.Sprintf("1) 접수/배정: %s (assignments=%d)", stage1, res.Assignments),
		"2) 실행: " + stage2,
		fmt.Sprintf("3) 완료/회신: %s (replies=%d, complete=%s)", stage3, res.Replies, yesNo(res.Complete)),
	}
	if len(res.DoneRoles) > 0 {
		lines = append(lines, "done: "+strings.Join(res.DoneRoles, ", "))
	}
	if len(res.FailedRoles) > 0 {
		lines = append(lines, "failed: "+strings.Join(res.FailedRoles, ", "))
	}
	if len(res.PendingRoles) > 0 {
		lines = append(lines, "pending: "+strings.Join(res.PendingRoles, ", "))
	}
	return strings.Join(lines, "\n")
}

func summarizeRequestState(t *state.TaskRecord) string {
	res := t.Result
	lines := []string{
		"request_id: " + orToken(t.RequestID, "-"),
		"complete: " + yesNo(res.Complete),
		fmt.Sprintf("assignments: %d", res.Assignments),
		fmt.Sprintf("replies: %d", res.Replies),
		"status: " + string(t.Status),
		"stage: " + string(t.Stage),
	}
	if len(res.DoneRoles) > 0 {
		lines = append(lines, "done_roles: "+strings.Join(res.DoneRoles, ", "))
	}
	if len(res.FailedRoles) > 0 {
		lines = append(lines, "failed_roles: "+strings.Join(res.FailedRoles, ", "))
	}
	if len(res.PendingRoles) > 0 {
		lines = append(lines, "pending_roles: "+strings.Join(res.PendingRoles, ", "))
	}
	return strings.Join(lines, "\n")
}

func summarizeOrchRegistry(st *state.ManagerState) string {
	if len(st.Projects) == 0 {
		return "orch registry empty"
	}
	keys := make([]string, 0, len(st.Projects))
	for k := range st.Projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{"active: " + st.Active, "projects:"}
	for _, key := range keys {
		p := st.Projects[key]
		marker := "-"
		if key == st.Active {
			marker = "*"
		}
		lastLabel := "-"
		if p.LastRequestID != "" {
			lastLabel = taskDisplayLabel(p.Tasks[p.LastRequestID], p.LastRequestID)
		}
		lines = append(lines, fmt.Sprintf("%s %s | root=%s | last_task=%s", marker, key, p.ProjectRoot, lastLabel))
	}
	return strings.Join(lines, "\n")
}

func summarizeCancelResult(projectName, requestID string, t *state.TaskRecord, res cancelResult) string {
	lines := []string{
		"orch: " + projectName,
		"task: " + taskDisplayLabel(t, requestID),
		"request_id: " + requestID,
		fmt.Sprintf("cancel: targets=%d canceled=%d failed=%d skipped=%d",
			res.Targets, len(res.Canceled), len(res.Failed), len(res.Skipped)),
	}
	if len(res.Canceled) > 0 {
		lines = append(lines, "canceled_roles: "+strings.Join(firstNStrings(res.Canceled, 6), ", "))
	}
	if len(res.Failed) > 0 {
		lines = append(lines, "cancel_failures: "+strings.Join(firstNStrings(res.Failed, 4), ", "))
	}
	if len(res.Skipped) > 0 {
		lines = append(lines, "skipped: "+strings.Join(firstNStrings(res.Skipped, 6), ", "))
	}
	return strings.Join(lines, "\n")
}

func firstNStrings(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}

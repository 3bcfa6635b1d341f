// Package planner turns a dispatch prompt into an executable plan: a
// planner call, a critique call, and a bounded repair loop between them.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kimyoungjin06/aoe-orch-control/internal/llmclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// Options bounds one planning run.
type Options struct {
	AvailableRoles []string
	MaxSubtasks    int  // clamped to >= 1
	AutoReplan     bool // whether to run the repair loop at all
	MaxReplans     int  // clamped to >= 0
	BlockOnCritic  bool // whether an unresolved critic verdict gates dispatch
}

// Result is everything a plan run produces, ready to fold into a
// state.TaskRecord.
type Result struct {
	Plan        state.Plan
	Critic      state.Critic
	Replans     []state.ReplanAttempt
	Roles       []string // owner roles pulled out of the final plan's subtasks
	GateBlocked bool
	GateReason  string
	Err         error // set when the LLM calls failed; plan/critic are the safe defaults
}

// wirePlan is the JSON shape the planner/critic/repair prompts exchange
// with the LLM, deliberately permissive (fields default-zero on a parse
// failure rather than erroring the whole call).
type wirePlan struct {
	Summary  string `json:"summary"`
	Subtasks []struct {
		ID         string   `json:"id"`
		Title      string   `json:"title"`
		Goal       string   `json:"goal"`
		OwnerRole  string   `json:"owner_role"`
		Role       string   `json:"role"`
		Acceptance []string `json:"acceptance"`
	} `json:"subtasks"`
}

type wireCritic struct {
	Approved        bool     `json:"approved"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// workerRoles strips "Orchestrator" out of the available role list and
// falls back to a single generic "Reviewer" worker when nothing remains.
func workerRoles(available []string) []string {
	var out []string
	for _, r := range available {
		if !strings.EqualFold(r, "orchestrator") && r != "" {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return []string{"Reviewer"}
	}
	return out
}

func clampMax(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// normalize turns a best-effort parsed wirePlan into a well-formed
// state.Plan: every subtask gets an id, title, goal, a role drawn from the
// worker set, and at least one acceptance line. An empty or unparsable
// plan still yields a single catch-all subtask, so a plan never carries
// zero subtasks.
func normalize(parsed *wirePlan, userPrompt string, workers []string, maxSubtasks int) state.Plan {
	limit := clampMax(maxSubtasks)
	roleByLower := make(map[string]string, len(workers))
	for _, r := range workers {
		roleByLower[strings.ToLower(r)] = r
	}

	var subtasks []state.Subtask
	if parsed != nil {
		for i, row := range parsed.Subtasks {
			id := strings.TrimSpace(row.ID)
			if id == "" {
				id = fmt.Sprintf("S%d", i+1)
			}
			title := strings.TrimSpace(row.Title)
			if title == "" {
				title = strings.TrimSpace(row.Goal)
			}
			if title == "" {
				title = fmt.Sprintf("Subtask %d", i+1)
			}
			goal := strings.TrimSpace(row.Goal)
			if goal == "" {
				goal = title
			}
			roleRaw := strings.TrimSpace(row.OwnerRole)
			if roleRaw == "" {
				roleRaw = strings.TrimSpace(row.Role)
			}
			role, ok := roleByLower[strings.ToLower(roleRaw)]
			if !ok {
				role = workers[minInt(i, len(workers)-1)]
			}

			var acceptance []string
			for _, a := range row.Acceptance {
				a = strings.TrimSpace(a)
				if a != "" {
					acceptance = append(acceptance, a)
				}
			}
			if len(acceptance) == 0 {
				acceptance = []string{fmt.Sprintf("%s's result is tied back explicitly to the user's request.", title)}
			}
			if len(acceptance) > 3 {
				acceptance = acceptance[:3]
			}

			subtasks = append(subtasks, state.Subtask{
				ID: id, Title: title, Goal: goal, OwnerRole: role, Acceptance: acceptance,
			})
			if len(subtasks) >= limit {
				break
			}
		}
	}

	if len(subtasks) == 0 {
		subtasks = []state.Subtask{{
			ID:         "S1",
			Title:      "Execute the core request",
			Goal:       strings.TrimSpace(userPrompt),
			OwnerRole:  workers[0],
			Acceptance: []string{"Execution/verification output is summarized from the user's point of view."},
		}}
	}

	summary := ""
	if parsed != nil {
		summary = strings.TrimSpace(parsed.Summary)
	}
	if summary == "" {
		summary = fmt.Sprintf("subtasks=%d", len(subtasks))
	}

	return state.Plan{Summary: summary, Subtasks: subtasks}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func hasBlockers(c state.Critic) bool {
	return !c.Approved || len(c.Issues) > 0
}

func critique(ctx context.Context, llm *llmclient.Client, prompt string, plan state.Plan) state.Critic {
	payload, _ := json.Marshal(plan)
	critPrompt := fmt.Sprintf(critiquePromptTemplate, prompt, string(payload))

	raw, err := llm.Complete(ctx, critPrompt)
	if err != nil {
		return state.Critic{Approved: true}
	}
	obj, ok := llmclient.ExtractJSONObject(raw)
	if !ok {
		return state.Critic{Approved: true}
	}
	var w wireCritic
	w.Approved = true
	if json.Unmarshal([]byte(obj), &w) != nil {
		return state.Critic{Approved: true}
	}

	issues := capNonEmpty(w.Issues, 5)
	recs := capNonEmpty(w.Recommendations, 5)
	return state.Critic{Approved: w.Approved, Issues: issues, Recommendations: recs}
}

func capNonEmpty(in []string, limit int) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

const plannerPromptTemplate = "You are a task orchestration planner. Break the user request into an executable sub-task plan.\n" +
	"Output a single JSON object only. No prose.\n" +
	"JSON schema:\n" +
	"{\n" +
	"  \"summary\": \"one line\",\n" +
	"  \"subtasks\": [\n" +
	"    {\"id\":\"S1\", \"title\":\"...\", \"goal\":\"...\", \"owner_role\":\"ROLE\", \"acceptance\":[\"...\"]}\n" +
	"  ]\n" +
	"}\n" +
	"Constraints:\n" +
	"- owner_role must be one of: %s\n" +
	"- subtasks count: 1-%d\n" +
	"- each subtask should have a distinct deliverable\n" +
	"- acceptance: 1-3 verifiable sentences\n\n" +
	"User request:\n%s\n"

const critiquePromptTemplate = "You are a task plan critic. Check the plan below for gaps, over-decomposition, or unverifiable items.\n" +
	"Output a single JSON object only. No prose.\n" +
	"JSON schema:\n" +
	"{\n" +
	"  \"approved\": true|false,\n" +
	"  \"issues\": [\"...\"],\n" +
	"  \"recommendations\": [\"...\"]\n" +
	"}\n" +
	"Rules:\n" +
	"- issues: only critical/significant problems\n" +
	"- recommendations: only actionable fixes\n\n" +
	"User request:\n%s\n\n" +
	"plan:\n%s\n"

const repairPromptTemplate = "You are a task planner. Revise the plan to address the critic's issues.\n" +
	"Output a single JSON object only. No prose.\n" +
	"JSON schema:\n" +
	"{\n" +
	"  \"summary\": \"one line\",\n" +
	"  \"subtasks\": [\n" +
	"    {\"id\":\"S1\", \"title\":\"...\", \"goal\":\"...\", \"owner_role\":\"ROLE\", \"acceptance\":[\"...\"]}\n" +
	"  ]\n" +
	"}\n" +
	"Constraints:\n" +
	"- owner_role must be one of: %s\n" +
	"- subtasks count: 1-%d\n" +
	"- acceptance: 1-3 verifiable sentences\n" +
	"- resolve as many critic issues as possible\n\n" +
	"attempt: %d\n" +
	"User request:\n%s\n\n" +
	"current_plan:\n%s\n\n" +
	"critic:\n%s\n"

// Build runs the planner call, then the critique call, then (if enabled)
// the bounded repair loop, and finally applies the block-on-critic gate.
// A failed planner call is reported in Result.Err alongside an
// always-approved critic and no plan; a failed critique or repair call
// degrades to an approved critic or the unchanged plan, matching
// _compute_dispatch_plan's broad except-and-continue behavior.
func Build(ctx context.Context, llm *llmclient.Client, userPrompt string, opt Options) Result {
	workers := workerRoles(opt.AvailableRoles)
	limit := clampMax(opt.MaxSubtasks)

	plannerPrompt := fmt.Sprintf(plannerPromptTemplate, strings.Join(workers, ", "), limit, strings.TrimSpace(userPrompt))
	raw, err := llm.Complete(ctx, plannerPrompt)
	if err != nil {
		return Result{
			Critic: state.Critic{Approved: true},
			Err:    fmt.Errorf("plan call failed: %w", err),
		}
	}

	var parsed *wirePlan
	if obj, ok := llmclient.ExtractJSONObject(raw); ok {
		var w wirePlan
		if json.Unmarshal([]byte(obj), &w) == nil {
			parsed = &w
		}
	}
	plan := normalize(parsed, userPrompt, workers, limit)
	critic := critique(ctx, llm, userPrompt, plan)

	var replans []state.ReplanAttempt
	if opt.AutoReplan {
		maxReplans := opt.MaxReplans
		if maxReplans < 0 {
			maxReplans = 0
		}
		for attempt := 1; attempt <= maxReplans; attempt++ {
			if !hasBlockers(critic) {
				break
			}
			plan = repair(ctx, llm, userPrompt, plan, critic, workers, limit, attempt)
			critic = critique(ctx, llm, userPrompt, plan)

			summary := state.CriticApproved
			if hasBlockers(critic) {
				summary = state.CriticNeedsFix
			}
			replans = append(replans, state.ReplanAttempt{
				Attempt:  attempt,
				Critic:   summary,
				Subtasks: plan.Subtasks,
			})
		}
	}

	roles := rolesFromPlan(plan)

	res := Result{Plan: plan, Critic: critic, Replans: replans, Roles: roles}
	if opt.BlockOnCritic && hasBlockers(critic) {
		reason := "critic unresolved after auto-replan"
		if len(critic.Issues) > 0 {
			reason = critic.Issues[0]
		}
		if len(reason) > 240 {
			reason = reason[:240]
		}
		res.GateBlocked = true
		res.GateReason = reason
	}
	return res
}

func repair(ctx context.Context, llm *llmclient.Client, userPrompt string, plan state.Plan, critic state.Critic, workers []string, limit, attempt int) state.Plan {
	currentPayload, _ := json.Marshal(plan)
	criticPayload, _ := json.Marshal(critic)
	prompt := fmt.Sprintf(repairPromptTemplate, strings.Join(workers, ", "), limit, attempt, strings.TrimSpace(userPrompt), string(currentPayload), string(criticPayload))

	raw, err := llm.Complete(ctx, prompt)
	if err != nil {
		return plan
	}
	var parsed *wirePlan
	if obj, ok := llmclient.ExtractJSONObject(raw); ok {
		var w wirePlan
		if json.Unmarshal([]byte(obj), &w) == nil {
			parsed = &w
		}
	}
	if parsed == nil {
		return plan
	}
	return normalize(parsed, userPrompt, workers, limit)
}

// rolesFromPlan pulls the deduplicated, order-preserving set of owner
// roles out of a plan's subtasks.
func rolesFromPlan(plan state.Plan) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, st := range plan.Subtasks {
		if st.OwnerRole == "" {
			continue
		}
		if _, ok := seen[st.OwnerRole]; ok {
			continue
		}
		seen[st.OwnerRole] = struct{}{}
		out = append(out, st.OwnerRole)
	}
	return out
}

// BuildDispatchPrompt assembles the prompt the orchestrator subprocess
// receives once a plan has been approved (or gated-through): the user's
// original request, the plan summary, every subtask with its owner role,
// and any outstanding critic issues/recommendations. Grounded on
// build_planned_dispatch_prompt.
func BuildDispatchPrompt(userPrompt string, plan state.Plan, critic state.Critic) string {
	var b strings.Builder
	b.WriteString("Original user request:\n")
	b.WriteString(strings.TrimSpace(userPrompt))
	b.WriteString("\n\n")
	if plan.Summary != "" {
		b.WriteString("Plan summary:\n")
		b.WriteString(plan.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("Sub-tasks to execute:\n")
	for _, st := range plan.Subtasks {
		fmt.Fprintf(&b, "- %s [%s] %s: %s\n", st.ID, st.OwnerRole, st.Title, st.Goal)
	}

	if !critic.Approved || len(critic.Issues) > 0 || len(critic.Recommendations) > 0 {
		b.WriteString("\ncritic check:\n")
		for _, issue := range firstN(critic.Issues, 5) {
			fmt.Fprintf(&b, "- issue: %s\n", issue)
		}
		for _, rec := range firstN(critic.Recommendations, 5) {
			fmt.Fprintf(&b, "- fix: %s\n", rec)
		}
	}

	b.WriteString("\nProduce per-role execution/verification results that reflect the plan and checks above.")
	return b.String()
}

func firstN(in []string, n int) []string {
	if len(in) <= n {
		return in
	}
	return in[:n]
}

// AutoDispatchRoles proposes a role set from keyword matches in prompt when
// no roles were explicitly requested.
// Returned in a deterministic order: DataEngineer before Reviewer.
func AutoDispatchRoles(prompt string) []string {
	lower := strings.ToLower(prompt)
	dataKeys := []string{"data", "dataset", "etl", "schema", "sql", "pipeline", "품질", "데이터", "스키마", "적재", "정합성", "검증"}
	reviewKeys := []string{"review", "risk", "regression", "test", "qa", "bug", "리뷰", "리스크", "회귀", "테스트", "버그", "검토"}
	bothKeys := []string{"both", "둘 다", "둘다", "각각", "cross-check", "교차"}

	roles := make([]string, 0, 2)
	if containsAny(lower, dataKeys) {
		roles = append(roles, "DataEngineer")
	}
	if containsAny(lower, reviewKeys) {
		roles = append(roles, "Reviewer")
	}
	if len(roles) == 0 && containsAny(lower, bothKeys) {
		roles = []string{"DataEngineer", "Reviewer"}
	}
	return roles
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

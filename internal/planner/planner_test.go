package planner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/llmclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// scriptedRunner returns one canned response per call, in order, ignoring
// the actual prompt; it lets a test drive the plan/critique/repair loop
// deterministically without a real LLM subprocess.
type scriptedRunner struct {
	replies []string
	calls   int
}

func (r *scriptedRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, string, error) {
	if r.calls >= len(r.replies) {
		return "{}", "", nil
	}
	out := r.replies[r.calls]
	r.calls++
	return out, "", nil
}

func TestBuildApprovedOnFirstPass(t *testing.T) {
	runner := &scriptedRunner{replies: []string{
		`{"summary":"do the thing","subtasks":[{"id":"S1","title":"Fix bug","goal":"fix it","owner_role":"Reviewer","acceptance":["bug is gone"]}]}`,
		`{"approved":true,"issues":[],"recommendations":[]}`,
	}}
	llm := &llmclient.Client{Binary: "fake-llm", Runner: runner}

	res := Build(context.Background(), llm, "please review this", Options{
		AvailableRoles: []string{"Orchestrator", "Reviewer"},
		MaxSubtasks:    4,
		AutoReplan:     true,
		MaxReplans:     2,
		BlockOnCritic:  true,
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Critic.Approved {
		t.Fatal("expected critic to approve on first pass")
	}
	if res.GateBlocked {
		t.Fatal("gate should not trip on an approved plan")
	}
	if len(res.Plan.Subtasks) != 1 || res.Plan.Subtasks[0].OwnerRole != "Reviewer" {
		t.Fatalf("unexpected subtasks: %+v", res.Plan.Subtasks)
	}
	if len(res.Roles) != 1 || res.Roles[0] != "Reviewer" {
		t.Fatalf("unexpected roles: %v", res.Roles)
	}
	if len(res.Replans) != 0 {
		t.Fatalf("expected no replan attempts, got %d", len(res.Replans))
	}
}

func TestBuildRepairLoopStopsOnApproval(t *testing.T) {
	runner := &scriptedRunner{replies: []string{
		`{"summary":"v1","subtasks":[{"id":"S1","title":"t","goal":"g","owner_role":"Reviewer","acceptance":["a"]}]}`,
		`{"approved":false,"issues":["missing acceptance detail"],"recommendations":["add detail"]}`,
		`{"summary":"v2","subtasks":[{"id":"S1","title":"t2","goal":"g2","owner_role":"Reviewer","acceptance":["a2"]}]}`,
		`{"approved":true,"issues":[],"recommendations":[]}`,
	}}
	llm := &llmclient.Client{Binary: "fake-llm", Runner: runner}

	res := Build(context.Background(), llm, "do something", Options{
		AvailableRoles: []string{"Reviewer"},
		MaxSubtasks:    3,
		AutoReplan:     true,
		MaxReplans:     3,
		BlockOnCritic:  true,
	})

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Replans) != 1 {
		t.Fatalf("expected exactly one replan attempt, got %d", len(res.Replans))
	}
	if res.Replans[0].Critic != "approved" {
		t.Fatalf("expected replan attempt to record approval, got %s", res.Replans[0].Critic)
	}
	if res.Plan.Summary != "v2" {
		t.Fatalf("expected repaired plan to win, got summary %q", res.Plan.Summary)
	}
	if res.GateBlocked {
		t.Fatal("gate should not trip once repair resolves the critic")
	}
}

func TestBuildGateBlocksWhenCriticNeverApproves(t *testing.T) {
	runner := &scriptedRunner{replies: []string{
		`{"summary":"v1","subtasks":[{"id":"S1","title":"t","goal":"g","owner_role":"Reviewer","acceptance":["a"]}]}`,
		`{"approved":false,"issues":["bad plan"],"recommendations":[]}`,
		`{"summary":"v2","subtasks":[{"id":"S1","title":"t2","goal":"g2","owner_role":"Reviewer","acceptance":["a2"]}]}`,
		`{"approved":false,"issues":["still bad"],"recommendations":[]}`,
	}}
	llm := &llmclient.Client{Binary: "fake-llm", Runner: runner}

	res := Build(context.Background(), llm, "do something risky", Options{
		AvailableRoles: []string{"Reviewer"},
		MaxSubtasks:    3,
		AutoReplan:     true,
		MaxReplans:     1,
		BlockOnCritic:  true,
	})

	if !res.GateBlocked {
		t.Fatal("expected the gate to block once replans are exhausted with an unresolved critic")
	}
	if res.GateReason != "still bad" {
		t.Fatalf("expected gate reason to be the critic's lead issue, got %q", res.GateReason)
	}
}

func TestBuildFallsBackToCatchAllSubtaskOnUnparsableOutput(t *testing.T) {
	runner := &scriptedRunner{replies: []string{
		"not json at all",
		"also not json",
	}}
	llm := &llmclient.Client{Binary: "fake-llm", Runner: runner}

	res := Build(context.Background(), llm, "help me ship this", Options{
		AvailableRoles: []string{"Orchestrator"},
		MaxSubtasks:    2,
	})

	if len(res.Plan.Subtasks) != 1 {
		t.Fatalf("expected exactly one catch-all subtask, got %d", len(res.Plan.Subtasks))
	}
	if res.Plan.Subtasks[0].OwnerRole != "Reviewer" {
		t.Fatalf("expected fallback worker role Reviewer, got %q", res.Plan.Subtasks[0].OwnerRole)
	}
	if !res.Critic.Approved {
		t.Fatal("unparsable critic output should default to approved")
	}
}

func TestBuildDispatchPromptIncludesSubtasksAndCriticIssues(t *testing.T) {
	plan := state.Plan{
		Summary: "ship the fix",
		Subtasks: []state.Subtask{
			{ID: "S1", Title: "Fix bug", Goal: "fix it", OwnerRole: "Reviewer", Acceptance: []string{"bug is gone"}},
		},
	}
	critic := state.Critic{Approved: false, Issues: []string{"missing tests"}, Recommendations: []string{"add a test"}}

	prompt := BuildDispatchPrompt("please review this", plan, critic)

	for _, want := range []string{"please review this", "ship the fix", "S1", "Reviewer", "Fix bug", "missing tests", "add a test"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q, got:\n%s", want, prompt)
		}
	}
}

func TestAutoDispatchRolesOrdering(t *testing.T) {
	roles := AutoDispatchRoles("please run the etl pipeline and also review the regression risk")
	if len(roles) != 2 || roles[0] != "DataEngineer" || roles[1] != "Reviewer" {
		t.Fatalf("unexpected role order: %v", roles)
	}

	if roles := AutoDispatchRoles("let's cross-check both sides"); len(roles) != 2 {
		t.Fatalf("expected the both-keys fallback to produce two roles, got %v", roles)
	}

	if roles := AutoDispatchRoles("just say hi"); len(roles) != 0 {
		t.Fatalf("expected no roles for a plain greeting, got %v", roles)
	}
}

package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/errtax"
	"github.com/kimyoungjin06/aoe-orch-control/internal/guard"
	"github.com/kimyoungjin06/aoe-orch-control/internal/llmclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/orchclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

type fakeRunner struct {
	outputs []string
	calls   int
	err     error
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, _ string, _ ...string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	out := "{}"
	if f.calls < len(f.outputs) {
		out = f.outputs[f.calls]
	} else if len(f.outputs) > 0 {
		out = f.outputs[len(f.outputs)-1]
	}
	f.calls++
	return out, "", nil
}

type staticLister struct {
	tasks []*state.TaskRecord
}

func (l staticLister) TasksByInitiator(string) []*state.TaskRecord { return l.tasks }

func testDeps(orchOut, llmOut string) Deps {
	return Deps{
		Orch: &orchclient.Client{
			Binary: "orch", WorkerBinary: "worker",
			Runner: &fakeRunner{outputs: []string{orchOut}}, CommandTimeout: time.Second,
		},
		LLM:     &llmclient.Client{Binary: "llm", Runner: &fakeRunner{outputs: []string{llmOut}}, Timeout: time.Second},
		Lister:  staticLister{},
		Session: &state.ChatSession{},
	}
}

func baseConfig() Config {
	return Config{
		ProjectRoot: "/p", TeamDir: "/p/.aoe-team", OrchName: "default",
		DefaultPriority: "P2", OrchTimeoutSec: 60, OrchPollSec: 5,
		VerifierCandidates: []string{"Reviewer", "QA", "Verifier"},
		RateLimits:         guard.RateLimits{ChatMaxRunning: 2, ChatDailyCap: 30},
		ConfirmTTL:         10 * time.Minute,
	}
}

func baseRequest(prompt string) Request {
	return Request{ChatID: "12345", Prompt: prompt, ForceMode: "dispatch"}
}

func TestRunDirectDryRunPreview(t *testing.T) {
	cfg := baseConfig()
	cfg.DryRun = true
	req := baseRequest("hello")
	req.ForceMode = "direct"

	reply, err := Run(context.Background(), cfg, testDeps("{}", ""), req, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(reply.Text, "[DRY-RUN] orch=default mode: direct") {
		t.Errorf("unexpected preview:\n%s", reply.Text)
	}
}

func TestRunRateLimitedRejectsWithEGate(t *testing.T) {
	cfg := baseConfig()
	cfg.RateLimits.ChatMaxRunning = 1
	deps := testDeps("{}", "")
	deps.Lister = staticLister{tasks: []*state.TaskRecord{{Status: state.TaskRunning}}}

	reply, err := Run(context.Background(), cfg, deps, baseRequest("more work"), time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.ErrorCode != errtax.EGate || reply.EventName != "rate_limited" {
		t.Errorf("expected rate_limited/E_GATE, got %+v", reply)
	}
}

func TestRunRateLimitSkippedForRetryTransition(t *testing.T) {
	cfg := baseConfig()
	cfg.RateLimits.ChatMaxRunning = 1
	cfg.DryRun = true
	deps := testDeps("{}", "")
	deps.Lister = staticLister{tasks: []*state.TaskRecord{{Status: state.TaskRunning}}}

	req := baseRequest("retry me")
	req.ControlMode = state.ControlRetry
	req.SourceRequestID = "req-0"

	reply, err := Run(context.Background(), cfg, deps, req, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.ErrorCode != "" {
		t.Errorf("retry transition should bypass the rate gate, got %+v", reply)
	}
}

func TestRunHighRiskDefaultModeStoresConfirmToken(t *testing.T) {
	cfg := baseConfig()
	deps := testDeps("{}", "")
	req := baseRequest("rm -rf /srv/data")
	req.AutoSource = "default"

	now := time.Now()
	reply, err := Run(context.Background(), cfg, deps, req, now)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.EventName != "confirm_required" {
		t.Fatalf("expected confirm_required, got %+v", reply)
	}
	c := deps.Session.ConfirmAction
	if c == nil || c.Risk != "destructive_delete" || !c.RequestedAt.Equal(now) {
		t.Errorf("confirm token not stored correctly: %+v", c)
	}
}

func TestRunVerifierGateRejectsWithoutCandidate(t *testing.T) {
	cfg := baseConfig()
	cfg.RequireVerifier = true
	req := baseRequest("ship it")
	req.RolesOverride = "Builder"
	req.AvailableRoles = []string{"Builder"} // no verifier candidate available

	reply, err := Run(context.Background(), cfg, testDeps("{}", ""), req, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.ErrorCode != errtax.EGate || reply.EventName != "verifier_setup_failed" {
		t.Errorf("expected verifier gate rejection, got %+v", reply)
	}
}

func TestRunDispatchReconcilesTaskAndRendersAcceptedReply(t *testing.T) {
	orchOut := `{"request_id":"req-1","roles":[{"role":"Builder","status":"pending","message_id":"m1"}],` +
		`"counts":{"assignments":1,"replies":0},"complete":false,"pending_roles":["Builder"]}`
	cfg := baseConfig()
	req := baseRequest("build the feature")
	req.RolesOverride = "Builder"

	reply, err := Run(context.Background(), cfg, testDeps(orchOut, ""), req, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.Task == nil || reply.RequestID != "req-1" {
		t.Fatalf("missing task record: %+v", reply)
	}
	if reply.Task.Status != state.TaskRunning {
		t.Errorf("task status = %s, want running", reply.Task.Status)
	}
	if !strings.Contains(reply.Text, "task accepted") {
		t.Errorf("expected accepted placeholder reply, got:\n%s", reply.Text)
	}
}

func TestRunDispatchSynthesizesReplyOnCompletion(t *testing.T) {
	orchOut := `{"request_id":"req-2","roles":[{"role":"Builder","status":"done"}],` +
		`"counts":{"assignments":1,"replies":1},"complete":true,"done_roles":["Builder"],` +
		`"replies":[{"role":"Builder","body":"all green"}]}`
	cfg := baseConfig()
	deps := testDeps(orchOut, "Everything is done and verified.")
	req := baseRequest("finish the task")
	req.RolesOverride = "Builder"

	reply, err := Run(context.Background(), cfg, deps, req, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.EventName != "dispatch_completed" {
		t.Fatalf("expected dispatch_completed, got %+v", reply)
	}
	if !strings.Contains(reply.Text, "Everything is done") {
		t.Errorf("expected synthesized reply, got:\n%s", reply.Text)
	}
	if reply.Task.Status != state.TaskCompleted {
		t.Errorf("task status = %s, want completed", reply.Task.Status)
	}
}

func TestRunVerifierFailureYieldsEGateReply(t *testing.T) {
	orchOut := `{"request_id":"req-3","roles":[{"role":"Builder","status":"done"},{"role":"Reviewer","status":"failed"}],` +
		`"counts":{"assignments":2,"replies":1},"complete":true,"done_roles":["Builder"],"failed_roles":["Reviewer"]}`
	cfg := baseConfig()
	cfg.RequireVerifier = true
	req := baseRequest("risky change")
	req.RolesOverride = "Builder,Reviewer"
	req.AvailableRoles = []string{"Builder", "Reviewer"}

	reply, err := Run(context.Background(), cfg, testDeps(orchOut, ""), req, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reply.ErrorCode != errtax.EGate || reply.EventName != "dispatch_failed" {
		t.Errorf("expected verifier gate failure, got %+v", reply)
	}
}

func TestRunRecordsRetryLineage(t *testing.T) {
	orchOut := `{"request_id":"req-child","counts":{"assignments":1,"replies":0},"complete":false,"pending_roles":["Builder"],"roles":[{"role":"Builder","status":"pending"}]}`
	cfg := baseConfig()
	source := state.NewTaskRecord("req-parent", "T-001", "fix-login", state.ModeDispatch, "fix login", "12345", time.Now())

	req := baseRequest("fix login")
	req.RolesOverride = "Builder"
	req.ControlMode = state.ControlRetry
	req.SourceRequestID = "req-parent"
	req.SourceTask = source

	reply, err := Run(context.Background(), cfg, testDeps(orchOut, ""), req, time.Now())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	child := reply.Task
	if child == nil || child.RequestID != "req-child" {
		t.Fatalf("retry should file a fresh child record, got %+v", child)
	}
	if child.SourceRequestID != "req-parent" || child.ControlMode != state.ControlRetry {
		t.Errorf("lineage fields not set on child: %+v", child)
	}
	if len(source.RetryChildren) != 1 || source.RetryChildren[0] != "req-child" {
		t.Errorf("parent retry_children = %v, want [req-child]", source.RetryChildren)
	}
}

func TestEnsureVerifierRolesAutoAddsFirstCandidate(t *testing.T) {
	out := ensureVerifierRoles([]string{"Builder"}, []string{"Builder", "QA"}, []string{"Reviewer", "QA", "Verifier"})
	if !out.Added {
		t.Fatal("expected a verifier to be auto-added")
	}
	if len(out.VerifierRoles) != 1 || out.VerifierRoles[0] != "QA" {
		t.Errorf("verifier roles = %v, want [QA]", out.VerifierRoles)
	}
	if !contains(out.Selected, "QA") {
		t.Errorf("selected roles missing auto-added verifier: %v", out.Selected)
	}
}

package gateway

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/acl"
	"github.com/kimyoungjin06/aoe-orch-control/internal/config"
	"github.com/kimyoungjin06/aoe-orch-control/internal/eventlog"
	"github.com/kimyoungjin06/aoe-orch-control/internal/llmclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/orchclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

type fakeRunner struct {
	out string
	err error
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, _ string, _ ...string) (string, string, error) {
	return f.out, "", f.err
}

type sentMsg struct {
	chatID   string
	text     string
	withMenu bool
}

type harness struct {
	g    *Gateway
	sent *[]sentMsg
}

func newHarness(t *testing.T, mutate func(*config.Config, *acl.ACL)) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.ProjectRoot = dir
	cfg.TeamDir = filepath.Join(dir, ".aoe-team")
	cfg.OrchBin = "aoe-orch"
	cfg.WorkerBin = "aoe-msg"
	cfg.LLMBin = "llm"
	cfg.DryRun = true
	cfg.TaskPlanning = false

	a := acl.New(false)
	if mutate != nil {
		mutate(&cfg, a)
	}

	var sent []sentMsg
	runner := &fakeRunner{out: "{}"}
	g := &Gateway{
		Cfg:       cfg,
		Store:     state.NewStore(filepath.Join(cfg.TeamDir, "orch_manager_state.json")),
		ACL:       a,
		Aliases:   acl.NewAliasBook(),
		AliasPath: filepath.Join(cfg.TeamDir, "telegram_chat_aliases.json"),
		Orch: &orchclient.Client{
			Binary: cfg.OrchBin, WorkerBinary: cfg.WorkerBin,
			Runner: runner, CommandTimeout: time.Second, RunTimeout: time.Second,
		},
		LLM: &llmclient.Client{Binary: cfg.LLMBin, Runner: runner, Timeout: time.Second},
		Log: eventlog.New(cfg.TeamDir, 0, 0),
		Send: func(chatID, text string, withMenu bool) bool {
			sent = append(sent, sentMsg{chatID, text, withMenu})
			return true
		},
	}
	return &harness{g: g, sent: &sent}
}

func (h *harness) handle(t *testing.T, chatID, text string) {
	t.Helper()
	if err := h.g.HandleMessage(context.Background(), chatID, text, eventlog.NewTraceID()); err != nil {
		t.Fatalf("HandleMessage(%q): %v", text, err)
	}
}

func (h *harness) lastReply(t *testing.T) sentMsg {
	t.Helper()
	if len(*h.sent) == 0 {
		t.Fatal("no reply was sent")
	}
	return (*h.sent)[len(*h.sent)-1]
}

func (h *harness) loadState(t *testing.T) *state.ManagerState {
	t.Helper()
	st, err := h.g.Store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return st
}

func TestHelpReplyMentionsQuickMode(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/help")
	if !strings.Contains(h.lastReply(t).text, "Quick mode") {
		t.Errorf("help reply missing Quick mode:\n%s", h.lastReply(t).text)
	}
	if !h.lastReply(t).withMenu {
		t.Error("help reply should carry the command keyboard")
	}
}

func TestWhoamiReportsOwner(t *testing.T) {
	h := newHarness(t, func(_ *config.Config, a *acl.ACL) {
		a.Allow.Add("99999")
		a.Owner = "99999"
	})
	h.handle(t, "99999", "/whoami")
	if !strings.Contains(h.lastReply(t).text, "is_owner: yes") {
		t.Errorf("whoami reply missing is_owner: yes:\n%s", h.lastReply(t).text)
	}
}

func TestDefaultModeDispatchRunsDryRunPreview(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/mode on")
	h.handle(t, "12345", "평문 라우팅 테스트")
	reply := h.lastReply(t)
	if !strings.HasPrefix(reply.text, "[DRY-RUN] orch=") {
		t.Errorf("expected dry-run preview, got:\n%s", reply.text)
	}
}

func TestHighRiskDefaultModePromptRequiresConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/mode on")
	h.handle(t, "12345", "rm -rf /tmp/demo")

	reply := h.lastReply(t)
	if !strings.Contains(reply.text, "고위험 자동실행 감지") {
		t.Errorf("expected high-risk confirmation prompt, got:\n%s", reply.text)
	}

	st := h.loadState(t)
	sess := st.ChatSessions["12345"]
	if sess == nil || sess.ConfirmAction == nil {
		t.Fatal("confirm_action not stored")
	}
	if sess.ConfirmAction.Risk != "destructive_delete" {
		t.Errorf("risk = %q, want destructive_delete", sess.ConfirmAction.Risk)
	}
}

func TestConfirmOKRedeemsTokenAndDispatches(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/mode on")
	h.handle(t, "12345", "rm -rf /tmp/demo")
	h.handle(t, "12345", "/ok")

	reply := h.lastReply(t)
	if !strings.HasPrefix(reply.text, "[DRY-RUN] orch=") {
		t.Errorf("confirmed run should produce a dry-run preview, got:\n%s", reply.text)
	}

	st := h.loadState(t)
	if sess := st.ChatSessions["12345"]; sess != nil && sess.ConfirmAction != nil {
		t.Error("confirm_action should be cleared after /ok")
	}
}

func TestConfirmExpiredTokenIsClearedWithExpiryReply(t *testing.T) {
	h := newHarness(t, nil)
	base := time.Now()
	h.g.Now = func() time.Time { return base }
	h.handle(t, "12345", "/mode on")
	h.handle(t, "12345", "rm -rf /tmp/demo")

	h.g.Now = func() time.Time { return base.Add(time.Duration(h.g.Cfg.ConfirmTTLSec+5) * time.Second) }
	h.handle(t, "12345", "/ok")

	if !strings.Contains(h.lastReply(t).text, "확인 요청이 만료되었습니다") {
		t.Errorf("expected expiry reply, got:\n%s", h.lastReply(t).text)
	}
	st := h.loadState(t)
	if sess := st.ChatSessions["12345"]; sess != nil && sess.ConfirmAction != nil {
		t.Error("expired confirm_action should be cleared")
	}
}

func TestCLIRunBadPriorityRejectsWithECommand(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "aoe run --priority X hello")
	if !strings.HasPrefix(h.lastReply(t).text, "error_code: E_COMMAND") {
		t.Errorf("expected E_COMMAND reply, got:\n%s", h.lastReply(t).text)
	}
}

func TestModeOffIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/mode on")
	h.handle(t, "12345", "/mode off")
	first := h.loadState(t)

	h.handle(t, "12345", "/mode off")
	second := h.loadState(t)

	if len(first.ChatSessions) != len(second.ChatSessions) {
		t.Errorf("second /mode off changed session rows: %d vs %d",
			len(first.ChatSessions), len(second.ChatSessions))
	}
	if s := second.ChatSessions["12345"]; s != nil && s.DefaultMode != "" {
		t.Error("default mode should stay cleared")
	}
}

func TestReadonlyRoleCannotRun(t *testing.T) {
	h := newHarness(t, func(_ *config.Config, a *acl.ACL) {
		a.Allow.Add("11111")
		a.Readonly.Add("22222")
	})
	h.handle(t, "22222", "/dispatch do something")
	if !strings.Contains(h.lastReply(t).text, "permission denied: readonly chat.") {
		t.Errorf("readonly run should be denied, got:\n%s", h.lastReply(t).text)
	}
}

func TestGrantByAliasAndACLListing(t *testing.T) {
	h := newHarness(t, func(_ *config.Config, a *acl.ACL) {
		a.Allow.Add("11111")
	})
	// First contact assigns alias 1 to the caller.
	h.handle(t, "11111", "/acl")
	if !strings.Contains(h.lastReply(t).text, "access control list") {
		t.Fatalf("acl listing missing:\n%s", h.lastReply(t).text)
	}

	h.handle(t, "11111", "/grant readonly 22222")
	reply := h.lastReply(t)
	if !strings.Contains(reply.text, "action: grant") || !strings.Contains(reply.text, "role_now: readonly") {
		t.Errorf("grant reply unexpected:\n%s", reply.text)
	}
	if !h.g.ACL.Readonly.Has("22222") {
		t.Error("grant did not land in the readonly set")
	}
}

func TestLockmeClaimsGateway(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "55555", "/lockme")
	reply := h.lastReply(t)
	if !strings.Contains(reply.text, "access locked to current chat.") {
		t.Errorf("lockme reply unexpected:\n%s", reply.text)
	}
	if h.g.ACL.Owner != "55555" || !h.g.ACL.Allow.Has("55555") {
		t.Error("lockme did not collapse the ACL to the caller")
	}
	if len(h.g.ACL.Admin) != 0 || len(h.g.ACL.Readonly) != 0 {
		t.Error("lockme should clear admin/readonly")
	}
}

func TestUnknownCommandGetsHelp(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/frobnicate")
	if !strings.Contains(h.lastReply(t).text, "unknown command") {
		t.Errorf("unknown command reply unexpected:\n%s", h.lastReply(t).text)
	}
}

func TestQuickDispatchArmsOneShotPendingMode(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/dispatch")
	if !strings.Contains(h.lastReply(t).text, "dispatch 모드 활성화") {
		t.Fatalf("quick-dispatch reply unexpected:\n%s", h.lastReply(t).text)
	}

	// The next plain message consumes the pending mode and runs.
	h.handle(t, "12345", "파이프라인 점검")
	if !strings.HasPrefix(h.lastReply(t).text, "[DRY-RUN] orch=") {
		t.Errorf("pending-mode run should produce a preview, got:\n%s", h.lastReply(t).text)
	}

	st := h.loadState(t)
	if s := st.ChatSessions["12345"]; s != nil && s.PendingMode != "" {
		t.Error("pending mode should be consumed after one message")
	}
}

func TestPlainTextWithoutModeIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "그냥 아무 말")
	if !strings.Contains(h.lastReply(t).text, "no routing mode set") {
		t.Errorf("expected routing-mode hint, got:\n%s", h.lastReply(t).text)
	}
}

func TestKPIReplyRendersWindow(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "/kpi 48")
	reply := h.lastReply(t).text
	if !strings.Contains(reply, "window_hours: 48") {
		t.Errorf("kpi reply missing window:\n%s", reply)
	}
}

func TestOrchUseSwitchesActiveProject(t *testing.T) {
	h := newHarness(t, nil)
	h.handle(t, "12345", "aoe orch use demo")
	if !strings.Contains(h.lastReply(t).text, "active orch changed: demo") {
		t.Fatalf("orch-use reply unexpected:\n%s", h.lastReply(t).text)
	}
	if st := h.loadState(t); st.Active != "demo" {
		t.Errorf("active project = %q, want demo", st.Active)
	}
}

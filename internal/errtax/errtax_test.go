package errtax

import (
	"errors"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := map[string]Code{
		"usage: /run <prompt>":                 ECommand,
		"subprocess timed out after 900s":       ETimeout,
		"verifier gate not satisfied":           EGate,
		"permission denied: readonly chat":      EAuth,
		"orchestrator exited with status 1":     EOrch,
		"request query failed: not found":       ERequest,
		"telegram send failed after retries":    ETelegram,
		"unexpected nil pointer in reconciler":  EInternal,
	}
	for msg, want := range cases {
		if got := Classify(errors.New(msg)); got != want {
			t.Errorf("Classify(%q) = %q, want %q", msg, got, want)
		}
	}
}

func TestRedactMasksBotToken(t *testing.T) {
	in := "failed POST https://api.telegram.org/bot123456789:AAHabcDEF1234567890abcdefGHIJKLMN/sendMessage"
	out := Redact(in)
	if strings.Contains(out, "AAHabcDEF1234567890abcdefGHIJKLMN") {
		t.Error("bot token should be redacted")
	}
}

func TestRedactMasksKeyValueSecrets(t *testing.T) {
	out := Redact("config: api_key=sk-test-12345 password=hunter2")
	if strings.Contains(out, "sk-test-12345") || strings.Contains(out, "hunter2") {
		t.Error("key=value secrets should be redacted")
	}
}

func TestReplyLineFormat(t *testing.T) {
	e := New(ECommand, "command not understood", "/help", errors.New("usage: /run <prompt>"))
	line := e.ReplyLine()
	if !strings.HasPrefix(line, "error_code: E_COMMAND") {
		t.Errorf("reply line must start with error_code, got %q", line)
	}
	if !strings.Contains(line, "next: /help") {
		t.Error("reply line should include the next-step suggestion")
	}
}

package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestSplitTextShortPassesThrough(t *testing.T) {
	got := SplitText("hello", 3800)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("SplitText = %v", got)
	}
}

func TestSplitTextEmpty(t *testing.T) {
	got := SplitText("   ", 3800)
	if len(got) != 1 || got[0] != "(empty)" {
		t.Errorf("SplitText = %v", got)
	}
}

func TestSplitTextBreaksOnLineBoundaries(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = strings.Repeat("x", 90)
	}
	chunks := SplitText(strings.Join(lines, "\n"), 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 200 {
			t.Errorf("chunk %d exceeds max: %d chars", i, len(c))
		}
		for _, line := range strings.Split(c, "\n") {
			if len(line) != 90 {
				t.Errorf("line split mid-boundary: %d chars", len(line))
			}
		}
	}
}

func TestSplitTextHardTruncatesOversizedLine(t *testing.T) {
	chunks := SplitText(strings.Repeat("y", 500)+"\nshort", 200)
	if !strings.HasSuffix(chunks[0], "...") {
		t.Errorf("oversized line not truncated: %q", chunks[0][:20])
	}
	if len(chunks[0]) != 200 {
		t.Errorf("truncated line length = %d, want 200", len(chunks[0]))
	}
}

func TestSplitTextClampsMinimum(t *testing.T) {
	chunks := SplitText(strings.Repeat("z", 250), 10)
	// max clamps up to 200, so a 250-char single line truncates at 200.
	if len(chunks) != 1 || len(chunks[0]) != 200 {
		t.Errorf("min clamp not applied: %d chunks, first %d chars", len(chunks), len(chunks[0]))
	}
}

// captureClient returns a network-free client recording every Chattable.
func captureClient(failures int) (*Client, *[]tgbotapi.Chattable, *[]time.Duration) {
	var sent []tgbotapi.Chattable
	var slept []time.Duration
	c := newClient(3800, time.Second, 2, 300*time.Millisecond)
	remaining := failures
	c.send = func(msg tgbotapi.Chattable) error {
		if remaining > 0 {
			remaining--
			return errors.New("boom")
		}
		sent = append(sent, msg)
		return nil
	}
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	return c, &sent, &slept
}

func TestSendChunksAndAttachesKeyboardToFirstChunk(t *testing.T) {
	c, sent, _ := captureClient(0)
	c.MaxTextChars = 200

	body := strings.Repeat("a", 150) + "\n" + strings.Repeat("b", 150)
	if !c.Send("12345", body, true) {
		t.Fatal("Send returned false")
	}
	if len(*sent) != 2 {
		t.Fatalf("want 2 chunks sent, got %d", len(*sent))
	}
	first := (*sent)[0].(tgbotapi.MessageConfig)
	second := (*sent)[1].(tgbotapi.MessageConfig)
	if first.ReplyMarkup == nil {
		t.Error("first chunk missing keyboard")
	}
	if second.ReplyMarkup != nil {
		t.Error("keyboard leaked onto later chunk")
	}
	if !first.DisableWebPagePreview || !second.DisableWebPagePreview {
		t.Error("web page preview not disabled")
	}
}

func TestSendRetriesWithBackoff(t *testing.T) {
	c, sent, slept := captureClient(2)
	if !c.Send("12345", "hi", false) {
		t.Fatal("Send should succeed on the third attempt")
	}
	if len(*sent) != 1 {
		t.Errorf("want 1 successful send, got %d", len(*sent))
	}
	if len(*slept) != 2 {
		t.Fatalf("want 2 backoff sleeps, got %d", len(*slept))
	}
	if (*slept)[0] != 300*time.Millisecond || (*slept)[1] != 600*time.Millisecond {
		t.Errorf("backoff not doubling: %v", *slept)
	}
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	c, _, slept := captureClient(99)
	if c.Send("12345", "hi", false) {
		t.Fatal("Send should fail once retries are exhausted")
	}
	if len(*slept) != 2 {
		t.Errorf("want exactly Retries sleeps, got %d", len(*slept))
	}
}

func TestSendRejectsNonNumericChatID(t *testing.T) {
	c, sent, _ := captureClient(0)
	if c.Send("not-a-chat", "hi", false) {
		t.Fatal("Send should fail for a malformed chat id")
	}
	if len(*sent) != 0 {
		t.Error("nothing should be sent for a malformed chat id")
	}
}

func TestQuickReplyKeyboardIsPersistent(t *testing.T) {
	kb := QuickReplyKeyboard()
	if !kb.ResizeKeyboard || kb.OneTimeKeyboard {
		t.Error("keyboard should be resized and persistent")
	}
	if len(kb.Keyboard) != 5 {
		t.Errorf("want 5 keyboard rows, got %d", len(kb.Keyboard))
	}
	if kb.Keyboard[0][0].Text != "/status" {
		t.Errorf("first key = %q, want /status", kb.Keyboard[0][0].Text)
	}
}

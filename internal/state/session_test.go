package state

import (
	"testing"
	"time"
)

func TestRememberTaskDedupAndCap(t *testing.T) {
	s := &ChatSession{}
	now := time.Now()

	for i := 0; i < 60; i++ {
		s.RememberTask("proj", "req-reused", now)
	}
	if len(s.RecentTaskRefs["proj"]) != 1 {
		t.Fatalf("re-selecting the same request id should not grow the list, got %d entries",
			len(s.RecentTaskRefs["proj"]))
	}

	for i := 0; i < 60; i++ {
		s.RememberTask("proj", "req-"+string(rune('a'+(i%26))), now)
	}
	if len(s.RecentTaskRefs["proj"]) > 50 {
		t.Fatalf("recent task refs exceeded cap of 50: %d", len(s.RecentTaskRefs["proj"]))
	}
}

func TestSessionIsEmptyAndCleanup(t *testing.T) {
	s := &ChatSession{UpdatedAt: time.Now()}
	if !s.IsEmpty() {
		t.Error("session with only UpdatedAt should be empty")
	}
	s.DefaultMode = ModeDispatch
	if s.IsEmpty() {
		t.Error("session with a default mode should not be empty")
	}
}

func TestConfirmActionExpiry(t *testing.T) {
	now := time.Now()
	c := &ConfirmAction{RequestedAt: now}
	if c.Expired(now.Add(29*time.Second), 30*time.Second) {
		t.Error("token should not be expired before TTL elapses")
	}
	if !c.Expired(now.Add(31*time.Second), 30*time.Second) {
		t.Error("token should be expired once TTL elapses")
	}
}

package procrunner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunSuccess(t *testing.T) {
	r := &ExecRunner{}
	stdout, _, err := r.Run(context.Background(), time.Second, "echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(stdout) != "hello" {
		t.Fatalf("stdout = %q, want hello", stdout)
	}
}

func TestRunTimeout(t *testing.T) {
	r := &ExecRunner{}
	_, _, err := r.Run(context.Background(), 10*time.Millisecond, "sleep", "5")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := &ExecRunner{}
	_, _, err := r.Run(context.Background(), time.Second, "false")
	if err == nil {
		t.Fatal("expected an error for a non-zero exit")
	}
}

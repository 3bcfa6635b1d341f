package orchclient

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	stdout string
	err    error
	gotArgs []string
	gotName string
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (string, string, error) {
	f.gotName = name
	f.gotArgs = args
	return f.stdout, "", f.err
}

func TestRunBuildsExpectedFlags(t *testing.T) {
	fr := &fakeRunner{stdout: `{"request_id":"r1","roles":[{"role":"Builder","status":"done"}],"counts":{"assignments":1,"replies":1},"complete":true,"done_roles":["Builder"]}`}
	c := &Client{Binary: "orch", Runner: fr, CommandTimeout: time.Second}

	snap, err := c.Run(context.Background(), "build the thing", RunOptions{
		ProjectRoot: "/p", TeamDir: "/p/.team", Priority: "P2", TimeoutSec: 60, PollSec: 5,
		Channel: "telegram", Origin: "telegram:123", Roles: "Builder,QA", NoSpawnMissing: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if snap.RequestID != "r1" || !snap.Complete || len(snap.DoneRoles) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	joined := strings.Join(fr.gotArgs, " ")
	for _, want := range []string{"--project-root /p", "--priority P2", "--roles Builder,QA", "--no-spawn-missing", "--json"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if fr.gotArgs[len(fr.gotArgs)-1] != "build the thing" {
		t.Fatalf("expected prompt as final positional arg, got %q", fr.gotArgs[len(fr.gotArgs)-1])
	}
}

func TestAddRoleDefaultsToNoSpawn(t *testing.T) {
	fr := &fakeRunner{stdout: `{"ok":true}`}
	c := &Client{Binary: "orch", Runner: fr, CommandTimeout: time.Second}
	_, err := c.AddRole(context.Background(), AddRoleOptions{ProjectRoot: "/p", TeamDir: "/p/.team", Role: "QA"})
	if err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if !strings.Contains(strings.Join(fr.gotArgs, " "), "--no-spawn") {
		t.Fatalf("expected --no-spawn by default, got %v", fr.gotArgs)
	}
}

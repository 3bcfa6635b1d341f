package state

import (
	"testing"
	"time"
)

func TestDeriveAliasBase(t *testing.T) {
	cases := []struct {
		prompt string
		want   string
	}{
		{"Please fix the login bug for the team", "please-fix-login-bug-team"},
		{"해주세요 배포 스크립트 점검 좀", "배포-스크립트-점검"},
		{"!!!", "task"},
		{"", "task"},
	}
	for _, c := range cases {
		got := DeriveAliasBase(c.prompt)
		if got != c.want {
			t.Errorf("DeriveAliasBase(%q) = %q, want %q", c.prompt, got, c.want)
		}
	}
}

func TestUniqueAliasDedup(t *testing.T) {
	p := NewProject("/tmp/proj", "/tmp/team", time.Now())
	now := time.Now()

	a := p.NewTask("req-1", ModeDispatch, "deploy the service", "1001", now)
	b := p.NewTask("req-2", ModeDispatch, "deploy the service", "1001", now)
	c := p.NewTask("req-3", ModeDispatch, "deploy the service", "1001", now)

	if a.Alias != "deploy-service" {
		t.Fatalf("first alias = %q, want deploy-service", a.Alias)
	}
	if b.Alias != "deploy-service-2" {
		t.Fatalf("second alias = %q, want deploy-service-2", b.Alias)
	}
	if c.Alias != "deploy-service-3" {
		t.Fatalf("third alias = %q, want deploy-service-3", c.Alias)
	}
}

func TestShortIDFormatAndSequencing(t *testing.T) {
	p := NewProject("/tmp/proj", "/tmp/team", time.Now())
	now := time.Now()
	for i := 1; i <= 3; i++ {
		tk := p.NewTask("req-"+string(rune('a'+i)), ModeDirect, "ping", "1", now)
		if !shortIDPattern.MatchString(tk.ShortID) {
			t.Errorf("short id %q does not match T-\\d{3,}", tk.ShortID)
		}
	}
	if p.Tasks["req-b"].ShortID == p.Tasks["req-c"].ShortID {
		t.Error("expected distinct short ids")
	}
}

func TestResolveTaskRefPrecedence(t *testing.T) {
	p := NewProject("/tmp/proj", "/tmp/team", time.Now())
	now := time.Now()
	t1 := p.NewTask("req-1", ModeDispatch, "rotate credentials", "1", now)
	t2 := p.NewTask("req-2", ModeDispatch, "rotate credentials", "1", now)

	recent := []string{t2.RequestID, t1.RequestID}

	if id, ok := p.ResolveTaskRef("1", recent); !ok || id != t2.RequestID {
		t.Errorf("numeric ref 1 = %q,%v want %q", id, ok, t2.RequestID)
	}
	if id, ok := p.ResolveTaskRef(t1.RequestID, recent); !ok || id != t1.RequestID {
		t.Errorf("exact request id lookup failed: %q,%v", id, ok)
	}
	if id, ok := p.ResolveTaskRef(t2.Alias, recent); !ok || id != t2.RequestID {
		t.Errorf("alias lookup failed: %q,%v", id, ok)
	}
	if id, ok := p.ResolveTaskRef(t1.ShortID, recent); !ok || id != t1.RequestID {
		t.Errorf("short id scan failed: %q,%v", id, ok)
	}
	if _, ok := p.ResolveTaskRef("does-not-exist", recent); ok {
		t.Error("expected lookup miss for unknown ref")
	}
}

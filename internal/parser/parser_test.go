package parser

import "testing"

func TestParseCommand(t *testing.T) {
	cmd, rest := ParseCommand("/run@my_bot hello world")
	if cmd != "run" || rest != "hello world" {
		t.Fatalf("got cmd=%q rest=%q", cmd, rest)
	}
	if cmd, rest := ParseCommand("plain text"); cmd != "" || rest != "plain text" {
		t.Fatalf("non-slash text should pass through unchanged, got cmd=%q rest=%q", cmd, rest)
	}
}

func TestDetectHighRiskPrompt(t *testing.T) {
	cases := map[string]string{
		"please rm -rf /tmp/data":  "destructive_delete",
		"run mkfs.ext4 /dev/sdb1":  "filesystem_format",
		"초기화 해주세요":                 "k_reset",
		"deploy the new service":   "",
		"전체 삭제 부탁드립니다":            "k_delete_all",
	}
	for in, want := range cases {
		if got := DetectHighRiskPrompt(in); got != want {
			t.Errorf("DetectHighRiskPrompt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeModeToken(t *testing.T) {
	cases := map[string]string{
		"on": "dispatch", "enable": "dispatch", "off": "off", "direct": "direct",
		"ask": "direct", "": "status", "bogus": "",
	}
	for in, want := range cases {
		if got := NormalizeModeToken(in); got != want {
			t.Errorf("NormalizeModeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseQuickMessage(t *testing.T) {
	in, ok := ParseQuickMessage("팀작업: 배포 스크립트 점검")
	if !ok || in.Cmd != "run" || in.ForceMode != "dispatch" {
		t.Fatalf("got %+v ok=%v", in, ok)
	}
	if _, ok := ParseQuickMessage("/not-quick"); ok {
		t.Error("slash-prefixed text should not match the quick parser")
	}
	in, ok = ParseQuickMessage("kpi 24")
	if !ok || in.Cmd != "orch-kpi" || in.Hours != 24 {
		t.Fatalf("got %+v ok=%v", in, ok)
	}
}

func TestParseCLIMessageRun(t *testing.T) {
	in, matched, err := ParseCLIMessage(`aoe run --priority p2 --roles "Worker,Reviewer" fix the bug`)
	if err != nil {
		t.Fatalf("ParseCLIMessage: %v", err)
	}
	if !matched || in.Cmd != "run" || in.Priority != "P2" || in.Roles != "Worker,Reviewer" || in.Prompt != "fix the bug" {
		t.Fatalf("got %+v", in)
	}
}

func TestParseCLIMessageRunRejectsConflictingModeFlags(t *testing.T) {
	_, matched, err := ParseCLIMessage("aoe run --direct --dispatch hello")
	if !matched || err == nil {
		t.Fatal("expected a usage error for conflicting --direct/--dispatch")
	}
}

func TestParseCLIMessageNonCLIPassesThrough(t *testing.T) {
	_, matched, err := ParseCLIMessage("/slash command")
	if matched || err != nil {
		t.Fatalf("slash text should not be claimed by the CLI parser: matched=%v err=%v", matched, err)
	}
}

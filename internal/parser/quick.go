package parser

import "strings"

// Intent is the normalized result of parsing one user message: a command
// name plus whatever optional slots that command needs. Exactly which
// fields are populated depends on Cmd; callers read only the fields they
// expect for a given command name.
type Intent struct {
	Cmd string

	Mode      string
	Hours     int
	Limit     int
	RequestID string
	Scope     string
	ChatRef   string
	Orch      string

	Prompt    string
	Roles     string
	Priority  string
	TimeoutSec int
	NoWait    bool
	ForceMode string

	Role     string
	Provider string
	Launch   string
	Spawn    bool

	ProjectRoot string
	Overview    string
	DoInit      bool
	DoSpawn     bool
	SetActive   bool
}

// ParseQuickMessage recognizes loose natural-language phrases (English
// and Korean) that map directly to a command without any slash or CLI
// syntax. Returns (Intent{}, false) when text doesn't match any known
// quick phrase — callers should fall through to the CLI parser next.
func ParseQuickMessage(text string) (Intent, bool) {
	norm := NormalizeLooseText(text)
	if norm == "" || strings.HasPrefix(norm, "/") {
		return Intent{}, false
	}
	low := strings.ToLower(norm)

	switch low {
	case "help", "도움말", "메뉴", "menu":
		return Intent{Cmd: "help"}, true
	case "ok", "확인실행", "실행확인":
		return Intent{Cmd: "confirm-run"}, true
	case "mode", "모드":
		return Intent{Cmd: "mode", Mode: "status"}, true
	case "inbox", "on", "켜기", "활성화":
		return Intent{Cmd: "mode", Mode: "dispatch"}, true
	case "off", "끄기", "해제":
		return Intent{Cmd: "mode", Mode: "off"}, true
	case "acl", "권한", "권한설정", "permissions", "permission":
		return Intent{Cmd: "acl"}, true
	case "status", "상태", "현재 상태", "현재상태":
		return Intent{Cmd: "status"}, true
	case "kpi", "지표", "메트릭", "metrics":
		return Intent{Cmd: "orch-kpi"}, true
	case "모니터", "작업목록", "목록", "monitor", "tasks":
		return Intent{Cmd: "orch-monitor"}, true
	case "진행", "진행 확인", "진행확인", "check":
		return Intent{Cmd: "orch-check"}, true
	case "상세", "상세 상태", "상세상태", "task", "lifecycle", "라이프사이클":
		return Intent{Cmd: "orch-task"}, true
	case "pick", "선택":
		return Intent{Cmd: "orch-pick"}, true
	case "취소", "cancel", "취소해":
		return Intent{Cmd: "cancel-pending"}, true
	case "팀작업", "작업", "dispatch":
		return Intent{Cmd: "quick-dispatch"}, true
	case "직접질문", "직접", "질문", "direct":
		return Intent{Cmd: "quick-direct"}, true
	}

	if rest, ok := cutPrefix(low, norm, "mode "); ok {
		return modeTokenIntent(rest), true
	}
	if rest, ok := cutPrefix(low, norm, "모드 "); ok {
		return modeTokenIntent(rest), true
	}
	if rest, ok := cutPrefix(low, norm, "kpi "); ok {
		if n, ok := parseBoundedInt(rest, 1, 168); ok {
			return Intent{Cmd: "orch-kpi", Hours: n}, true
		}
		return Intent{Cmd: "orch-kpi"}, true
	}
	for _, p := range []string{"모니터 ", "작업목록 "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			if n, ok := parseBoundedInt(rest, 1, 50); ok {
				return Intent{Cmd: "orch-monitor", Limit: n}, true
			}
			return Intent{Cmd: "orch-monitor"}, true
		}
	}
	for _, p := range []string{"진행 ", "check ", "확인 "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			return Intent{Cmd: "orch-check", RequestID: rest}, true
		}
	}
	for _, p := range []string{"상세 ", "task ", "상태 "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			return Intent{Cmd: "orch-task", RequestID: rest}, true
		}
	}
	for _, p := range []string{"pick ", "선택 "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			return Intent{Cmd: "orch-pick", RequestID: rest}, true
		}
	}
	for _, p := range []string{"retry ", "재시도 ", "다시 "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			return Intent{Cmd: "orch-retry", RequestID: rest}, true
		}
	}
	for _, p := range []string{"replan ", "재계획 "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			return Intent{Cmd: "orch-replan", RequestID: rest}, true
		}
	}
	for _, p := range []string{"cancel ", "취소 "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			return Intent{Cmd: "orch-cancel", RequestID: rest}, true
		}
	}
	for _, p := range []string{"팀작업:", "팀작업 ", "작업:", "작업 ", "dispatch:", "dispatch "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			if rest == "" {
				return Intent{Cmd: "quick-dispatch"}, true
			}
			return Intent{Cmd: "run", Prompt: rest, ForceMode: "dispatch"}, true
		}
	}
	for _, p := range []string{"질문:", "질문 ", "직접:", "직접 ", "direct:", "direct "} {
		if rest, ok := cutPrefix(low, norm, p); ok {
			if rest == "" {
				return Intent{Cmd: "quick-direct"}, true
			}
			return Intent{Cmd: "run", Prompt: rest, ForceMode: "direct"}, true
		}
	}

	return Intent{}, false
}

func modeTokenIntent(tail string) Intent {
	if token := NormalizeModeToken(tail); token != "" {
		return Intent{Cmd: "mode", Mode: token}
	}
	return Intent{Cmd: "mode", Mode: "invalid"}
}

// cutPrefix checks the prefix against the lowercased form (so matching is
// case-insensitive) but returns the remainder sliced from the
// original-case normalized string, matching the source's "keep user
// casing in free text, match keywords case-insensitively" behavior.
func cutPrefix(low, orig, prefix string) (string, bool) {
	if !strings.HasPrefix(low, prefix) {
		return "", false
	}
	return strings.TrimSpace(orig[len(prefix):]), true
}

package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/kimyoungjin06/aoe-orch-control/internal/acl"
)

// ParseCLIMessage recognizes "aoe|orch|aoe-orch <subcommand> [flags...]"
// style input using POSIX shell-word splitting. Returns
// (Intent{}, false, nil) for input that isn't
// CLI-style at all (empty, slash-prefixed, or not headed by aoe, orch or
// aoe-orch); returns a non-nil error for CLI-style input with bad flags
// or usage.
func ParseCLIMessage(text string) (Intent, bool, error) {
	raw := strings.TrimSpace(text)
	if raw == "" || strings.HasPrefix(raw, "/") {
		return Intent{}, false, nil
	}
	if head := strings.ToLower(strings.Fields(raw)[0]); head != "aoe" && head != "orch" && head != "aoe-orch" {
		return Intent{}, false, nil
	}
	parts, err := shlex.Split(raw)
	if err != nil {
		return Intent{}, true, fmt.Errorf("invalid CLI format: %w", err)
	}
	if len(parts) == 0 {
		return Intent{}, false, nil
	}
	if first := strings.ToLower(strings.TrimSpace(parts[0])); first == "aoe" || first == "orch" || first == "aoe-orch" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return Intent{Cmd: "help"}, true, nil
	}

	cmd := strings.ToLower(strings.TrimSpace(parts[0]))
	argv := parts[1:]

	switch cmd {
	case "help", "status":
		return Intent{Cmd: cmd}, true, nil

	case "acl", "auth", "permissions":
		if len(argv) > 0 {
			return Intent{}, true, fmt.Errorf("usage: aoe acl")
		}
		return Intent{Cmd: "acl"}, true, nil

	case "mode", "inbox", "on", "off":
		if len(argv) > 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe mode [on|off|direct|dispatch]")
		}
		var token string
		switch {
		case (cmd == "inbox" || cmd == "on") && len(argv) == 0:
			token = "dispatch"
		case cmd == "off" && len(argv) == 0:
			token = "off"
		case len(argv) > 0:
			token = argv[0]
		}
		normalized := NormalizeModeToken(token)
		if normalized == "" {
			return Intent{}, true, fmt.Errorf("usage: aoe mode [on|off|direct|dispatch]")
		}
		return Intent{Cmd: "mode", Mode: normalized}, true, nil

	case "ok", "confirm":
		if len(argv) > 0 {
			return Intent{}, true, fmt.Errorf("usage: aoe ok")
		}
		return Intent{Cmd: "confirm-run"}, true, nil

	case "grant":
		return parseGrantRevoke(argv, "grant", []string{"allow", "admin", "readonly"})
	case "revoke":
		return parseGrantRevoke(argv, "revoke", []string{"allow", "admin", "readonly", "all"})

	case "kpi", "metrics":
		if len(argv) > 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe kpi [hours]")
		}
		if len(argv) == 1 {
			n, err := parseDigits(argv[0], 1, 168)
			if err != nil {
				return Intent{}, true, fmt.Errorf("usage: aoe kpi [hours]")
			}
			return Intent{Cmd: "orch-kpi", Hours: n}, true, nil
		}
		return Intent{Cmd: "orch-kpi"}, true, nil

	case "monitor", "tasks", "task-list":
		if len(argv) > 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe monitor [limit]")
		}
		if len(argv) == 1 {
			n, err := parseDigits(argv[0], 1, 50)
			if err != nil {
				return Intent{}, true, fmt.Errorf("usage: aoe monitor [limit]")
			}
			return Intent{Cmd: "orch-monitor", Limit: n}, true, nil
		}
		return Intent{Cmd: "orch-monitor"}, true, nil

	case "pick", "select":
		if len(argv) != 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe pick <number|request_or_alias>")
		}
		return Intent{Cmd: "orch-pick", RequestID: strings.TrimSpace(argv[0])}, true, nil

	case "cancel":
		switch len(argv) {
		case 0:
			return Intent{Cmd: "cancel-pending"}, true, nil
		case 1:
			return Intent{Cmd: "orch-cancel", RequestID: strings.TrimSpace(argv[0])}, true, nil
		default:
			return Intent{}, true, fmt.Errorf("usage: aoe cancel [<request_or_alias>]")
		}

	case "retry":
		if len(argv) != 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe retry <request_or_alias>")
		}
		return Intent{Cmd: "orch-retry", RequestID: strings.TrimSpace(argv[0])}, true, nil

	case "replan":
		if len(argv) != 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe replan <request_or_alias>")
		}
		return Intent{Cmd: "orch-replan", RequestID: strings.TrimSpace(argv[0])}, true, nil

	case "request":
		if len(argv) != 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe request <request_or_alias>")
		}
		return Intent{Cmd: "request", RequestID: strings.TrimSpace(argv[0])}, true, nil

	case "run":
		return parseRun(argv)

	case "add-role", "addrole":
		return parseAddRole(argv)

	case "role":
		if len(argv) == 0 || strings.ToLower(strings.TrimSpace(argv[0])) != "add" {
			return Intent{}, true, fmt.Errorf("usage: aoe role add <Role> [options]")
		}
		return parseAddRole(argv[1:])

	case "orch":
		return parseOrch(argv)
	}

	return Intent{}, false, nil
}

func parseDigits(s string, lo, hi int) (int, error) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not digits")
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return clampInt(n, lo, hi), nil
}

func parseGrantRevoke(argv []string, which string, validScopes []string) (Intent, bool, error) {
	usage := "usage: aoe " + which + " <" + strings.Join(validScopes, "|") + "> <chat_id|alias>"
	if len(argv) != 2 {
		return Intent{}, true, fmt.Errorf("%s", usage)
	}
	scope := scope2or(strings.ToLower(strings.TrimSpace(argv[0])))
	chatRef := strings.TrimSpace(argv[1])
	if !validScope(scope, validScopes) || !acl.IsValidChatRef(chatRef) {
		return Intent{}, true, fmt.Errorf("%s", usage)
	}
	return Intent{Cmd: which, Scope: scope, ChatRef: chatRef}, true, nil
}

func scope2or(raw string) string {
	switch raw {
	case "allow", "allowed":
		return "allow"
	case "admin", "owner":
		return "admin"
	case "readonly", "read", "ro":
		return "readonly"
	case "all":
		return "all"
	default:
		return ""
	}
}

func validScope(s string, allowed []string) bool {
	for _, v := range allowed {
		if s == v {
			return true
		}
	}
	return false
}

func parseRun(argv []string) (Intent, bool, error) {
	usage := "usage: aoe run [--direct|--dispatch] [--roles <csv>] [--priority P1|P2|P3] [--timeout-sec N] [--no-wait] <prompt>"
	var roles, priority, forceMode string
	var timeoutSec int
	var noWait bool
	var promptTokens []string

	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		switch {
		case tok == "--":
			promptTokens = append(promptTokens, argv[i+1:]...)
			i = len(argv)
		case tok == "--roles":
			i++
			if i >= len(argv) {
				return Intent{}, true, fmt.Errorf("usage: aoe run --roles <csv> <prompt>")
			}
			roles = strings.TrimSpace(argv[i])
		case tok == "--priority":
			i++
			if i >= len(argv) {
				return Intent{}, true, fmt.Errorf("usage: aoe run --priority <P1|P2|P3> <prompt>")
			}
			priority = strings.ToUpper(strings.TrimSpace(argv[i]))
			if priority != "P1" && priority != "P2" && priority != "P3" {
				return Intent{}, true, fmt.Errorf("invalid priority (use P1/P2/P3)")
			}
		case tok == "--timeout-sec":
			i++
			if i >= len(argv) {
				return Intent{}, true, fmt.Errorf("usage: aoe run --timeout-sec <seconds> <prompt>")
			}
			n, err := strconv.Atoi(argv[i])
			if err != nil {
				return Intent{}, true, fmt.Errorf("--timeout-sec must be an integer")
			}
			if n < 1 {
				n = 1
			}
			timeoutSec = n
		case tok == "--no-wait":
			noWait = true
		case tok == "--direct":
			if forceMode == "dispatch" {
				return Intent{}, true, fmt.Errorf("cannot use --direct with --dispatch")
			}
			forceMode = "direct"
		case tok == "--dispatch":
			if forceMode == "direct" {
				return Intent{}, true, fmt.Errorf("cannot use --dispatch with --direct")
			}
			forceMode = "dispatch"
		case strings.HasPrefix(tok, "--"):
			return Intent{}, true, fmt.Errorf("unknown option: %s", tok)
		default:
			promptTokens = append(promptTokens, argv[i:]...)
			i = len(argv)
		}
	}

	prompt := strings.TrimSpace(strings.Join(promptTokens, " "))
	if prompt == "" {
		return Intent{}, true, fmt.Errorf("%s", usage)
	}
	return Intent{
		Cmd: "run", Prompt: prompt, Roles: roles, Priority: priority,
		TimeoutSec: timeoutSec, NoWait: noWait, ForceMode: forceMode,
	}, true, nil
}

func parseAddRole(argv []string) (Intent, bool, error) {
	usage := "usage: aoe add-role <Role> [--provider <name>] [--launch <cmd>] [--spawn|--no-spawn]"
	if len(argv) == 0 {
		return Intent{}, true, fmt.Errorf("%s", usage)
	}
	var role, provider, launch string
	spawn := true
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		switch {
		case tok == "--provider":
			i++
			if i >= len(argv) {
				return Intent{}, true, fmt.Errorf("usage: --provider <name>")
			}
			provider = strings.TrimSpace(argv[i])
		case tok == "--launch":
			i++
			if i >= len(argv) {
				return Intent{}, true, fmt.Errorf("usage: --launch <command>")
			}
			launch = argv[i]
		case tok == "--spawn":
			spawn = true
		case tok == "--no-spawn":
			spawn = false
		case strings.HasPrefix(tok, "--"):
			return Intent{}, true, fmt.Errorf("unknown option: %s", tok)
		default:
			if role != "" {
				return Intent{}, true, fmt.Errorf("usage: aoe add-role <Role> [options]")
			}
			role = strings.TrimSpace(tok)
		}
	}
	if role == "" {
		return Intent{}, true, fmt.Errorf("%s", usage)
	}
	return Intent{Cmd: "add-role", Role: role, Provider: provider, Launch: launch, Spawn: spawn}, true, nil
}

func parseOrch(argv []string) (Intent, bool, error) {
	if len(argv) == 0 {
		return Intent{Cmd: "orch-help"}, true, nil
	}
	sub := strings.ToLower(strings.TrimSpace(argv[0]))
	subArgv := argv[1:]

	switch sub {
	case "help", "h":
		return Intent{Cmd: "orch-help"}, true, nil
	case "list", "ls":
		return Intent{Cmd: "orch-list"}, true, nil
	case "use", "switch", "select":
		if len(subArgv) != 1 {
			return Intent{}, true, fmt.Errorf("usage: aoe orch use <name>")
		}
		return Intent{Cmd: "orch-use", Orch: strings.TrimSpace(subArgv[0])}, true, nil
	case "pick", "focus":
		var orchName, requestID string
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return Intent{}, true, fmt.Errorf("usage: aoe orch %s [--orch <name>] <number|request_or_alias>", sub)
				}
				orchName = strings.TrimSpace(subArgv[i])
			case strings.HasPrefix(tok, "--"):
				return Intent{}, true, fmt.Errorf("unknown option: %s", tok)
			default:
				if requestID != "" {
					return Intent{}, true, fmt.Errorf("usage: aoe orch %s [--orch <name>] <number|request_or_alias>", sub)
				}
				requestID = strings.TrimSpace(tok)
			}
		}
		if requestID == "" {
			return Intent{}, true, fmt.Errorf("usage: aoe orch %s [--orch <name>] <number|request_or_alias>", sub)
		}
		return Intent{Cmd: "orch-pick", Orch: orchName, RequestID: requestID}, true, nil
	case "status", "stat":
		var orchName string
		for i := 0; i < len(subArgv); i++ {
			tok := subArgv[i]
			switch {
			case tok == "--orch":
				i++
				if i >= len(subArgv) {
					return Intent{}, true, fmt.Errorf("usage: aoe orch status [--orch <name>]")
				}
				orchName = strings.TrimSpace(subArgv[i])
			case strings.HasPrefix(tok, "--"):
				return Intent{}, true, fmt.Errorf("unknown option: %s", tok)
			default:
				if orchName != "" {
					return Intent{}, true, fmt.Errorf("usage: aoe orch status [--orch <name>]")
				}
				orchName = strings.TrimSpace(tok)
			}
		}
		return Intent{Cmd: "orch-status", Orch: orchName}, true, nil
	case "add", "create":
		return parseOrchAdd(subArgv)
	}
	return Intent{}, true, fmt.Errorf("usage: aoe orch <list|use|pick|status|add> ...")
}

func parseOrchAdd(argv []string) (Intent, bool, error) {
	usage := "usage: aoe orch add <name> --path <project_root> [--overview <text>] [--init|--no-init] [--spawn|--no-spawn]"
	var name, path, overview string
	doInit, doSpawn, setActive := true, true, true
	for i := 0; i < len(argv); i++ {
		tok := argv[i]
		switch {
		case tok == "--path":
			i++
			if i >= len(argv) {
				return Intent{}, true, fmt.Errorf("%s", usage)
			}
			path = strings.TrimSpace(argv[i])
		case tok == "--overview":
			i++
			if i >= len(argv) {
				return Intent{}, true, fmt.Errorf("usage: --overview <text>")
			}
			overview = argv[i]
		case tok == "--init":
			doInit = true
		case tok == "--no-init":
			doInit = false
		case tok == "--spawn":
			doSpawn = true
		case tok == "--no-spawn":
			doSpawn = false
		case tok == "--set-active":
			setActive = true
		case tok == "--no-set-active":
			setActive = false
		case strings.HasPrefix(tok, "--"):
			return Intent{}, true, fmt.Errorf("unknown option: %s", tok)
		default:
			if name != "" {
				return Intent{}, true, fmt.Errorf("usage: aoe orch add <name> --path <project_root> [options]")
			}
			name = strings.TrimSpace(tok)
		}
	}
	if name == "" || path == "" {
		return Intent{}, true, fmt.Errorf("%s", usage)
	}
	return Intent{
		Cmd: "orch-add", Orch: name, ProjectRoot: path, Overview: overview,
		DoInit: doInit, DoSpawn: doSpawn, SetActive: setActive,
	}, true, nil
}

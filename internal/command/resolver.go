// Package command turns a parsed message plus session state into a
// single ResolvedCommand the gateway can dispatch to a handler. It
// implements the ordering and fallback contracts from the original
// gateway's command-resolution pass: slash first, then quick/CLI unless
// slash-only mode is on, then pending/default mode fallback last.
package command

import (
	"strings"

	"github.com/kimyoungjin06/aoe-orch-control/internal/acl"
	"github.com/kimyoungjin06/aoe-orch-control/internal/parser"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// ResolvedCommand is the fully normalized command ready for dispatch.
type ResolvedCommand struct {
	Cmd parser.Intent

	// CameFromSlash is true only when the user typed an explicit "/cmd".
	// The risk-confirmation gate and a few usage-string choices key off
	// this.
	CameFromSlash bool

	// RunForceMode, when set, overrides mode resolution for a
	// synthesized "run" command (pending/default-mode fallback, or an
	// explicit /dispatch or /direct with a prompt attached).
	RunForceMode state.Mode

	// RunAutoSource marks how a "run" was synthesized: "", "pending",
	// "default", or "confirmed" (redeemed via /ok).
	RunAutoSource string

	// Rejected is set when resolution itself failed (empty command with
	// slash-only enforced, or a CLI/quick parse error). Reason holds the
	// user-facing message.
	Rejected bool
	Reason   string
}

// Deps are the small pieces of session state the resolver needs to read;
// the resolver never mutates them.
type Deps struct {
	SlashOnly bool
	Session   *state.ChatSession
}

// Resolve turns one raw message into a dispatchable command. A pending
// mode is only read here; clearing it is left to the caller.
func Resolve(text string, d Deps) ResolvedCommand {
	cmd, rest := parser.ParseCommand(text)
	if cmd != "" {
		return resolveSlash(cmd, rest, d)
	}

	if d.SlashOnly {
		return ResolvedCommand{Rejected: true, Reason: "unknown command. slash commands only: /help"}
	}

	if in, ok := parser.ParseQuickMessage(text); ok {
		return ResolvedCommand{Cmd: in, CameFromSlash: false}
	}
	if in, matched, err := parser.ParseCLIMessage(text); matched {
		if err != nil {
			return ResolvedCommand{Rejected: true, Reason: err.Error()}
		}
		return ResolvedCommand{Cmd: in, CameFromSlash: false}
	}

	if d.Session != nil && d.Session.PendingMode != "" {
		mode := d.Session.PendingMode
		return ResolvedCommand{
			Cmd:           parser.Intent{Cmd: "run", Prompt: strings.TrimSpace(text), ForceMode: string(mode)},
			RunForceMode:  mode,
			RunAutoSource: "pending",
		}
	}
	if d.Session != nil && d.Session.DefaultMode != "" {
		mode := d.Session.DefaultMode
		return ResolvedCommand{
			Cmd:           parser.Intent{Cmd: "run", Prompt: strings.TrimSpace(text), ForceMode: string(mode)},
			RunForceMode:  mode,
			RunAutoSource: "default",
		}
	}

	return ResolvedCommand{Rejected: true, Reason: "no routing mode set. try /mode on, /dispatch <task>, or /direct <question>"}
}

func resolveSlash(cmd, rest string, d Deps) ResolvedCommand {
	switch cmd {
	case "":
		return ResolvedCommand{Rejected: true, Reason: "unknown command. send /help"}

	case "ok":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "confirm-run"}, CameFromSlash: true}

	case "cancel":
		if strings.TrimSpace(rest) != "" {
			return ResolvedCommand{Cmd: parser.Intent{Cmd: "orch-cancel", RequestID: strings.TrimSpace(rest)}, CameFromSlash: true}
		}
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "cancel-pending"}, CameFromSlash: true}

	case "dispatch":
		return resolveModeShortcut("dispatch", rest)
	case "direct":
		return resolveModeShortcut("direct", rest)

	case "on":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "mode", Mode: "dispatch"}, CameFromSlash: true}
	case "off":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "mode", Mode: "off"}, CameFromSlash: true}

	case "mode":
		token := parser.NormalizeModeToken(rest)
		if token == "" {
			return ResolvedCommand{Rejected: true, Reason: "usage: /mode [on|off|direct|dispatch]"}
		}
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "mode", Mode: token}, CameFromSlash: true}

	case "grant", "revoke":
		allowed := []string{"allow", "admin", "readonly"}
		if cmd == "revoke" {
			allowed = append(allowed, "all")
		}
		scope, ref, err := parseACLArgs(rest, cmd, allowed)
		if err != nil {
			return ResolvedCommand{Rejected: true, Reason: err.Error()}
		}
		return ResolvedCommand{Cmd: parser.Intent{Cmd: cmd, Scope: scope, ChatRef: ref}, CameFromSlash: true}

	case "run":
		in, _, err := parser.ParseCLIMessage("aoe run " + rest)
		if err != nil {
			return ResolvedCommand{Rejected: true, Reason: err.Error()}
		}
		return ResolvedCommand{Cmd: in, CameFromSlash: true}

	case "retry":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "orch-retry", RequestID: strings.TrimSpace(rest)}, CameFromSlash: true}
	case "replan":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "orch-replan", RequestID: strings.TrimSpace(rest)}, CameFromSlash: true}
	case "check", "progress":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "orch-check", RequestID: strings.TrimSpace(rest)}, CameFromSlash: true}
	case "task", "lifecycle":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "orch-task", RequestID: strings.TrimSpace(rest)}, CameFromSlash: true}
	case "pick", "select":
		return ResolvedCommand{Cmd: parser.Intent{Cmd: "orch-pick", RequestID: strings.TrimSpace(rest)}, CameFromSlash: true}

	case "monitor", "tasks", "board":
		in := parser.Intent{Cmd: "orch-monitor"}
		if token := firstToken(rest); token != "" {
			if n, ok := parseBounded(token, 1, 50); ok {
				in.Limit = n
			} else {
				in.Orch = token
			}
		}
		return ResolvedCommand{Cmd: in, CameFromSlash: true}

	case "kpi", "metrics":
		in := parser.Intent{Cmd: "orch-kpi"}
		if token := firstToken(rest); token != "" {
			if n, ok := parseBounded(token, 1, 168); ok {
				in.Hours = n
			} else {
				in.Orch = token
			}
		}
		return ResolvedCommand{Cmd: in, CameFromSlash: true}

	default:
		return ResolvedCommand{Cmd: parser.Intent{Cmd: cmd, RequestID: strings.TrimSpace(rest), Prompt: strings.TrimSpace(rest)}, CameFromSlash: true}
	}
}

func firstToken(rest string) string {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseBounded(token string, lo, hi int) (int, bool) {
	n := 0
	for _, r := range token {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > hi {
			return hi, true
		}
	}
	if token == "" {
		return 0, false
	}
	if n < lo {
		n = lo
	}
	return n, true
}

// resolveModeShortcut implements "/dispatch" and "/direct": with no
// trailing text they arm the one-shot pending mode; with text they
// immediately synthesize a forced "run".
func resolveModeShortcut(mode, rest string) ResolvedCommand {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		quickCmd := "quick-dispatch"
		if mode == "direct" {
			quickCmd = "quick-direct"
		}
		return ResolvedCommand{Cmd: parser.Intent{Cmd: quickCmd}, CameFromSlash: true}
	}
	return ResolvedCommand{
		Cmd:           parser.Intent{Cmd: "run", Prompt: rest, ForceMode: mode},
		CameFromSlash: true,
		RunForceMode:  state.Mode(mode),
	}
}

func parseACLArgs(rest, which string, allowed []string) (scope, chatRef string, err error) {
	usage := "usage: /" + which + " <" + strings.Join(allowed, "|") + "> <chat_id|alias>"
	allowAll := which == "revoke"
	return acl.ParseCommandArgs(rest, usage, allowAll)
}

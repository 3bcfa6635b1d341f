package gateway

import (
	"fmt"
	"strings"

	"github.com/kimyoungjin06/aoe-orch-control/internal/acl"
	"github.com/kimyoungjin06/aoe-orch-control/internal/command"
	"github.com/kimyoungjin06/aoe-orch-control/internal/errtax"
	"github.com/kimyoungjin06/aoe-orch-control/internal/eventlog"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// handleManagement covers the mode/identity/ACL family. Returns true
// when cmd was terminal here.
func (g *Gateway) handleManagement(m *msgCtx, cmd string, resolved command.ResolvedCommand) bool {
	in := resolved.Cmd
	now := g.now()

	switch cmd {
	case "help", "start", "orch-help":
		g.send(m, helpText(), true, "help")
		g.logEvent(m, eventlog.Row{Event: "help_sent", Stage: "intake", Status: "completed"})
		return true

	case "mode":
		g.handleMode(m, in.Mode)
		return true

	case "quick-dispatch", "quick-direct":
		mode := state.ModeDispatch
		body := "dispatch 모드 활성화: 다음 메시지 1개를 팀 작업으로 배정합니다.\n바로 실행: /dispatch <요청>\n취소: /cancel"
		if cmd == "quick-direct" {
			mode = state.ModeDirect
			body = "direct 모드 활성화: 다음 메시지 1개를 오케스트레이터가 직접 답변합니다.\n바로 실행: /direct <질문>\n취소: /cancel"
		}
		m.session.PendingMode = mode
		m.session.UpdatedAt = now
		g.send(m, body, true, cmd)
		g.logEvent(m, eventlog.Row{Event: "pending_mode_set", Stage: "intake", Status: "completed", Detail: "mode=" + string(mode)})
		return true

	case "cancel-pending":
		hadPending := m.session.ClearPendingMode(now) != ""
		hadConfirm := m.session.ConfirmAction != nil
		m.session.ClearConfirm(now)
		body := "해제할 대기 모드나 확인 요청이 없습니다."
		if hadPending || hadConfirm {
			body = "대기 모드/확인 요청을 해제했습니다."
		}
		g.send(m, body, true, "cancel-pending")
		g.logEvent(m, eventlog.Row{Event: "pending_cleared", Stage: "intake", Status: "completed",
			Detail: fmt.Sprintf("pending=%t confirm=%t", hadPending, hadConfirm)})
		return true

	case "whoami":
		g.handleWhoami(m)
		return true

	case "acl":
		g.handleACLList(m)
		return true

	case "grant":
		g.handleGrant(m, in.Scope, in.ChatRef)
		return true

	case "revoke":
		g.handleRevoke(m, in.Scope, in.ChatRef)
		return true

	case "lockme":
		g.handleLockme(m)
		return true
	}
	return false
}

func (g *Gateway) handleMode(m *msgCtx, requested string) {
	now := g.now()
	current := m.session.DefaultMode
	pending := m.session.PendingMode

	switch requested {
	case "", "status":
		g.send(m, fmt.Sprintf(
			"routing mode\n- default_mode: %s\n- one_shot_pending: %s\n- set: /mode on | /mode direct | /mode off\n- shortcut: /on | /off\n- tip: /mode on 후에는 평문을 바로 작업으로 보낼 수 있습니다.",
			orToken(string(current), "off"), orToken(string(pending), "none")), true, "mode-status")
		g.logEvent(m, eventlog.Row{Event: "mode_status", Stage: "intake", Status: "completed"})
		return

	case "off":
		changed := current != ""
		m.session.DefaultMode = ""
		clearedPending := m.session.ClearPendingMode(now) != ""
		clearedConfirm := m.session.ConfirmAction != nil
		m.session.ClearConfirm(now)
		if changed {
			m.session.UpdatedAt = now
		}
		g.send(m, fmt.Sprintf(
			"routing mode updated\n- default_mode: off\n- changed: %s\n- one_shot_pending_cleared: %s\n- confirm_request_cleared: %s",
			yesNo(changed), yesNo(clearedPending), yesNo(clearedConfirm)), true, "mode-off")
		g.logEvent(m, eventlog.Row{Event: "mode_updated", Stage: "intake", Status: "completed", Detail: "mode=off"})
		return

	case "dispatch", "direct":
		if g.ACL.Role(m.chatID) == acl.RoleReadonly {
			g.send(m, "permission denied: readonly chat cannot change routing mode.\nread-only: /mode (status only)", true, "mode-deny")
			g.logEvent(m, eventlog.Row{Event: "auth_denied", Stage: "intake", Status: "rejected", ErrorCode: string(errtax.EAuth), Detail: "readonly mode change"})
			return
		}
		m.session.DefaultMode = state.Mode(requested)
		m.session.UpdatedAt = now
		g.send(m, fmt.Sprintf(
			"routing mode updated\n- default_mode: %s\n- one_shot_pending: %s\n- input_behavior: plain text -> %s\n- disable: /mode off (or /off)",
			requested, orToken(string(pending), "none"), requested), true, "mode-set")
		g.logEvent(m, eventlog.Row{Event: "mode_updated", Stage: "intake", Status: "completed", Detail: "mode=" + requested})
		return

	default:
		g.send(m, "error_code: E_COMMAND\nusage: /mode [on|off|direct|dispatch]", true, "mode usage")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: string(errtax.ECommand), Detail: "mode=" + requested})
	}
}

func (g *Gateway) handleWhoami(m *msgCtx) {
	allowList := "(empty: all chats allowed)"
	if g.ACL.DenyByDefault {
		allowList = "(empty: locked)"
	}
	if len(g.ACL.Allow) > 0 {
		allowList = acl.FormatCSVSet(g.ACL.Allow)
	}
	role := g.ACL.Role(m.chatID)
	isOwner := g.ACL.Owner != "" && m.chatID == g.ACL.Owner
	g.send(m, fmt.Sprintf(
		"telegram identity\n- chat_id: %s\n- alias: %s\n- role: %s\n- owner_chat_id: %s\n- is_owner: %s\n- allowlist: %s\n- deny_by_default: %s\n- default_mode: %s\n- one_shot_pending: %s\n- lock: /lockme\n- mode: /mode\n- acl: /acl",
		m.chatID, orToken(m.alias, "-"), role,
		orToken(g.ACL.Owner, "(unset)"), yesNo(isOwner), allowList,
		yesNo(g.ACL.DenyByDefault),
		orToken(string(m.session.DefaultMode), "off"),
		orToken(string(m.session.PendingMode), "none")), true, "whoami")
	g.logEvent(m, eventlog.Row{Event: "whoami_sent", Stage: "intake", Status: "completed"})
}

func (g *Gateway) handleACLList(m *msgCtx) {
	for _, id := range append(append(g.ACL.Allow.Sorted(), g.ACL.Admin.Sorted()...), g.ACL.Readonly.Sorted()...) {
		if g.Aliases != nil {
			g.Aliases.Ensure(id)
		}
	}
	g.saveAliases()

	aliasSummary := "-"
	if g.Aliases != nil {
		aliasSummary = g.aliasTableSummary()
	}
	myAlias := m.alias
	g.send(m, fmt.Sprintf(
		"access control list\n- deny_by_default: %s\n- my_chat_id: %s\n- my_alias: %s\n- my_role: %s\n- owner_chat_id: %s\n- allow: %s\n- admin: %s\n- readonly: %s\n- aliases: %s\ncommands:\n- /grant <allow|admin|readonly> <chat_id|alias>\n- /revoke <allow|admin|readonly|all> <chat_id|alias>",
		yesNo(g.ACL.DenyByDefault), m.chatID, orToken(myAlias, "-"), g.ACL.Role(m.chatID),
		orToken(g.ACL.Owner, "(unset)"),
		orToken(acl.FormatCSVSet(g.ACL.Allow), "(empty)"),
		orToken(acl.FormatCSVSet(g.ACL.Admin), "(empty)"),
		orToken(acl.FormatCSVSet(g.ACL.Readonly), "(empty)"),
		aliasSummary), true, "acl")
	g.logEvent(m, eventlog.Row{Event: "acl_listed", Stage: "intake", Status: "completed"})
}

func (g *Gateway) aliasTableSummary() string {
	rows := g.Aliases.Rows()
	if len(rows) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(rows))
	for _, r := range rows {
		parts = append(parts, r.Alias+"="+r.ChatID)
	}
	return strings.Join(parts, ", ")
}

// resolveChatRef turns a user-supplied chat reference (raw id or 1-999
// alias) into a concrete chat id, assigning an alias on first sight.
func (g *Gateway) resolveChatRef(ref string) (chatID, alias string, err error) {
	ref = strings.TrimSpace(ref)
	if acl.IsValidChatID(ref) {
		alias := ""
		if g.Aliases != nil {
			alias = g.Aliases.Ensure(ref)
			g.saveAliases()
		}
		return ref, alias, nil
	}
	if acl.IsValidChatAlias(ref) && g.Aliases != nil {
		if id := g.Aliases.Resolve(ref); id != "" {
			return id, ref, nil
		}
		return "", "", fmt.Errorf("unknown alias: %s", ref)
	}
	return "", "", fmt.Errorf("invalid chat reference: %s", ref)
}

func (g *Gateway) handleGrant(m *msgCtx, scope, chatRef string) {
	targetID, targetAlias, err := g.resolveChatRef(chatRef)
	if err != nil {
		g.send(m, "error_code: E_COMMAND\n"+err.Error(), true, "grant")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: string(errtax.ECommand), Detail: err.Error()})
		return
	}
	res, err := g.ACL.Grant(scope, targetID)
	if err != nil {
		g.send(m, "error_code: E_COMMAND\n"+err.Error(), true, "grant")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: string(errtax.ECommand), Detail: err.Error()})
		return
	}
	g.syncACL()
	g.logEvent(m, eventlog.Row{Event: "acl_update", Stage: "intake", Status: "completed",
		Detail: fmt.Sprintf("action=grant scope=%s target=%s alias=%s by=%s", scope, targetID, orToken(targetAlias, "-"), m.chatID)})
	g.send(m, fmt.Sprintf(
		"acl updated\n- action: grant\n- scope: %s\n- target: %s\n- role_now: %s",
		res.Scope, targetLabel(targetAlias, targetID), res.RoleNow), true, "grant")
}

func (g *Gateway) handleRevoke(m *msgCtx, scope, chatRef string) {
	targetID, targetAlias, err := g.resolveChatRef(chatRef)
	if err != nil {
		g.send(m, "error_code: E_COMMAND\n"+err.Error(), true, "revoke")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: string(errtax.ECommand), Detail: err.Error()})
		return
	}
	res, err := g.ACL.Revoke(scope, targetID, m.chatID)
	if err != nil {
		g.send(m, "error_code: E_COMMAND\n"+err.Error(), true, "revoke")
		g.logEvent(m, eventlog.Row{Event: "input_rejected", Stage: "intake", Status: "rejected", ErrorCode: string(errtax.ECommand), Detail: err.Error()})
		return
	}
	if res.Blocked {
		g.send(m, res.BlockedMsg, true, "revoke-guard")
		g.logEvent(m, eventlog.Row{Event: "acl_update", Stage: "intake", Status: "rejected", ErrorCode: string(errtax.EGate), Detail: "self-revoke guard"})
		return
	}
	g.syncACL()
	g.logEvent(m, eventlog.Row{Event: "acl_update", Stage: "intake", Status: "completed",
		Detail: fmt.Sprintf("action=revoke scope=%s target=%s alias=%s by=%s", scope, targetID, orToken(targetAlias, "-"), m.chatID)})
	g.send(m, fmt.Sprintf(
		"acl updated\n- action: revoke\n- scope: %s\n- target: %s\n- role_now: %s",
		res.Scope, targetLabel(targetAlias, targetID), res.RoleNow), true, "revoke")
}

func (g *Gateway) handleLockme(m *msgCtx) {
	res := g.ACL.Lockme(m.chatID, g.persistACL())

	status := "completed"
	errorCode := ""
	if res.PersistError != "" {
		status = "partial"
		errorCode = string(errtax.EInternal)
	}
	g.logEvent(m, eventlog.Row{Event: "allowlist_update", Stage: "intake", Status: status, ErrorCode: errorCode,
		Detail: fmt.Sprintf("prev_allow=%s prev_admin=%s prev_readonly=%s prev_owner=%s next_allow=%s next_owner=%s",
			res.PrevAllow, res.PrevAdmin, res.PrevReadonly, res.PrevOwner, m.chatID, m.chatID)})

	body := fmt.Sprintf(
		"access locked to current chat.\n- allowed_chat_id: %s\n- owner_chat_id: %s\n- cleared_admin_readonly: yes\n- apply_now: yes\n- persist_on_restart: %s",
		m.chatID, m.chatID, yesNo(res.PersistError == ""))
	if res.PersistError != "" {
		body += "\n- persist_error: " + res.PersistError
	}
	g.send(m, body, true, "lockme")
}

// persistACL returns the env-file sync callback for Lockme, or nil in
// dry-run mode.
func (g *Gateway) persistACL() func(*acl.ACL) error {
	if g.Cfg.DryRun {
		return nil
	}
	teamDir := g.Cfg.TeamDir
	return func(a *acl.ACL) error { return acl.SyncEnvFile(teamDir, a) }
}

// syncACL persists the current ACL sets to the env file, best-effort.
func (g *Gateway) syncACL() {
	if g.Cfg.DryRun {
		return
	}
	_ = acl.SyncEnvFile(g.Cfg.TeamDir, g.ACL)
}

func targetLabel(alias, chatID string) string {
	if alias != "" {
		return alias + " (" + chatID + ")"
	}
	return chatID
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orToken(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

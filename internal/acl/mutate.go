package acl

import "fmt"

// GrantResult summarizes the outcome of a /grant mutation for the reply
// the gateway sends back.
type GrantResult struct {
	Scope        string
	TargetChatID string
	TargetAlias  string
	RoleNow      Role
}

// Grant adds targetChatID to scope ("allow", "admin", or "readonly"),
// keeping the readonly-disjointness invariant. Unknown scopes are a
// caller error, matching the source's usage-string rejection.
func (a *ACL) Grant(scope, targetChatID string) (GrantResult, error) {
	switch scope {
	case "allow":
		a.Allow.Add(targetChatID)
		a.Readonly.Discard(targetChatID)
	case "admin":
		a.Admin.Add(targetChatID)
		a.Readonly.Discard(targetChatID)
	case "readonly":
		a.Readonly.Add(targetChatID)
		a.Allow.Discard(targetChatID)
		a.Admin.Discard(targetChatID)
	default:
		return GrantResult{}, fmt.Errorf("usage: /grant <allow|admin|readonly> <chat_id|alias>")
	}
	a.NormalizeReadonly()
	return GrantResult{
		Scope:        scope,
		TargetChatID: targetChatID,
		RoleNow:      a.Role(targetChatID),
	}, nil
}

// RevokeResult summarizes the outcome of a /revoke mutation.
type RevokeResult struct {
	Scope        string
	TargetChatID string
	TargetAlias  string
	RoleNow      Role
	Blocked      bool   // true when the self-revoke guard fired; no mutation applied
	BlockedMsg   string // the exact reply to send when Blocked is true
}

const selfRevokeBlockedMsg = "blocked: self-revoke would remove admin access in deny-by-default mode.\n" +
	"next: /grant admin <other_chat_id|alias> 후 다시 시도하세요."

// Revoke removes targetChatID from scope ("allow", "admin", "readonly",
// or "all"). If the caller is revoking their own access under
// deny-by-default policy and is not the owner, and doing so would leave
// them without admin access, the mutation is refused (the self-revoke
// guard) and Blocked is set instead of applying any change.
func (a *ACL) Revoke(scope, targetChatID, callerChatID string) (RevokeResult, error) {
	switch scope {
	case "allow", "admin", "readonly", "all":
	default:
		return RevokeResult{}, fmt.Errorf("usage: /revoke <allow|admin|readonly|all> <chat_id|alias>")
	}

	nextAllow := a.Allow.Clone()
	nextAdmin := a.Admin.Clone()
	nextReadonly := a.Readonly.Clone()

	if scope == "allow" || scope == "all" {
		nextAllow.Discard(targetChatID)
	}
	if scope == "admin" || scope == "all" {
		nextAdmin.Discard(targetChatID)
	}
	if scope == "readonly" || scope == "all" {
		nextReadonly.Discard(targetChatID)
	}

	if a.DenyByDefault && targetChatID == callerChatID && callerChatID != a.Owner {
		callerAfter := ResolveRole(callerChatID, nextAllow, nextAdmin, nextReadonly, true)
		if callerAfter != RoleAdmin {
			return RevokeResult{Blocked: true, BlockedMsg: selfRevokeBlockedMsg}, nil
		}
	}

	a.Allow, a.Admin, a.Readonly = nextAllow, nextAdmin, nextReadonly
	a.NormalizeReadonly()

	return RevokeResult{
		Scope:        scope,
		TargetChatID: targetChatID,
		RoleNow:      a.Role(targetChatID),
	}, nil
}

// LockmeResult captures the pre-mutation snapshot (for logging) and
// whether persisting the new env file failed.
type LockmeResult struct {
	PrevAllow, PrevAdmin, PrevReadonly, PrevOwner string
	PersistError                                  string
}

// Lockme collapses the ACL down to exactly the calling chat: allow =
// {chatID}, admin/readonly cleared, owner = chatID. persist is called
// with the new ACL state and should sync it to the operator-visible env
// file; if it returns an error, LockmeResult.PersistError is set and the
// reply should mark the restart-persistence as having failed, but the
// in-memory mutation (already applied) still takes effect immediately.
func (a *ACL) Lockme(chatID string, persist func(*ACL) error) LockmeResult {
	res := LockmeResult{
		PrevAllow:    csvOrDash(a.Allow),
		PrevAdmin:    csvOrDash(a.Admin),
		PrevReadonly: csvOrDash(a.Readonly),
		PrevOwner:    dashIfEmpty(a.Owner),
	}

	a.Allow = NewSet(chatID)
	a.Admin = Set{}
	a.Readonly = Set{}
	a.Owner = chatID

	if persist != nil {
		if err := persist(a); err != nil {
			res.PersistError = truncate(err.Error(), 180)
		}
	}
	return res
}

func csvOrDash(s Set) string {
	if len(s) == 0 {
		return "-"
	}
	return FormatCSVSet(s)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

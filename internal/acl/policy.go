package acl

// readonlyAllowed is the closed set of commands a readonly chat may use.
var readonlyAllowed = map[string]struct{}{
	"status": {}, "check": {}, "task": {}, "monitor": {}, "pick": {}, "kpi": {},
	"help": {}, "whoami": {}, "mode": {}, "acl": {}, "cancel-pending": {},
	"start": {}, "request": {}, "orch-status": {}, "orch-list": {},
	"orch-check": {}, "orch-task": {}, "orch-monitor": {}, "orch-pick": {}, "orch-kpi": {},
}

// unknownAllowed is the closed set of commands an unrecognized chat may
// use before ever being granted access.
var unknownAllowed = map[string]struct{}{
	"start": {}, "help": {}, "whoami": {}, "lockme": {},
}

// ownerOnly is the set of commands gated to the configured owner chat,
// when an owner is configured at all.
var ownerOnly = map[string]struct{}{
	"lockme": {}, "grant": {}, "revoke": {},
}

// Decision is the outcome of enforcing the command-vs-role policy.
type Decision struct {
	Allowed bool
	Reason  string
}

// allow is the fixed "permitted" decision, reused across policy checks.
var allow = Decision{Allowed: true}

// Enforce applies the enforcement table to a resolved role and
// command name, after EnsureChatAllowed has already gated whether the
// chat can talk to the gateway at all. ownerConfigured reports whether an
// owner chat id is configured (owner-only commands are gated only when
// true); aclNonEmpty reports whether any of allow/admin/readonly already
// has a member (gates the extra admin-or-owner requirement on /lockme).
func Enforce(role Role, cmd string, ownerConfigured, aclNonEmpty bool) Decision {
	if ownerConfigured {
		if _, restricted := ownerOnly[cmd]; restricted && role != RoleOwner {
			return Decision{Allowed: false, Reason: "owner-only command"}
		}
	}

	switch role {
	case RoleOwner, RoleAdmin:
		return allow

	case RoleReadonly:
		if _, ok := readonlyAllowed[cmd]; ok {
			return allow
		}
		return Decision{Allowed: false, Reason: "readonly role cannot run this command"}

	default: // RoleUnknown
		if cmd == "lockme" && aclNonEmpty {
			return Decision{Allowed: false, Reason: "lockme requires admin or owner once the ACL is non-empty"}
		}
		if _, ok := unknownAllowed[cmd]; ok {
			return allow
		}
		return Decision{Allowed: false, Reason: "unrecognized chat: only start/help/whoami/lockme are available"}
	}
}

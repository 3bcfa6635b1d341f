package acl

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// scopeAliases maps loose operator input to a
// canonical scope name, with "allow"/"owner" both resolving toward admin
// equivalence at the command layer (the ACL itself keeps them distinct).
var scopeAliases = map[string]string{
	"allow":    "allow",
	"allowed":  "allow",
	"admin":    "admin",
	"owner":    "admin",
	"readonly": "readonly",
	"read":     "readonly",
	"ro":       "readonly",
	"all":      "all",
}

// NormalizeScope maps operator-typed scope tokens (grant/revoke's first
// argument) to a canonical scope, returning "" when unrecognized.
func NormalizeScope(raw string) string {
	return scopeAliases[strings.ToLower(strings.TrimSpace(raw))]
}

// ParseCSVSet splits a comma-separated seed list (as used for config-time
// allow/admin/readonly lists) into a Set, trimming blanks.
func ParseCSVSet(raw string) Set {
	out := Set{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out[item] = struct{}{}
		}
	}
	return out
}

// FormatCSVSet renders a Set back to its sorted comma-separated form.
func FormatCSVSet(s Set) string {
	return strings.Join(s.Sorted(), ",")
}

// NormalizeOwnerChatID returns raw if it is a valid chat id, else "".
func NormalizeOwnerChatID(raw string) string {
	raw = strings.TrimSpace(raw)
	if IsValidChatID(raw) {
		return raw
	}
	return ""
}

// ParseCommandArgs parses "<scope> <chat_ref>" (the body of /grant and
// /revoke) using shell-word tokenizing so quoted tokens survive. scope
// "all" is rejected for grant (only meaningful for revoke).
func ParseCommandArgs(rest, usage string, allowAllScope bool) (scope, chatRef string, err error) {
	parts, err := shlex.Split(strings.TrimSpace(rest))
	if err != nil {
		return "", "", fmt.Errorf("%s (%w)", usage, err)
	}
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%s", usage)
	}
	scope = NormalizeScope(parts[0])
	if scope == "" || (scope == "all" && !allowAllScope) {
		return "", "", fmt.Errorf("%s", usage)
	}
	chatRef = strings.TrimSpace(parts[1])
	if !IsValidChatRef(chatRef) {
		return "", "", fmt.Errorf("%s (chat target must be chat_id or alias)", usage)
	}
	return scope, chatRef, nil
}

// Package acl resolves a chat's role from the gateway's ACL sets and
// enforces the command-vs-role policy table: allow/admin/readonly set
// membership plus an optional owner chat id, with allow and admin
// deliberately collapsed to the same role at enforcement time.
package acl

import (
	"regexp"
	"sort"
	"strings"
)

// Role is the resolved authorization level for a chat.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleAdmin    Role = "admin"
	RoleReadonly Role = "readonly"
	RoleUnknown  Role = "unknown"
)

var chatIDPattern = regexp.MustCompile(`^-?\d{5,20}$`)
var chatAliasPattern = regexp.MustCompile(`^[1-9]\d{0,2}$`)

// IsValidChatID reports whether raw looks like a platform chat id: 5-20
// digits with an optional leading "-".
func IsValidChatID(raw string) bool {
	return chatIDPattern.MatchString(strings.TrimSpace(raw))
}

// IsValidChatAlias reports whether raw is a 1-999 decimal alias.
func IsValidChatAlias(raw string) bool {
	return chatAliasPattern.MatchString(strings.TrimSpace(raw))
}

// IsValidChatRef reports whether raw is usable as either a chat id or an alias.
func IsValidChatRef(raw string) bool {
	return IsValidChatID(raw) || IsValidChatAlias(raw)
}

// Set is a string set with deterministic (sorted) iteration, used for the
// three ACL membership sets.
type Set map[string]struct{}

// NewSet builds a Set from a slice, ignoring blank entries.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it != "" {
			s[it] = struct{}{}
		}
	}
	return s
}

func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Add inserts v, returning true if it was not already present.
func (s Set) Add(v string) bool {
	if s.Has(v) {
		return false
	}
	s[v] = struct{}{}
	return true
}

// Discard removes v, returning true if it was present.
func (s Set) Discard(v string) bool {
	if !s.Has(v) {
		return false
	}
	delete(s, v)
	return true
}

// Sorted returns the set's members in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for v := range s {
		out[v] = struct{}{}
	}
	return out
}

// ACL holds the three membership sets and the optional owner chat id.
type ACL struct {
	Allow    Set
	Admin    Set
	Readonly Set
	Owner    string // empty when no owner is configured

	// DenyByDefault controls the fallback when all three sets are empty:
	// false means "allow everyone" (open bootstrap mode), true means
	// "deny everyone until an allowlist entry exists".
	DenyByDefault bool
}

// New returns an empty ACL with the given deny-by-default policy.
func New(denyByDefault bool) *ACL {
	return &ACL{
		Allow:         Set{},
		Admin:         Set{},
		Readonly:      Set{},
		DenyByDefault: denyByDefault,
	}
}

// NormalizeReadonly enforces the invariant readonly ∩ (admin ∪ allow) = ∅
// by dropping any readonly member that also appears in admin or allow.
// Call this after every ACL mutation.
func (a *ACL) NormalizeReadonly() {
	for v := range a.Readonly {
		if a.Admin.Has(v) || a.Allow.Has(v) {
			delete(a.Readonly, v)
		}
	}
}

// ResolveRole is the pure role-resolution function: admin and allow
// membership are equivalent (both resolve to RoleAdmin) even though they
// remain distinct in storage and in ACL listings.
func ResolveRole(chatID string, allow, admin, readonly Set, denyByDefault bool) Role {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return RoleUnknown
	}
	if admin.Has(chatID) {
		return RoleAdmin
	}
	if readonly.Has(chatID) {
		return RoleReadonly
	}
	if allow.Has(chatID) {
		return RoleAdmin
	}
	if len(allow) == 0 && len(admin) == 0 && len(readonly) == 0 && !denyByDefault {
		return RoleAdmin
	}
	return RoleUnknown
}

// Role resolves chatID's role, applying the owner override first.
func (a *ACL) Role(chatID string) Role {
	chatID = strings.TrimSpace(chatID)
	if a.Owner != "" && chatID == a.Owner {
		return RoleOwner
	}
	return ResolveRole(chatID, a.Allow, a.Admin, a.Readonly, a.DenyByDefault)
}

// EnsureChatAllowed reports whether chatID may interact with the gateway
// at all (a coarser check than Role, applied before role enforcement):
// true when chatID is the owner; when any ACL set is non-empty and
// chatID is a member of the union; or when all sets are empty and
// denyByDefault is false.
func EnsureChatAllowed(chatID string, allow, admin, readonly Set, denyByDefault bool, owner string) bool {
	chatID = strings.TrimSpace(chatID)
	if owner != "" && chatID == owner {
		return true
	}
	merged := make(Set, len(allow)+len(admin)+len(readonly))
	for v := range allow {
		merged[v] = struct{}{}
	}
	for v := range admin {
		merged[v] = struct{}{}
	}
	for v := range readonly {
		merged[v] = struct{}{}
	}
	if len(merged) == 0 {
		return !denyByDefault
	}
	return merged.Has(chatID)
}

// EnsureChatAllowed is the ACL-bound convenience form of the package function.
func (a *ACL) EnsureChatAllowed(chatID string) bool {
	return EnsureChatAllowed(chatID, a.Allow, a.Admin, a.Readonly, a.DenyByDefault, a.Owner)
}

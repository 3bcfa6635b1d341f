package acl

import (
	"path/filepath"
	"testing"
)

func TestIsValidChatIDAndAlias(t *testing.T) {
	if !IsValidChatID("123456789") {
		t.Error("9-digit id should be valid")
	}
	if !IsValidChatID("-100123456789") {
		t.Error("negative supergroup id should be valid")
	}
	if IsValidChatID("123") {
		t.Error("too-short id should be invalid")
	}
	if !IsValidChatAlias("7") {
		t.Error("single-digit alias should be valid")
	}
	if IsValidChatAlias("0") {
		t.Error("alias 0 should be invalid (must start 1-9)")
	}
	if IsValidChatAlias("1000") {
		t.Error("4-digit alias should be invalid")
	}
}

func TestResolveRoleEquivalence(t *testing.T) {
	allow := NewSet("111")
	admin := NewSet("222")
	readonly := NewSet("333")

	if ResolveRole("111", allow, admin, readonly, true) != RoleAdmin {
		t.Error("allow membership should resolve to admin role")
	}
	if ResolveRole("222", allow, admin, readonly, true) != RoleAdmin {
		t.Error("admin membership should resolve to admin role")
	}
	if ResolveRole("333", allow, admin, readonly, true) != RoleReadonly {
		t.Error("readonly membership should resolve to readonly role")
	}
	if ResolveRole("999", allow, admin, readonly, true) != RoleUnknown {
		t.Error("unlisted chat under deny-by-default should be unknown")
	}
	if ResolveRole("999", Set{}, Set{}, Set{}, false) != RoleAdmin {
		t.Error("empty ACL with deny_by_default=false should default-allow as admin")
	}
}

func TestNormalizeReadonlyInvariant(t *testing.T) {
	a := New(true)
	a.Admin.Add("1")
	a.Readonly.Add("1")
	a.Readonly.Add("2")
	a.NormalizeReadonly()
	if a.Readonly.Has("1") {
		t.Error("readonly must not overlap admin after normalization")
	}
	if !a.Readonly.Has("2") {
		t.Error("unrelated readonly member should survive normalization")
	}
}

func TestEnsureChatAllowed(t *testing.T) {
	if !EnsureChatAllowed("1", Set{}, Set{}, Set{}, false, "") {
		t.Error("empty ACL with deny_by_default=false should allow everyone")
	}
	if EnsureChatAllowed("1", Set{}, Set{}, Set{}, true, "") {
		t.Error("empty ACL with deny_by_default=true should deny everyone")
	}
	if !EnsureChatAllowed("5", Set{}, Set{}, Set{}, true, "5") {
		t.Error("owner should always be allowed")
	}
	if !EnsureChatAllowed("7", NewSet("7"), Set{}, Set{}, true, "") {
		t.Error("allow-listed chat should be allowed")
	}
}

func TestRevokeSelfGuard(t *testing.T) {
	a := New(true)
	a.Admin.Add("100")
	a.Owner = ""

	res, err := a.Revoke("admin", "100", "100")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !res.Blocked {
		t.Fatal("expected self-revoke guard to block the only admin from revoking themselves")
	}
	if !a.Admin.Has("100") {
		t.Error("blocked revoke must not mutate the ACL")
	}
}

func TestRevokeSelfGuardChecksCallerOwnResultingRole(t *testing.T) {
	// Another admin existing elsewhere doesn't save the caller: the guard
	// looks at the caller's own role after the mutation, not whether some
	// admin remains anywhere in the ACL.
	a := New(true)
	a.Admin.Add("100")
	a.Admin.Add("200")

	res, err := a.Revoke("admin", "100", "100")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !res.Blocked {
		t.Fatal("expected self-revoke guard to still block even though another admin chat exists")
	}
}

func TestRevokeSelfAllowedWhenStillAdminViaAllow(t *testing.T) {
	a := New(true)
	a.Admin.Add("100")
	a.Allow.Add("100")

	res, err := a.Revoke("admin", "100", "100")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if res.Blocked {
		t.Fatal("caller retains admin via allow membership, so the guard should not block")
	}
	if a.Admin.Has("100") {
		t.Error("admin scope should still be revoked")
	}
	if !a.Allow.Has("100") {
		t.Error("allow membership should be untouched by an admin-scope revoke")
	}
}

func TestGrantReadonlyClearsAllowAndAdmin(t *testing.T) {
	a := New(false)
	a.Allow.Add("1")
	if _, err := a.Grant("readonly", "1"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if a.Allow.Has("1") {
		t.Error("granting readonly should clear prior allow membership")
	}
	if !a.Readonly.Has("1") {
		t.Error("expected readonly membership after grant")
	}
}

func TestLockmeCollapsesACL(t *testing.T) {
	a := New(true)
	a.Allow.Add("1")
	a.Admin.Add("2")
	a.Readonly.Add("3")

	res := a.Lockme("42", func(*ACL) error { return nil })
	if res.PersistError != "" {
		t.Fatalf("unexpected persist error: %s", res.PersistError)
	}
	if !a.Allow.Has("42") || len(a.Allow) != 1 {
		t.Errorf("expected allow={42}, got %v", a.Allow.Sorted())
	}
	if len(a.Admin) != 0 || len(a.Readonly) != 0 {
		t.Error("lockme should clear admin and readonly")
	}
	if a.Owner != "42" {
		t.Error("lockme should set owner to the calling chat")
	}
}

func TestAliasBookBijectionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telegram_chat_aliases.json")

	book := NewAliasBook()
	alias1 := book.Ensure("100000001")
	alias2 := book.Ensure("100000002")
	if alias1 == alias2 {
		t.Fatal("distinct chat ids must get distinct aliases")
	}
	if book.Ensure("100000001") != alias1 {
		t.Fatal("re-ensuring an existing chat id must return its existing alias")
	}
	if err := book.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := LoadAliasBook(path)
	if reloaded.Resolve(alias1) != "100000001" {
		t.Errorf("reloaded alias %s = %q, want 100000001", alias1, reloaded.Resolve(alias1))
	}
	if reloaded.Find("100000002") != alias2 {
		t.Error("reloaded book should preserve the reverse mapping")
	}
}

func TestParseCommandArgs(t *testing.T) {
	scope, ref, err := ParseCommandArgs(`admin "100000001"`, "usage: /grant <allow|admin|readonly> <chat_id|alias>", false)
	if err != nil {
		t.Fatalf("ParseCommandArgs: %v", err)
	}
	if scope != "admin" || ref != "100000001" {
		t.Errorf("got scope=%q ref=%q", scope, ref)
	}

	if _, _, err := ParseCommandArgs("all 1", "usage", false); err == nil {
		t.Error("scope 'all' should be rejected for grant")
	}
	if _, _, err := ParseCommandArgs("all 1", "usage", true); err != nil {
		t.Error("scope 'all' should be accepted for revoke")
	}
}

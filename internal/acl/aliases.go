package acl

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/kimyoungjin06/aoe-orch-control/internal/util"
)

// AliasBook is the short-numeric-alias ↔ chat-id bijection persisted at
// <team>/telegram_chat_aliases.json. Numeric aliases ("1".."999") let
// operators type /grant admin 1 instead of a raw 13-digit chat id.
type AliasBook struct {
	// byAlias and byChatID are kept in lockstep; every mutation goes
	// through methods that maintain both sides, enforcing the bijection
	// invariant: no alias maps to more than one chat id, and no
	// chat id is reachable through more than one alias.
	byAlias  map[string]string
	byChatID map[string]string
}

// NewAliasBook returns an empty book.
func NewAliasBook() *AliasBook {
	return &AliasBook{byAlias: map[string]string{}, byChatID: map[string]string{}}
}

// LoadAliasBook reads path, silently discarding malformed rows and any
// alias/chat-id pair that would violate the bijection, exactly as the
// source's load_chat_aliases does. A missing or corrupt file yields an
// empty book rather than an error.
func LoadAliasBook(path string) *AliasBook {
	book := NewAliasBook()
	raw, err := os.ReadFile(path)
	if err != nil {
		return book
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return book
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return aliasSortLess(keys[i], keys[j]) })
	for _, alias := range keys {
		chatID := data[alias]
		if !IsValidChatAlias(alias) || !IsValidChatID(chatID) {
			continue
		}
		if _, taken := book.byChatID[chatID]; taken {
			continue
		}
		book.byAlias[alias] = chatID
		book.byChatID[chatID] = alias
	}
	return book
}

func aliasSortLess(a, b string) bool {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return an < bn
	case aerr == nil:
		return true
	case berr == nil:
		return false
	default:
		return a < b
	}
}

// Save persists the book to path via atomic temp-file-then-rename.
func (b *AliasBook) Save(path string) error {
	return util.EnsureDirAndWriteJSON(path, b.byAlias)
}

// Find returns the alias mapped to chatID, or "" if none.
func (b *AliasBook) Find(chatID string) string {
	return b.byChatID[chatID]
}

// Resolve returns the chat id an alias maps to, or "" if none.
func (b *AliasBook) Resolve(alias string) string {
	return b.byAlias[alias]
}

// AliasRow is one alias→chat-id pair for display.
type AliasRow struct {
	Alias  string
	ChatID string
}

// Rows returns every pair sorted by numeric alias, for the /acl listing.
func (b *AliasBook) Rows() []AliasRow {
	aliases := make([]string, 0, len(b.byAlias))
	for a := range b.byAlias {
		aliases = append(aliases, a)
	}
	sort.Slice(aliases, func(i, j int) bool { return aliasSortLess(aliases[i], aliases[j]) })
	rows := make([]AliasRow, 0, len(aliases))
	for _, a := range aliases {
		rows = append(rows, AliasRow{Alias: a, ChatID: b.byAlias[a]})
	}
	return rows
}

// next picks the lowest unused numeric alias in [1, 999].
func (b *AliasBook) next() string {
	used := make(map[int]struct{}, len(b.byAlias))
	for k := range b.byAlias {
		if n, err := strconv.Atoi(k); err == nil {
			used[n] = struct{}{}
		}
	}
	for i := 1; i <= 999; i++ {
		if _, ok := used[i]; !ok {
			return strconv.Itoa(i)
		}
	}
	return ""
}

// Ensure returns chatID's existing alias, or mints and records the next
// free numeric alias for it. Returns "" if chatID is invalid or the
// alias space [1,999] is exhausted.
func (b *AliasBook) Ensure(chatID string) string {
	if !IsValidChatID(chatID) {
		return ""
	}
	if existing := b.Find(chatID); existing != "" {
		return existing
	}
	alias := b.next()
	if alias == "" {
		return ""
	}
	b.byAlias[alias] = chatID
	b.byChatID[chatID] = alias
	return alias
}

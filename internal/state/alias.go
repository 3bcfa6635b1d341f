package state

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var shortIDPattern = regexp.MustCompile(`^T-(\d{3,})$`)

// formatShortID renders a sequence number as "T-NNN", zero-padded to at
// least 3 digits, so a short id always matches T-\d{3,}.
func formatShortID(seq int) string {
	return fmt.Sprintf("T-%03d", seq)
}

func parseShortIDSeq(shortID string) (int, bool) {
	m := shortIDPattern.FindStringSubmatch(shortID)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// normalizeAliasKey lowercases and trims an alias or short id so alias and
// short-id lookups are case-insensitive.
func normalizeAliasKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// stopwords strips English filler words and the Korean request-filler
// set when deriving a task alias from its prompt.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "to": {}, "for": {}, "and": {}, "or": {}, "of": {},
	"해주세요": {}, "해줘": {}, "요청": {}, "작업": {}, "진행": {}, "지금": {}, "바로": {}, "좀": {},
}

var aliasPunctuation = regexp.MustCompile(`[^\p{L}\p{N}\s-]+`)
var aliasWhitespace = regexp.MustCompile(`\s+`)

const maxAliasTokens = 5
const maxAliasChars = 48

// DeriveAliasBase builds the base slug for a task alias from its prompt:
// strip punctuation, drop stopwords, take the first five remaining
// tokens, join with "-", and cap the result at 48 characters.
func DeriveAliasBase(prompt string) string {
	cleaned := aliasPunctuation.ReplaceAllString(strings.ToLower(prompt), " ")
	cleaned = aliasWhitespace.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "task"
	}

	var tokens []string
	for _, tok := range strings.Split(cleaned, " ") {
		if tok == "" {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		tokens = append(tokens, tok)
		if len(tokens) == maxAliasTokens {
			break
		}
	}
	if len(tokens) == 0 {
		return "task"
	}

	base := strings.Join(tokens, "-")
	if len(base) > maxAliasChars {
		base = base[:maxAliasChars]
		base = strings.TrimRight(base, "-")
	}
	if base == "" {
		return "task"
	}
	return base
}

// UniqueAlias returns an alias that doesn't collide in the project's alias
// index, appending "-2", "-3", ... to the base as needed. excludeRequestID
// lets a task re-derive its own alias (e.g. on replan) without colliding
// with itself.
func (p *Project) UniqueAlias(base, excludeRequestID string) string {
	key := normalizeAliasKey(base)
	if owner, ok := p.TaskAliasIndex[key]; !ok || owner == excludeRequestID {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		key := normalizeAliasKey(candidate)
		if owner, ok := p.TaskAliasIndex[key]; !ok || owner == excludeRequestID {
			return candidate
		}
	}
}

// ResolveTaskRef resolves a user-supplied reference to a request id, in
// precedence order: (a) a 1-based index into the chat's
// recent-task list for this project, (b) an exact request id, (c) an
// alias-key lookup, (d) a linear scan by normalized short id or alias.
func (p *Project) ResolveTaskRef(ref string, recent []string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	if n, err := strconv.Atoi(ref); err == nil && n >= 1 {
		if n <= len(recent) {
			return recent[n-1], true
		}
	}

	if _, ok := p.Tasks[ref]; ok {
		return ref, true
	}

	if id, ok := p.TaskAliasIndex[normalizeAliasKey(ref)]; ok {
		return id, true
	}

	key := normalizeAliasKey(ref)
	for id, t := range p.Tasks {
		if normalizeAliasKey(t.ShortID) == key || normalizeAliasKey(t.Alias) == key {
			return id, true
		}
	}
	return "", false
}

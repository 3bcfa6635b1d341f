// Package parser turns raw chat text into the three surface forms the
// gateway understands: slash commands, CLI-style invocations, and loose
// bilingual (English/Korean) quick phrases.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// ParseCommand splits "/<cmd>[@bot] rest" into a lowercased command head
// and the remaining free text. Non-slash input returns ("", text).
func ParseCommand(text string) (cmd, rest string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	first, tail, _ := strings.Cut(text, " ")
	token := strings.TrimPrefix(first, "/")
	if at := strings.Index(token, "@"); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(strings.TrimSpace(token)), strings.TrimSpace(tail)
}

var modeAliases = map[string]string{
	"": "status", "status": "status", "show": "status", "current": "status", "now": "status",
	"확인": "status", "현재": "status",
	"dispatch": "dispatch", "team": "dispatch", "task": "dispatch", "작업": "dispatch", "팀작업": "dispatch",
	"on": "dispatch", "enable": "dispatch", "enabled": "dispatch", "start": "dispatch",
	"켜기": "dispatch", "활성화": "dispatch",
	"direct": "direct", "ask": "direct", "question": "direct", "질문": "direct", "직접": "direct",
	"off": "off", "none": "off", "disable": "off", "clear": "off", "stop": "off",
	"해제": "off", "끄기": "off",
}

// NormalizeModeToken maps a loose mode token to one of
// "status"/"dispatch"/"direct"/"off", or "" if unrecognized.
func NormalizeModeToken(raw string) string {
	return modeAliases[strings.ToLower(strings.TrimSpace(raw))]
}

// NormalizeLooseText collapses runs of whitespace to single spaces,
// trims, and folds fullwidth/halfwidth variants to their canonical
// forms so fullwidth Latin or halfwidth Hangul input still matches the
// keyword tables.
func NormalizeLooseText(raw string) string {
	return strings.Join(strings.Fields(width.Fold.String(raw)), " ")
}

type riskMarker struct {
	pattern *regexp.Regexp
	label   string
}

var riskRegexMarkers = []riskMarker{
	{regexp.MustCompile(`\brm\s+-rf\b`), "destructive_delete"},
	{regexp.MustCompile(`\bmkfs(\.| )`), "filesystem_format"},
	{regexp.MustCompile(`\bdd\s+if=`), "raw_disk_write"},
	{regexp.MustCompile(`\bshutdown\b`), "shutdown"},
	{regexp.MustCompile(`\breboot\b`), "reboot"},
	{regexp.MustCompile(`\bpoweroff\b`), "poweroff"},
	{regexp.MustCompile(`\bdrop\s+database\b`), "drop_database"},
	{regexp.MustCompile(`\btruncate\s+table\b`), "truncate_table"},
	{regexp.MustCompile(`\bdelete\s+from\b`), "sql_delete"},
	{regexp.MustCompile(`\bvisudo\b`), "sudoers_edit"},
}

var riskKeywordMarkers = []struct{ token, label string }{
	{"delete all", "delete_all"},
	{"format disk", "format_disk"},
	{"factory reset", "factory_reset"},
	{"wipe", "wipe"},
	{"초기화", "k_reset"},
	{"포맷", "k_format"},
	{"전부 삭제", "k_delete_all"},
	{"전체 삭제", "k_delete_all"},
	{"데이터 삭제", "k_delete_data"},
	{"재부팅", "k_reboot"},
}

// DetectHighRiskPrompt returns a non-empty risk tag when prompt matches a
// known destructive-operation pattern, else "".
func DetectHighRiskPrompt(prompt string) string {
	text := strings.TrimSpace(prompt)
	if text == "" {
		return ""
	}
	low := strings.ToLower(text)
	for _, m := range riskRegexMarkers {
		if m.pattern.MatchString(low) {
			return m.label
		}
	}
	for _, m := range riskKeywordMarkers {
		if strings.Contains(low, m.token) {
			return m.label
		}
	}
	return ""
}

// clampInt restricts v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseBoundedInt(tail string, lo, hi int) (int, bool) {
	n, err := strconv.Atoi(tail)
	if err != nil {
		return 0, false
	}
	return clampInt(n, lo, hi), true
}

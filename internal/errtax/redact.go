package errtax

import "regexp"

// sensitivePatterns match substrings that must never reach a chat reply
// or the event log verbatim: bot tokens, bearer/basic auth headers, and
// key=value pairs for common secret field names.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{6,12}:[A-Za-z0-9_-]{30,}\b`),                 // Telegram bot token
	regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._~+/=-]+`),            // Bearer token
	regexp.MustCompile(`(?i)\bBasic\s+[A-Za-z0-9+/=]+`),                 // Basic auth
	regexp.MustCompile(`(?i)\b(password|token|api_key|secret)\s*[=:]\s*\S+`),
}

// Redact replaces every sensitive substring in s with "***REDACTED***".
func Redact(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllString(s, "***REDACTED***")
	}
	return s
}

package telegram

import "strings"

// minMaxChars is the smallest allowed per-message chunk size.
const minMaxChars = 200

// DefaultMaxTextChars is the default outgoing chunk size, safely under
// Telegram's 4096-char sendMessage limit.
const DefaultMaxTextChars = 3800

// SplitText breaks text into chunks of at most maxChars, splitting on
// line boundaries. A single line longer than maxChars is hard-truncated
// with an ellipsis rather than split mid-line.
func SplitText(text string, maxChars int) []string {
	if maxChars < minMaxChars {
		maxChars = minMaxChars
	}
	src := strings.TrimSpace(text)
	if src == "" {
		return []string{"(empty)"}
	}
	if len(src) <= maxChars {
		return []string{src}
	}

	var chunks []string
	var buf []string
	size := 0

	flush := func() {
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			size = 0
		}
	}

	for _, line := range strings.Split(src, "\n") {
		candidate := line
		if len(candidate) > maxChars {
			candidate = candidate[:maxChars-3] + "..."
		}
		addLen := len(candidate)
		if len(buf) > 0 {
			addLen++
		}
		if size+addLen > maxChars {
			flush()
		}
		buf = append(buf, candidate)
		size += addLen
	}
	flush()
	return chunks
}

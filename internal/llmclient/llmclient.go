// Package llmclient wraps the LLM executable used by the dispatch
// planner's plan/critique/repair calls and the direct-mode persona
// reply, treating it as a fallible pure function: prompt and timeout in,
// text out.
package llmclient

import (
	"context"
	"fmt"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/procrunner"
)

// Client invokes the LLM executable with a prompt on stdin-equivalent
// argv and returns its raw text reply.
type Client struct {
	Binary  string
	Runner  procrunner.Runner
	Timeout time.Duration // LLM call ceiling, capped at 900s
}

// Complete runs the LLM executable with prompt and returns its raw text
// output. Non-zero exit or timeout surfaces as an error; callers treat a
// failed completion as "no usable output" rather than a fatal condition.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 || timeout > 900*time.Second {
		timeout = 900 * time.Second
	}
	stdout, _, err := c.Runner.Run(ctx, timeout, c.Binary, prompt)
	if err != nil {
		return "", fmt.Errorf("llm call failed: %w", err)
	}
	return stdout, nil
}

// ExtractJSONObject performs a best-effort scan for the first balanced
// "{...}" object in text, returning it (still as raw JSON text) and
// whether one was found. Model output often wraps JSON in prose or code
// fences; this never parses, just locates the span, leaving
// encoding/json to validate it.
func ExtractJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Package errtax implements the gateway's closed error taxonomy: every
// failure reply carries one of a fixed set of E_* codes, a localized
// user message, an optional masked detail, and a suggested next step.
package errtax

import (
	"fmt"
	"strings"
)

// Code is one of the closed set of error kinds from the original
// gateway's error-handling design.
type Code string

const (
	ECommand  Code = "E_COMMAND"
	ETimeout  Code = "E_TIMEOUT"
	EGate     Code = "E_GATE"
	EOrch     Code = "E_ORCH"
	ERequest  Code = "E_REQUEST"
	ETelegram Code = "E_TELEGRAM"
	EAuth     Code = "E_AUTH"
	EInternal Code = "E_INTERNAL"
)

// GatewayError is the structured form of a failure reply.
type GatewayError struct {
	Code        Code
	UserMessage string
	Detail      string // masked, truncated to 180 chars before display
	Next        string // suggested follow-up command, if any
	cause       error
}

func (e *GatewayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.UserMessage, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.UserMessage)
}

func (e *GatewayError) Unwrap() error { return e.cause }

// New builds a GatewayError, masking and truncating detail.
func New(code Code, userMessage string, next string, cause error) *GatewayError {
	detail := ""
	if cause != nil {
		detail = truncate(Redact(cause.Error()), 180)
	}
	return &GatewayError{Code: code, UserMessage: userMessage, Detail: detail, Next: next, cause: cause}
}

// Classify maps a raw error message to an error code by matching
// well-known substrings in its lowercased form. Unmatched errors fall
// back to E_INTERNAL.
func Classify(err error) Code {
	if err == nil {
		return EInternal
	}
	low := strings.ToLower(err.Error())
	switch {
	case strings.Contains(low, "usage:"), strings.Contains(low, "unknown option"), strings.Contains(low, "unknown command"):
		return ECommand
	case strings.Contains(low, "timed out"), strings.Contains(low, "timeout"):
		return ETimeout
	case strings.Contains(low, "verifier gate"), strings.Contains(low, "plan gate"), strings.Contains(low, "rate limit"), strings.Contains(low, "blocked:"):
		return EGate
	case strings.Contains(low, "permission denied"), strings.Contains(low, "not allowed"), strings.Contains(low, "unauthorized"):
		return EAuth
	case strings.Contains(low, "orchestrator"), strings.Contains(low, "orch exited"):
		return EOrch
	case strings.Contains(low, "request query failed"), strings.Contains(low, "request failed"):
		return ERequest
	case strings.Contains(low, "send failed"), strings.Contains(low, "telegram"):
		return ETelegram
	default:
		return EInternal
	}
}

// FromError wraps err using Classify to pick the code, with a generic
// user message for the resolved code.
func FromError(err error, next string) *GatewayError {
	code := Classify(err)
	return New(code, defaultUserMessage(code), next, err)
}

func defaultUserMessage(c Code) string {
	switch c {
	case ECommand:
		return "command not understood"
	case ETimeout:
		return "operation timed out"
	case EGate:
		return "blocked by a safety gate"
	case EOrch:
		return "orchestrator execution failed"
	case ERequest:
		return "task lookup failed"
	case ETelegram:
		return "message delivery failed"
	case EAuth:
		return "permission denied"
	default:
		return "internal error"
	}
}

// ReplyLine renders the "error_code: E_* ..." first line carried by
// every failure reply.
func (e *GatewayError) ReplyLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error_code: %s\n%s", e.Code, e.UserMessage)
	if e.Detail != "" {
		fmt.Fprintf(&b, "\ndetail: %s", e.Detail)
	}
	if e.Next != "" {
		fmt.Fprintf(&b, "\nnext: %s", e.Next)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

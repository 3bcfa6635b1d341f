package guard

import (
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/parser"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// MinConfirmTTL and MaxConfirmTTL bound the operator-configured
// confirmation token lifetime.
const (
	MinConfirmTTL = 30 * time.Second
	MaxConfirmTTL = 86400 * time.Second
)

// ClampConfirmTTL restricts ttl to the allowed range.
func ClampConfirmTTL(ttl time.Duration) time.Duration {
	if ttl < MinConfirmTTL {
		return MinConfirmTTL
	}
	if ttl > MaxConfirmTTL {
		return MaxConfirmTTL
	}
	return ttl
}

// RiskGateResult is the outcome of evaluating the high-risk confirmation
// gate for one incoming "run" routing.
type RiskGateResult struct {
	// Triggered is true when a confirm_action was just written to the
	// session and the caller should send the "/ok | /cancel" prompt
	// instead of dispatching.
	Triggered bool
	RiskTag   string
}

// CheckHighRiskGate implements the confirmation protocol: the gate
// only fires when routing came from default_mode (not an explicit
// slash/CLI run) and the prompt matches the risk detector. On trigger it
// writes confirm_action into session and returns Triggered=true; the
// caller should not dispatch this pass.
func CheckHighRiskGate(session *state.ChatSession, mode state.Mode, prompt string, cameFromDefaultMode bool, now time.Time) RiskGateResult {
	if !cameFromDefaultMode {
		return RiskGateResult{}
	}
	risk := parser.DetectHighRiskPrompt(prompt)
	if risk == "" {
		return RiskGateResult{}
	}
	session.ConfirmAction = &state.ConfirmAction{
		Mode:        mode,
		Prompt:      prompt,
		Risk:        risk,
		RequestedAt: now,
	}
	session.UpdatedAt = now
	return RiskGateResult{Triggered: true, RiskTag: risk}
}

// ConfirmOutcome is the result of redeeming a pending confirm_action
// with "/ok".
type ConfirmOutcome struct {
	OK     bool
	Mode   state.Mode
	Prompt string
	// Expired is set when a confirm_action existed but its TTL had
	// already elapsed; the token is cleared either way.
	Expired bool
}

// RedeemConfirm implements "/ok": if a non-expired confirm_action is
// pending, it is cleared and its mode/prompt are returned with OK=true
// so the caller can re-synthesize a "run" with RunAutoSource="confirmed",
// bypassing the risk check on this one pass. If the token had expired,
// it is still cleared and Expired is set so the caller can reply with
// the expiry message.
func RedeemConfirm(session *state.ChatSession, ttl time.Duration, now time.Time) ConfirmOutcome {
	c := session.ConfirmAction
	if c == nil {
		return ConfirmOutcome{}
	}
	expired := c.Expired(now, ClampConfirmTTL(ttl))
	session.ClearConfirm(now)
	if expired {
		return ConfirmOutcome{Expired: true}
	}
	return ConfirmOutcome{OK: true, Mode: c.Mode, Prompt: c.Prompt}
}

// Package guard implements the gateway's pre-dispatch safety checks: the
// per-chat running/daily rate caps and the high-risk confirmation-token
// protocol.
package guard

import (
	"fmt"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
)

// RateLimits are the per-chat caps; zero disables the corresponding check.
type RateLimits struct {
	ChatMaxRunning int
	ChatDailyCap   int
}

// TaskLister is the minimal view over a project's tasks the rate guard
// needs: every task a given chat has ever initiated.
type TaskLister interface {
	TasksByInitiator(chatID string) []*state.TaskRecord
}

// RateResult is the outcome of a rate check.
type RateResult struct {
	Blocked bool
	Reason  string // "" unless Blocked
}

// CheckRate applies the running and daily caps for chatID, counting
// across all tasks TaskLister returns for that chat (an O(tasks) scan).
func CheckRate(lister TaskLister, chatID string, limits RateLimits, now time.Time) RateResult {
	tasks := lister.TasksByInitiator(chatID)

	if limits.ChatMaxRunning > 0 {
		running := 0
		for _, tr := range tasks {
			if tr.Status == state.TaskPending || tr.Status == state.TaskRunning {
				running++
			}
		}
		if running >= limits.ChatMaxRunning {
			return RateResult{Blocked: true, Reason: fmt.Sprintf(
				"rate limit: %d task(s) already pending/running (cap %d)", running, limits.ChatMaxRunning)}
		}
	}

	if limits.ChatDailyCap > 0 {
		y, m, d := now.Date()
		today := 0
		for _, tr := range tasks {
			ty, tm, td := tr.CreatedAt.Date()
			if ty == y && tm == m && td == d {
				today++
			}
		}
		if today >= limits.ChatDailyCap {
			return RateResult{Blocked: true, Reason: fmt.Sprintf(
				"rate limit: %d task(s) started today (daily cap %d)", today, limits.ChatDailyCap)}
		}
	}

	return RateResult{}
}

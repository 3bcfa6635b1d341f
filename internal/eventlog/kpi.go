package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"
)

// traceState tracks, per trace id, whether the command was accepted and
// whether anything in the trace later succeeded or failed.
type traceState struct {
	accepted bool
	success  bool
	failed   bool
}

// Summarize scans the current log file only (rotated siblings are not
// read, even when they hold rows inside the window) and renders the KPI
// text for /kpi over the
// last `hours` hours, clamped to [1, 168].
func (l *Log) Summarize(projectName string, hours int, now time.Time) string {
	if hours <= 0 {
		hours = 24
	}
	if hours < 1 {
		hours = 1
	}
	if hours > 168 {
		hours = 168
	}

	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Sprintf("orch: %s\nmetrics: no data file\nwindow_hours: %d", projectName, hours)
	}
	defer f.Close()

	cutoff := now.UTC().Add(-time.Duration(hours) * time.Hour)

	var (
		total, incoming, accepted, rejected int
		sentOK, sentFail                    int
		dispatchDone, directDone, errors    int
		errorCodes                          = map[string]int{}
		latencies                           []int
		traces                              = map[string]*traceState{}
	)

	touch := func(id string) *traceState {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil
		}
		st, ok := traces[id]
		if !ok {
			st = &traceState{}
			traces[id] = st
		}
		return st
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			continue
		}
		ts, err := time.Parse(TimeLayout, row.Timestamp)
		if err != nil {
			continue
		}
		if ts.UTC().Before(cutoff) {
			continue
		}

		total++
		status := strings.ToLower(strings.TrimSpace(row.Status))
		trace := touch(row.TraceID)

		switch row.Event {
		case "incoming_message":
			incoming++
		case "command_resolved":
			if status == "accepted" {
				accepted++
				if trace != nil {
					trace.accepted = true
				}
			}
		case "input_rejected":
			rejected++
		case "send_message":
			if status == "sent" {
				sentOK++
				if trace != nil {
					trace.success = true
				}
			} else {
				sentFail++
				if trace != nil {
					trace.failed = true
				}
			}
		case "dispatch_completed":
			dispatchDone++
			if trace != nil {
				trace.success = true
			}
		case "direct_reply", "direct_done":
			directDone++
			if trace != nil {
				trace.success = true
			}
		case "dispatch_result":
			if trace != nil {
				if status == "failed" {
					trace.failed = true
				} else {
					trace.success = true
				}
			}
		case "handler_error":
			errors++
			code := strings.TrimSpace(row.ErrorCode)
			if code == "" {
				code = "E_INTERNAL"
			}
			errorCodes[code]++
			if trace != nil {
				trace.failed = true
			}
		}

		if row.LatencyMS > 0 {
			latencies = append(latencies, row.LatencyMS)
		}
	}

	sendTotal := sentOK + sentFail
	sendRate := 0.0
	if sendTotal > 0 {
		sendRate = 100.0 * float64(sentOK) / float64(sendTotal)
	}

	var cmdSuccess, cmdFailed, cmdPending int
	for _, st := range traces {
		if !st.accepted {
			continue
		}
		switch {
		case st.failed:
			cmdFailed++
		case st.success:
			cmdSuccess++
		default:
			cmdPending++
		}
	}
	cmdDone := cmdSuccess + cmdFailed
	cmdRate := 0.0
	if cmdDone > 0 {
		cmdRate = 100.0 * float64(cmdSuccess) / float64(cmdDone)
	}

	lines := []string{
		fmt.Sprintf("orch: %s", projectName),
		fmt.Sprintf("window_hours: %d", hours),
		fmt.Sprintf("events: total=%d incoming=%d accepted=%d rejected=%d", total, incoming, accepted, rejected),
		fmt.Sprintf("commands: success=%d failed=%d pending=%d success_rate=%.1f%%", cmdSuccess, cmdFailed, cmdPending, cmdRate),
		fmt.Sprintf("send: ok=%d fail=%d success_rate=%.1f%%", sentOK, sentFail, sendRate),
		fmt.Sprintf("completion: dispatch=%d direct=%d errors=%d", dispatchDone, directDone, errors),
		fmt.Sprintf("latency_ms: p50=%d p95=%d samples=%d", Percentile(latencies, 0.50), Percentile(latencies, 0.95), len(latencies)),
	}
	if len(errorCodes) > 0 {
		codes := make([]string, 0, len(errorCodes))
		for code := range errorCodes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		parts := make([]string, 0, len(codes))
		for _, code := range codes {
			parts = append(parts, fmt.Sprintf("%s=%d", code, errorCodes[code]))
		}
		lines = append(lines, "error_codes: "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

// Percentile computes the pct-th percentile (0..1) over values using
// linear interpolation between the two nearest ranks. An empty input
// yields 0.
func Percentile(values []int, pct float64) int {
	if len(values) == 0 {
		return 0
	}
	ordered := make([]int, len(values))
	copy(ordered, values)
	sort.Ints(ordered)
	if len(ordered) == 1 {
		return ordered[0]
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	rank := pct * float64(len(ordered)-1)
	lo := int(rank)
	hi := lo + 1
	if hi > len(ordered)-1 {
		hi = len(ordered) - 1
	}
	if lo == hi {
		return ordered[lo]
	}
	frac := rank - float64(lo)
	return int(math.Round(float64(ordered[lo])*(1.0-frac) + float64(ordered[hi])*frac))
}

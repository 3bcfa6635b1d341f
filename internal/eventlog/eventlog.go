// Package eventlog is the gateway's append-only structured event log:
// one JSON line per handler outcome, size-based rotation, and the KPI
// window aggregation behind /kpi. Rows are masked before they touch
// disk so secrets never land in the log.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kimyoungjin06/aoe-orch-control/internal/errtax"
)

// TimeLayout is the on-disk timestamp format for event rows.
const TimeLayout = "2006-01-02T15:04:05-0700"

const (
	// DefaultMaxBytes is the rotation threshold for the current log file.
	DefaultMaxBytes = 5 * 1024 * 1024
	// DefaultKeepFiles is how many rotated files survive.
	DefaultKeepFiles = 5

	minMaxBytes = 64 * 1024
	maxMaxBytes = 256 * 1024 * 1024
	minKeep     = 1
	maxKeep     = 30

	maxDetailChars = 800
)

// Row is one event record. Every terminal handler branch writes exactly
// one of these.
type Row struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	TraceID     string `json:"trace_id"`
	Project     string `json:"project"`
	RequestID   string `json:"request_id"`
	TaskShortID string `json:"task_short_id"`
	TaskAlias   string `json:"task_alias"`
	Stage       string `json:"stage"`
	Actor       string `json:"actor"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code"`
	LatencyMS   int    `json:"latency_ms"`
	Detail      string `json:"detail"`
}

// NewTraceID returns a fresh per-update trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// Log appends rows to <dir>/gateway_events.jsonl with rotation to
// .1 .. .keep siblings once the current file crosses maxBytes.
type Log struct {
	path     string
	maxBytes int64
	keep     int
}

// New returns a Log writing under teamDir/logs. maxBytes and keep are
// clamped to their allowed ranges; zero means "use the default".
func New(teamDir string, maxBytes int64, keep int) *Log {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxBytes < minMaxBytes {
		maxBytes = minMaxBytes
	}
	if maxBytes > maxMaxBytes {
		maxBytes = maxMaxBytes
	}
	if keep <= 0 {
		keep = DefaultKeepFiles
	}
	if keep < minKeep {
		keep = minKeep
	}
	if keep > maxKeep {
		keep = maxKeep
	}
	return &Log{
		path:     filepath.Join(teamDir, "logs", "gateway_events.jsonl"),
		maxBytes: maxBytes,
		keep:     keep,
	}
}

// Path returns the current log file path.
func (l *Log) Path() string { return l.path }

// Append masks and bounds the row, rotates if the current file is full,
// and appends one JSON line. Append never fails the caller's handler:
// errors are returned for logging but are safe to ignore.
func (l *Log) Append(row Row, now time.Time) error {
	if row.Timestamp == "" {
		row.Timestamp = now.Format(TimeLayout)
	}
	if strings.TrimSpace(row.Event) == "" {
		row.Event = "event"
	}
	if strings.TrimSpace(row.Actor) == "" {
		row.Actor = "gateway"
	}
	if row.LatencyMS < 0 {
		row.LatencyMS = 0
	}
	row.Detail = truncate(errtax.Redact(strings.TrimSpace(row.Detail)), maxDetailChars)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	if err := l.rotateIfFull(); err != nil {
		return err
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding event row: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending event row: %w", err)
	}
	return nil
}

// rotateIfFull shifts gateway_events.jsonl.1 .. .keep down by one slot
// and moves the current file to .1. Each rename completes before the
// next starts, so a crash mid-rotation loses at most the oldest file.
func (l *Log) rotateIfFull() error {
	info, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat event log: %w", err)
	}
	if info.Size() < l.maxBytes {
		return nil
	}

	for idx := l.keep - 1; idx >= 1; idx-- {
		src := fmt.Sprintf("%s.%d", l.path, idx)
		dst := fmt.Sprintf("%s.%d", l.path, idx+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Remove(dst)
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("rotating %s: %w", src, err)
			}
		}
	}
	first := l.path + ".1"
	_ = os.Remove(first)
	if err := os.Rename(l.path, first); err != nil {
		return fmt.Errorf("rotating current log: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

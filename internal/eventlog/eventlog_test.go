package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readRows(t *testing.T, path string) []Row {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var rows []Row
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Row
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad row %q: %v", sc.Text(), err)
		}
		rows = append(rows, r)
	}
	return rows
}

func TestAppendWritesOneLinePerRow(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 0, 0)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := l.Append(Row{Event: "incoming_message", TraceID: "t1"}, now); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	rows := readRows(t, l.Path())
	if len(rows) != 3 {
		t.Fatalf("want 3 rows, got %d", len(rows))
	}
	if rows[0].Actor != "gateway" {
		t.Errorf("empty actor should default to gateway, got %q", rows[0].Actor)
	}
	if _, err := time.Parse(TimeLayout, rows[0].Timestamp); err != nil {
		t.Errorf("timestamp %q not in layout: %v", rows[0].Timestamp, err)
	}
}

func TestAppendRedactsAndTruncatesDetail(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 0, 0)

	detail := "token=supersecret " + strings.Repeat("x", 900)
	if err := l.Append(Row{Event: "handler_error", Detail: detail}, time.Now()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rows := readRows(t, l.Path())
	if strings.Contains(rows[0].Detail, "supersecret") {
		t.Error("secret value survived redaction")
	}
	if len(rows[0].Detail) > 800 {
		t.Errorf("detail not truncated: %d chars", len(rows[0].Detail))
	}
}

func TestRotationShiftsFiles(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 0, 3)
	l.maxBytes = minMaxBytes // smallest allowed threshold

	// Each row carries a 400-byte pad; write enough to force several rotations.
	pad := strings.Repeat("a", 400)
	for i := 0; i < 500; i++ {
		if err := l.Append(Row{Event: "send_message", Status: "sent", Detail: pad}, time.Now()); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if _, err := os.Stat(l.Path()); err != nil {
		t.Fatalf("current log missing: %v", err)
	}
	if _, err := os.Stat(l.Path() + ".1"); err != nil {
		t.Fatalf("expected at least one rotated file: %v", err)
	}
	if _, err := os.Stat(l.Path() + ".4"); !os.IsNotExist(err) {
		t.Error("rotation exceeded keep=3")
	}
}

func TestNewClampsTunables(t *testing.T) {
	l := New(t.TempDir(), 1, 99)
	if l.maxBytes != minMaxBytes {
		t.Errorf("maxBytes not clamped up: %d", l.maxBytes)
	}
	if l.keep != maxKeep {
		t.Errorf("keep not clamped down: %d", l.keep)
	}
}

func TestPercentileLinearInterpolation(t *testing.T) {
	cases := []struct {
		name   string
		values []int
		pct    float64
		want   int
	}{
		{"empty", nil, 0.5, 0},
		{"single", []int{7}, 0.95, 7},
		{"median of pair", []int{10, 20}, 0.5, 15},
		{"p95 of 1..100", func() []int {
			v := make([]int, 100)
			for i := range v {
				v[i] = i + 1
			}
			return v
		}(), 0.95, 95},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Percentile(tc.values, tc.pct); got != tc.want {
				t.Errorf("Percentile(%v, %v) = %d, want %d", tc.values, tc.pct, got, tc.want)
			}
		})
	}
}

func TestSummarizeCountsAndTraceOutcomes(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 0, 0)
	now := time.Now()

	rows := []Row{
		{Event: "incoming_message", TraceID: "a"},
		{Event: "command_resolved", TraceID: "a", Status: "accepted", LatencyMS: 100},
		{Event: "dispatch_completed", TraceID: "a", LatencyMS: 300},
		{Event: "incoming_message", TraceID: "b"},
		{Event: "command_resolved", TraceID: "b", Status: "accepted"},
		{Event: "handler_error", TraceID: "b", ErrorCode: "E_ORCH"},
		{Event: "incoming_message", TraceID: "c"},
		{Event: "input_rejected", TraceID: "c"},
		{Event: "send_message", TraceID: "a", Status: "sent"},
		{Event: "send_message", TraceID: "b", Status: "failed"},
	}
	for _, r := range rows {
		if err := l.Append(r, now); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	out := l.Summarize("demo", 24, now)
	for _, want := range []string{
		"orch: demo",
		"window_hours: 24",
		"events: total=10 incoming=3 accepted=2 rejected=1",
		"commands: success=1 failed=1 pending=0 success_rate=50.0%",
		"send: ok=1 fail=1 success_rate=50.0%",
		"completion: dispatch=1 direct=0 errors=1",
		"error_codes: E_ORCH=1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
}

func TestSummarizeWindowExcludesOldRows(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 0, 0)
	now := time.Now()

	old := Row{Event: "incoming_message", Timestamp: now.Add(-48 * time.Hour).Format(TimeLayout)}
	if err := l.Append(old, now); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(Row{Event: "incoming_message"}, now); err != nil {
		t.Fatal(err)
	}

	out := l.Summarize("demo", 24, now)
	if !strings.Contains(out, "events: total=1 incoming=1") {
		t.Errorf("old row not excluded:\n%s", out)
	}
}

func TestSummarizeMissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "nowhere"), 0, 0)
	out := l.Summarize("demo", 5, time.Now())
	if !strings.Contains(out, "metrics: no data file") {
		t.Errorf("unexpected summary for missing file:\n%s", out)
	}
}

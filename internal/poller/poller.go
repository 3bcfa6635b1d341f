// Package poller runs the gateway's single-threaded message loop:
// long-poll the platform for updates, fast-reject unauthorized chats,
// hand each message to the gateway handler, and persist the update
// offset so a restart never re-processes acknowledged batches.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kimyoungjin06/aoe-orch-control/internal/acl"
	"github.com/kimyoungjin06/aoe-orch-control/internal/errtax"
	"github.com/kimyoungjin06/aoe-orch-control/internal/eventlog"
	"github.com/kimyoungjin06/aoe-orch-control/internal/lock"
	"github.com/kimyoungjin06/aoe-orch-control/internal/parser"
	"github.com/kimyoungjin06/aoe-orch-control/internal/platform/telegram"
	"github.com/kimyoungjin06/aoe-orch-control/internal/util"
)

// Fetcher is the long-poll side of the platform adapter.
type Fetcher interface {
	Fetch(offset int, pollTimeout time.Duration) ([]telegram.Update, error)
}

// MessageHandler processes one authorized message end to end.
type MessageHandler interface {
	HandleMessage(ctx context.Context, chatID, text, traceID string) error
}

// SendFunc delivers a reply; shared shape with the gateway's sender.
type SendFunc func(chatID, text string, withMenu bool) bool

// offsetState is the crash-resume bookkeeping persisted at
// <project>/.aoe-team/telegram_gateway_state.json.
type offsetState struct {
	Offset    int       `json:"offset"`
	Processed int       `json:"processed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// lockedReply is sent (once per chat) to chats the ACL rejects outright.
const lockedReply = "not allowed. gateway is locked. use /lockme to claim this bot."

// alwaysOpenCommands may reach the gateway even from an unauthorized
// chat, so a locked-out operator can claim or inspect the bot.
var alwaysOpenCommands = map[string]struct{}{
	"lockme": {}, "whoami": {}, "help": {}, "start": {},
}

// Poller owns the only process-wide mutable state: the update offset and
// the unauthorized-chat memo set.
type Poller struct {
	Fetch   Fetcher
	Handler MessageHandler
	ACL     *acl.ACL
	Send    SendFunc
	Log     *eventlog.Log

	StatePath   string
	PollTimeout time.Duration
	Once        bool
	Now         func() time.Time

	offset       int
	processed    int
	unauthorized map[string]struct{}
	release      func()
}

// New builds a poller and acquires the exclusive instance lock under
// teamDir. A second gateway process fails here with a clear message
// instead of double-polling the platform.
func New(teamDir string, fetch Fetcher, handler MessageHandler, a *acl.ACL, send SendFunc, log *eventlog.Log) (*Poller, error) {
	if err := os.MkdirAll(teamDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating team directory: %w", err)
	}
	release, err := lock.FlockTryAcquire(filepath.Join(teamDir, ".gateway.instance.lock"))
	if err != nil {
		return nil, fmt.Errorf("another gateway instance is already running: %w", err)
	}
	p := &Poller{
		Fetch:        fetch,
		Handler:      handler,
		ACL:          a,
		Send:         send,
		Log:          log,
		PollTimeout:  50 * time.Second,
		unauthorized: make(map[string]struct{}),
		release:      release,
	}
	return p, nil
}

// Close releases the instance lock. Safe to call more than once.
func (p *Poller) Close() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// LoadState restores the persisted offset; a missing or corrupt file
// starts from zero.
func (p *Poller) LoadState() {
	if p.StatePath == "" {
		return
	}
	data, err := os.ReadFile(p.StatePath)
	if err != nil {
		return
	}
	var st offsetState
	if err := json.Unmarshal(data, &st); err != nil {
		return
	}
	if st.Offset > 0 {
		p.offset = st.Offset
	}
	p.processed = st.Processed
}

// SaveState persists the offset after each batch, so a crash mid-run
// resumes at the last acknowledged batch boundary.
func (p *Poller) SaveState() error {
	if p.StatePath == "" {
		return nil
	}
	return util.EnsureDirAndWriteJSON(p.StatePath, offsetState{
		Offset:    p.offset,
		Processed: p.processed,
		UpdatedAt: p.now().UTC(),
	})
}

// Offset exposes the current offset for tests and status output.
func (p *Poller) Offset() int { return p.offset }

// Run is the poll loop. It exits cleanly when ctx is canceled, or after
// the first non-empty batch when Once is set.
func (p *Poller) Run(ctx context.Context) error {
	defer p.Close()
	p.LoadState()

	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.Fetch.Fetch(p.offset, p.PollTimeout)
		if err != nil {
			_ = p.Log.Append(eventlog.Row{
				Event: "poll_error", Status: "failed",
				ErrorCode: string(errtax.ETelegram),
				Detail:    errtax.Redact(err.Error()),
			}, p.now())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		handled := 0
		for _, u := range updates {
			if ctx.Err() != nil {
				return nil
			}
			p.handleUpdate(ctx, u)
			if u.UpdateID+1 > p.offset {
				p.offset = u.UpdateID + 1
			}
			handled++
		}
		if handled > 0 {
			p.processed += handled
			if err := p.SaveState(); err != nil {
				_ = p.Log.Append(eventlog.Row{
					Event: "state_save_error", Status: "failed",
					ErrorCode: string(errtax.EInternal),
					Detail:    errtax.Redact(err.Error()),
				}, p.now())
			}
		}

		if p.Once && handled > 0 {
			return nil
		}
	}
}

// handleUpdate traces one update and routes it through the allowlist
// filter into the gateway handler.
func (p *Poller) handleUpdate(ctx context.Context, u telegram.Update) {
	if u.ChatID == "" || u.Text == "" {
		return
	}
	traceID := eventlog.NewTraceID()
	started := p.now()

	_ = p.Log.Append(eventlog.Row{
		Event: "incoming_message", TraceID: traceID,
		Actor:  "telegram:" + u.ChatID,
		Status: "received",
		Detail: fmt.Sprintf("update_id=%d chars=%d", u.UpdateID, len(u.Text)),
	}, started)

	if !p.ACL.EnsureChatAllowed(u.ChatID) {
		cmd, _ := parser.ParseCommand(u.Text)
		if _, open := alwaysOpenCommands[cmd]; !open {
			if _, seen := p.unauthorized[u.ChatID]; !seen {
				p.Send(u.ChatID, lockedReply, false)
				p.unauthorized[u.ChatID] = struct{}{}
			}
			_ = p.Log.Append(eventlog.Row{
				Event: "unauthorized_message", TraceID: traceID,
				Actor: "telegram:" + u.ChatID, Stage: "intake", Status: "rejected",
				ErrorCode: string(errtax.EAuth),
				LatencyMS: int(p.now().Sub(started).Milliseconds()),
			}, p.now())
			return
		}
	}
	delete(p.unauthorized, u.ChatID)

	if err := p.Handler.HandleMessage(ctx, u.ChatID, u.Text, traceID); err != nil {
		ge := errtax.FromError(err, "")
		p.Send(u.ChatID, ge.ReplyLine(), false)
		_ = p.Log.Append(eventlog.Row{
			Event: "handler_error", TraceID: traceID,
			Actor: "telegram:" + u.ChatID, Status: "failed",
			ErrorCode: string(ge.Code),
			Detail:    errtax.Redact(err.Error()),
			LatencyMS: int(p.now().Sub(started).Milliseconds()),
		}, p.now())
	}
}

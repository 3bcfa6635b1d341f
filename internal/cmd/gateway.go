package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kimyoungjin06/aoe-orch-control/internal/acl"
	"github.com/kimyoungjin06/aoe-orch-control/internal/config"
	"github.com/kimyoungjin06/aoe-orch-control/internal/eventlog"
	"github.com/kimyoungjin06/aoe-orch-control/internal/gateway"
	"github.com/kimyoungjin06/aoe-orch-control/internal/llmclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/orchclient"
	"github.com/kimyoungjin06/aoe-orch-control/internal/platform/telegram"
	"github.com/kimyoungjin06/aoe-orch-control/internal/poller"
	"github.com/kimyoungjin06/aoe-orch-control/internal/procrunner"
	"github.com/kimyoungjin06/aoe-orch-control/internal/state"
	tuilifecycle "github.com/kimyoungjin06/aoe-orch-control/internal/tui/lifecycle"
	"github.com/kimyoungjin06/aoe-orch-control/internal/util"
)

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg := flags.cfg
	cfg.ProjectRoot = util.ExpandHome(cfg.ProjectRoot)
	if cfg.ProjectRoot == "" {
		return fmt.Errorf("missing --project-root")
	}
	if cfg.TeamDir == "" {
		cfg.TeamDir = filepath.Join(cfg.ProjectRoot, ".aoe-team")
	}
	cfg.TeamDir = util.ExpandHome(cfg.TeamDir)

	// Precedence: flag > env > file > default. Flags were parsed into cfg
	// already, so overlay the file first onto a fresh default set, then
	// env, then re-apply only the flags the operator actually changed.
	resolved := config.Default()
	configFile := flags.configFile
	if configFile == "" {
		configFile = config.FilePath(cfg.TeamDir)
	}
	if err := config.LoadFile(&resolved, configFile); err != nil {
		return err
	}
	config.ApplyEnv(&resolved, os.Getenv)
	overlayChangedFlags(cmd, &resolved, &cfg)
	resolved.ProjectRoot = cfg.ProjectRoot
	resolved.TeamDir = cfg.TeamDir
	resolved.SimulateText = cfg.SimulateText
	resolved.SimulateChatID = cfg.SimulateChatID
	resolved.DryRun = cfg.DryRun
	resolved.Once = cfg.Once
	resolved.Clamp()

	if err := resolved.Validate(); err != nil {
		return err
	}

	a := acl.New(resolved.DenyByDefault)
	a.Allow = acl.ParseCSVSet(resolved.AllowChatIDs)
	a.Admin = acl.ParseCSVSet(resolved.AdminChatIDs)
	a.Readonly = acl.ParseCSVSet(resolved.ReadonlyChatIDs)
	a.Owner = acl.NormalizeOwnerChatID(resolved.OwnerChatID)
	a.NormalizeReadonly()

	runner := &procrunner.ExecRunner{}
	orch := &orchclient.Client{
		Binary:         resolved.OrchBin,
		WorkerBinary:   resolved.WorkerBin,
		Runner:         runner,
		CommandTimeout: time.Duration(resolved.OrchCommandTimeoutSec) * time.Second,
		RunTimeout:     time.Duration(resolved.OrchTimeoutSec) * time.Second,
	}
	llm := &llmclient.Client{
		Binary:  resolved.LLMBin,
		Runner:  runner,
		Timeout: time.Duration(resolved.LLMTimeoutSec) * time.Second,
	}
	log := eventlog.New(resolved.TeamDir, resolved.LogMaxBytes, resolved.LogKeepFiles)
	aliasPath := filepath.Join(resolved.TeamDir, "telegram_chat_aliases.json")

	gw := &gateway.Gateway{
		Cfg:       resolved,
		Store:     state.NewStore(filepath.Join(resolved.TeamDir, "orch_manager_state.json")),
		ACL:       a,
		Aliases:   acl.LoadAliasBook(aliasPath),
		AliasPath: aliasPath,
		Orch:      orch,
		LLM:       llm,
		Log:       log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if resolved.SimulateText != "" || flags.interactive {
		gw.Send = stdoutSender(resolved.Verbose)
		return runSimulation(ctx, gw, resolved)
	}

	tg, err := telegram.New(resolved.Token, resolved.MaxTextChars,
		time.Duration(resolved.HTTPTimeoutSec)*time.Second,
		resolved.SendRetries,
		time.Duration(resolved.SendRetryDelayMS)*time.Millisecond)
	if err != nil {
		return err
	}
	gw.Send = tg.Send

	p, err := poller.New(resolved.TeamDir, pollFetcher{tg}, gw, a, poller.SendFunc(gw.Send), log)
	if err != nil {
		return err
	}
	p.StatePath = filepath.Join(resolved.TeamDir, "telegram_gateway_state.json")
	p.PollTimeout = time.Duration(resolved.PollTimeoutSec) * time.Second
	p.Once = resolved.Once

	return p.Run(ctx)
}

// pollFetcher adapts the telegram client to the poller's Fetcher.
type pollFetcher struct {
	tg *telegram.Client
}

func (f pollFetcher) Fetch(offset int, pollTimeout time.Duration) ([]telegram.Update, error) {
	return f.tg.Fetch(offset, pollTimeout)
}

// overlayChangedFlags re-applies explicitly set flags on top of the
// file/env-resolved config, completing the precedence chain.
func overlayChangedFlags(cmd *cobra.Command, dst, flagged *config.Config) {
	set := func(name string) bool { return cmd.Flags().Changed(name) }

	if flagged.Token != "" {
		dst.Token = flagged.Token
	}
	if set("orch-name") {
		dst.OrchName = flagged.OrchName
	}
	if set("workspace-root") {
		dst.WorkspaceRoot = flagged.WorkspaceRoot
	}
	if set("orch-bin") || dst.OrchBin == "" {
		dst.OrchBin = flagged.OrchBin
	}
	if set("worker-bin") || dst.WorkerBin == "" {
		dst.WorkerBin = flagged.WorkerBin
	}
	if set("llm-bin") || dst.LLMBin == "" {
		dst.LLMBin = flagged.LLMBin
	}
	if set("allow-chat-ids") {
		dst.AllowChatIDs = flagged.AllowChatIDs
	}
	if set("admin-chat-ids") {
		dst.AdminChatIDs = flagged.AdminChatIDs
	}
	if set("readonly-chat-ids") {
		dst.ReadonlyChatIDs = flagged.ReadonlyChatIDs
	}
	if set("owner-chat-id") {
		dst.OwnerChatID = flagged.OwnerChatID
	}

	ints := []struct {
		name string
		src  *int
		dst  *int
	}{
		{"poll-timeout-sec", &flagged.PollTimeoutSec, &dst.PollTimeoutSec},
		{"http-timeout-sec", &flagged.HTTPTimeoutSec, &dst.HTTPTimeoutSec},
		{"orch-command-timeout-sec", &flagged.OrchCommandTimeoutSec, &dst.OrchCommandTimeoutSec},
		{"orch-timeout-sec", &flagged.OrchTimeoutSec, &dst.OrchTimeoutSec},
		{"orch-poll-sec", &flagged.OrchPollSec, &dst.OrchPollSec},
		{"llm-timeout-sec", &flagged.LLMTimeoutSec, &dst.LLMTimeoutSec},
		{"confirm-ttl-sec", &flagged.ConfirmTTLSec, &dst.ConfirmTTLSec},
		{"max-text-chars", &flagged.MaxTextChars, &dst.MaxTextChars},
		{"chat-max-running", &flagged.ChatMaxRunning, &dst.ChatMaxRunning},
		{"chat-daily-cap", &flagged.ChatDailyCap, &dst.ChatDailyCap},
		{"plan-max-subtasks", &flagged.PlanMaxSubtasks, &dst.PlanMaxSubtasks},
		{"plan-replan-attempts", &flagged.PlanReplanAttempts, &dst.PlanReplanAttempts},
	}
	for _, it := range ints {
		if set(it.name) {
			*it.dst = *it.src
		}
	}

	bools := []struct {
		name string
		src  *bool
		dst  *bool
	}{
		{"slash-only", &flagged.SlashOnly, &dst.SlashOnly},
		{"deny-by-default", &flagged.DenyByDefault, &dst.DenyByDefault},
		{"auto-dispatch", &flagged.AutoDispatch, &dst.AutoDispatch},
		{"require-verifier", &flagged.RequireVerifier, &dst.RequireVerifier},
		{"no-spawn-missing", &flagged.NoSpawnMissing, &dst.NoSpawnMissing},
		{"no-wait", &flagged.DefaultNoWait, &dst.DefaultNoWait},
		{"task-planning", &flagged.TaskPlanning, &dst.TaskPlanning},
		{"plan-auto-replan", &flagged.PlanAutoReplan, &dst.PlanAutoReplan},
		{"plan-block-on-critic", &flagged.PlanBlockOnCritic, &dst.PlanBlockOnCritic},
		{"verbose", &flagged.Verbose, &dst.Verbose},
	}
	for _, it := range bools {
		if set(it.name) {
			*it.dst = *it.src
		}
	}

	if set("verifier-roles") {
		dst.VerifierRoles = flagged.VerifierRoles
	}
	if set("priority") {
		dst.DefaultPriority = flagged.DefaultPriority
	}
}

// stdoutSender prints replies to stdout for the simulation modes.
func stdoutSender(verbose bool) gateway.SendFunc {
	return func(chatID, text string, withMenu bool) bool {
		fmt.Printf("[REPLY chat_id=%s]\n%s\n", chatID, text)
		if verbose && withMenu {
			fmt.Println("[keyboard attached]")
		}
		return true
	}
}

// runSimulation handles --simulate-text and --interactive without
// touching the platform.
func runSimulation(ctx context.Context, gw *gateway.Gateway, cfg config.Config) error {
	chatID := strings.TrimSpace(cfg.SimulateChatID)

	if cfg.SimulateText != "" {
		if err := gw.HandleMessage(ctx, chatID, cfg.SimulateText, eventlog.NewTraceID()); err != nil {
			return err
		}
		if flags.tui && cfg.DryRun {
			return showSelectedTaskTUI(gw, chatID)
		}
		return nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("--interactive requires a terminal on stdin")
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer term.Restore(fd, old) //nolint:errcheck

	t := term.NewTerminal(os.Stdin, "aoe-tg> ")
	fmt.Println("interactive mode: type a message, empty line to exit")
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := t.ReadLine()
		if err != nil || strings.TrimSpace(line) == "" {
			return nil
		}
		_ = term.Restore(fd, old)
		if err := gw.HandleMessage(ctx, chatID, line, eventlog.NewTraceID()); err != nil {
			fmt.Fprintln(os.Stderr, "handler error:", err)
		}
		if _, err := term.MakeRaw(fd); err != nil {
			return nil
		}
	}
}

// showSelectedTaskTUI renders the chat's focused task after a simulated
// dry run.
func showSelectedTaskTUI(gw *gateway.Gateway, chatID string) error {
	st, err := gw.Store.Load()
	if err != nil {
		return err
	}
	sess := st.ChatSessions[chatID]
	if sess == nil || len(sess.SelectedTaskRefs) == 0 {
		fmt.Println("no selected task to render")
		return nil
	}
	for project, reqID := range sess.SelectedTaskRefs {
		p := st.Projects[project]
		if p == nil {
			continue
		}
		if task := p.Tasks[reqID]; task != nil {
			return tuilifecycle.Show(project, task)
		}
	}
	fmt.Println("no selected task to render")
	return nil
}

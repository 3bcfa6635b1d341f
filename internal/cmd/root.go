// Package cmd is the gateway's CLI surface: one long-running root
// command carrying the full flag set, plus the local simulation modes
// used for smoke-testing a deployment without touching the platform.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimyoungjin06/aoe-orch-control/internal/config"
)

var flags struct {
	cfg config.Config

	configFile  string
	tui         bool
	interactive bool
}

var rootCmd = &cobra.Command{
	Use:   "aoe-tg-gatewayd",
	Short: "Telegram chat-ops gateway for the AOE orchestrator",
	Long: `aoe-tg-gatewayd polls Telegram for operator messages, resolves each
message into a gateway command, and routes run requests through the
dispatch planner into the orchestrator's worker agents.

State is kept as JSON files under the team directory; a single poller
instance is enforced with an advisory file lock.

Examples:
  aoe-tg-gatewayd --project-root ~/work/demo --orch-bin aoe-orch --worker-bin aoe-msg --llm-bin llm
  aoe-tg-gatewayd --project-root ~/work/demo --dry-run --simulate-text "/help"
  aoe-tg-gatewayd --project-root ~/work/demo --dry-run --interactive`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runGateway,
}

func init() {
	f := rootCmd.Flags()
	c := &flags.cfg

	f.StringVar(&c.Token, "token", "", "bot token (or TELEGRAM_BOT_TOKEN)")
	f.StringVar(&c.ProjectRoot, "project-root", "", "default project root directory")
	f.StringVar(&c.TeamDir, "team-dir", "", "team directory (default <project-root>/.aoe-team)")
	f.StringVar(&c.WorkspaceRoot, "workspace-root", "", "confine orch-add project paths to this subtree")
	f.StringVar(&c.OrchName, "orch-name", "default", "registry name for the default project")
	f.StringVar(&flags.configFile, "config", "", "operator config file (default <team-dir>/gateway.toml)")

	f.StringVar(&c.OrchBin, "orch-bin", "", "orchestrator executable")
	f.StringVar(&c.WorkerBin, "worker-bin", "", "worker/message-client executable")
	f.StringVar(&c.LLMBin, "llm-bin", "", "LLM executable for planning and direct replies")

	f.StringVar(&c.AllowChatIDs, "allow-chat-ids", "", "seed allow list (csv chat ids)")
	f.StringVar(&c.AdminChatIDs, "admin-chat-ids", "", "seed admin list (csv chat ids)")
	f.StringVar(&c.ReadonlyChatIDs, "readonly-chat-ids", "", "seed readonly list (csv chat ids)")
	f.StringVar(&c.OwnerChatID, "owner-chat-id", "", "owner chat id for owner-only commands")

	f.IntVar(&c.PollTimeoutSec, "poll-timeout-sec", 50, "getUpdates long-poll timeout")
	f.IntVar(&c.HTTPTimeoutSec, "http-timeout-sec", 65, "platform HTTP timeout")
	f.IntVar(&c.OrchCommandTimeoutSec, "orch-command-timeout-sec", 120, "orchestrator management command timeout")
	f.IntVar(&c.OrchTimeoutSec, "orch-timeout-sec", 900, "orchestrator run timeout")
	f.IntVar(&c.OrchPollSec, "orch-poll-sec", 5, "orchestrator run poll interval")
	f.IntVar(&c.LLMTimeoutSec, "llm-timeout-sec", 900, "LLM call timeout")
	f.IntVar(&c.ConfirmTTLSec, "confirm-ttl-sec", 600, "high-risk confirmation token TTL (30..86400)")
	f.IntVar(&c.MaxTextChars, "max-text-chars", 3800, "outgoing message chunk size (min 200)")

	f.IntVar(&c.ChatMaxRunning, "chat-max-running", 2, "per-chat running-task cap (0 disables)")
	f.IntVar(&c.ChatDailyCap, "chat-daily-cap", 30, "per-chat daily submission cap (0 disables)")

	f.BoolVar(&c.SlashOnly, "slash-only", false, "reject non-slash input forms")
	f.BoolVar(&c.DenyByDefault, "deny-by-default", false, "deny chats when the ACL is empty")
	f.BoolVar(&c.AutoDispatch, "auto-dispatch", false, "classify plain prompts into dispatch roles")
	f.BoolVar(&c.RequireVerifier, "require-verifier", false, "require a verifier role on dispatches")
	f.StringVar(&c.VerifierRoles, "verifier-roles", "Reviewer,QA,Verifier", "verifier candidate roles (csv)")
	f.StringVar(&c.DefaultPriority, "priority", "P2", "default dispatch priority (P1|P2|P3)")
	f.BoolVar(&c.NoSpawnMissing, "no-spawn-missing", false, "pass --no-spawn-missing to orchestrator runs")
	f.BoolVar(&c.DefaultNoWait, "no-wait", false, "do not wait for orchestrator completion by default")

	f.BoolVar(&c.TaskPlanning, "task-planning", true, "run the planner before dispatching")
	f.IntVar(&c.PlanMaxSubtasks, "plan-max-subtasks", 5, "maximum planner subtasks (>=1)")
	f.BoolVar(&c.PlanAutoReplan, "plan-auto-replan", true, "auto-repair plans the critic rejects")
	f.IntVar(&c.PlanReplanAttempts, "plan-replan-attempts", 1, "repair-loop iterations (0..5)")
	f.BoolVar(&c.PlanBlockOnCritic, "plan-block-on-critic", false, "reject dispatches with unresolved critic issues")

	f.StringVar(&c.SimulateText, "simulate-text", "", "handle one simulated message and exit")
	f.StringVar(&c.SimulateChatID, "simulate-chat-id", "10000000001", "chat id for simulated messages")
	f.BoolVar(&c.DryRun, "dry-run", false, "never invoke the orchestrator; render previews instead")
	f.BoolVar(&c.Once, "once", false, "process one update batch and exit")
	f.BoolVar(&c.Verbose, "verbose", false, "log replies to stdout")
	f.BoolVar(&flags.tui, "tui", false, "with --simulate-text and --dry-run: render the selected task's lifecycle as a table")
	f.BoolVar(&flags.interactive, "interactive", false, "read simulated messages from the terminal")
}

// Execute runs the CLI and returns the process exit code: 0 on clean
// shutdown, non-zero only on startup misconfiguration.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

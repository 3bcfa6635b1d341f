// Package config carries the gateway's operator-facing tunables. Values
// resolve in precedence order: CLI flag > environment > gateway.toml >
// built-in default. The TOML file holds non-secret settings only; the
// bot token and ACL seeds come from the environment or flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the operator config file under the team directory.
const FileName = "gateway.toml"

// Config is every tunable the gateway reads at startup.
type Config struct {
	// Identity and filesystem anchors.
	Token       string `toml:"-"` // never persisted
	ProjectRoot string `toml:"project_root"`
	TeamDir     string `toml:"team_dir"`
	OrchName    string `toml:"orch_name"`

	// WorkspaceRoot, when set, confines orch-add project paths to its
	// subtree.
	WorkspaceRoot string `toml:"workspace_root"`

	// External executables.
	OrchBin   string `toml:"orch_bin"`
	WorkerBin string `toml:"worker_bin"`
	LLMBin    string `toml:"llm_bin"`

	// Timing, all in seconds unless suffixed.
	PollTimeoutSec        int `toml:"poll_timeout_sec"`
	HTTPTimeoutSec        int `toml:"http_timeout_sec"`
	OrchCommandTimeoutSec int `toml:"orch_command_timeout_sec"`
	OrchTimeoutSec        int `toml:"orch_timeout_sec"`
	OrchPollSec           int `toml:"orch_poll_sec"`
	LLMTimeoutSec         int `toml:"llm_timeout_sec"`
	ConfirmTTLSec         int `toml:"confirm_ttl_sec"`

	// Outbound rendering.
	MaxTextChars     int `toml:"max_text_chars"`
	SendRetries      int `toml:"send_retries"`
	SendRetryDelayMS int `toml:"send_retry_delay_ms"`

	// Rate caps. Zero disables a cap.
	ChatMaxRunning int `toml:"chat_max_running"`
	ChatDailyCap   int `toml:"chat_daily_cap"`

	// Feature toggles.
	SlashOnly       bool   `toml:"slash_only"`
	DenyByDefault   bool   `toml:"deny_by_default"`
	AutoDispatch    bool   `toml:"auto_dispatch"`
	RequireVerifier bool   `toml:"require_verifier"`
	VerifierRoles   string `toml:"verifier_roles"`
	DefaultPriority string `toml:"default_priority"`
	NoSpawnMissing  bool   `toml:"no_spawn_missing"`
	DefaultNoWait   bool   `toml:"default_no_wait"`

	// Planning.
	TaskPlanning       bool `toml:"task_planning"`
	PlanMaxSubtasks    int  `toml:"plan_max_subtasks"`
	PlanAutoReplan     bool `toml:"plan_auto_replan"`
	PlanReplanAttempts int  `toml:"plan_replan_attempts"`
	PlanBlockOnCritic  bool `toml:"plan_block_on_critic"`

	// Event log rotation.
	LogMaxBytes  int64 `toml:"log_max_bytes"`
	LogKeepFiles int   `toml:"log_keep_files"`

	// ACL seeds (CSV chat-id lists; owner is a single id).
	AllowChatIDs    string `toml:"-"`
	AdminChatIDs    string `toml:"-"`
	ReadonlyChatIDs string `toml:"-"`
	OwnerChatID     string `toml:"-"`

	// Simulation / local testing.
	SimulateText   string `toml:"-"`
	SimulateChatID string `toml:"-"`
	DryRun         bool   `toml:"-"`
	Once           bool   `toml:"-"`
	Verbose        bool   `toml:"verbose"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		OrchName:              "default",
		PollTimeoutSec:        50,
		HTTPTimeoutSec:        65,
		OrchCommandTimeoutSec: 120,
		OrchTimeoutSec:        900,
		OrchPollSec:           5,
		LLMTimeoutSec:         900,
		ConfirmTTLSec:         600,
		MaxTextChars:          3800,
		SendRetries:           2,
		SendRetryDelayMS:      300,
		ChatMaxRunning:        2,
		ChatDailyCap:          30,
		VerifierRoles:         "Reviewer,QA,Verifier",
		DefaultPriority:       "P2",
		TaskPlanning:          true,
		PlanMaxSubtasks:       5,
		PlanAutoReplan:        true,
		PlanReplanAttempts:    1,
		LogMaxBytes:           5 * 1024 * 1024,
		LogKeepFiles:          5,
	}
}

// FilePath returns the config file location under teamDir.
func FilePath(teamDir string) string {
	return filepath.Join(teamDir, FileName)
}

// LoadFile overlays path's TOML values onto cfg. A missing file is not
// an error; a malformed one is, since a half-read operator config is
// worse than a startup failure.
func LoadFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// Clamp forces every bounded tunable into its allowed range.
func (c *Config) Clamp() {
	c.PollTimeoutSec = clampInt(c.PollTimeoutSec, 1, 300)
	c.HTTPTimeoutSec = clampInt(c.HTTPTimeoutSec, 5, 600)
	c.OrchCommandTimeoutSec = clampInt(c.OrchCommandTimeoutSec, 5, 3600)
	c.OrchTimeoutSec = clampInt(c.OrchTimeoutSec, 30, 86400)
	c.OrchPollSec = clampInt(c.OrchPollSec, 1, 600)
	c.LLMTimeoutSec = clampInt(c.LLMTimeoutSec, 5, 900)
	c.ConfirmTTLSec = clampInt(c.ConfirmTTLSec, 30, 86400)
	c.MaxTextChars = clampInt(c.MaxTextChars, 200, 4096)
	c.SendRetries = clampInt(c.SendRetries, 0, 8)
	c.SendRetryDelayMS = clampInt(c.SendRetryDelayMS, 50, 5000)
	if c.ChatMaxRunning < 0 {
		c.ChatMaxRunning = 0
	}
	if c.ChatDailyCap < 0 {
		c.ChatDailyCap = 0
	}
	if c.PlanMaxSubtasks < 1 {
		c.PlanMaxSubtasks = 1
	}
	c.PlanReplanAttempts = clampInt(c.PlanReplanAttempts, 0, 5)
	c.LogMaxBytes = clampInt64(c.LogMaxBytes, 64*1024, 256*1024*1024)
	c.LogKeepFiles = clampInt(c.LogKeepFiles, 1, 30)
	switch c.DefaultPriority {
	case "P1", "P2", "P3":
	default:
		c.DefaultPriority = "P2"
	}
}

// Validate checks the startup-fatal requirements: a token (unless
// simulating), a project root, and non-empty executable paths.
func (c *Config) Validate() error {
	simulating := c.SimulateText != "" || c.DryRun
	if c.Token == "" && !simulating {
		return fmt.Errorf("missing bot token (set TELEGRAM_BOT_TOKEN or --token)")
	}
	if c.ProjectRoot == "" {
		return fmt.Errorf("missing --project-root")
	}
	for _, bin := range []struct{ name, path string }{
		{"orchestrator", c.OrchBin},
		{"worker", c.WorkerBin},
		{"llm", c.LLMBin},
	} {
		if bin.path == "" {
			return fmt.Errorf("missing %s binary path", bin.name)
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

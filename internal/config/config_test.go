package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsPassValidationWithSimulate(t *testing.T) {
	cfg := Default()
	cfg.ProjectRoot = "/tmp/p"
	cfg.OrchBin = "aoe-orch"
	cfg.WorkerBin = "aoe-msg"
	cfg.LLMBin = "llm"
	cfg.SimulateText = "/help"
	if err := cfg.Validate(); err != nil {
		t.Errorf("simulate mode should not require a token: %v", err)
	}
}

func TestValidateRequiresTokenOutsideSimulation(t *testing.T) {
	cfg := Default()
	cfg.ProjectRoot = "/tmp/p"
	cfg.OrchBin = "aoe-orch"
	cfg.WorkerBin = "aoe-msg"
	cfg.LLMBin = "llm"
	if err := cfg.Validate(); err == nil {
		t.Error("expected a missing-token error")
	}
}

func TestClampRanges(t *testing.T) {
	cfg := Config{
		ConfirmTTLSec:      5,
		MaxTextChars:       50,
		SendRetries:        99,
		PlanMaxSubtasks:    0,
		PlanReplanAttempts: 50,
		LogMaxBytes:        1,
		LogKeepFiles:       500,
		ChatMaxRunning:     -3,
		DefaultPriority:    "urgent",
	}
	cfg.Clamp()

	if cfg.ConfirmTTLSec != 30 {
		t.Errorf("ConfirmTTLSec = %d, want 30", cfg.ConfirmTTLSec)
	}
	if cfg.MaxTextChars != 200 {
		t.Errorf("MaxTextChars = %d, want 200", cfg.MaxTextChars)
	}
	if cfg.SendRetries != 8 {
		t.Errorf("SendRetries = %d, want 8", cfg.SendRetries)
	}
	if cfg.PlanMaxSubtasks != 1 {
		t.Errorf("PlanMaxSubtasks = %d, want 1", cfg.PlanMaxSubtasks)
	}
	if cfg.PlanReplanAttempts != 5 {
		t.Errorf("PlanReplanAttempts = %d, want 5", cfg.PlanReplanAttempts)
	}
	if cfg.LogMaxBytes != 64*1024 {
		t.Errorf("LogMaxBytes = %d, want 64KiB", cfg.LogMaxBytes)
	}
	if cfg.LogKeepFiles != 30 {
		t.Errorf("LogKeepFiles = %d, want 30", cfg.LogKeepFiles)
	}
	if cfg.ChatMaxRunning != 0 {
		t.Errorf("ChatMaxRunning = %d, want 0", cfg.ChatMaxRunning)
	}
	if cfg.DefaultPriority != "P2" {
		t.Errorf("DefaultPriority = %q, want P2", cfg.DefaultPriority)
	}
}

func TestLoadFileOverlaysAndMissingFileIsFine(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	if err := LoadFile(&cfg, FilePath(dir)); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}

	body := "chat_max_running = 7\nslash_only = true\nverifier_roles = \"QA\"\n"
	path := FilePath(dir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(&cfg, path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.ChatMaxRunning != 7 || !cfg.SlashOnly || cfg.VerifierRoles != "QA" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.MaxTextChars != 3800 {
		t.Errorf("untouched default changed: MaxTextChars = %d", cfg.MaxTextChars)
	}
}

func TestLoadFileMalformedFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("chat_max_running = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	if err := LoadFile(&cfg, path); err == nil {
		t.Error("malformed TOML should fail startup")
	}
}

func TestApplyEnvOverlays(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"TELEGRAM_BOT_TOKEN":       "123456:abc",
		"TELEGRAM_ALLOW_CHAT_IDS":  "11111,22222",
		"TELEGRAM_OWNER_CHAT_ID":   "11111",
		"AOE_TG_SEND_RETRIES":      "4",
		"AOE_GATEWAY_SLASH_ONLY":   "yes",
		"AOE_TG_SEND_RETRY_DELAY_MS": "garbage",
	}
	ApplyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.Token != "123456:abc" || cfg.AllowChatIDs != "11111,22222" || cfg.OwnerChatID != "11111" {
		t.Errorf("ACL seeds not applied: %+v", cfg)
	}
	if cfg.SendRetries != 4 {
		t.Errorf("SendRetries = %d, want 4", cfg.SendRetries)
	}
	if !cfg.SlashOnly {
		t.Error("SlashOnly env not applied")
	}
	if cfg.SendRetryDelayMS != 300 {
		t.Errorf("garbage int should leave default, got %d", cfg.SendRetryDelayMS)
	}
}

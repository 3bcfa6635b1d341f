package cmd

import (
	"testing"

	"github.com/kimyoungjin06/aoe-orch-control/internal/config"
)

func TestOverlayChangedFlagsWinsOverFileValues(t *testing.T) {
	resolved := config.Default()
	resolved.ChatMaxRunning = 9 // pretend this came from gateway.toml
	resolved.SlashOnly = true
	resolved.OrchBin = "file-orch"

	flags.cfg = config.Default()
	flags.cfg.ChatMaxRunning = 3
	flags.cfg.OrchBin = "flag-orch"
	if err := rootCmd.Flags().Set("chat-max-running", "3"); err != nil {
		t.Fatal(err)
	}
	if err := rootCmd.Flags().Set("orch-bin", "flag-orch"); err != nil {
		t.Fatal(err)
	}
	overlayChangedFlags(rootCmd, &resolved, &flags.cfg)

	if resolved.ChatMaxRunning != 3 {
		t.Errorf("flagged int should win: got %d", resolved.ChatMaxRunning)
	}
	if resolved.OrchBin != "flag-orch" {
		t.Errorf("flagged string should win: got %s", resolved.OrchBin)
	}
	if !resolved.SlashOnly {
		t.Error("unflagged file value should survive")
	}
}

package config

import (
	"strconv"
	"strings"
)

// Getenv is the environment lookup ApplyEnv reads through; injectable
// for tests.
type Getenv func(string) string

// ApplyEnv overlays environment values onto cfg. Empty variables leave
// the current value alone.
func ApplyEnv(cfg *Config, getenv Getenv) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Token, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.AllowChatIDs, "TELEGRAM_ALLOW_CHAT_IDS")
	setStr(&cfg.AdminChatIDs, "TELEGRAM_ADMIN_CHAT_IDS")
	setStr(&cfg.ReadonlyChatIDs, "TELEGRAM_READONLY_CHAT_IDS")
	setStr(&cfg.OwnerChatID, "TELEGRAM_OWNER_CHAT_ID")

	if v, ok := intFromEnv(getenv("AOE_TG_SEND_RETRIES")); ok {
		cfg.SendRetries = v
	}
	if v, ok := intFromEnv(getenv("AOE_TG_SEND_RETRY_DELAY_MS")); ok {
		cfg.SendRetryDelayMS = v
	}
	if v, ok := intFromEnv(getenv("AOE_GATEWAY_LOG_MAX_BYTES")); ok {
		cfg.LogMaxBytes = int64(v)
	}
	if v, ok := intFromEnv(getenv("AOE_GATEWAY_LOG_KEEP_FILES")); ok {
		cfg.LogKeepFiles = v
	}
	if v, ok := boolFromEnv(getenv("AOE_GATEWAY_DENY_BY_DEFAULT")); ok {
		cfg.DenyByDefault = v
	}
	if v, ok := boolFromEnv(getenv("AOE_GATEWAY_SLASH_ONLY")); ok {
		cfg.SlashOnly = v
	}
}

func intFromEnv(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func boolFromEnv(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

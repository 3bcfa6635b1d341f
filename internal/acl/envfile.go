package acl

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kimyoungjin06/aoe-orch-control/internal/util"
)

// UpsertEnvVar rewrites (or appends) a single KEY=value line in a dotenv
// file at path, keeping every other non-blank line as it is (blank lines
// are dropped). It is how the
// gateway keeps <team>/telegram.env in sync with the live ACL so a
// restarted process comes back up with the same allowlist.
func UpsertEnvVar(path, key, value string) error {
	var rows []string
	if raw, err := os.ReadFile(path); err == nil {
		rows = strings.Split(string(raw), "\n")
	}

	prefix := key + "="
	out := make([]string, 0, len(rows)+1)
	replaced := false
	for _, row := range rows {
		if strings.HasPrefix(row, prefix) {
			out = append(out, key+"="+value)
			replaced = true
		} else if row != "" {
			out = append(out, row)
		}
	}
	if !replaced {
		out = append(out, key+"="+value)
	}
	return util.EnsureDirAndWriteFile(path, []byte(strings.Join(out, "\n")+"\n"), 0o644)
}

// SyncEnvFile writes the current allow/admin/readonly/owner sets into
// <teamDir>/telegram.env so the gateway can be restarted without losing
// a lockme/grant/revoke made at runtime.
func SyncEnvFile(teamDir string, a *ACL) error {
	envPath := filepath.Join(teamDir, "telegram.env")
	if err := UpsertEnvVar(envPath, "TELEGRAM_ALLOW_CHAT_IDS", FormatCSVSet(a.Allow)); err != nil {
		return err
	}
	if err := UpsertEnvVar(envPath, "TELEGRAM_ADMIN_CHAT_IDS", FormatCSVSet(a.Admin)); err != nil {
		return err
	}
	if err := UpsertEnvVar(envPath, "TELEGRAM_READONLY_CHAT_IDS", FormatCSVSet(a.Readonly)); err != nil {
		return err
	}
	if strings.TrimSpace(a.Owner) != "" {
		if err := UpsertEnvVar(envPath, "TELEGRAM_OWNER_CHAT_ID", strings.TrimSpace(a.Owner)); err != nil {
			return err
		}
	}
	return nil
}

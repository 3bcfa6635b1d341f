// aoe-tg-gatewayd is the Telegram chat-ops gateway for the AOE
// orchestrator.
package main

import (
	"os"

	"github.com/kimyoungjin06/aoe-orch-control/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

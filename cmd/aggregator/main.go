// Command aggregator is the entrypoint for the whale-tracking signal
// pipeline: it loads configuration, builds the orchestrator, and runs
// until a termination signal is received (spec §2 control flow).
package main

import (
	"log"

	"github.com/nofendian17/hl-whale-signal/internal/config"
	"github.com/nofendian17/hl-whale-signal/internal/orchestrator"
)

func main() {
	cfg := config.LoadFromEnv()

	app := orchestrator.New(cfg)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

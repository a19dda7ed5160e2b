// Package main is the entry point for the talkclaw binary.
// It delegates immediately to the CLI command tree.
package main

import (
	"context"
	"os"
	_ "time/tzdata"

	"github.com/neoclaw-ai/talkclaw/internal/cli"
	"github.com/neoclaw-ai/talkclaw/internal/logging"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		logging.Logger().Error("fatal error", "err", err)
		os.Exit(1)
	}
}

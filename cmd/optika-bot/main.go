package main

import (
	"fmt"
	"os"

	"github.com/optikakg/optika_tg/internal/cmd"
)

// set via -ldflags "-X main.version=..."
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/gmsas95/careclock-cli/internal/cli"
	"github.com/gmsas95/careclock-cli/internal/config"
	"github.com/gmsas95/careclock-cli/internal/onboarding"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	cli.Version = version

	if firstRun(os.Args[1:]) {
		fmt.Fprintln(os.Stderr, "👋 No configuration found. Run 'careclock init' to connect to your care API.")
		fmt.Fprintln(os.Stderr)
	}

	os.Exit(cli.Run(os.Args[1:]))
}

// firstRun is true on an interactive terminal with neither a config file nor an API URL
// in the environment
func firstRun(args []string) bool {
	if len(args) == 0 || args[0] == "init" || args[0] == "--config" || args[0] == "--data" {
		return false
	}
	if config.ResolveEnvWithAliases("CARECLOCK_API_BASE_URL") != "" {
		return false
	}
	return onboarding.CheckFirstRun("") && term.IsTerminal(int(os.Stdin.Fd()))
}

// Command wharf is the local dev environment orchestrator CLI: it runs
// the gateway daemon, manages its bearer tokens and write gate, and acts
// as a thin client for remote jobs and shells.
package main

import (
	"fmt"
	"os"

	"github.com/wharfdev/wharf/pkg/config"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		os.Exit(0)
	}

	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
	case "--help", "-h", "help":
		printHelp()
	case "gateway":
		os.Exit(runCommand(runGatewayCommand, args[1:]))
	case "projects":
		os.Exit(runCommand(runProjectsCommand, args[1:]))
	case "job":
		os.Exit(runCommand(runJobCommand, args[1:]))
	case "shell":
		os.Exit(runCommand(runShellCommand, args[1:]))
	case "token":
		os.Exit(runCommand(runTokenCommand, args[1:]))
	case "writes":
		os.Exit(runCommand(runWritesCommand, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q (try `wharf help`)\n", args[0])
		os.Exit(2)
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

// loadConfig resolves the effective config, honoring an explicit path.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func printVersion() {
	fmt.Printf("wharf %s (commit %s, built %s)\n", version, commit, buildDate)
}

func printHelp() {
	fmt.Print(`wharf - local dev environment orchestrator

Usage:
  wharf gateway run                 run the gateway daemon in the foreground
  wharf gateway start               start the gateway daemon in the background
  wharf gateway stop                stop the background gateway daemon
  wharf gateway status              report daemon liveness and bind address
  wharf token create -name NAME [-scope read|write]
  wharf token list
  wharf token revoke TOKEN-ID
  wharf writes on|off               open or close the gateway write gate
  wharf projects                    list projects known to the gateway
  wharf job run -project ID [-runner R] [-cwd DIR] -- CMD [ARG...]
  wharf job status -project ID JOB-ID
  wharf job logs -project ID [-logs-from N] [-events-from N] JOB-ID
  wharf shell -project ID [-runner R]

Remote commands accept -addr and -token; -token falls back to the
WHARF_TOKEN environment variable, -addr to the running daemon's
published address. Token and write-gate commands operate on the local
store by default; `+"`wharf writes on`"+` is local-only on purpose.
`)
}

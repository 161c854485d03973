// Package cli implements the Gatelock command-line interface using cobra.
package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatelock",
		Short: "Per-request security admission gate",
		Long: `Gatelock renders one allow/deny decision per HTTP request: rate limiting,
injection detection, CSRF, authentication, threat scoring, and response
policy (CORS, HSTS, content types), in that order.

Run it as a standalone gate in front of an upstream, or probe a policy
from the command line before deploying it.

Quick start:
  gatelock run --config gatelock.yaml
  gatelock check --config gatelock.yaml
  gatelock check --config gatelock.yaml --method POST --path /login --body 'user=admin'
  gatelock logs --store gatelock-events.db --last 20`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		runCmd(),
		checkCmd(),
		logsCmd(),
		keysCmd(),
		versionCmd(),
	)

	return cmd
}

package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...app.Version=...".
var Version = "dev"

var (
	configPath  string
	registryURL string
	logLevel    string

	// RootCmd is the root command for npmdash
	RootCmd = &cobra.Command{
		Use:   "npmdash",
		Short: "Download statistics for a fixed set of npm packages",
		Long: `npmdash fetches download counts for a configured list of npm packages
from the public registry and shows them per period.

Periods:
  last-day     Last day
  last-week    Last 7 days (default)
  last-month   Last 30 days
  last-year    Last 12 months

Packages are read from the config file (default:
$XDG_CONFIG_HOME/npmdash/config.yaml). Without one, the built-in
package list is used.

Examples:
  # Print counts once
  npmdash show

  # Live terminal view, refreshing every 5 minutes
  npmdash watch --interval 5m

  # HTTP dashboard on :8080
  npmdash serve`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "npmdash: download statistics for npm packages")
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Run 'npmdash show' to print the current counts.")
			fmt.Fprintln(out, "Run 'npmdash --help' for the full reference.")
			return nil
		},
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/npmdash/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "registry base URL (overrides the config file)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2

	// Register subcommands
	RootCmd.AddCommand(showCmd)
	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(serveCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

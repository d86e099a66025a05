package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/output"
)

var periodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "List the selectable periods",
	Long: `List the period keys accepted by --period, with their labels.
The configured default period is marked with "*".`,
	Example: `  npmdash periods`,
	Args:    cobra.NoArgs,
	RunE:    runPeriods,
}

func init() {
	// Register with root command
	RootCmd.AddCommand(periodsCmd)
}

func runPeriods(cmd *cobra.Command, args []string) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), output.RenderPeriodTable(config.Periods(), cfg.DefaultPeriod))
	return nil
}

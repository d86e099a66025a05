package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/npmdash/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Write a config file listing the built-in packages, ready to edit.

The file goes to --config, or $XDG_CONFIG_HOME/npmdash/config.yaml by
default. An existing file is kept unless --force is given.`,
	Example: `  # Create the default config file
  npmdash init

  # Write somewhere else
  npmdash init --config ./npmdash.yaml`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")

	// Register with root command
	RootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	cfg := config.Default()
	if registryURL != "" {
		cfg.RegistryURL = registryURL
	}

	written, err := config.WriteFile(path, cfg, initForce)
	if err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	out := cmd.OutOrStdout()
	if !written {
		fmt.Fprintf(out, "Config already exists: %s\n", path)
		fmt.Fprintln(out, "Use --force to overwrite it.")
		return nil
	}
	fmt.Fprintf(out, "✓ Wrote %s\n", path)
	fmt.Fprintln(out, "Edit the packages list, then run 'npmdash show'.")
	return nil
}

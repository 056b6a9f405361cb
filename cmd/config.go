package cmd

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/earthfocus/maap-client/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the active configuration",
}

func init() {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active configuration as TOML",
		Long: `Prints the fully resolved configuration, after defaults, config file,
environment, and flags have been merged. The output is valid TOML and
can be used as a starting point for ~/.maap/config.toml.`,
		RunE: runConfigShow,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the ~/.maap directory tree",
		Long: `Creates the data, catalog, and registry directories and the parent of
the credentials file, so credentials can be dropped in place.`,
		RunE: runConfigInit,
	}

	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "initialized %s\n", cfg.Paths.DataDir)
	return nil
}

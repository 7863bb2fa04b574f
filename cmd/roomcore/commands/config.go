package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roomctl/roomcore/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect and validate roomcore configuration.

Subcommands:
  show      Display the fully-resolved configuration
  validate  Validate a configuration file without starting the coordinator`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the fully-resolved configuration",
	Long: `Display the configuration roomcore would run with, after merging
flags, environment variables, the config file, and built-in defaults.

Examples:
  roomcore config show
  roomcore config show --config /etc/roomcore/roomcore.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		defer func() { _ = enc.Close() }()
		return enc.Encode(cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate configuration without starting the coordinator.
Exits non-zero and prints the validation error on failure.

Examples:
  roomcore config validate --config /etc/roomcore/roomcore.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		if err := config.Validate(cfg); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

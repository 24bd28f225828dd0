package commands

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/stratahq/strata/config"
	"github.com/stratahq/strata/display"
	"github.com/stratahq/strata/errors"
)

// ConfigCmd represents the config command
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Strata configuration",
	Long: `Display and manage Strata configuration.

Configuration sources (in order of precedence):
1. Environment variables (STRATA_* prefix)
2. Config file ($XDG_CONFIG_HOME/strata/strata.toml)
3. Default values

Examples:
  strata config show              # Show effective configuration
  strata config get enhance.frequency_threshold
  strata config init              # Write the effective config to disk`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value by dot-notation key",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to the config file",
	Long:  "Write the effective configuration to disk, rotating backups of any previous file.",
	RunE:  runConfigInit,
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configInitCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(cfg)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to render configuration")
	}
	fmt.Print(string(data))
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	v := config.GetViper()
	if !v.IsSet(args[0]) {
		return errors.NewNotFoundError("unknown config key: %s", args[0])
	}
	fmt.Println(v.Get(args[0]))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	path := config.DefaultConfigPath()
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Wrote configuration to %s\n", path)
	return nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/bnema/wayime/internal/config"
	"github.com/bnema/wayime/internal/logger"
	"github.com/bnema/wayime/internal/ui"
	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wayime configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		out := cmd.OutOrStdout()

		keymap := cfg.Keyboard.KeymapFile
		if keymap == "" {
			keymap = "(built-in)"
		}
		tracePath := cfg.Trace.Path
		if tracePath == "" {
			tracePath = "(disabled)"
		}
		logLevel := cfg.Logging.LogLevel
		if logLevel == "" {
			logLevel = "(LOG_LEVEL or info)"
		}

		fmt.Fprintln(out, ui.FormatHeader("Configuration"))
		fmt.Fprintln(out, ui.FormatKeyValue("file", config.GetConfigPath()))
		fmt.Fprintln(out, ui.FormatKeyValue("seat.name", cfg.Seat.Name))
		fmt.Fprintln(out, ui.FormatKeyValue("keyboard.keymap_file", keymap))
		fmt.Fprintln(out, ui.FormatKeyValue("keyboard.repeat_rate", fmt.Sprintf("%d", cfg.Keyboard.RepeatRate)))
		fmt.Fprintln(out, ui.FormatKeyValue("keyboard.repeat_delay", fmt.Sprintf("%d ms", cfg.Keyboard.RepeatDelay)))
		fmt.Fprintln(out, ui.FormatKeyValue("logging.log_level", logLevel))
		fmt.Fprintln(out, ui.FormatKeyValue("trace.path", tracePath))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil && !configForce {
			logger.Infof("Configuration file already exists at: %s", configPath)
			logger.Info("Use --force to overwrite")
			return nil
		}

		defaults := config.DefaultConfig
		config.Set(&defaults)
		if err := config.Save(); err != nil {
			return err
		}

		logger.Infof("Configuration initialized at: %s", configPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

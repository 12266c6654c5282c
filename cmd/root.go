package cmd

import (
	"github.com/bnema/wayime/internal/config"
	"github.com/bnema/wayime/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "wayime",
		Short: "wayime - input method protocol core",
		Long: `wayime implements the compositor side of the Wayland input method
protocol (zwp_input_method_manager_v2) on an in-memory display.
Scenarios drive clients, the seat keyboard and compositor events
through it and can be recorded to a binary trace.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				config.SetConfigPath(configPath)
			}
			if err := config.Init(); err != nil {
				return err
			}
			if logLevel != "" {
				logger.SetLevel(logLevel)
			}
			return nil
		},
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/wayime/wayime.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(configCmd)
}

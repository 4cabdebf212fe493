package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pneumai/pneumai-go/cmd/analyze"
	"github.com/pneumai/pneumai-go/cmd/config"
	"github.com/pneumai/pneumai-go/cmd/migrate"
	"github.com/pneumai/pneumai-go/cmd/serve"
	"github.com/pneumai/pneumai-go/cmd/version"
	"github.com/pneumai/pneumai-go/internal/buildinfo"
	"github.com/pneumai/pneumai-go/internal/conf"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// RootCommand creates and returns the root command. Settings are loaded once
// flags are parsed and shared with every subcommand through the same pointer.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "pneumai",
		Short:         "Lung scan screening service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd); err != nil {
		panic(err)
	}

	versionCmd := version.Command(build)
	configCmd := config.Command()

	rootCmd.AddCommand(
		serve.Command(settings, build),
		analyze.Command(settings),
		migrate.Command(settings),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Commands that never touch the configured services skip loading
		if cmd == versionCmd || cmd.Parent() == configCmd {
			return nil
		}

		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded

		central, err = logger.NewCentralLogger(settings.LoggerConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)
		return nil
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central != nil {
			return central.Close()
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
// Each binds to its viper key so it overrides file and environment values.
func setupFlags(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (default: ./config.yaml, ~/.config/pneumai, /etc/pneumai)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "", "Log level: trace, debug, info, warn, error")
	flags.String("db", "", "Database URL (sqlite://path, mysql://..., postgres://...)")
	flags.String("model", "", `Path to the TFLite model, or "none" for static demo detections`)
	flags.Int("workers", 0, "Concurrent inference slots")

	bindings := map[string]string{
		"config":         "config",
		"debug":          "debug",
		"logging.level":  "log-level",
		"database.url":   "db",
		"model.path":     "model",
		"ingest.workers": "workers",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

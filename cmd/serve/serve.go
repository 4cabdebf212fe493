package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pneumai/pneumai-go/internal/analysis"
	"github.com/pneumai/pneumai-go/internal/buildinfo"
	"github.com/pneumai/pneumai-go/internal/conf"
)

// Command creates the command that runs the HTTP service.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan service",
		Long:  "Start the HTTP API, live event streams and the inference pool. SIGINT or SIGTERM shuts down gracefully.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings, build)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	svc, err := analysis.NewService(settings, build)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return svc.Run(ctx)
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("host", "", "Listen host")
	cmd.Flags().Int("port", 0, "Listen port")
	cmd.Flags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")

	for key, name := range map[string]string{
		"server.host":           "host",
		"server.port":           "port",
		"server.allowedorigins": "allowed-origins",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

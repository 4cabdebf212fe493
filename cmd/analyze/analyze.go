package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pneumai/pneumai-go/internal/analysis"
	"github.com/pneumai/pneumai-go/internal/conf"
)

// Command creates the command that scores images offline.
func Command(settings *conf.Settings) *cobra.Command {
	var recursive, compact bool

	cmd := &cobra.Command{
		Use:   "analyze [image or directory]",
		Short: "Score an image or a directory of images offline",
		Long:  "Run the detector and risk classifier without the service or database and print the results as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), settings, args[0], recursive, compact)
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVar(&compact, "compact", false, "Print JSON without indentation")

	return cmd
}

func run(ctx context.Context, stdout, stderr io.Writer, settings *conf.Settings, path string, recursive, compact bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	if !compact {
		enc.SetIndent("", "  ")
	}

	if !info.IsDir() {
		res, err := analysis.FileAnalysis(ctx, settings, path)
		if err != nil {
			return err
		}
		return enc.Encode(res)
	}

	done := 0
	results, err := analysis.DirectoryAnalysis(ctx, settings, path, recursive, func(r analysis.FileResult) {
		done++
		status := "ok"
		if r.Error != "" {
			status = "failed"
		}
		fmt.Fprintf(stderr, "[%d] %s: %s\n", done, r.Path, status)
	})
	if err != nil {
		return err
	}
	return enc.Encode(results)
}

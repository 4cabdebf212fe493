package main

import (
	"fmt"
	"os"

	"github.com/pneumai/pneumai-go/cmd"
	"github.com/pneumai/pneumai-go/internal/buildinfo"
)

// Build information, set via -ldflags "-X main.version=..."
var (
	version   = "dev"
	buildDate string
	commit    string
)

func main() {
	build := buildinfo.NewContext(version, buildDate, commit)

	rootCmd := cmd.RootCommand(build)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Command execution error: %v\n", err)
		os.Exit(1)
	}
}

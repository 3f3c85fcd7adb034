// Package cli defines the cobra commands for the artifactminer executable.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/histocoin/artifact-miner/internal/app"
	"github.com/histocoin/artifact-miner/internal/config"
)

var cfgFile string

// newApp is the application factory, a variable so tests can swap in a
// stub graph.
var newApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg)
}

// NewRootCmd creates and configures the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifactminer",
		Short: "Scrapes, enriches, and serves historical artifact records.",
		Long: `artifactminer ingests historical artifact descriptions from museum
collection APIs and arbitrary web pages, enriches them through a local
generation service, and serves the deduplicated records over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and env vars apply when omitted)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "artifactminer: %v\n", err)
		os.Exit(1)
	}
}

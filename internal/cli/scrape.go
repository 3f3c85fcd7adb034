package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/scraper"
)

// newScrapeCmd creates the 'scrape' subcommand, which runs a scrape from
// the terminal without the HTTP API.
func newScrapeCmd() *cobra.Command {
	var (
		sourceID   string
		continuous bool
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs a scrape pass over the configured sources",
		Long: `Runs one pass over every configured source (or a single source with
--source) and exits. With --continuous the scraper loops with a cooldown
between passes until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			opts := scraper.RunOptions{SourceID: sourceID, Continuous: continuous}
			if err := a.Orchestrator.Start(ctx, opts); err != nil {
				return fmt.Errorf("start scrape: %w", err)
			}

			if continuous {
				<-ctx.Done()
				a.Logger.Info("interrupt received, stopping scraper")
				a.Orchestrator.Stop()
			}
			a.Orchestrator.Wait()

			count, err := a.Store.CountRecords(cmd.Context())
			if err == nil {
				a.Logger.Info("scrape finished", zap.Int64("total_artifacts", count))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "restrict the run to one source id")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "loop passes with a cooldown until interrupted")
	return cmd
}

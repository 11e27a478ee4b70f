package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mselser95/venuecoord/internal/app"
	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run arbitrage detection and print the opportunities found",
	Long: `Probes every monitored exchange, then runs detection passes against the
configured backend and prints every opportunity above ARB_MIN_PROFIT_THRESHOLD.
Opportunities are also written to the configured storage.`,
	RunE: runDetect,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().IntP("rounds", "n", 1, "Number of detection passes")
	detectCmd.Flags().Duration("interval", time.Second, "Delay between passes")
	detectCmd.Flags().Int64("paper-seed", 0, "Seed for the paper backend price walk (0 = time based)")
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	rounds, _ := cmd.Flags().GetInt("rounds")
	interval, _ := cmd.Flags().GetDuration("interval")
	seed, _ := cmd.Flags().GetInt64("paper-seed")
	if rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", rounds)
	}

	application, err := app.New(cfg, logger, &app.Options{PaperSeed: seed})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		_ = application.Shutdown()
	}()

	ctx := cmd.Context()

	engine := application.Engine()
	for _, exchange := range cfg.MonitoredExchanges() {
		_, probeErr := engine.ProbeExchange(ctx, exchange)
		if probeErr != nil {
			logger.Warn("probe-failed", zap.String("exchange", exchange), zap.Error(probeErr))
		}
	}

	var found []*arbitrage.Opportunity
	for i := 0; i < rounds; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		opps, detectErr := engine.DetectOpportunities(ctx)
		if detectErr != nil {
			return fmt.Errorf("detect opportunities: %w", detectErr)
		}
		found = append(found, opps...)
	}

	return printOpportunities(cmd.OutOrStdout(), found)
}

func printOpportunities(w io.Writer, opps []*arbitrage.Opportunity) error {
	if len(opps) == 0 {
		_, err := fmt.Fprintln(w, "No opportunities found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tBUY\tSELL\tBUY PRICE\tSELL PRICE\tPROFIT %\tEST. PROFIT")
	for _, o := range opps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%.3f\t%.2f\n",
			o.Pair, o.BuyExchange, o.SellExchange, o.BuyPrice, o.SellPrice, o.ProfitPercent, o.EstimatedProfit)
	}
	return tw.Flush()
}

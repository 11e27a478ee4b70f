package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/venuecoord/internal/app"
	"github.com/mselser95/venuecoord/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe every monitored exchange once and print its health",
	RunE:  runStatus,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "Print statuses as JSON")
	statusCmd.Flags().Duration("timeout", 10*time.Second, "Overall probe timeout")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	asJSON, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	application, err := app.New(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		_ = application.Shutdown()
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	engine := application.Engine()
	for _, exchange := range cfg.MonitoredExchanges() {
		_, probeErr := engine.ProbeExchange(ctx, exchange)
		if probeErr != nil {
			logger.Warn("probe-failed", zap.String("exchange", exchange), zap.Error(probeErr))
		}
	}

	statuses := engine.GetExchangeStatus()
	if asJSON {
		return printStatusesJSON(cmd.OutOrStdout(), statuses)
	}
	return printStatusTable(cmd.OutOrStdout(), statuses)
}

func sortedStatuses(statuses map[string]types.ExchangeStatus) []types.ExchangeStatus {
	out := make([]types.ExchangeStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func printStatusesJSON(w io.Writer, statuses map[string]types.ExchangeStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sortedStatuses(statuses))
}

func printStatusTable(w io.Writer, statuses map[string]types.ExchangeStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXCHANGE\tSTATUS\tLATENCY\tERRORS")
	for _, s := range sortedStatuses(statuses) {
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\n", s.Name, s.Status, s.LatencyMs, s.ErrorCount)
	}
	return tw.Flush()
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage implements Storage by pretty-printing to console.
type ConsoleStorage struct {
	logger *zap.Logger
	out    io.Writer
}

// NewConsoleStorage creates a new console storage writing to stdout.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	return NewConsoleStorageWriter(logger, os.Stdout)
}

// NewConsoleStorageWriter creates a console storage writing to out.
func NewConsoleStorageWriter(logger *zap.Logger, out io.Writer) *ConsoleStorage {
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		logger: logger,
		out:    out,
	}
}

// StoreOpportunity pretty-prints an arbitrage opportunity to console.
func (c *ConsoleStorage) StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error {
	fmt.Fprintln(c.out, "\n"+rule)
	fmt.Fprintf(c.out, "🎯 ARBITRAGE OPPORTUNITY DETECTED\n")
	fmt.Fprintln(c.out, rule)
	fmt.Fprintf(c.out, "ID:       %s\n", shortID(opp.ID))
	fmt.Fprintf(c.out, "Pair:     %s\n", opp.Pair)
	fmt.Fprintf(c.out, "Time:     %s\n", opp.DetectedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(c.out, rule)
	fmt.Fprintf(c.out, "📊 PRICES\n")
	fmt.Fprintf(c.out, "  Buy:   %-10s %.4f\n", opp.BuyExchange, opp.BuyPrice)
	fmt.Fprintf(c.out, "  Sell:  %-10s %.4f\n", opp.SellExchange, opp.SellPrice)
	fmt.Fprintln(c.out, rule)
	fmt.Fprintf(c.out, "💰 PROFIT ANALYSIS\n")
	fmt.Fprintf(c.out, "  Spread:           %.4f%%\n", opp.ProfitPercent)
	fmt.Fprintf(c.out, "  Estimated Profit: %.4f\n", opp.EstimatedProfit)
	fmt.Fprintln(c.out, rule)

	return nil
}

// StoreExecution pretty-prints an executed arbitrage to console.
func (c *ConsoleStorage) StoreExecution(ctx context.Context, exec *types.ArbitrageExecution) error {
	fmt.Fprintln(c.out, "\n"+rule)
	fmt.Fprintf(c.out, "✅ ARBITRAGE EXECUTED\n")
	fmt.Fprintln(c.out, rule)
	fmt.Fprintf(c.out, "ID:          %s\n", shortID(exec.ID))
	fmt.Fprintf(c.out, "Opportunity: %s\n", shortID(exec.OpportunityID))
	fmt.Fprintf(c.out, "Pair:        %s\n", exec.Pair)
	fmt.Fprintf(c.out, "Time:        %s\n", exec.ExecutedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(c.out, rule)
	fmt.Fprintf(c.out, "  Buy leg:   %-10s %.4f (execution %s)\n", exec.BuyExchange, exec.BuyPrice, exec.BuyLeg.ID)
	fmt.Fprintf(c.out, "  Sell leg:  %-10s %.4f (execution %s)\n", exec.SellExchange, exec.SellPrice, exec.SellLeg.ID)
	fmt.Fprintf(c.out, "  Spread:    %.4f%%\n", exec.ProfitPercent)
	fmt.Fprintln(c.out, rule)

	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

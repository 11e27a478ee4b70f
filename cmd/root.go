package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "venuecoord",
	Short: "Multi-exchange strategy coordinator",
	Long: `Coordinates trading strategies across several exchanges through an
execution backend. It tracks exchange health, places strategy groups on
healthy exchanges, detects and executes cross-exchange arbitrage, tunes
running strategies to market conditions, and relocates strategies away
from failed exchanges.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before reading configuration")
}

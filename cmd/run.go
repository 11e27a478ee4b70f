package cmd

import (
	"fmt"

	"github.com/mselser95/venuecoord/internal/app"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the coordinator",
	Long: `Starts the coordinator, which will:
1. Probe every monitored exchange and track its health
2. Poll prices and detect cross-exchange arbitrage
3. Execute opportunities when ARB_AUTO_EXECUTE is set
4. Tune running strategies to market conditions
5. Relocate strategies away from failed exchanges

The REST API is served under /api on HTTP_PORT.`,
	RunE: runCoordinator,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Int64("paper-seed", 0, "Seed for the paper backend price walk (0 = time based)")
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	seed, _ := cmd.Flags().GetInt64("paper-seed")

	application, err := app.New(cfg, logger, &app.Options{PaperSeed: seed})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	// Run app
	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}

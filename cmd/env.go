package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mselser95/venuecoord/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// loadSettings loads the env file named by --env-file, then the config and a logger.
// A missing env file is not an error.
func loadSettings(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		envErr := godotenv.Load(envFile)
		if envErr != nil && !os.IsNotExist(envErr) {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, envErr)
		}
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, logger, nil
}

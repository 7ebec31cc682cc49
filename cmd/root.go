package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trafficsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "trafficsync",
	Short: "Incremental traffic-incident ingestion pipeline",
	Long:  "Pulls traffic-incident snapshots from a Socrata SODA3 endpoint, validates them into bronze NDJSON, and merges deduplicated current state into the silver table.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

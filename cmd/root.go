package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "product-scout",
	Short: "Find and extract product data with retry-with-feedback",
	Long:  "Discovers candidate product pages for a query, extracts structured records through browser automation, validates them, and routes failures back to extraction or research until the run succeeds or its ceilings are spent.",
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

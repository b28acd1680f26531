package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runID string

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run one product query to completion",
	Long:  "Runs a single query and prints the run document to stdout. The document is also written to the configured output directory and run store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return eris.New("query is empty")
		}

		// Interrupts end the run early with a partial document.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run", stdoutSink())
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := env.Run(ctx, runID, query)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", doc.RunID),
			zap.String("status", string(doc.Status())),
			zap.Int("accepted", len(doc.AcceptedRecords)),
			zap.Float64("success_rate", doc.Metadata.SuccessRate),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runID, "run-id", "", "run ID to use (default: generated)")
	rootCmd.AddCommand(runCmd)
}

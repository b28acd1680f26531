package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/source"
	"github.com/sells-group/product-scout/pkg/notion"
)

var (
	batchFile        string
	batchColumn      string
	batchSheet       string
	batchNotion      bool
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run many queries from a file or a Notion queue",
	Long:  "Runs every query from --file (text, csv or xlsx) or the configured Notion database. Runs are isolated: one failure never aborts the others.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src, reporter, err := batchSource()
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		queries, err := src.Queries(ctx)
		if err != nil {
			return eris.Wrap(err, "load queries")
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentRuns
		}

		res, err := processBatch(ctx, queries, batchLimit, concurrency, reporter, env.Run)
		if err != nil {
			return err
		}
		if res.Failed > 0 && res.Succeeded == 0 && res.Partial == 0 {
			return eris.Errorf("batch: all %d runs failed", res.Failed)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file of queries: one per line, or .csv/.xlsx")
	batchCmd.Flags().StringVar(&batchColumn, "column", "", "csv/xlsx column holding the query (default \"query\")")
	batchCmd.Flags().StringVar(&batchSheet, "sheet", "", "xlsx sheet name (default: first sheet)")
	batchCmd.Flags().BoolVar(&batchNotion, "notion", false, "read queued queries from the configured Notion database")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of queries to process")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent runs (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// batchSource picks the query source from flags. The reporter is nil for
// sources that cannot record outcomes.
func batchSource() (source.Source, source.StatusReporter, error) {
	switch {
	case batchNotion && batchFile != "":
		return nil, nil, eris.New("use either --file or --notion, not both")
	case batchNotion:
		if cfg.Notion.Token == "" || cfg.Notion.QueryDB == "" {
			return nil, nil, eris.New("notion.token and notion.query_db are required for --notion")
		}
		n := source.Notion{
			Client:         notion.NewClient(cfg.Notion.Token),
			DatabaseID:     cfg.Notion.QueryDB,
			QueryProperty:  cfg.Notion.QueryProperty,
			StatusProperty: cfg.Notion.StatusProperty,
		}
		return n, n, nil
	case batchFile != "":
		return source.File{Path: batchFile, Column: batchColumn, Sheet: batchSheet}, nil, nil
	default:
		return nil, nil, eris.New("one of --file or --notion is required")
	}
}

// runFunc runs one query. An empty runID lets the callee assign one.
type runFunc func(ctx context.Context, runID, query string) (*model.RunDocument, error)

// batchResult tallies a batch by terminal status.
type batchResult struct {
	Succeeded int64
	Partial   int64
	Failed    int64
	Skipped   int64
}

// processBatch applies limit, then runs queries concurrently. Each run is
// isolated: errors are logged and counted, never returned. When reporter
// is non-nil every query's outcome is written back to its origin.
func processBatch(ctx context.Context, queries []source.Query, limit, concurrency int, reporter source.StatusReporter, run runFunc) (batchResult, error) {
	if len(queries) == 0 {
		zap.L().Info("no queued queries found")
		return batchResult{}, nil
	}

	if limit > 0 && len(queries) > limit {
		queries = queries[:limit]
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("queries", len(queries)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, partial, failed, skipped atomic.Int64

	for _, q := range queries {
		g.Go(func() error {
			log := zap.L().With(zap.String("query", q.Text), zap.String("ref", q.Ref))

			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}

			doc, err := run(gctx, "", q.Text)
			status := model.RunStatusFailed
			runID := ""
			if doc != nil {
				status = doc.Status()
				runID = doc.RunID
			}
			if err != nil {
				status = model.RunStatusFailed
				log.Error("run failed", zap.String("run_id", runID), zap.Error(err))
			}

			switch status {
			case model.RunStatusComplete:
				succeeded.Add(1)
			case model.RunStatusPartial:
				partial.Add(1)
			default:
				failed.Add(1)
			}
			log.Info("run finished", zap.String("run_id", runID), zap.String("status", string(status)))

			if reporter != nil {
				// The batch context may be cancelled; the report still lands.
				if rErr := reporter.ReportStatus(context.WithoutCancel(gctx), q, runID, string(status)); rErr != nil {
					log.Warn("report run status", zap.Error(rErr))
				}
			}
			return nil // don't abort batch on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		return batchResult{}, eris.Wrap(err, "batch processing")
	}

	res := batchResult{
		Succeeded: succeeded.Load(),
		Partial:   partial.Load(),
		Failed:    failed.Load(),
		Skipped:   skipped.Load(),
	}
	zap.L().Info("batch complete",
		zap.Int64("succeeded", res.Succeeded),
		zap.Int64("partial", res.Partial),
		zap.Int64("failed", res.Failed),
		zap.Int64("skipped", res.Skipped),
	)
	return res, nil
}

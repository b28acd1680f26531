package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/source"
	"github.com/sells-group/product-scout/internal/workflow"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Temporal worker that executes queued runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		w := worker.New(c, taskQueue(), worker.Options{
			MaxConcurrentActivityExecutionSize: cfg.Batch.MaxConcurrentRuns,
		})
		w.RegisterWorkflow(workflow.RunQueryWorkflow)
		w.RegisterWorkflow(workflow.BatchWorkflow)
		w.RegisterActivity(&workflow.Activities{Runner: env})

		zap.L().Info("starting worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", taskQueue()),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

var (
	enqueueFile        string
	enqueueConcurrency int
	enqueueWait        bool
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [query]",
	Short: "Start a run workflow, or a batch workflow with --file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var queries []string
		if enqueueFile != "" {
			qs, err := source.File{Path: enqueueFile}.Queries(ctx)
			if err != nil {
				return eris.Wrap(err, "load queries")
			}
			for _, q := range qs {
				queries = append(queries, q.Text)
			}
		} else if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
			queries = []string{q}
		}
		if len(queries) == 0 {
			return eris.New("a query argument or --file is required")
		}

		c, err := dialTemporal()
		if err != nil {
			return err
		}
		defer c.Close()

		opts := client.StartWorkflowOptions{ID: "run-" + uuid.NewString(), TaskQueue: taskQueue()}
		var (
			run client.WorkflowRun
			out any
		)
		if enqueueFile == "" {
			run, err = c.ExecuteWorkflow(ctx, opts, workflow.RunQueryWorkflow, workflow.RunInput{Query: queries[0]})
			out = &workflow.RunOutput{}
		} else {
			opts.ID = "batch-" + uuid.NewString()
			run, err = c.ExecuteWorkflow(ctx, opts, workflow.BatchWorkflow, workflow.BatchInput{
				Queries:     queries,
				Concurrency: enqueueConcurrency,
			})
			out = &workflow.BatchOutput{}
		}
		if err != nil {
			return eris.Wrap(err, "start workflow")
		}

		zap.L().Info("workflow started",
			zap.String("workflow_id", run.GetID()),
			zap.String("run_id", run.GetRunID()),
			zap.Int("queries", len(queries)),
		)
		if !enqueueWait {
			return nil
		}

		if err := run.Get(ctx, out); err != nil {
			return eris.Wrap(err, "workflow result")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueFile, "file", "", "file of queries to run as one batch workflow")
	enqueueCmd.Flags().IntVar(&enqueueConcurrency, "concurrency", 0, "concurrent runs inside the batch workflow")
	enqueueCmd.Flags().BoolVar(&enqueueWait, "wait", false, "wait for the workflow and print its result")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(enqueueCmd)
}

func taskQueue() string {
	if cfg.Temporal.TaskQueue != "" {
		return cfg.Temporal.TaskQueue
	}
	return workflow.TaskQueue
}

func dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    workflow.NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrap(err, "dial temporal")
	}
	return c, nil
}

// Package workflow runs queries as durable Temporal workflows. Each query is
// one activity that drives the orchestrator to a terminal document; the
// batch workflow fans queries out with bounded concurrency.
package workflow

import (
	"strconv"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the default Temporal task queue for product runs.
const TaskQueue = "product-scout"

const (
	defaultRunTimeout  = 30 * time.Minute
	defaultConcurrency = 4
)

// RunInput starts one query run. RunID defaults to the workflow ID.
type RunInput struct {
	RunID          string `json:"run_id,omitempty"`
	Query          string `json:"query"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// RunOutput summarizes a finished run. The full document goes to the
// configured sinks, not the workflow history.
type RunOutput struct {
	RunID             string  `json:"run_id"`
	Query             string  `json:"query"`
	Status            string  `json:"status"`
	Accepted          int     `json:"accepted"`
	Success           bool    `json:"success"`
	Partial           bool    `json:"partial"`
	SuccessRate       float64 `json:"success_rate"`
	TerminationReason string  `json:"termination_reason,omitempty"`
	Error             string  `json:"error,omitempty"`
}

// BatchInput runs many queries.
type BatchInput struct {
	Queries        []string `json:"queries"`
	Concurrency    int      `json:"concurrency,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// BatchOutput holds one output per query, in input order.
type BatchOutput struct {
	Runs      []RunOutput `json:"runs"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// activityOptions bounds one run. Temporal retries only infrastructure
// failures: the orchestrator already retries extraction and research, and a
// finished run always yields a document.
func activityOptions(timeoutSeconds int) workflow.ActivityOptions {
	timeout := defaultRunTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
		},
	}
}

// RunQueryWorkflow executes one query run.
func RunQueryWorkflow(ctx workflow.Context, in RunInput) (*RunOutput, error) {
	if in.RunID == "" {
		in.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions(in.TimeoutSeconds))

	var a *Activities
	var out RunOutput
	if err := workflow.ExecuteActivity(ctx, a.RunQuery, in).Get(ctx, &out); err != nil {
		return nil, err
	}
	workflow.GetLogger(ctx).Info("run finished", "run_id", out.RunID, "status", out.Status, "accepted", out.Accepted)
	return &out, nil
}

// BatchWorkflow runs every query with at most Concurrency activities in
// flight. A failed run is recorded in the output and does not abort the
// batch.
func BatchWorkflow(ctx workflow.Context, in BatchInput) (*BatchOutput, error) {
	limit := in.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions(in.TimeoutSeconds))
	base := workflow.GetInfo(ctx).WorkflowExecution.ID

	out := &BatchOutput{Runs: make([]RunOutput, len(in.Queries))}
	sel := workflow.NewSelector(ctx)
	inFlight := 0

	var a *Activities
	for i, q := range in.Queries {
		if inFlight == limit {
			sel.Select(ctx)
			inFlight--
		}
		runIn := RunInput{RunID: batchRunID(base, i), Query: q}
		fut := workflow.ExecuteActivity(ctx, a.RunQuery, runIn)
		inFlight++
		sel.AddFuture(fut, func(f workflow.Future) {
			var res RunOutput
			if err := f.Get(ctx, &res); err != nil {
				res = RunOutput{RunID: runIn.RunID, Query: runIn.Query, Status: "failed", Error: err.Error()}
			}
			out.Runs[i] = res
		})
	}
	for ; inFlight > 0; inFlight-- {
		sel.Select(ctx)
	}

	for _, r := range out.Runs {
		if r.Error == "" && r.Status != "failed" {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

func batchRunID(base string, i int) string {
	return base + "-" + strconv.Itoa(i)
}

package workflow

import (
	"context"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
)

// ErrTypeInvalidInput marks activity errors Temporal must not retry.
const ErrTypeInvalidInput = "InvalidInput"

// Runner executes one query to a terminal document.
type Runner interface {
	Run(ctx context.Context, runID, query string) (*model.RunDocument, error)
}

// Activities holds the dependencies shared by all activity invocations.
type Activities struct {
	Runner Runner
}

// RunQuery runs one query. A document that fails to reach its sink is
// returned as an error so Temporal retries the delivery.
func (a *Activities) RunQuery(ctx context.Context, in RunInput) (*RunOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, temporal.NewNonRetryableApplicationError("query is empty", ErrTypeInvalidInput, nil)
	}
	if in.RunID == "" {
		in.RunID = activity.GetInfo(ctx).WorkflowExecution.ID
	}

	zap.L().Info("workflow: run query",
		zap.String("run_id", in.RunID),
		zap.String("query", in.Query),
		zap.Int32("attempt", activity.GetInfo(ctx).Attempt),
	)

	doc, err := a.Runner.Run(ctx, in.RunID, in.Query)
	if err != nil {
		return nil, err
	}
	return Summarize(*doc), nil
}

// Summarize reduces a document to its workflow output.
func Summarize(doc model.RunDocument) *RunOutput {
	return &RunOutput{
		RunID:             doc.RunID,
		Query:             doc.Query,
		Status:            string(doc.Status()),
		Accepted:          len(doc.AcceptedRecords),
		Success:           doc.Metadata.Success,
		Partial:           doc.Metadata.Partial,
		SuccessRate:       doc.Metadata.SuccessRate,
		TerminationReason: doc.Metadata.TerminationReason,
	}
}

// Package store persists run history: one row per run with its status and,
// once finished, the emitted run document.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

// ErrRunNotFound is returned (wrapped) when a run ID does not exist.
var ErrRunNotFound = eris.New("run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Query  string          `json:"query,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for run history.
type Store interface {
	CreateRun(ctx context.Context, query string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveDocument(ctx context.Context, doc model.RunDocument) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// recordRow is the per-record projection stored alongside the document.
type recordRow struct {
	seq         int
	candidateID string
	fields      []byte
}

func recordRows(doc model.RunDocument) ([]recordRow, error) {
	rows := make([]recordRow, 0, len(doc.AcceptedRecords))
	for i, rec := range doc.AcceptedRecords {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, eris.Wrapf(err, "marshal record %d", i)
		}
		rows = append(rows, recordRow{seq: i, candidateID: fmt.Sprint(rec["source_candidate_id"]), fields: b})
	}
	return rows, nil
}

func decodeDocument(raw []byte, r *model.Run) error {
	if len(raw) == 0 {
		return nil
	}
	r.Document = &model.RunDocument{}
	return eris.Wrap(json.Unmarshal(raw, r.Document), "unmarshal document")
}

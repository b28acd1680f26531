package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testDocument(runID string) model.RunDocument {
	return model.RunDocument{
		RunID: runID,
		Query: "Widget Pro",
		AcceptedRecords: []map[string]any{
			{"product_name": "Widget Pro", "price": "19.99", "source_candidate_id": "c1"},
			{"product_name": "Widget Pro XL", "price": "24.99", "source_candidate_id": "c1"},
		},
		Metadata: model.RunMetadata{
			CandidatesTried:         1,
			TotalExtractionAttempts: 2,
			Success:                 true,
			TargetCandidates:        1,
			SuccessfulCandidates:    1,
			SuccessRate:             1,
			Candidates: []model.Candidate{
				{ID: "c1", Locator: "https://shop.example.com/widget", Origin: model.OriginDiscovered, AttemptCount: 2},
			},
			StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			CompletedAt: time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
		},
	}
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "Widget Pro")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", got.Query)
	assert.Equal(t, model.RunStatusQueued, got.Status)
	assert.Nil(t, got.Document)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLite_UpdateRunStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "Widget Pro")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusExtracting))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusExtracting, got.Status)

	err = st.UpdateRunStatus(ctx, "missing", model.RunStatusFailed)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLite_SaveDocument(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "Widget Pro")
	require.NoError(t, err)

	doc := testDocument(run.ID)
	require.NoError(t, st.SaveDocument(ctx, doc))
	// A second save replaces the records instead of duplicating them.
	require.NoError(t, st.SaveDocument(ctx, doc))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Document)
	assert.Len(t, got.Document.AcceptedRecords, 2)
	assert.Equal(t, 1, got.Document.Metadata.SuccessfulCandidates)
	assert.Equal(t, "c1", got.Document.Metadata.Candidates[0].ID)

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_records WHERE run_id = ?`, run.ID).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLite_SaveDocument_UnknownRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	doc := testDocument("adhoc-run")
	doc.Metadata.Success = false
	doc.AcceptedRecords = nil
	require.NoError(t, st.SaveDocument(ctx, doc))

	got, err := st.GetRun(ctx, "adhoc-run")
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", got.Query)
	assert.Equal(t, model.RunStatusFailed, got.Status)
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, "Widget Pro")
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "Gadget Max")
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "Widget Pro")
	require.NoError(t, err)
	require.NoError(t, st.UpdateRunStatus(ctx, a.ID, model.RunStatusComplete))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	widgets, err := st.ListRuns(ctx, RunFilter{Query: "Widget Pro"})
	require.NoError(t, err)
	assert.Len(t, widgets, 2)

	done, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, a.ID, done[0].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

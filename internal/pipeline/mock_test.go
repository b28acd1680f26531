package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/automation"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/schema"
	"github.com/sells-group/product-scout/internal/validate"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

type mockResearcher struct {
	mock.Mock
}

func (m *mockResearcher) Discover(ctx context.Context, query string, ref model.Refinement) ([]model.Candidate, error) {
	args := m.Called(ctx, query, ref)
	if fn, ok := args.Get(0).(func(context.Context, string, model.Refinement) []model.Candidate); ok {
		return fn(ctx, query, ref), args.Error(1)
	}
	cands, _ := args.Get(0).([]model.Candidate)
	return cands, args.Error(1)
}

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(ctx context.Context) (automation.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(automation.Session), args.Error(1)
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Navigate(ctx context.Context, locator string) error {
	return m.Called(ctx, locator).Error(0)
}

func (m *mockSession) Act(ctx context.Context, instruction string) error {
	return m.Called(ctx, instruction).Error(0)
}

func (m *mockSession) Extract(ctx context.Context, instruction string, s *schema.Schema) ([]map[string]any, error) {
	args := m.Called(ctx, instruction, s)
	recs, _ := args.Get(0).([]map[string]any)
	return recs, args.Error(1)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

type captureSink struct {
	mu   sync.Mutex
	docs []model.RunDocument
	err  error
}

func (s *captureSink) Write(ctx context.Context, doc model.RunDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.docs = append(s.docs, doc)
	return s.err
}

type recordingStatus struct {
	mu       sync.Mutex
	statuses []model.RunStatus
}

func (s *recordingStatus) UpdateRunStatus(_ context.Context, _ string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

// extractorFunc adapts a function to Extractor.
type extractorFunc func(ctx context.Context, c model.Candidate, fb *model.Feedback) ([]model.ExtractedRecord, error)

func (f extractorFunc) Extract(ctx context.Context, c model.Candidate, _ *schema.Schema, fb *model.Feedback) ([]model.ExtractedRecord, error) {
	return f(ctx, c, fb)
}

// validatorFunc adapts a function to Validator.
type validatorFunc func(records []model.ExtractedRecord, qc validate.QueryContext) model.ValidationOutcome

func (f validatorFunc) Validate(_ context.Context, records []model.ExtractedRecord, qc validate.QueryContext) model.ValidationOutcome {
	return f(records, qc)
}

func newTestRunner(cfg Config, res *mockResearcher, ex Extractor, v Validator) *runner {
	return &runner{
		cfg:        cfg.withDefaults(),
		runID:      "run-1",
		query:      "Widget Pro",
		schema:     schema.Default(),
		researcher: res,
		extractor:  ex,
		validator:  v,
		now:        fixedNow,
		log:        zap.NewNop(),
	}
}

func cand(id string) model.Candidate {
	return model.Candidate{ID: id, Locator: "https://" + id + ".example.com/widget", Origin: model.OriginDiscovered}
}

func oneRecord(ctx context.Context, c model.Candidate, _ *model.Feedback) ([]model.ExtractedRecord, error) {
	return []model.ExtractedRecord{model.NewExtractedRecord(c.ID, map[string]any{"product_name": "Widget Pro " + c.ID}, fixedNow())}, nil
}

func pass(records []model.ExtractedRecord, _ validate.QueryContext) model.ValidationOutcome {
	return model.ValidationOutcome{Accepted: records}
}

func fail(target model.FeedbackTarget) model.ValidationOutcome {
	return model.ValidationOutcome{
		RejectedCount: 1,
		Feedback: &model.Feedback{
			Issues: []string{"rejected"},
			Target: target,
			Recommendations: map[model.FeedbackTarget][]string{
				model.TargetExtraction: {"fix extraction"},
				model.TargetResearch:   {"fix research"},
			},
		},
	}
}

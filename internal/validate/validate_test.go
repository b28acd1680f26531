package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/schema"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) CheckSource(ctx context.Context, locator, productName string) (Verdict, error) {
	args := m.Called(ctx, locator, productName)
	return args.Get(0).(Verdict), args.Error(1)
}

var (
	now       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	candidate = model.Candidate{ID: "c1", Locator: "https://shop-a.com/widget"}
	qc        = QueryContext{Query: "Widget Pro 3000", Candidate: candidate}
)

func rec(fields map[string]any) model.ExtractedRecord {
	return model.NewExtractedRecord(candidate.ID, fields, now)
}

func product(name, price, url string) model.ExtractedRecord {
	return rec(map[string]any{"product_name": name, "price": price, "url": url})
}

func TestValidate_AllAccepted(t *testing.T) {
	s := New(schema.Default(), Options{})
	out := s.Validate(context.Background(), []model.ExtractedRecord{
		product("Acme Widget Pro 3000 - Black", "$19.99", "https://shop-a.com/w/black"),
		product("WIDGET PRO 3000 (White)", "19.99 USD", "https://shop-a.com/w/white"),
	}, qc)

	assert.True(t, out.Passed())
	assert.Len(t, out.Accepted, 2)
	assert.Zero(t, out.RejectedCount)
	assert.Equal(t, "Acme Widget Pro 3000 - Black", out.Accepted[0].StringField("product_name"))
}

func TestValidate_EmptyBatch(t *testing.T) {
	out := New(schema.Default(), Options{}).Validate(context.Background(), nil, qc)
	require.NotNil(t, out.Feedback)
	assert.Equal(t, []string{IssueNoRecords}, out.Feedback.Issues)
	assert.Equal(t, model.TargetExtraction, out.Feedback.Target)
	assert.NotEmpty(t, out.Feedback.RecommendationsFor(model.TargetExtraction))
	assert.Empty(t, out.Accepted)
	assert.Zero(t, out.RejectedCount)
}

func TestValidate_MixedFailuresRouteToResearch(t *testing.T) {
	s := New(schema.Default(), Options{})
	out := s.Validate(context.Background(), []model.ExtractedRecord{
		product("Widget Pro 3000", "$19.99", "https://shop-a.com/w"),
		rec(map[string]any{"product_name": "Widget Pro 3000", "url": "https://shop-a.com/w"}),
		product("Widget Pro 3000", "$18.00", "https://www.pricerunner.com/widget"),
		product("Widget Stand", "$5", "https://shop-a.com/stand"),
	}, qc)

	require.Len(t, out.Accepted, 1)
	assert.Equal(t, 3, out.RejectedCount)
	assert.Equal(t, 1, out.RelevanceRejected)
	require.NotNil(t, out.Feedback)
	assert.Equal(t, model.TargetResearch, out.Feedback.Target)
	assert.Len(t, out.Feedback.Issues, 3)
	assert.Contains(t, out.Feedback.Issues[0], `"price" missing in 1 of 4`)
	assert.Contains(t, out.Feedback.Issues[1], "pricerunner.com")
	assert.Contains(t, out.Feedback.Issues[2], `"Widget Stand"`)
	assert.NotEmpty(t, out.Feedback.Recommendations[model.TargetExtraction])
	assert.NotEmpty(t, out.Feedback.Recommendations[model.TargetResearch])
}

func TestValidate_SchemaFailuresRouteToExtraction(t *testing.T) {
	s := New(schema.Default(), Options{})
	out := s.Validate(context.Background(), []model.ExtractedRecord{
		rec(map[string]any{"product_name": "Widget Pro 3000", "url": "https://shop-a.com/w"}),
		rec(map[string]any{"product_name": "Widget Pro 3000", "url": "https://shop-a.com/w2", "price": ""}),
		rec(map[string]any{"product_name": "Widget Pro 3000", "url": "https://shop-a.com/w3", "price": "call us"}),
	}, qc)

	require.NotNil(t, out.Feedback)
	assert.Equal(t, model.TargetExtraction, out.Feedback.Target)
	assert.Equal(t, 3, out.RejectedCount)
	assert.Equal(t, []string{
		`required field "price" missing in 2 of 3 records`,
		`field "price" is not a valid price in 1 of 3 records`,
	}, out.Feedback.Issues)
	recs := out.Feedback.RecommendationsFor(model.TargetExtraction)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], `"price"`)
	assert.Nil(t, out.Feedback.RecommendationsFor(model.TargetResearch))
	assert.NotEmpty(t, out.Feedback.Recommendations[model.TargetResearch])
}

func TestValidate_EvenSplitIsBoth(t *testing.T) {
	s := New(schema.Default(), Options{})
	out := s.Validate(context.Background(), []model.ExtractedRecord{
		rec(map[string]any{"product_name": "Widget Pro 3000", "url": "https://shop-a.com/w"}),
		product("Gadget Max", "$5", "https://shop-a.com/g"),
	}, qc)

	require.NotNil(t, out.Feedback)
	assert.Equal(t, model.TargetBoth, out.Feedback.Target)
	assert.NotEmpty(t, out.Feedback.RecommendationsFor(model.TargetExtraction))
	assert.NotEmpty(t, out.Feedback.RecommendationsFor(model.TargetResearch))
}

func TestValidate_SourceFallsBackToCandidate(t *testing.T) {
	sch, err := schema.New("name", "link",
		schema.Field{Name: "name", Kind: schema.RequiredString},
		schema.Field{Name: "link", Kind: schema.OptionalURL},
	)
	require.NoError(t, err)

	s := New(sch, Options{})
	out := s.Validate(context.Background(),
		[]model.ExtractedRecord{rec(map[string]any{"name": "Widget Pro 3000"})},
		QueryContext{Query: "Widget Pro 3000", Candidate: model.Candidate{ID: "c1", Locator: "https://uk.pricerunner.com/p"}})

	assert.Empty(t, out.Accepted)
	require.NotNil(t, out.Feedback)
	assert.Equal(t, model.TargetResearch, out.Feedback.Target)
}

func TestValidate_LegitimacyChecker(t *testing.T) {
	checker := new(mockChecker)
	checker.On("CheckSource", mock.Anything, "https://shop-a.com/w", "Widget Pro 3000").
		Return(Verdict{IsProductPage: true, IsPurchasable: true}, nil)
	checker.On("CheckSource", mock.Anything, "https://deals.example.com/w", "Widget Pro 3000").
		Return(Verdict{IsProductPage: true, IsPurchasable: true, IsComparisonSite: true}, nil)
	checker.On("CheckSource", mock.Anything, "https://flaky.example.com/w", "Widget Pro 3000").
		Return(Verdict{}, errors.New("timeout"))

	s := New(schema.Default(), Options{Legitimacy: checker})
	out := s.Validate(context.Background(), []model.ExtractedRecord{
		product("Widget Pro 3000", "$19.99", "https://shop-a.com/w"),
		product("Widget Pro 3000", "$17.99", "https://deals.example.com/w"),
		product("Widget Pro 3000", "$18.99", "https://flaky.example.com/w"),
	}, qc)

	assert.Len(t, out.Accepted, 2)
	assert.Equal(t, 1, out.RejectedCount)
	require.NotNil(t, out.Feedback)
	assert.Equal(t, []string{"source is not a legitimate vendor page: comparison or affiliate site"}, out.Feedback.Issues)
	assert.Equal(t, model.TargetResearch, out.Feedback.Target)
	checker.AssertExpectations(t)
}

func TestValidate_ExcludedDomainSkipsChecker(t *testing.T) {
	checker := new(mockChecker)
	s := New(schema.Default(), Options{Legitimacy: checker, ExcludedDomains: []string{"www.bad.com"}})
	out := s.Validate(context.Background(), []model.ExtractedRecord{
		product("Widget Pro 3000", "$19.99", "https://shop.bad.com/w"),
	}, qc)
	assert.Equal(t, 1, out.RejectedCount)
	checker.AssertNotCalled(t, "CheckSource", mock.Anything, mock.Anything, mock.Anything)
}

func TestTarget(t *testing.T) {
	tests := []struct {
		name    string
		weights map[failureClass]float64
		want    model.FeedbackTarget
	}{
		{"schema only", map[failureClass]float64{classSchema: 2}, model.TargetExtraction},
		{"relevance only", map[failureClass]float64{classRelevance: 1}, model.TargetResearch},
		{"research bucket sums", map[failureClass]float64{classSchema: 3, classRelevance: 2, classLegitimacy: 2}, model.TargetResearch},
		{"even", map[failureClass]float64{classSchema: 2, classLegitimacy: 2}, model.TargetBoth},
		{"empty", map[failureClass]float64{}, model.TargetBoth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, target(tt.weights))
		})
	}
}

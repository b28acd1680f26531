// Package extract runs one extraction attempt against one candidate through
// an automation capability.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/schema"
)

// ErrMalformedData is returned by automation implementations when the data
// they got back cannot be read as schema records at all.
var ErrMalformedData = eris.New("automation: malformed extraction data")

// Automation drives a page: open it, optionally act on it, and pull
// structured records matching a schema.
type Automation interface {
	Navigate(ctx context.Context, locator string) error
	Act(ctx context.Context, instruction string) error
	Extract(ctx context.Context, instruction string, s *schema.Schema) ([]map[string]any, error)
}

// ExtractionError is a retryable extraction failure: network, timeout or a
// failing tool.
type ExtractionError struct {
	CandidateID string
	Cause       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: candidate %s: %v", e.CandidateID, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }

// SchemaError is a non-retryable failure: the candidate returned data of the
// wrong shape.
type SchemaError struct {
	CandidateID string
	Cause       error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("extract: candidate %s: malformed data: %v", e.CandidateID, e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// Options tunes a Step.
type Options struct {
	// Timeout bounds one whole attempt: navigate, act and extract.
	Timeout time.Duration
	// PopupInstruction, when set, is sent to Act after navigation to clear
	// cookie banners and modals. Act failures are logged and ignored.
	PopupInstruction string
	// Now stamps records; defaults to time.Now.
	Now func() time.Time
}

// Step performs extraction attempts for one run's query.
type Step struct {
	auto  Automation
	query string
	opts  Options
}

// New returns a Step that extracts records for query through auto.
func New(auto Automation, query string, opts Options) *Step {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Step{auto: auto, query: query, opts: opts}
}

// Extract navigates to c and pulls records matching s. Feedback aimed at
// extraction refines the instruction. Failures come back as
// *ExtractionError or *SchemaError.
func (s *Step) Extract(ctx context.Context, c model.Candidate, sch *schema.Schema, fb *model.Feedback) ([]model.ExtractedRecord, error) {
	log := zap.L().With(zap.String("candidate", c.ID), zap.String("locator", c.Locator))
	instruction := s.Instruction(sch, fb)

	raw, err := resilience.WithTimeout(ctx, "extract", s.opts.Timeout, func(ctx context.Context) ([]map[string]any, error) {
		if err := s.auto.Navigate(ctx, c.Locator); err != nil {
			return nil, eris.Wrap(err, "navigate")
		}
		if s.opts.PopupInstruction != "" {
			if err := s.auto.Act(ctx, s.opts.PopupInstruction); err != nil {
				log.Debug("extract: popup dismissal failed", zap.Error(err))
			}
		}
		return s.auto.Extract(ctx, instruction, sch)
	})
	if err != nil {
		if errors.Is(err, ErrMalformedData) {
			return nil, &SchemaError{CandidateID: c.ID, Cause: err}
		}
		return nil, &ExtractionError{CandidateID: c.ID, Cause: err}
	}

	now := s.opts.Now()
	records := make([]model.ExtractedRecord, 0, len(raw))
	for _, fields := range raw {
		if fields == nil {
			continue
		}
		records = append(records, model.NewExtractedRecord(c.ID, fields, now))
	}
	log.Debug("extract: attempt complete", zap.Int("records", len(records)))
	return records, nil
}

// Instruction builds the extraction instruction for the run query, folding
// in extraction recommendations from fb when present.
func (s *Step) Instruction(sch *schema.Schema, fb *model.Feedback) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract the product listings on this page that match %q. ", s.query)
	fmt.Fprintf(&b, "Return one record per matching product with these fields: %s.", sch.Describe())

	recs := fb.RecommendationsFor(model.TargetExtraction)
	if len(recs) == 0 {
		return b.String()
	}
	b.WriteString("\n\nThe previous attempt on this page was rejected.")
	if len(fb.Issues) > 0 {
		b.WriteString(" Problems: " + strings.Join(fb.Issues, "; ") + ".")
	}
	b.WriteString(" Adjust as follows:")
	for _, r := range recs {
		b.WriteString("\n- " + r)
	}
	return b.String()
}

package research

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/product-scout/internal/model"
)

// Chain tries researchers in order and returns the first non-empty result.
// It fails only when every researcher failed.
type Chain []Researcher

// Discover implements Researcher.
func (c Chain) Discover(ctx context.Context, query string, ref model.Refinement) ([]model.Candidate, error) {
	var errs []error
	for i, r := range c {
		cands, err := r.Discover(ctx, query, ref)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Warn("research: researcher failed, trying next",
				zap.Int("position", i), zap.String("query", query), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if len(cands) > 0 {
			return cands, nil
		}
	}
	if len(errs) == len(c) && len(errs) > 0 {
		return nil, &ResearchError{Source: "chain", Cause: errors.Join(errs...)}
	}
	return nil, nil
}

// Limited throttles calls to the wrapped researcher. One limiter is shared
// across every run in the process.
type Limited struct {
	next    Researcher
	limiter *rate.Limiter
}

// NewLimited wraps next with a limiter allowing perSecond calls. A
// non-positive rate defaults to 1 per second.
func NewLimited(next Researcher, perSecond float64) *Limited {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Discover implements Researcher.
func (l *Limited) Discover(ctx context.Context, query string, ref model.Refinement) ([]model.Candidate, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Discover(ctx, query, ref)
}

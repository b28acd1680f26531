package research

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/pkg/jina"
)

// JinaSearch discovers candidates from Jina web search results. It is the
// fallback when Perplexity returns nothing.
type JinaSearch struct {
	client   jina.Client
	breakers *resilience.ServiceBreakers
	count    int
	// sites, when set, scopes discovery to these retailer domains with one
	// site-filtered search each.
	sites []string
}

// NewJinaSearch returns a JinaSearch researcher asking for count results
// per search.
func NewJinaSearch(client jina.Client, breakers *resilience.ServiceBreakers, count int, sites ...string) *JinaSearch {
	if count <= 0 {
		count = 10
	}
	return &JinaSearch{client: client, breakers: breakers, count: count, sites: sites}
}

// Discover searches for pages to buy query. With sites configured, an
// excluded site is not searched and one failing site does not fail the
// call unless every site fails.
func (j *JinaSearch) Discover(ctx context.Context, query string, ref model.Refinement) ([]model.Candidate, error) {
	if len(j.sites) == 0 {
		results, err := j.search(ctx, query)
		if err != nil {
			return nil, &ResearchError{Source: "jina", Cause: err}
		}
		return finalize(candidatesFrom(results), ref), nil
	}

	excluded := make(map[string]bool, len(ref.ExcludeDomains))
	for _, d := range ref.ExcludeDomains {
		excluded[model.LocatorDomain("https://"+strings.TrimSpace(d))] = true
	}

	var (
		results  []jina.SearchResult
		lastErr  error
		searched int
	)
	for _, site := range j.sites {
		if excluded[model.LocatorDomain("https://"+site)] {
			continue
		}
		searched++
		res, err := j.search(ctx, query, jina.WithSiteFilter(site))
		if err != nil {
			if ctx.Err() != nil {
				return nil, &ResearchError{Source: "jina", Cause: err}
			}
			zap.L().Warn("research: jina site search failed", zap.String("site", site), zap.Error(err))
			lastErr = err
			continue
		}
		results = append(results, res...)
	}
	if lastErr != nil && len(results) == 0 && searched > 0 {
		return nil, &ResearchError{Source: "jina", Cause: lastErr}
	}
	return finalize(candidatesFrom(results), ref), nil
}

func (j *JinaSearch) search(ctx context.Context, query string, opts ...jina.SearchOption) ([]jina.SearchResult, error) {
	opts = append(opts, jina.WithCount(j.count))
	// The jina client retries on its own; the breaker sees one call.
	resp, err := resilience.Call(ctx, j.breakers, resilience.ServiceJina, "search", resilience.RetryConfig{MaxAttempts: 1},
		func(ctx context.Context) (*jina.SearchResponse, error) {
			return j.client.Search(ctx, "buy "+query, opts...)
		})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func candidatesFrom(results []jina.SearchResult) []model.Candidate {
	cands := make([]model.Candidate, 0, len(results))
	for _, r := range results {
		c := model.Candidate{Locator: r.URL, Name: r.Title}
		if !c.HasValidLocator() {
			continue
		}
		cands = append(cands, c)
	}
	return cands
}

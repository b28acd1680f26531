// Package research discovers candidate product pages for a query.
package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sells-group/product-scout/internal/model"
)

// Researcher discovers candidates for a query. A Refinement carries
// feedback instructions and the locators to leave out on retries.
type Researcher interface {
	Discover(ctx context.Context, query string, ref model.Refinement) ([]model.Candidate, error)
}

// ResearchError is a retryable research failure.
type ResearchError struct {
	Source string
	Cause  error
}

func (e *ResearchError) Error() string {
	return fmt.Sprintf("research: %s: %v", e.Source, e.Cause)
}

func (e *ResearchError) Unwrap() error { return e.Cause }

// BuildExclusions de-duplicates locators in order and derives the set of
// their domains.
func BuildExclusions(locators []string) (urls, domains []string) {
	seenURL := make(map[string]bool)
	seenDomain := make(map[string]bool)
	for _, l := range locators {
		l = strings.TrimSpace(l)
		if l == "" || seenURL[l] {
			continue
		}
		seenURL[l] = true
		urls = append(urls, l)
		if d := model.LocatorDomain(l); d != "" && !seenDomain[d] {
			seenDomain[d] = true
			domains = append(domains, d)
		}
	}
	return urls, domains
}

// finalize drops excluded and duplicate locators, stamps IDs and origin,
// and caps the result at ref.MaxCandidates.
func finalize(cands []model.Candidate, ref model.Refinement) []model.Candidate {
	excludedKeys := make(map[string]bool, len(ref.ExcludeLocators))
	for _, l := range ref.ExcludeLocators {
		excludedKeys[model.LocatorKey(l)] = true
	}
	excludedDomains := make(map[string]bool, len(ref.ExcludeDomains))
	for _, d := range ref.ExcludeDomains {
		excludedDomains[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "www."))] = true
	}

	origin := model.OriginDiscovered
	if ref.IsRetry() {
		origin = model.OriginAddedByRetry
	}

	seen := make(map[string]bool)
	var out []model.Candidate
	for _, c := range cands {
		c.Locator = strings.TrimSpace(c.Locator)
		if c.Locator == "" {
			continue
		}
		key := model.LocatorKey(c.Locator)
		if seen[key] || excludedKeys[key] || excludedDomains[c.Domain()] {
			continue
		}
		seen[key] = true
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.Origin = origin
		c.AttemptCount = 0
		c.Exhausted = false
		out = append(out, c)
		if ref.MaxCandidates > 0 && len(out) == ref.MaxCandidates {
			break
		}
	}
	return out
}

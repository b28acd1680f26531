package model

import (
	"net/url"
	"strings"
)

// CandidateOrigin records how a candidate entered the registry.
type CandidateOrigin string

const (
	OriginDiscovered   CandidateOrigin = "discovered"
	OriginAddedByRetry CandidateOrigin = "added-by-retry"
)

// Candidate is a discovered source (typically a retailer product page) that
// extraction can be attempted against.
type Candidate struct {
	ID           string          `json:"id"`
	Locator      string          `json:"locator"`
	Name         string          `json:"name,omitempty"`
	Origin       CandidateOrigin `json:"origin"`
	AttemptCount int             `json:"attempt_count"`
	Exhausted    bool            `json:"exhausted,omitempty"`
}

// HasValidLocator reports whether the locator is an absolute http(s) URL.
func (c Candidate) HasValidLocator() bool {
	u, err := url.Parse(strings.TrimSpace(c.Locator))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Domain returns the lowercased host of the locator without a leading "www.".
// Returns "" when the locator does not parse.
func (c Candidate) Domain() string {
	return LocatorDomain(c.Locator)
}

// LocatorDomain returns the lowercased host of a URL without a leading "www.".
func LocatorDomain(locator string) string {
	u, err := url.Parse(strings.TrimSpace(locator))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// LocatorKey normalizes a locator for duplicate detection: scheme and
// "www." are ignored, host is lowercased, trailing slashes and fragments
// are dropped. Query strings are kept since product pages often live there.
func LocatorKey(locator string) string {
	raw := strings.TrimSpace(locator)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	key := LocatorDomain(raw) + strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

// Refinement carries feedback-derived guidance into a research call.
type Refinement struct {
	Instructions    []string `json:"instructions,omitempty"`
	ExcludeLocators []string `json:"exclude_locators,omitempty"`
	ExcludeDomains  []string `json:"exclude_domains,omitempty"`
	Attempt         int      `json:"attempt"`
	MaxCandidates   int      `json:"max_candidates,omitempty"`
}

// IsRetry reports whether this refinement belongs to a research retry.
func (r Refinement) IsRetry() bool {
	return r.Attempt > 0 || len(r.Instructions) > 0
}

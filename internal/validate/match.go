package validate

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords carry no product identity.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"for": true, "with": true, "in": true, "on": true, "by": true, "to": true,
	"new": true, "buy": true, "online": true, "sale": true, "price": true,
}

// normalizeName lowercases, strips diacritics and turns punctuation into
// spaces.
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, out)
}

// tokens returns the significant tokens of s, with plural "s" trimmed and
// brand tokens dropped.
func tokens(s string, brands map[string]bool) []string {
	var out []string
	for _, f := range strings.Fields(normalizeName(s)) {
		if stopwords[f] || brands[f] {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		out = append(out, f)
	}
	return out
}

// compact joins the normalized tokens of s with no separator, so "WH-1000XM5"
// and "wh 1000 xm5" compare equal.
func compact(s string) string {
	return strings.Join(strings.Fields(normalizeName(s)), "")
}

// matcher decides whether an extracted product name matches the query.
type matcher struct {
	queryTokens  []string
	queryCompact string
	brands       map[string]bool
	threshold    float64
}

func newMatcher(query string, brandTokens []string, threshold float64) *matcher {
	brands := make(map[string]bool, len(brandTokens))
	for _, b := range brandTokens {
		for _, t := range strings.Fields(normalizeName(b)) {
			brands[t] = true
		}
	}
	return &matcher{
		queryTokens:  tokens(query, brands),
		queryCompact: compact(query),
		brands:       brands,
		threshold:    threshold,
	}
}

// score is the share of query tokens found in name.
func (m *matcher) score(name string) float64 {
	if len(m.queryTokens) == 0 {
		return 1
	}
	have := make(map[string]bool)
	for _, t := range tokens(name, m.brands) {
		have[t] = true
	}
	hits := 0
	for _, t := range m.queryTokens {
		if have[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(m.queryTokens))
}

// matches reports whether name is close enough to the query.
func (m *matcher) matches(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	if c := compact(name); m.queryCompact != "" && strings.Contains(c, m.queryCompact) {
		return true
	}
	return m.score(name) >= m.threshold
}

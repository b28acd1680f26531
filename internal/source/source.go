// Package source loads the queries fed into batch runs.
package source

import (
	"context"
	"strings"
)

// Query is one product query to run. Ref identifies the query in its
// origin (a line number, sheet row, or Notion page ID) so results can be
// reported back.
type Query struct {
	Text string `json:"text"`
	Ref  string `json:"ref,omitempty"`
}

// Source yields a list of queries.
type Source interface {
	Queries(ctx context.Context) ([]Query, error)
}

// StatusReporter is implemented by sources that can record a run's outcome
// next to the originating query.
type StatusReporter interface {
	ReportStatus(ctx context.Context, q Query, runID, status string) error
}

// normalize trims queries, drops blanks and comments, and removes
// duplicates while keeping first-seen order.
func normalize(in []Query) []Query {
	seen := make(map[string]bool, len(in))
	out := make([]Query, 0, len(in))
	for _, q := range in {
		q.Text = strings.Join(strings.Fields(q.Text), " ")
		if q.Text == "" || strings.HasPrefix(q.Text, "#") {
			continue
		}
		key := strings.ToLower(q.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

// Package automation provides the page automation drivers extraction runs
// through: Firecrawl JSON extraction, a Jina reader plus LLM, and a go-rod
// browser plus LLM.
package automation

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/extract"
)

// Driver names accepted by config.
const (
	DriverFirecrawl = "firecrawl"
	DriverReader    = "reader"
	DriverBrowser   = "browser"
)

// ErrNotNavigated is returned by Extract before any successful Navigate.
var ErrNotNavigated = eris.New("automation: extract called before navigate")

// Session is a per-run automation handle. A run opens one session, uses it
// for every extraction attempt and closes it when the run ends.
type Session interface {
	extract.Automation
	Close() error
}

// Opener creates sessions. Openers are shared across runs; sessions never
// are.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// parseRecords reads extractor output. It accepts {"records": [...]} or a
// bare array of objects. Empty or null output is zero records; anything
// else that is not a list of objects wraps extract.ErrMalformedData.
func parseRecords(raw []byte) ([]map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, eris.Wrap(extract.ErrMalformedData, err.Error())
		}
	case '{':
		var wrapper struct {
			Records json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, eris.Wrap(extract.ErrMalformedData, err.Error())
		}
		rec := bytes.TrimSpace(wrapper.Records)
		if len(rec) == 0 || bytes.Equal(rec, []byte("null")) {
			return nil, nil
		}
		if err := json.Unmarshal(rec, &list); err != nil {
			return nil, eris.Wrap(extract.ErrMalformedData, "records is not an array")
		}
	default:
		return nil, eris.Wrap(extract.ErrMalformedData, "output is not JSON")
	}

	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		var m map[string]any
		if err := json.Unmarshal(item, &m); err != nil || m == nil {
			return nil, eris.Wrapf(extract.ErrMalformedData, "record %d is not an object", i)
		}
		out = append(out, m)
	}
	return out, nil
}

package automation

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/schema"
	"github.com/sells-group/product-scout/pkg/firecrawl"
)

// Firecrawl opens sessions that extract through Firecrawl's JSON format.
// Navigation is deferred: the scrape, any queued actions and the
// extraction happen in one request.
type Firecrawl struct {
	client   firecrawl.Client
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
	waitMs   int

	// popupSelectors are clicked by Act, in order, after the Escape press.
	popupSelectors []string
}

// NewFirecrawl returns a Firecrawl opener. waitMs is how long Firecrawl
// waits for the page to settle before capturing it. popupSelectors are
// dismiss buttons (cookie banners, newsletter modals) Act clicks.
func NewFirecrawl(client firecrawl.Client, breakers *resilience.ServiceBreakers, retry resilience.RetryConfig, waitMs int, popupSelectors ...string) *Firecrawl {
	return &Firecrawl{client: client, breakers: breakers, retry: retry, waitMs: waitMs, popupSelectors: popupSelectors}
}

// Open returns a new session. It never fails.
func (f *Firecrawl) Open(_ context.Context) (Session, error) {
	return &firecrawlSession{f: f}, nil
}

type firecrawlSession struct {
	f       *Firecrawl
	locator string
	actions []firecrawl.Action
}

func (s *firecrawlSession) Navigate(_ context.Context, locator string) error {
	if !(model.Candidate{Locator: locator}).HasValidLocator() {
		return eris.Errorf("automation: invalid locator %q", locator)
	}
	s.locator = locator
	s.actions = nil
	return nil
}

// Act queues an Escape press, a click on each configured popup selector
// and a short wait. Firecrawl has no free-text action, so instruction is
// unused.
func (s *firecrawlSession) Act(_ context.Context, _ string) error {
	if s.locator == "" {
		return ErrNotNavigated
	}
	s.actions = append(s.actions, firecrawl.Press("Escape"))
	for _, sel := range s.f.popupSelectors {
		s.actions = append(s.actions, firecrawl.Click(sel))
	}
	s.actions = append(s.actions, firecrawl.Wait(500))
	return nil
}

func (s *firecrawlSession) Extract(ctx context.Context, instruction string, sch *schema.Schema) ([]map[string]any, error) {
	if s.locator == "" {
		return nil, ErrNotNavigated
	}
	req := firecrawl.ScrapeRequest{
		URL:      s.locator,
		Formats:  []string{"json"},
		OnlyMain: true,
		WaitFor:  s.f.waitMs,
		Actions:  s.actions,
		JSONOptions: &firecrawl.JSONOptions{
			Prompt: instruction,
			Schema: sch.JSONSchema(),
		},
	}
	resp, err := resilience.Call(ctx, s.f.breakers, resilience.ServiceFirecrawl, "scrape", s.f.retry,
		func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
			return s.f.client.Scrape(ctx, req)
		})
	if err != nil {
		return nil, err
	}
	if code := resp.Data.Metadata.StatusCode; code >= 400 {
		return nil, resilience.NewTransientError(eris.Errorf("automation: page returned status %d", code), code)
	}
	return parseRecords(resp.Data.JSON)
}

func (s *firecrawlSession) Close() error { return nil }

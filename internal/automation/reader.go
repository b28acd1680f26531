package automation

import (
	"context"

	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/schema"
	"github.com/sells-group/product-scout/pkg/jina"
)

// Reader opens sessions that fetch pages as markdown through the Jina
// reader and extract records with a PageExtractor. It cannot act on pages.
type Reader struct {
	client   jina.Client
	llm      *PageExtractor
	breakers *resilience.ServiceBreakers
}

// NewReader returns a Reader opener.
func NewReader(client jina.Client, llm *PageExtractor, breakers *resilience.ServiceBreakers) *Reader {
	return &Reader{client: client, llm: llm, breakers: breakers}
}

// Open returns a new session. It never fails.
func (r *Reader) Open(_ context.Context) (Session, error) {
	return &readerSession{r: r}, nil
}

type readerSession struct {
	r    *Reader
	page *PageText
}

func (s *readerSession) Navigate(ctx context.Context, locator string) error {
	s.page = nil
	// The jina client retries on its own; the breaker sees one call.
	resp, err := resilience.Call(ctx, s.r.breakers, resilience.ServiceJina, "read", resilience.RetryConfig{MaxAttempts: 1},
		func(ctx context.Context) (*jina.ReadResponse, error) {
			return s.r.client.Read(ctx, locator)
		})
	if err != nil {
		return err
	}
	if (resp.Code != 0 && resp.Code != 200) || isBlocked(resp.Data.Content) {
		return blockedError(locator)
	}
	s.page = &PageText{URL: locator, Title: resp.Data.Title, Text: resp.Data.Content}
	return nil
}

func (s *readerSession) Act(_ context.Context, _ string) error { return nil }

func (s *readerSession) Extract(ctx context.Context, instruction string, sch *schema.Schema) ([]map[string]any, error) {
	if s.page == nil {
		return nil, ErrNotNavigated
	}
	return s.r.llm.Extract(ctx, instruction, sch, *s.page)
}

func (s *readerSession) Close() error { return nil }

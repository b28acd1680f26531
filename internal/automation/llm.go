package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/schema"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

const (
	defaultMaxTokens = 4096
	defaultMaxChars  = 60000
)

// PageExtractor turns page text into schema records with an LLM.
type PageExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxChars  int
	breakers  *resilience.ServiceBreakers
	retry     resilience.RetryConfig
}

// PageExtractorOption configures a PageExtractor.
type PageExtractorOption func(*PageExtractor)

// WithModel sets the model used for extraction.
func WithModel(model string) PageExtractorOption {
	return func(p *PageExtractor) { p.model = model }
}

// WithMaxChars caps the page text sent to the model.
func WithMaxChars(n int) PageExtractorOption {
	return func(p *PageExtractor) {
		if n > 0 {
			p.maxChars = n
		}
	}
}

// WithMaxTokens caps the model's response length.
func WithMaxTokens(n int64) PageExtractorOption {
	return func(p *PageExtractor) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// NewPageExtractor returns a PageExtractor calling client through the
// anthropic breaker.
func NewPageExtractor(client anthropic.Client, breakers *resilience.ServiceBreakers, retry resilience.RetryConfig, opts ...PageExtractorOption) *PageExtractor {
	p := &PageExtractor{
		client:    client,
		model:     anthropic.DefaultModel,
		maxTokens: defaultMaxTokens,
		maxChars:  defaultMaxChars,
		breakers:  breakers,
		retry:     retry,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Extract asks the model for records matching s from page.
func (p *PageExtractor) Extract(ctx context.Context, instruction string, s *schema.Schema, page PageText) ([]map[string]any, error) {
	schemaJSON, err := json.Marshal(s.JSONSchema())
	if err != nil {
		return nil, eris.Wrap(err, "automation: marshal schema")
	}
	system := "You extract structured product data from web page text. " +
		`Respond with only a JSON object of the form {"records": [...]} that validates against this JSON Schema. ` +
		"Use an empty records array when the page lists no matching products. " +
		"Schema: " + string(schemaJSON)

	text := page.Text
	if len(text) > p.maxChars {
		text = text[:p.maxChars]
	}
	var user strings.Builder
	user.WriteString(instruction)
	fmt.Fprintf(&user, "\n\nPage URL: %s\nPage title: %s\n\nPage content:\n%s", page.URL, page.Title, text)

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		System:      anthropic.CachedSystem(system),
		Messages:    []anthropic.Message{{Role: "user", Content: user.String()}},
		Temperature: &temp,
	}
	resp, err := resilience.Call(ctx, p.breakers, resilience.ServiceAnthropic, "extract", p.retry,
		func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return p.client.CreateMessage(ctx, req)
		})
	if err != nil {
		return nil, eris.Wrap(err, "automation: llm extraction")
	}
	resp.Usage.LogCost(p.model, "extract")

	out := strings.TrimSpace(resp.Text())
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return parseRecords([]byte(out))
}

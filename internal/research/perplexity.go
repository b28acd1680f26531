package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/pkg/perplexity"
)

const defaultMaxCandidates = 5

// candidateSchema is the json_schema response format for discovery.
var candidateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"candidates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"url":  map[string]any{"type": "string"},
				},
				"required": []string{"name", "url"},
			},
		},
	},
	"required": []string{"candidates"},
}

// Perplexity discovers retailer product pages with a Perplexity search
// completion.
type Perplexity struct {
	client   perplexity.Client
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
}

// NewPerplexity returns a Perplexity researcher.
func NewPerplexity(client perplexity.Client, breakers *resilience.ServiceBreakers, retry resilience.RetryConfig) *Perplexity {
	return &Perplexity{client: client, breakers: breakers, retry: retry}
}

// Discover asks Perplexity for product pages selling query.
func (p *Perplexity) Discover(ctx context.Context, query string, ref model.Refinement) ([]model.Candidate, error) {
	temp := 0.1
	req := perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "You find online retailer pages where a product can be bought. Respond only with JSON."},
			{Role: "user", Content: discoveryPrompt(query, ref)},
		},
		Temperature:        &temp,
		SearchDomainFilter: perplexity.ExcludeDomains(ref.ExcludeDomains),
		ResponseFormat:     perplexity.JSONResponse(candidateSchema),
	}

	resp, err := resilience.Call(ctx, p.breakers, resilience.ServicePerplexity, "discover", p.retry,
		func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
			return p.client.ChatCompletion(ctx, req)
		})
	if err != nil {
		return nil, &ResearchError{Source: "perplexity", Cause: err}
	}

	cands, err := parseCandidates(resp.Content())
	if err != nil {
		return nil, &ResearchError{Source: "perplexity", Cause: err}
	}
	out := finalize(cands, ref)
	zap.L().Debug("research: perplexity candidates",
		zap.String("query", query),
		zap.Int("returned", len(cands)),
		zap.Int("kept", len(out)),
		zap.Int("citations", len(resp.Citations)),
	)
	return out, nil
}

func discoveryPrompt(query string, ref model.Refinement) string {
	n := ref.MaxCandidates
	if n <= 0 {
		n = defaultMaxCandidates
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Find up to %d different online retailers selling %q. ", n, query)
	b.WriteString("For each, give the retailer name and the direct URL of the product page (not a search, category or comparison page). ")
	b.WriteString(`Return {"candidates": [{"name": "...", "url": "..."}]}.`)
	if len(ref.Instructions) > 0 {
		b.WriteString("\n\nA previous search was not good enough. Adjust as follows:")
		for _, in := range ref.Instructions {
			b.WriteString("\n- " + in)
		}
	}
	if len(ref.ExcludeLocators) > 0 {
		b.WriteString("\n\nDo not return any of these pages:")
		for _, l := range ref.ExcludeLocators {
			b.WriteString("\n- " + l)
		}
	}
	return b.String()
}

// parseCandidates reads {"candidates": [...]} or a bare array. Items may
// name the retailer as "name" or "retailer" and the page as "url" or
// "product_url".
func parseCandidates(content string) ([]model.Candidate, error) {
	raw, err := perplexity.ExtractJSON(content)
	if err != nil {
		return nil, err
	}

	type item struct {
		Name       string `json:"name"`
		Retailer   string `json:"retailer"`
		URL        string `json:"url"`
		ProductURL string `json:"product_url"`
	}
	var items []item
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, eris.Wrap(err, "research: decode candidates")
		}
	} else {
		var wrapper struct {
			Candidates []item `json:"candidates"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, eris.Wrap(err, "research: decode candidates")
		}
		items = wrapper.Candidates
	}

	out := make([]model.Candidate, 0, len(items))
	for _, it := range items {
		c := model.Candidate{Name: it.Name, Locator: it.URL}
		if c.Name == "" {
			c.Name = it.Retailer
		}
		if c.Locator == "" {
			c.Locator = it.ProductURL
		}
		out = append(out, c)
	}
	return out, nil
}

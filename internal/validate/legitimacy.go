package validate

import (
	"context"
	"encoding/json"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/pkg/perplexity"
)

// LegitimacyChecker decides whether a source page is a real vendor page.
type LegitimacyChecker interface {
	CheckSource(ctx context.Context, locator, productName string) (Verdict, error)
}

// Verdict is a legitimacy checker's answer about one page.
type Verdict struct {
	IsProductPage    bool   `json:"is_product_page"`
	IsPurchasable    bool   `json:"is_purchasable"`
	IsComparisonSite bool   `json:"is_comparison_site"`
	Notes            string `json:"notes"`
}

// Legitimate reports whether records from the page can be accepted.
func (v Verdict) Legitimate() bool {
	return v.IsProductPage && v.IsPurchasable && !v.IsComparisonSite
}

// Reason names the first failed condition.
func (v Verdict) Reason() string {
	switch {
	case v.IsComparisonSite:
		return "comparison or affiliate site"
	case !v.IsProductPage:
		return "not a product page"
	case !v.IsPurchasable:
		return "product cannot be bought on the page"
	default:
		return ""
	}
}

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"is_product_page":    map[string]any{"type": "boolean"},
		"is_purchasable":     map[string]any{"type": "boolean"},
		"is_comparison_site": map[string]any{"type": "boolean"},
		"notes":              map[string]any{"type": "string"},
	},
	"required": []string{"is_product_page", "is_purchasable", "is_comparison_site", "notes"},
}

// DefaultVerdictCacheSize bounds how many page verdicts a checker keeps.
const DefaultVerdictCacheSize = 1024

// PerplexityLegitimacy asks Perplexity about each page once and keeps the
// most recently used verdicts. Safe for concurrent runs.
type PerplexityLegitimacy struct {
	client   perplexity.Client
	breakers *resilience.ServiceBreakers
	retry    resilience.RetryConfig
	cache    *lru.Cache[string, Verdict] // locator key -> Verdict
}

// NewPerplexityLegitimacy returns a checker backed by client. cacheSize <= 0
// uses DefaultVerdictCacheSize.
func NewPerplexityLegitimacy(client perplexity.Client, breakers *resilience.ServiceBreakers, retry resilience.RetryConfig, cacheSize int) *PerplexityLegitimacy {
	if cacheSize <= 0 {
		cacheSize = DefaultVerdictCacheSize
	}
	// New only fails for a non-positive size.
	cache, _ := lru.New[string, Verdict](cacheSize)
	return &PerplexityLegitimacy{client: client, breakers: breakers, retry: retry, cache: cache}
}

// CheckSource implements LegitimacyChecker.
func (p *PerplexityLegitimacy) CheckSource(ctx context.Context, locator, productName string) (Verdict, error) {
	key := model.LocatorKey(locator)
	if v, ok := p.cache.Get(key); ok {
		return v, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Check whether this URL is a legitimate retailer product page where the item can be bought directly.\n")
	prompt.WriteString("URL: " + locator + "\n")
	if productName != "" {
		prompt.WriteString("Product: " + productName + "\n")
	}
	prompt.WriteString("It must not be a price comparison site, affiliate aggregator, or search/category page.\n")
	prompt.WriteString("Return only a JSON object with keys is_product_page, is_purchasable, is_comparison_site, notes.")

	temp := 0.0
	req := perplexity.ChatCompletionRequest{
		Messages:       []perplexity.Message{{Role: "user", Content: prompt.String()}},
		Temperature:    &temp,
		ResponseFormat: perplexity.JSONResponse(verdictSchema),
	}
	resp, err := resilience.Call(ctx, p.breakers, resilience.ServicePerplexity, "legitimacy", p.retry,
		func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
			return p.client.ChatCompletion(ctx, req)
		})
	if err != nil {
		return Verdict{}, eris.Wrap(err, "validate: legitimacy check")
	}

	raw, err := perplexity.ExtractJSON(resp.Content())
	if err != nil {
		return Verdict{}, eris.Wrap(err, "validate: legitimacy answer")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, eris.Wrap(err, "validate: decode legitimacy answer")
	}
	p.cache.Add(key, v)
	return v, nil
}

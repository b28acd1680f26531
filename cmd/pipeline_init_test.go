//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/automation"
	"github.com/sells-group/product-scout/internal/config"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/sink"
	"github.com/sells-group/product-scout/internal/store"
)

// testConfig returns a config that passes Validate("run") with SQLite
// history and output under a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Store:      config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "scout.db")},
		Perplexity: config.PerplexityConfig{Key: "pplx-test", BaseURL: "http://127.0.0.1:1", Model: "sonar-pro"},
		Jina:       config.JinaConfig{Key: "jina-test", BaseURL: "http://127.0.0.1:1", SearchCount: 5},
		Firecrawl:  config.FirecrawlConfig{Key: "fc-test", BaseURL: "http://127.0.0.1:1"},
		Anthropic:  config.AnthropicConfig{Key: "sk-test", Model: "claude-haiku-4-5-20251001", MaxTokens: 1024, MaxPageChars: 1000},
		Automation: config.AutomationConfig{Driver: "firecrawl"},
		Research:   config.ResearchConfig{Drivers: []string{"perplexity"}, RateLimit: 100, MaxCandidates: 5},
		Orchestrator: config.OrchestratorConfig{
			MaxExtractionAttempts: 1,
			MaxResearchAttempts:   1,
			TargetCandidates:      1,
			ExtractionTimeoutSecs: 10,
			ResearchTimeoutSecs:   10,
		},
		Validation: config.ValidationConfig{NameMatchThreshold: 0.6},
		Retry:      config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 1, Multiplier: 1},
		Circuit:    config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
		Batch:      config.BatchConfig{MaxConcurrentRuns: 2},
		Server:     config.ServerConfig{Port: 8080, MaxInFlight: 2},
		Output:     config.OutputConfig{Dir: filepath.Join(dir, "output"), Format: "json"},
		Temporal:   config.TemporalConfig{HostPort: "localhost:7233", Namespace: "default"},
	}
}

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, func() {
		pe.Close()
	})
}

func TestInitPipeline_FailsValidation(t *testing.T) {
	cfg = testConfig(t)
	cfg.Firecrawl.Key = ""

	_, err := initPipeline(context.Background(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "firecrawl.key is required")
}

func TestInitPipeline_FailsOnBadSchema(t *testing.T) {
	cfg = testConfig(t)
	cfg.SchemaPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := initPipeline(context.Background(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load extraction schema")
}

func TestInitPipeline_WithoutHistory(t *testing.T) {
	cfg = testConfig(t)
	cfg.Store.Driver = ""

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()
	assert.Nil(t, env.Store)
	assert.NotNil(t, env.Orchestrator)
}

func TestInitPipeline_EndToEnd(t *testing.T) {
	const page = "https://shop.example.com/p/widget-pro"

	pplx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		content := `{"candidates":[{"name":"Example Shop","url":"` + page + `"}]}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	defer pplx.Close()

	fc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scrape", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"data":{"json":{"records":[{"product_name":"Widget Pro","price":19.99,"url":"` + page + `"}]},"metadata":{"statusCode":200}}}`))
	}))
	defer fc.Close()

	cfg = testConfig(t)
	cfg.Perplexity.BaseURL = pplx.URL
	cfg.Firecrawl.BaseURL = fc.URL

	env, err := initPipeline(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close()

	doc, err := env.Run(context.Background(), "", "Widget Pro")
	require.NoError(t, err)
	require.NotEmpty(t, doc.RunID)
	assert.True(t, doc.Metadata.Success)
	require.Len(t, doc.AcceptedRecords, 1)
	assert.Equal(t, "Widget Pro", doc.AcceptedRecords[0]["product_name"])

	_, statErr := os.Stat(filepath.Join(cfg.Output.Dir, doc.RunID+".json"))
	assert.NoError(t, statErr)

	run, err := env.Store.GetRun(context.Background(), doc.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Document)
	assert.Len(t, run.Document.AcceptedRecords, 1)
}

func TestBuildOpener(t *testing.T) {
	c := testConfig(t)
	sb := testBreakers()

	for _, driver := range []string{"firecrawl", "reader"} {
		c.Automation.Driver = driver
		opener, browser, err := buildOpener(c, sb, retryConfig(c))
		require.NoError(t, err, driver)
		assert.NotNil(t, opener, driver)
		assert.Nil(t, browser, driver)
	}

	c.Automation.Driver = "browser"
	opener, browser, err := buildOpener(c, sb, retryConfig(c))
	require.NoError(t, err)
	require.NotNil(t, browser)
	assert.IsType(t, &automation.Browser{}, opener)
	assert.NoError(t, browser.Shutdown())

	c.Automation.Driver = "selenium"
	_, _, err = buildOpener(c, sb, retryConfig(c))
	assert.Error(t, err)
}

func TestBuildResearcher(t *testing.T) {
	c := testConfig(t)
	sb := testBreakers()

	c.Research.Drivers = []string{"perplexity", "jina"}
	r, err := buildResearcher(c, sb, retryConfig(c))
	require.NoError(t, err)
	assert.NotNil(t, r)

	c.Research.Drivers = nil
	_, err = buildResearcher(c, sb, retryConfig(c))
	assert.Error(t, err)

	c.Research.Drivers = []string{"bing"}
	_, err = buildResearcher(c, sb, retryConfig(c))
	assert.Error(t, err)
}

func TestOrchestratorConfig(t *testing.T) {
	c := testConfig(t)
	c.Orchestrator.PopupInstruction = "close popups"
	c.Research.MaxCandidates = 7

	pc := orchestratorConfig(c, testBreakers(), retryConfig(c))
	assert.Equal(t, 1, pc.MaxExtractionAttempts)
	assert.Equal(t, 7, pc.MaxCandidates)
	assert.Equal(t, "close popups", pc.Extraction.PopupInstruction)
	assert.Nil(t, pc.Validation.Legitimacy)

	c.Validation.LegitimacyCheck = true
	pc = orchestratorConfig(c, testBreakers(), retryConfig(c))
	assert.NotNil(t, pc.Validation.Legitimacy)
}

func TestOutputSinks(t *testing.T) {
	c := testConfig(t)

	c.Output.Format = "json"
	require.Len(t, outputSinks(c), 1)
	assert.IsType(t, sink.File{}, outputSinks(c)[0])

	c.Output.Format = "xlsx"
	require.Len(t, outputSinks(c), 1)
	assert.IsType(t, sink.XLSX{}, outputSinks(c)[0])

	c.Output.Format = "both"
	assert.Len(t, outputSinks(c), 2)

	c.Output.Dir = ""
	assert.Empty(t, outputSinks(c))
}

func TestHistoryStatus_IgnoresUnknownRuns(t *testing.T) {
	cfg = testConfig(t)
	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	h := historyStatus{st}
	assert.NoError(t, h.UpdateRunStatus(context.Background(), "worker-run", model.RunStatusExtracting))

	run, err := st.CreateRun(context.Background(), "Widget Pro")
	require.NoError(t, err)
	require.NoError(t, h.UpdateRunStatus(context.Background(), run.ID, model.RunStatusExtracting))

	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusExtracting, got.Status)
	assert.ErrorIs(t, st.UpdateRunStatus(context.Background(), "missing", model.RunStatusFailed), store.ErrRunNotFound)
}

func testBreakers() *resilience.ServiceBreakers {
	return resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
}

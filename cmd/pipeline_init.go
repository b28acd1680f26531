package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/automation"
	"github.com/sells-group/product-scout/internal/config"
	"github.com/sells-group/product-scout/internal/extract"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/pipeline"
	"github.com/sells-group/product-scout/internal/research"
	"github.com/sells-group/product-scout/internal/resilience"
	"github.com/sells-group/product-scout/internal/schema"
	"github.com/sells-group/product-scout/internal/sink"
	"github.com/sells-group/product-scout/internal/store"
	"github.com/sells-group/product-scout/internal/validate"
	"github.com/sells-group/product-scout/pkg/anthropic"
	"github.com/sells-group/product-scout/pkg/firecrawl"
	"github.com/sells-group/product-scout/pkg/jina"
	"github.com/sells-group/product-scout/pkg/perplexity"
)

// pipelineEnv holds the store, the orchestrator and everything they share,
// as needed by the run/batch/serve/worker commands.
type pipelineEnv struct {
	Store        store.Store // nil when run history is disabled
	Orchestrator *pipeline.Orchestrator
	Breakers     *resilience.ServiceBreakers

	browser *automation.Browser
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.browser != nil {
		if err := pe.browser.Shutdown(); err != nil {
			zap.L().Warn("close browser", zap.Error(err))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// Run executes one query. Without a run ID a run row is created first so
// status updates have something to land on.
func (pe *pipelineEnv) Run(ctx context.Context, runID, query string) (*model.RunDocument, error) {
	if runID == "" && pe.Store != nil {
		run, err := pe.Store.CreateRun(ctx, query)
		if err != nil {
			return nil, eris.Wrap(err, "create run")
		}
		runID = run.ID
	}
	return pe.Orchestrator.Run(ctx, runID, query)
}

// initPipeline validates config for mode, opens the store, builds every
// client and returns the wired orchestrator. extra sinks (e.g. stdout) are
// appended after the configured ones. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string, extra ...sink.Sink) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	sch, err := loadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, err
	}

	env := &pipelineEnv{
		Breakers: resilience.NewServiceBreakers(circuitConfig(cfg)),
	}

	if cfg.Store.Driver != "" {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	}

	retry := retryConfig(cfg)

	opener, browser, err := buildOpener(cfg, env.Breakers, retry)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.browser = browser

	researcher, err := buildResearcher(cfg, env.Breakers, retry)
	if err != nil {
		env.Close()
		return nil, err
	}

	sinks := outputSinks(cfg)
	var status pipeline.StatusRecorder
	if env.Store != nil {
		sinks = append(sinks, sink.History{Saver: env.Store})
		status = historyStatus{env.Store}
	}
	sinks = append(sinks, extra...)

	env.Orchestrator = pipeline.New(
		orchestratorConfig(cfg, env.Breakers, retry),
		researcher,
		opener,
		sch,
		sink.Multi(sinks),
		status,
	)

	zap.L().Info("pipeline ready",
		zap.String("automation", cfg.Automation.Driver),
		zap.Strings("research", cfg.Research.Drivers),
		zap.Int("schema_fields", len(sch.Fields())),
		zap.Bool("history", env.Store != nil),
	)
	return env, nil
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return schema.Default(), nil
	}
	sch, err := schema.Load(path)
	if err != nil {
		return nil, eris.Wrap(err, "load extraction schema")
	}
	return sch, nil
}

func retryConfig(c *config.Config) resilience.RetryConfig {
	r := c.Retry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func circuitConfig(c *config.Config) resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
}

func jinaClient(c *config.Config, retry resilience.RetryConfig) jina.Client {
	opts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL), jina.WithRetry(retry)}
	if c.Jina.SearchBaseURL != "" {
		opts = append(opts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
	}
	return jina.NewClient(c.Jina.Key, opts...)
}

func perplexityClient(c *config.Config) perplexity.Client {
	return perplexity.NewClient(c.Perplexity.Key,
		perplexity.WithBaseURL(c.Perplexity.BaseURL),
		perplexity.WithModel(c.Perplexity.Model),
	)
}

func pageExtractor(c *config.Config, sb *resilience.ServiceBreakers, retry resilience.RetryConfig) *automation.PageExtractor {
	return automation.NewPageExtractor(anthropic.NewClient(c.Anthropic.Key), sb, retry,
		automation.WithModel(c.Anthropic.Model),
		automation.WithMaxChars(c.Anthropic.MaxPageChars),
		automation.WithMaxTokens(c.Anthropic.MaxTokens),
	)
}

// buildOpener returns the automation driver selected by automation.driver.
// The browser is returned separately so the caller can shut Chrome down.
func buildOpener(c *config.Config, sb *resilience.ServiceBreakers, retry resilience.RetryConfig) (automation.Opener, *automation.Browser, error) {
	switch c.Automation.Driver {
	case "firecrawl":
		fc := firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		return automation.NewFirecrawl(fc, sb, retry, c.Firecrawl.WaitMs, c.Firecrawl.PopupSelectors...), nil, nil
	case "browser":
		b := automation.NewBrowser(automation.BrowserConfig{
			ControlURL:        c.Browser.ControlURL,
			Bin:               c.Browser.Bin,
			Headless:          c.Browser.Headless,
			UserAgent:         c.Browser.UserAgent,
			NavigationTimeout: resilience.SecondsOr(c.Browser.NavigationTimeoutSecs, 45*time.Second),
			SettleTime:        time.Duration(c.Browser.SettleMs) * time.Millisecond,
		}, pageExtractor(c, sb, retry))
		return b, b, nil
	case "reader":
		return automation.NewReader(jinaClient(c, retry), pageExtractor(c, sb, retry), sb), nil, nil
	default:
		return nil, nil, eris.Errorf("unsupported automation driver: %s", c.Automation.Driver)
	}
}

// buildResearcher chains the configured discovery drivers in order behind
// one rate limiter.
func buildResearcher(c *config.Config, sb *resilience.ServiceBreakers, retry resilience.RetryConfig) (research.Researcher, error) {
	var chain research.Chain
	for _, d := range c.Research.Drivers {
		switch d {
		case "perplexity":
			chain = append(chain, research.NewPerplexity(perplexityClient(c), sb, retry))
		case "jina":
			chain = append(chain, research.NewJinaSearch(jinaClient(c, retry), sb, c.Jina.SearchCount, c.Jina.Sites...))
		default:
			return nil, eris.Errorf("unsupported research driver: %s", d)
		}
	}
	if len(chain) == 0 {
		return nil, eris.New("no research drivers configured")
	}
	return research.NewLimited(chain, c.Research.RateLimit), nil
}

func orchestratorConfig(c *config.Config, sb *resilience.ServiceBreakers, retry resilience.RetryConfig) pipeline.Config {
	o := c.Orchestrator
	vopts := validate.Options{
		NameMatchThreshold: c.Validation.NameMatchThreshold,
		ExcludedDomains:    c.Validation.ExcludedDomains,
		BrandTokens:        c.Validation.BrandTokens,
	}
	if c.Validation.LegitimacyCheck {
		vopts.Legitimacy = validate.NewPerplexityLegitimacy(perplexityClient(c), sb, retry, c.Validation.LegitimacyCacheSize)
	}
	return pipeline.Config{
		MaxExtractionAttempts: o.MaxExtractionAttempts,
		MaxResearchAttempts:   o.MaxResearchAttempts,
		TargetCandidates:      o.TargetCandidates,
		MaxCandidates:         c.Research.MaxCandidates,
		ResearchTimeout:       resilience.SecondsOr(o.ResearchTimeoutSecs, 90*time.Second),
		MaxTransitions:        o.MaxTransitions,
		Extraction: extract.Options{
			Timeout:          resilience.SecondsOr(o.ExtractionTimeoutSecs, 120*time.Second),
			PopupInstruction: o.PopupInstruction,
		},
		Validation: vopts,
	}
}

// outputSinks returns the document sinks selected by output.format.
func outputSinks(c *config.Config) []sink.Sink {
	dir := c.Output.Dir
	if dir == "" {
		return nil
	}
	switch c.Output.Format {
	case "xlsx":
		return []sink.Sink{sink.XLSX{Dir: dir}}
	case "both":
		return []sink.Sink{sink.File{Dir: dir}, sink.XLSX{Dir: dir}}
	default:
		return []sink.Sink{sink.File{Dir: dir}}
	}
}

// historyStatus records status transitions, ignoring runs the store has
// never seen (worker runs keyed by workflow ID are inserted on save).
type historyStatus struct {
	st store.Store
}

func (h historyStatus) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	err := h.st.UpdateRunStatus(ctx, runID, status)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil
	}
	return err
}

// stdoutSink prints documents for interactive commands.
func stdoutSink() sink.Sink {
	return sink.NewWriter(os.Stdout)
}

package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Firecrawl    FirecrawlConfig    `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Browser      BrowserConfig      `yaml:"browser" mapstructure:"browser"`
	Automation   AutomationConfig   `yaml:"automation" mapstructure:"automation"`
	Research     ResearchConfig     `yaml:"research" mapstructure:"research"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Validation   ValidationConfig   `yaml:"validation" mapstructure:"validation"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Circuit      CircuitConfig      `yaml:"circuit" mapstructure:"circuit"`
	Batch        BatchConfig        `yaml:"batch" mapstructure:"batch"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
	Temporal     TemporalConfig     `yaml:"temporal" mapstructure:"temporal"`
	Notion       NotionConfig       `yaml:"notion" mapstructure:"notion"`
	SchemaPath   string             `yaml:"schema_path" mapstructure:"schema_path"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run history backend. An empty driver
// disables run history.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina Reader and Search settings.
type JinaConfig struct {
	Key           string   `yaml:"key" mapstructure:"key"`
	BaseURL       string   `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string   `yaml:"search_base_url" mapstructure:"search_base_url"`
	SearchCount   int      `yaml:"search_count" mapstructure:"search_count"`
	// Sites, when set, scopes search to one query per retailer domain.
	Sites         []string `yaml:"sites" mapstructure:"sites"`
}

// FirecrawlConfig holds Firecrawl API settings.
type FirecrawlConfig struct {
	Key            string   `yaml:"key" mapstructure:"key"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	WaitMs         int      `yaml:"wait_ms" mapstructure:"wait_ms"`
	// PopupSelectors are CSS selectors of dismiss buttons clicked before
	// extraction.
	PopupSelectors []string `yaml:"popup_selectors" mapstructure:"popup_selectors"`
}

// AnthropicConfig holds Anthropic API settings for page extraction.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxPageChars int    `yaml:"max_page_chars" mapstructure:"max_page_chars"`
}

// BrowserConfig configures the local Chrome driver.
type BrowserConfig struct {
	ControlURL            string `yaml:"control_url" mapstructure:"control_url"`
	Bin                   string `yaml:"bin" mapstructure:"bin"`
	Headless              bool   `yaml:"headless" mapstructure:"headless"`
	UserAgent             string `yaml:"user_agent" mapstructure:"user_agent"`
	NavigationTimeoutSecs int    `yaml:"navigation_timeout_secs" mapstructure:"navigation_timeout_secs"`
	SettleMs              int    `yaml:"settle_ms" mapstructure:"settle_ms"`
}

// AutomationConfig selects the automation driver: firecrawl, browser, or
// reader (Jina Reader text plus LLM extraction).
type AutomationConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
}

// ResearchConfig configures candidate discovery.
type ResearchConfig struct {
	// Drivers are tried in order until one returns candidates.
	Drivers       []string `yaml:"drivers" mapstructure:"drivers"`
	RateLimit     float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxCandidates int      `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// OrchestratorConfig bounds the retry loop.
type OrchestratorConfig struct {
	MaxExtractionAttempts int    `yaml:"max_extraction_attempts" mapstructure:"max_extraction_attempts"`
	MaxResearchAttempts   int    `yaml:"max_research_attempts" mapstructure:"max_research_attempts"`
	TargetCandidates      int    `yaml:"target_candidates" mapstructure:"target_candidates"`
	ExtractionTimeoutSecs int    `yaml:"extraction_timeout_secs" mapstructure:"extraction_timeout_secs"`
	ResearchTimeoutSecs   int    `yaml:"research_timeout_secs" mapstructure:"research_timeout_secs"`
	MaxTransitions        int    `yaml:"max_transitions" mapstructure:"max_transitions"`
	PopupInstruction      string `yaml:"popup_instruction" mapstructure:"popup_instruction"`
}

// ValidationConfig tunes record validation.
type ValidationConfig struct {
	NameMatchThreshold  float64  `yaml:"name_match_threshold" mapstructure:"name_match_threshold"`
	ExcludedDomains     []string `yaml:"excluded_domains" mapstructure:"excluded_domains"`
	BrandTokens         []string `yaml:"brand_tokens" mapstructure:"brand_tokens"`
	LegitimacyCheck     bool     `yaml:"legitimacy_check" mapstructure:"legitimacy_check"`
	LegitimacyCacheSize int      `yaml:"legitimacy_cache_size" mapstructure:"legitimacy_cache_size"`
}

// RetryConfig configures backoff for vendor calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxInFlight    int      `yaml:"max_in_flight" mapstructure:"max_in_flight"`
}

// OutputConfig configures where run documents are written.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TemporalConfig configures the Temporal client and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// NotionConfig configures the Notion query source.
type NotionConfig struct {
	Token          string `yaml:"token" mapstructure:"token"`
	QueryDB        string `yaml:"query_db" mapstructure:"query_db"`
	QueryProperty  string `yaml:"query_property" mapstructure:"query_property"`
	StatusProperty string `yaml:"status_property" mapstructure:"status_property"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "scout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_in_flight", 4)
	v.SetDefault("batch.max_concurrent_runs", 4)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.search_count", 10)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("firecrawl.wait_ms", 1500)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.max_page_chars", 60000)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout_secs", 45)
	v.SetDefault("browser.settle_ms", 1500)
	v.SetDefault("automation.driver", "firecrawl")
	v.SetDefault("research.drivers", []string{"perplexity", "jina"})
	v.SetDefault("research.rate_limit", 1.0)
	v.SetDefault("research.max_candidates", 5)
	v.SetDefault("orchestrator.max_extraction_attempts", 2)
	v.SetDefault("orchestrator.max_research_attempts", 2)
	v.SetDefault("orchestrator.target_candidates", 1)
	v.SetDefault("orchestrator.extraction_timeout_secs", 120)
	v.SetDefault("orchestrator.research_timeout_secs", 90)
	v.SetDefault("orchestrator.popup_instruction", "Close any cookie banner, newsletter popup or modal dialog covering the page")
	v.SetDefault("validation.name_match_threshold", 0.6)
	v.SetDefault("validation.legitimacy_check", false)
	v.SetDefault("validation.legitimacy_cache_size", 1024)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.format", "json")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "product-scout")
	v.SetDefault("notion.query_property", "Query")
	v.SetDefault("notion.status_property", "Status")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of run,
// serve, worker, or history. Every problem is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		add("unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "" && c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}

	switch mode {
	case "history":
		if c.Store.Driver == "" {
			add("store.driver is required")
		}
	case "run", "serve", "worker":
		c.validateRun(add)
		if mode == "serve" && c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if mode == "worker" && c.Temporal.HostPort == "" {
			add("temporal.host_port is required")
		}
	default:
		add("unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRun(add func(string, ...any)) {
	switch c.Automation.Driver {
	case "firecrawl":
		if c.Firecrawl.Key == "" {
			add("firecrawl.key is required")
		}
	case "browser":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required")
		}
	case "reader":
		if c.Anthropic.Key == "" {
			add("anthropic.key is required")
		}
		if c.Jina.Key == "" {
			add("jina.key is required")
		}
	default:
		add("unknown automation.driver %q", c.Automation.Driver)
	}

	if len(c.Research.Drivers) == 0 {
		add("research.drivers must not be empty")
	}
	for _, d := range c.Research.Drivers {
		switch d {
		case "perplexity":
			if c.Perplexity.Key == "" {
				add("perplexity.key is required")
			}
		case "jina":
			if c.Jina.Key == "" {
				add("jina.key is required")
			}
		default:
			add("unknown research driver %q", d)
		}
	}
	if c.Validation.LegitimacyCheck && c.Perplexity.Key == "" {
		add("perplexity.key is required for validation.legitimacy_check")
	}

	o := c.Orchestrator
	if o.MaxExtractionAttempts < 0 || o.MaxResearchAttempts < 0 {
		add("orchestrator attempt ceilings must be >= 0")
	}
	if o.TargetCandidates < 1 {
		add("orchestrator.target_candidates must be >= 1")
	}
	if t := c.Validation.NameMatchThreshold; t < 0 || t > 1 {
		add("validation.name_match_threshold must be between 0 and 1")
	}
	if n := c.Batch.MaxConcurrentRuns; n < 1 || n > 50 {
		add("batch.max_concurrent_runs must be between 1 and 50")
	}
	switch c.Output.Format {
	case "json", "xlsx", "both":
	default:
		add("unknown output.format %q", c.Output.Format)
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

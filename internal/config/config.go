package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Exa       ExaConfig       `yaml:"exa" mapstructure:"exa"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Gateway   GatewayConfig   `yaml:"gateway" mapstructure:"gateway"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Articles  ArticlesConfig  `yaml:"articles" mapstructure:"articles"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ExaConfig holds web-search API settings.
type ExaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds scrape API settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// GatewayConfig holds the chat-completions gateway settings used for
// opportunity extraction.
type GatewayConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings for article classification.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// NotionConfig holds Notion export settings.
type NotionConfig struct {
	Token         string `yaml:"token" mapstructure:"token"`
	OpportunityDB string `yaml:"opportunity_db" mapstructure:"opportunity_db"`
}

// PipelineConfig configures the procurement discovery pipeline.
type PipelineConfig struct {
	ConfidenceThreshold  float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	BatchLimit           int     `yaml:"batch_limit" mapstructure:"batch_limit"`
	SiteMaxSubpages      int     `yaml:"site_max_subpages" mapstructure:"site_max_subpages"`
	MaxContentChars      int     `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	PortalMaxResults     int     `yaml:"portal_max_results" mapstructure:"portal_max_results"`
	WebMaxResults        int     `yaml:"web_max_results" mapstructure:"web_max_results"`
	RecheckIntervalHours int     `yaml:"recheck_interval_hours" mapstructure:"recheck_interval_hours"`
	AgencyIntervalSecs   int     `yaml:"agency_interval_secs" mapstructure:"agency_interval_secs"`
	PortalsFile          string  `yaml:"portals_file" mapstructure:"portals_file"`
}

// ArticlesConfig configures the article discovery pipeline.
type ArticlesConfig struct {
	Feeds        []string `yaml:"feeds" mapstructure:"feeds"`
	MaxCandidates int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	FeedFanout    int     `yaml:"feed_fanout" mapstructure:"feed_fanout"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRANSIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("exa.base_url", "https://api.exa.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("gateway.base_url", "https://api.openai.com/v1")
	v.SetDefault("gateway.model", "gpt-4o-mini")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("pipeline.confidence_threshold", 0.75)
	v.SetDefault("pipeline.batch_limit", 3)
	v.SetDefault("pipeline.site_max_subpages", 4)
	v.SetDefault("pipeline.max_content_chars", 20000)
	v.SetDefault("pipeline.portal_max_results", 3)
	v.SetDefault("pipeline.web_max_results", 5)
	v.SetDefault("pipeline.recheck_interval_hours", 168)
	v.SetDefault("pipeline.agency_interval_secs", 2)
	v.SetDefault("articles.max_candidates", 25)
	v.SetDefault("articles.feed_fanout", 4)

	// Read config file (optional)
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

// Validate checks every credential the procurement pipeline needs and
// reports all missing ones in a single error.
func (c *Config) Validate() error {
	var missing []string
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url (TRANSIT_STORE_DATABASE_URL)")
	}
	if c.Exa.Key == "" {
		missing = append(missing, "exa.key (TRANSIT_EXA_KEY)")
	}
	if c.Firecrawl.Key == "" {
		missing = append(missing, "firecrawl.key (TRANSIT_FIRECRAWL_KEY)")
	}
	if c.Gateway.Key == "" {
		missing = append(missing, "gateway.key (TRANSIT_GATEWAY_KEY)")
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required credentials: %s", strings.Join(missing, ", "))
	}
	return nil
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

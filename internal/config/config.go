package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-scanner/internal/browser"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Sources  SourcesConfig  `yaml:"sources" mapstructure:"sources"`
	Google   GoogleConfig   `yaml:"google" mapstructure:"google"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Scan     ScanConfig     `yaml:"scan" mapstructure:"scan"`
	FakeLead FakeLeadConfig `yaml:"fakelead" mapstructure:"fakelead"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
	RetryAttempts  int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP job-control surface.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// BrowserConfig configures the per-job automation session.
type BrowserConfig struct {
	Driver         string `yaml:"driver" mapstructure:"driver"`
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	ExecPath       string `yaml:"exec_path" mapstructure:"exec_path"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
	NavTimeoutSecs int    `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	SettleMinMs    int    `yaml:"settle_min_ms" mapstructure:"settle_min_ms"`
	SettleMaxMs    int    `yaml:"settle_max_ms" mapstructure:"settle_max_ms"`
}

// Session converts the configuration into browser.Config.
func (b BrowserConfig) Session() browser.Config {
	return browser.Config{
		Driver:     b.Driver,
		Headless:   b.Headless,
		ExecPath:   b.ExecPath,
		UserAgent:  b.UserAgent,
		NavTimeout: time.Duration(b.NavTimeoutSecs) * time.Second,
		SettleMin:  time.Duration(b.SettleMinMs) * time.Millisecond,
		SettleMax:  time.Duration(b.SettleMaxMs) * time.Millisecond,
	}
}

// SourcesConfig configures the candidate sources and fallback chain.
type SourcesConfig struct {
	Order           []string `yaml:"order" mapstructure:"order"`
	Floor           int      `yaml:"floor" mapstructure:"floor"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	JustdialBaseURL string   `yaml:"justdial_base_url" mapstructure:"justdial_base_url"`
	MapsBaseURL     string   `yaml:"maps_base_url" mapstructure:"maps_base_url"`
	MapsScrolls     int      `yaml:"maps_scrolls" mapstructure:"maps_scrolls"`
}

// GoogleConfig holds Google Places API settings. An empty Key disables
// the Places source.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// EnrichConfig configures website analysis.
type EnrichConfig struct {
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRedirects  int      `yaml:"max_redirects" mapstructure:"max_redirects"`
	Concurrency   int      `yaml:"concurrency" mapstructure:"concurrency"`
	LocalKeywords []string `yaml:"local_keywords" mapstructure:"local_keywords"`
}

// ScanConfig configures scan jobs and accounts.
type ScanConfig struct {
	DefaultQuota int `yaml:"default_quota" mapstructure:"default_quota"`
}

// FakeLeadConfig points at an optional override for the fake-lead pattern
// table.
type FakeLeadConfig struct {
	PatternsFile string `yaml:"patterns_file" mapstructure:"patterns_file"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leads.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.retry_attempts", 4)
	v.SetDefault("store.retry_backoff_ms", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("browser.driver", browser.DriverChrome)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.nav_timeout_secs", 30)
	v.SetDefault("browser.settle_min_ms", 2000)
	v.SetDefault("browser.settle_max_ms", 5000)
	v.SetDefault("sources.order", []string{"justdial", "google_maps"})
	v.SetDefault("sources.floor", 5)
	v.SetDefault("sources.timeout_secs", 180)
	v.SetDefault("sources.justdial_base_url", "https://www.justdial.com")
	v.SetDefault("sources.maps_base_url", "https://www.google.com")
	v.SetDefault("sources.maps_scrolls", 3)
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 5)
	v.SetDefault("enrich.timeout_secs", 10)
	v.SetDefault("enrich.max_redirects", 5)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.local_keywords", []string{"mumbai", "delhi", "kolkata", "bangalore"})
	v.SetDefault("scan.default_quota", 100)
	v.SetDefault("fakelead.patterns_file", "")

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.validateScan()...)
	case "scan":
		errs = append(errs, c.validateScan()...)
	case "leads":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateScan() []string {
	var errs []string
	if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 50 {
		errs = append(errs, "enrich.concurrency must be between 1 and 50")
	}
	if c.Sources.Floor < 0 {
		errs = append(errs, "sources.floor must be >= 0")
	}
	if len(c.Sources.Order) == 0 && c.Google.Key == "" {
		errs = append(errs, "sources.order is empty and google.key is unset")
	}
	for _, s := range c.Sources.Order {
		switch s {
		case "justdial", "google_maps", "google_places":
		default:
			errs = append(errs, "sources.order: unknown source "+s)
		}
	}
	if c.Browser.SettleMaxMs < c.Browser.SettleMinMs {
		errs = append(errs, "browser.settle_max_ms must be >= settle_min_ms")
	}
	return errs
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

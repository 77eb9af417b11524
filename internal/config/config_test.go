package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leads.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 4, cfg.Store.RetryAttempts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "chromedp", cfg.Browser.Driver)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30, cfg.Browser.NavTimeoutSecs)
	assert.Equal(t, 2000, cfg.Browser.SettleMinMs)
	assert.Equal(t, 5000, cfg.Browser.SettleMaxMs)
	assert.Equal(t, []string{"justdial", "google_maps"}, cfg.Sources.Order)
	assert.Equal(t, 5, cfg.Sources.Floor)
	assert.Equal(t, 180, cfg.Sources.TimeoutSecs)
	assert.Equal(t, 3, cfg.Sources.MapsScrolls)
	assert.Empty(t, cfg.Google.Key)
	assert.InDelta(t, 5.0, cfg.Google.RateLimit, 0.001)
	assert.Equal(t, 10, cfg.Enrich.TimeoutSecs)
	assert.Equal(t, 5, cfg.Enrich.MaxRedirects)
	assert.Equal(t, 4, cfg.Enrich.Concurrency)
	assert.Equal(t, []string{"mumbai", "delhi", "kolkata", "bangalore"}, cfg.Enrich.LocalKeywords)
	assert.Equal(t, 100, cfg.Scan.DefaultQuota)
	assert.Empty(t, cfg.FakeLead.PatternsFile)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/leads
log:
  level: debug
  format: console
server:
  port: 9090
sources:
  order: [google_places]
  floor: 10
enrich:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/leads", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"google_places"}, cfg.Sources.Order)
	assert.Equal(t, 10, cfg.Sources.Floor)
	assert.Equal(t, 8, cfg.Enrich.Concurrency)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Enrich.MaxRedirects)
	assert.Equal(t, 100, cfg.Scan.DefaultQuota)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LEADSCAN_STORE_DRIVER", "postgres")
	t.Setenv("LEADSCAN_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("LEADSCAN_SERVER_PORT", "3000")
	t.Setenv("LEADSCAN_GOOGLE_KEY", "places-key")
	t.Setenv("LEADSCAN_SCAN_DEFAULT_QUOTA", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "places-key", cfg.Google.Key)
	assert.Equal(t, 7, cfg.Scan.DefaultQuota)
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	chdirTemp(t)

	t.Setenv("LEADSCAN_BROWSER_USER_AGENT", "scanner/1.0")
	t.Setenv("LEADSCAN_BROWSER_EXEC_PATH", "/usr/bin/chromium")
	t.Setenv("LEADSCAN_FAKELEAD_PATTERNS_FILE", "/etc/leadscan/patterns.yaml")
	t.Setenv("LEADSCAN_STORE_MAX_CONNS", "12")
	t.Setenv("LEADSCAN_STORE_MIN_CONNS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "scanner/1.0", cfg.Browser.UserAgent)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ExecPath)
	assert.Equal(t, "/etc/leadscan/patterns.yaml", cfg.FakeLead.PatternsFile)
	assert.Equal(t, int32(12), cfg.Store.MaxConns)
	assert.Equal(t, int32(3), cfg.Store.MinConns)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestBrowserSession(t *testing.T) {
	b := BrowserConfig{
		Driver:         "http",
		Headless:       true,
		UserAgent:      "ua",
		NavTimeoutSecs: 30,
		SettleMinMs:    2000,
		SettleMaxMs:    5000,
	}
	s := b.Session()
	assert.Equal(t, "http", s.Driver)
	assert.True(t, s.Headless)
	assert.Equal(t, "ua", s.UserAgent)
	assert.Equal(t, 30*time.Second, s.NavTimeout)
	assert.Equal(t, 2*time.Second, s.SettleMin)
	assert.Equal(t, 5*time.Second, s.SettleMax)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "leads.db"
	cfg.Server.Port = 8080
	cfg.Sources.Order = []string{"justdial", "google_maps"}
	cfg.Sources.Floor = 5
	cfg.Enrich.Concurrency = 4
	cfg.Browser.SettleMinMs = 2000
	cfg.Browser.SettleMaxMs = 5000
	return cfg
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("leads")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateLeadsIgnoresScanSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Enrich.Concurrency = 0
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("leads"))
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Enrich.Concurrency = 0
	err := cfg.Validate("scan")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "enrich.concurrency must be between 1 and 50")

	cfg.Enrich.Concurrency = 51
	err = cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "enrich.concurrency must be between 1 and 50")

	cfg.Enrich.Concurrency = 50
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateSources(t *testing.T) {
	cfg := validDefaults()
	cfg.Sources.Order = []string{"justdial", "yelp"}
	err := cfg.Validate("scan")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source yelp")

	cfg.Sources.Order = nil
	err = cfg.Validate("scan")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sources.order is empty")

	cfg.Google.Key = "key"
	assert.NoError(t, cfg.Validate("scan"))
}

func TestValidateSettleWindow(t *testing.T) {
	cfg := validDefaults()
	cfg.Browser.SettleMaxMs = 1000

	err := cfg.Validate("scan")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "settle_max_ms")
}

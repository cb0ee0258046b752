package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Cache    CacheConfig    `yaml:"cache"`
	Prefetch PrefetchConfig `yaml:"prefetch"`
	Server   ServerConfig   `yaml:"server"`
	Telegram TelegramConfig `yaml:"telegram"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Filters  FilterConfig   `yaml:"filters"`
	Log      LogConfig      `yaml:"log"`
}

// SiteConfig describes the booking engine being scraped
type SiteConfig struct {
	BaseURL string            `yaml:"base_url"`
	Params  map[string]string `yaml:"params"` // fixed hotel/occupancy query params
}

// ScrapeConfig controls fetching and orchestration
type ScrapeConfig struct {
	Fetcher           string      `yaml:"fetcher"` // http, colly, rod or chromedp
	Policy            string      `yaml:"policy"`  // weekly, short or both
	Workers           int         `yaml:"workers"`
	FastWorkers       int         `yaml:"fast_workers"`
	DelayMS           int         `yaml:"delay_ms"`
	TimeoutSeconds    int         `yaml:"timeout_seconds"`
	UserAgent         string      `yaml:"user_agent"`
	ProxyTemplate     string      `yaml:"proxy_template"` // e.g. https://proxy/raw?url={url}
	ProxyURL          string      `yaml:"proxy_url"`
	RequestsPerSecond float64     `yaml:"requests_per_second"` // 0 disables the cap
	BrowserDataDir    string      `yaml:"browser_data_dir"`
	Retry             RetryConfig `yaml:"retry"`
}

// RetryConfig is the exponential backoff policy for a single fetch
type RetryConfig struct {
	Attempts       int     `yaml:"attempts"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	Factor         float64 `yaml:"factor"`
}

// CacheConfig selects where the price cache blob is kept
type CacheConfig struct {
	Backend      string `yaml:"backend"` // memory, file, sqlite or postgres
	Path         string `yaml:"path"`
	DatabaseURL  string `yaml:"database_url"`
	StaleMinutes int    `yaml:"stale_minutes"`
}

// PrefetchConfig controls the background refresh loop
type PrefetchConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	Fast            bool `yaml:"fast"`
}

// ServerConfig is the HTTP listener config
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelegramConfig configures the bot front-end
type TelegramConfig struct {
	Token          string  `yaml:"token"`
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
	NotifyChatID   int64   `yaml:"notify_chat_id"`
}

// SheetsConfig configures the Google Sheets export
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetURL  string `yaml:"spreadsheet_url"`
}

// FilterConfig represents the price table filter criteria
type FilterConfig struct {
	MinPrice  int `yaml:"min_price"`
	MaxPrice  int `yaml:"max_price"`
	MinNights int `yaml:"min_nights"`
	MaxNights int `yaml:"max_nights"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn or error
	Format string `yaml:"format"` // text or json
}

// LoadConfig loads configuration from a YAML file on top of the defaults,
// then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := GetDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			BaseURL: "https://www.clubhotels.co.il/BE_Results.aspx",
			Params: map[string]string{
				"lang":  "heb",
				"hotel": "1_1",
				"rooms": "1",
				"ad1":   "2",
				"ch1":   "3",
				"inf1":  "0",
			},
		},
		Scrape: ScrapeConfig{
			Fetcher:        "http",
			Policy:         "weekly",
			Workers:        1,
			FastWorkers:    6,
			DelayMS:        500,
			TimeoutSeconds: 30,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			BrowserDataDir: "/tmp/clubotel-browser",
			Retry: RetryConfig{
				Attempts:       3,
				InitialDelayMS: 2000,
				Factor:         1.5,
			},
		},
		Cache: CacheConfig{
			Backend:      "memory",
			Path:         "clubotel-cache",
			StaleMinutes: 30,
		},
		Prefetch: PrefetchConfig{
			IntervalMinutes: 30,
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Filters: FilterConfig{
			MaxPrice: 1000000000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ApplyEnv overrides config values from the environment
func (c *Config) ApplyEnv() {
	c.Site.BaseURL = getEnv("CLUBOTEL_BASE_URL", c.Site.BaseURL)
	c.Scrape.Fetcher = getEnv("CLUBOTEL_FETCHER", c.Scrape.Fetcher)
	c.Scrape.Policy = getEnv("CLUBOTEL_POLICY", c.Scrape.Policy)
	c.Scrape.Workers = getEnvInt("CLUBOTEL_WORKERS", c.Scrape.Workers)
	c.Scrape.FastWorkers = getEnvInt("CLUBOTEL_FAST_WORKERS", c.Scrape.FastWorkers)
	c.Scrape.DelayMS = getEnvInt("CLUBOTEL_DELAY_MS", c.Scrape.DelayMS)
	c.Scrape.ProxyTemplate = getEnv("CLUBOTEL_PROXY_TEMPLATE", c.Scrape.ProxyTemplate)
	c.Scrape.ProxyURL = getEnv("CLUBOTEL_PROXY_URL", c.Scrape.ProxyURL)
	c.Scrape.RequestsPerSecond = getEnvFloat("CLUBOTEL_RPS", c.Scrape.RequestsPerSecond)
	c.Scrape.BrowserDataDir = getEnv("BOT_DATA_DIR", c.Scrape.BrowserDataDir)
	c.Scrape.Retry.Attempts = getEnvInt("CLUBOTEL_RETRY_ATTEMPTS", c.Scrape.Retry.Attempts)
	c.Cache.Backend = getEnv("CLUBOTEL_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Path = getEnv("CLUBOTEL_CACHE_PATH", c.Cache.Path)
	c.Cache.DatabaseURL = getEnv("DATABASE_URL", c.Cache.DatabaseURL)
	c.Cache.StaleMinutes = getEnvInt("CLUBOTEL_STALE_MINUTES", c.Cache.StaleMinutes)
	c.Server.Addr = getEnv("CLUBOTEL_ADDR", c.Server.Addr)
	c.Telegram.Token = getEnv("TELEGRAM_TOKEN", c.Telegram.Token)
	if ids := os.Getenv("TELEGRAM_ALLOWED_USER_IDS"); ids != "" {
		if parsed, err := ParseUserIDs(ids); err == nil {
			c.Telegram.AllowedUserIDs = parsed
		}
	}
	c.Sheets.CredentialsFile = getEnv("GOOGLE_SHEETS_CREDENTIALS", c.Sheets.CredentialsFile)
	c.Sheets.SpreadsheetURL = getEnv("GOOGLE_SHEETS_URL", c.Sheets.SpreadsheetURL)
	c.Log.Level = getEnv("CLUBOTEL_LOG_LEVEL", c.Log.Level)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("site.base_url is required"))
	}
	switch c.Scrape.Fetcher {
	case "http", "colly", "rod", "chromedp":
	default:
		errs = append(errs, fmt.Errorf("scrape.fetcher %q must be http, colly, rod or chromedp", c.Scrape.Fetcher))
	}
	if c.Scrape.Workers < 1 {
		errs = append(errs, fmt.Errorf("scrape.workers must be >= 1, got %d", c.Scrape.Workers))
	}
	if c.Scrape.FastWorkers < 6 || c.Scrape.FastWorkers > 8 {
		errs = append(errs, fmt.Errorf("scrape.fast_workers must be between 6 and 8, got %d", c.Scrape.FastWorkers))
	}
	if c.Scrape.DelayMS < 0 {
		errs = append(errs, fmt.Errorf("scrape.delay_ms must be >= 0, got %d", c.Scrape.DelayMS))
	}
	if c.Scrape.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("scrape.retry.attempts must be >= 1, got %d", c.Scrape.Retry.Attempts))
	}
	if c.Scrape.Retry.Factor < 1 {
		errs = append(errs, fmt.Errorf("scrape.retry.factor must be >= 1, got %g", c.Scrape.Retry.Factor))
	}
	if c.Scrape.ProxyTemplate != "" && !strings.Contains(c.Scrape.ProxyTemplate, "{url}") {
		errs = append(errs, errors.New("scrape.proxy_template must contain {url}"))
	}
	switch c.Cache.Backend {
	case "memory", "file", "sqlite":
	case "postgres":
		if c.Cache.DatabaseURL == "" {
			errs = append(errs, errors.New("cache.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be memory, file, sqlite or postgres", c.Cache.Backend))
	}
	if c.Cache.StaleMinutes < 1 {
		errs = append(errs, fmt.Errorf("cache.stale_minutes must be >= 1, got %d", c.Cache.StaleMinutes))
	}
	if c.Prefetch.Enabled && c.Prefetch.IntervalMinutes < 1 {
		errs = append(errs, fmt.Errorf("prefetch.interval_minutes must be >= 1, got %d", c.Prefetch.IntervalMinutes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Delay returns the per-window pacing delay
func (s ScrapeConfig) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// Timeout returns the per-request timeout
func (s ScrapeConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// InitialDelay returns the first retry backoff
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMS) * time.Millisecond
}

// StaleAfter returns the cache freshness window
func (c CacheConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleMinutes) * time.Minute
}

// Interval returns the prefetch tick interval
func (p PrefetchConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMinutes) * time.Minute
}

// ParseUserIDs parses a comma-separated list of Telegram user IDs
func ParseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway process.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Web       WebConfig       `mapstructure:"web"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// ServerConfig contains HTTP listener, auth and rate limit settings.
type ServerConfig struct {
	Port              string        `mapstructure:"port"`
	APIKey            string        `mapstructure:"api_key"`
	RateLimitMax      int           `mapstructure:"rate_limit_max"`
	RateLimitWindowMS int           `mapstructure:"rate_limit_window_ms"`
	LogLevel          string        `mapstructure:"log_level"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// CacheConfig controls the shared response cache and its janitor.
type CacheConfig struct {
	TTLMS      int    `mapstructure:"ttl_ms"`
	Capacity   int    `mapstructure:"capacity"`
	SweepCron  string `mapstructure:"sweep_cron"`
	WebEntries int    `mapstructure:"web_entries"`
}

// WebConfig controls the safe fetcher and search multiplexer.
type WebConfig struct {
	MaxResults         int    `mapstructure:"max_results"`
	MaxBytes           int64  `mapstructure:"max_bytes"`
	MaxChars           int    `mapstructure:"max_chars"`
	TimeoutMS          int    `mapstructure:"timeout_ms"`
	MaxConcurrency     int    `mapstructure:"max_concurrency"`
	PerHostConcurrency int    `mapstructure:"per_host_concurrency"`
	Allowlist          string `mapstructure:"allowlist"`
	Blocklist          string `mapstructure:"blocklist"`
	RobotsObey         bool   `mapstructure:"robots_obey"`
	RobotsUserAgent    string `mapstructure:"robots_user_agent"`
}

// ProvidersConfig carries web search provider credentials. A provider is
// active iff its key is non-empty.
type ProvidersConfig struct {
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
	SerpAPIKey   string `mapstructure:"serpapi_key"`
	BraveAPIKey  string `mapstructure:"brave_api_key"`
}

// RateLimitWindow returns the sliding window duration.
func (s ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(s.RateLimitWindowMS) * time.Millisecond
}

// TTL returns the default response cache TTL.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// Timeout returns the per-attempt web fetch timeout.
func (w WebConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMS) * time.Millisecond
}

// AllowlistHosts splits the comma-separated allowlist; empty means allow all.
func (w WebConfig) AllowlistHosts() []string { return splitHosts(w.Allowlist) }

// BlocklistHosts splits the comma-separated blocklist.
func (w WebConfig) BlocklistHosts() []string { return splitHosts(w.Blocklist) }

func splitHosts(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envBindings maps viper keys to the environment variables the gateway
// recognizes. Environment always wins over the config file.
var envBindings = map[string]string{
	"server.port":                 "PORT",
	"server.api_key":              "MCP_API_KEY",
	"server.rate_limit_max":       "MCP_RATE_LIMIT_MAX",
	"server.rate_limit_window_ms": "MCP_RATE_LIMIT_WINDOW_MS",
	"server.log_level":            "LOG_LEVEL",
	"cache.ttl_ms":                "CACHE_TTL_MS",
	"cache.web_entries":           "WEB_CACHE_MAX_ENTRIES",
	"web.max_results":             "WEB_MAX_RESULTS",
	"web.max_bytes":               "WEB_MAX_BYTES",
	"web.max_chars":               "WEB_MAX_CHARS",
	"web.timeout_ms":              "WEB_TIMEOUT_MS",
	"web.max_concurrency":         "WEB_MAX_CONCURRENCY",
	"web.per_host_concurrency":    "WEB_PER_HOST_CONCURRENCY",
	"web.allowlist":               "WEB_ALLOWLIST",
	"web.blocklist":               "WEB_BLOCKLIST",
	"web.robots_obey":             "ROBOTS_OBEY",
	"web.robots_user_agent":       "ROBOTS_USER_AGENT",
	"providers.tavily_api_key":    "TAVILY_API_KEY",
	"providers.serpapi_key":       "SERPAPI_KEY",
	"providers.brave_api_key":     "BRAVE_API_KEY",
}

// Load reads config.yaml (optional) plus environment overrides and returns
// the effective configuration with every numeric option clamped to its
// documented range.
func Load(cfgPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "3000")
	v.SetDefault("server.rate_limit_max", 60)
	v.SetDefault("server.rate_limit_window_ms", 60000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("cache.ttl_ms", 300000)
	v.SetDefault("cache.capacity", 500)
	v.SetDefault("cache.sweep_cron", "* * * * *")
	v.SetDefault("cache.web_entries", 200)
	v.SetDefault("web.max_results", 8)
	v.SetDefault("web.max_bytes", 2*1024*1024)
	v.SetDefault("web.max_chars", 200000)
	v.SetDefault("web.timeout_ms", 12000)
	v.SetDefault("web.max_concurrency", 4)
	v.SetDefault("web.per_host_concurrency", 2)
	v.SetDefault("web.robots_obey", true)
	v.SetDefault("web.robots_user_agent", "SefariaGatewayBot/1.0")

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; env + defaults are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgPath != "" {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.clamp()
	return &cfg, nil
}

func (c *Config) clamp() {
	c.Server.RateLimitMax = clampInt(c.Server.RateLimitMax, 1, 10000)
	c.Server.RateLimitWindowMS = clampInt(c.Server.RateLimitWindowMS, 1000, 3600000)
	c.Cache.TTLMS = clampInt(c.Cache.TTLMS, 10000, 3600000)
	c.Cache.Capacity = clampInt(c.Cache.Capacity, 10, 10000)
	c.Cache.WebEntries = clampInt(c.Cache.WebEntries, 10, 2000)
	c.Web.MaxResults = clampInt(c.Web.MaxResults, 1, 25)
	c.Web.MaxBytes = clampInt64(c.Web.MaxBytes, 50_000, 10*1024*1024)
	c.Web.MaxChars = clampInt(c.Web.MaxChars, 5000, 1_000_000)
	c.Web.TimeoutMS = clampInt(c.Web.TimeoutMS, 3000, 60000)
	c.Web.MaxConcurrency = clampInt(c.Web.MaxConcurrency, 1, 16)
	c.Web.PerHostConcurrency = clampInt(c.Web.PerHostConcurrency, 1, 8)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package config loads service settings from defaults, an optional YAML file,
// a .env file and ALISCRAPE_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/FranksOps/aliscrape/internal/fingerprint"
)

// EnvPrefix is prepended to every environment variable, e.g.
// ALISCRAPE_RATELIMIT_REQUESTS for ratelimit.requests.
const EnvPrefix = "ALISCRAPE"

// DefaultLocaleCookie asks the site for global English pages priced in USD.
const DefaultLocaleCookie = "aep_usuc_f=site=glo&c_tp=USD&region=US&b_locale=en_US"

type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

type MetricsConfig struct {
	// Port serves /metrics; 0 disables the metrics server.
	Port int
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	CookieJar    bool
	Fingerprint  string
	UserAgents   []string
	MaxBodyBytes int64
}

type CrawlConfig struct {
	Deadline      time.Duration
	MaxPages      int
	PageDelayMin  time.Duration
	PageDelayMax  time.Duration
	StrictPages   bool
	RespectRobots bool
	RobotsAgent   string
}

type TargetConfig struct {
	Hosts        []string
	PathPrefixes []string
	PageParam    string
	Cookie       string
}

type AuditConfig struct {
	// Driver is one of "", "sqlite", "postgres" or "json"; empty disables auditing.
	Driver      string
	DSN         string
	CaptureBody bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Fetch     FetchConfig
	Crawl     CrawlConfig
	Target    TargetConfig
	Audit     AuditConfig
	Log       LogConfig
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8000", CORSOrigins: []string{"*"}},
		Metrics:   MetricsConfig{Port: 0},
		RateLimit: RateLimitConfig{Requests: 20, Window: time.Minute},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
			Jitter:      1.0,
		},
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			MaxRedirects: 10,
			CookieJar:    true,
			Fingerprint:  string(fingerprint.ProfileAuto),
			MaxBodyBytes: 8 << 20,
		},
		Crawl: CrawlConfig{
			Deadline:     5 * time.Minute,
			MaxPages:     10,
			PageDelayMin: 2 * time.Second,
			PageDelayMax: 4 * time.Second,
			RobotsAgent:  "*",
		},
		Target: TargetConfig{
			Hosts:        []string{"aliexpress.com", "aliexpress.us"},
			PathPrefixes: []string{"/w/", "/wholesale", "/category/", "/af/", "/premium/", "/popular/"},
			PageParam:    "page",
			Cookie:       DefaultLocaleCookie,
		},
		Audit: AuditConfig{},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers Default() with v so every key resolves from the
// environment even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("ratelimit.requests", d.RateLimit.Requests)
	v.SetDefault("ratelimit.window", d.RateLimit.Window)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.jitter", d.Retry.Jitter)
	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.max_redirects", d.Fetch.MaxRedirects)
	v.SetDefault("fetch.cookie_jar", d.Fetch.CookieJar)
	v.SetDefault("fetch.fingerprint", d.Fetch.Fingerprint)
	v.SetDefault("fetch.user_agents", d.Fetch.UserAgents)
	v.SetDefault("fetch.max_body_bytes", d.Fetch.MaxBodyBytes)
	v.SetDefault("crawl.deadline", d.Crawl.Deadline)
	v.SetDefault("crawl.max_pages", d.Crawl.MaxPages)
	v.SetDefault("crawl.page_delay_min", d.Crawl.PageDelayMin)
	v.SetDefault("crawl.page_delay_max", d.Crawl.PageDelayMax)
	v.SetDefault("crawl.strict_pages", d.Crawl.StrictPages)
	v.SetDefault("crawl.respect_robots", d.Crawl.RespectRobots)
	v.SetDefault("crawl.robots_agent", d.Crawl.RobotsAgent)
	v.SetDefault("target.hosts", d.Target.Hosts)
	v.SetDefault("target.path_prefixes", d.Target.PathPrefixes)
	v.SetDefault("target.page_param", d.Target.PageParam)
	v.SetDefault("target.cookie", d.Target.Cookie)
	v.SetDefault("audit.driver", d.Audit.Driver)
	v.SetDefault("audit.dsn", d.Audit.DSN)
	v.SetDefault("audit.capture_body", d.Audit.CaptureBody)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// NewViper returns a viper instance wired to defaults, the environment and
// cfgFile (or ./config.yaml when cfgFile is empty). Missing .env and default
// config files are not errors; a missing explicit cfgFile is.
func NewViper(cfgFile string) (*viper.Viper, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	return v, nil
}

// Load reads every key from v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Addr:        v.GetString("server.addr"),
			CORSOrigins: stringSlice(v, "server.cors_origins"),
		},
		Metrics: MetricsConfig{Port: v.GetInt("metrics.port")},
		RateLimit: RateLimitConfig{
			Requests: v.GetInt("ratelimit.requests"),
			Window:   v.GetDuration("ratelimit.window"),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
			Jitter:      v.GetFloat64("retry.jitter"),
		},
		Fetch: FetchConfig{
			Timeout:      v.GetDuration("fetch.timeout"),
			MaxRedirects: v.GetInt("fetch.max_redirects"),
			CookieJar:    v.GetBool("fetch.cookie_jar"),
			Fingerprint:  v.GetString("fetch.fingerprint"),
			UserAgents:   stringSlice(v, "fetch.user_agents"),
			MaxBodyBytes: v.GetInt64("fetch.max_body_bytes"),
		},
		Crawl: CrawlConfig{
			Deadline:      v.GetDuration("crawl.deadline"),
			MaxPages:      v.GetInt("crawl.max_pages"),
			PageDelayMin:  v.GetDuration("crawl.page_delay_min"),
			PageDelayMax:  v.GetDuration("crawl.page_delay_max"),
			StrictPages:   v.GetBool("crawl.strict_pages"),
			RespectRobots: v.GetBool("crawl.respect_robots"),
			RobotsAgent:   v.GetString("crawl.robots_agent"),
		},
		Target: TargetConfig{
			Hosts:        stringSlice(v, "target.hosts"),
			PathPrefixes: stringSlice(v, "target.path_prefixes"),
			PageParam:    v.GetString("target.page_param"),
			Cookie:       v.GetString("target.cookie"),
		},
		Audit: AuditConfig{
			Driver:      strings.ToLower(v.GetString("audit.driver")),
			DSN:         v.GetString("audit.dsn"),
			CaptureBody: v.GetBool("audit.capture_body"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stringSlice accepts YAML lists as well as comma-separated env values.
func stringSlice(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports every inconsistent setting.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.RateLimit.Requests >= 0, "ratelimit.requests must not be negative")
	check(c.RateLimit.Requests == 0 || c.RateLimit.Window > 0, "ratelimit.window must be positive when ratelimit.requests is set")
	check(c.Retry.MaxAttempts >= 1, "retry.max_attempts must be at least 1")
	check(c.Retry.BaseDelay > 0, "retry.base_delay must be positive")
	check(c.Retry.MaxDelay >= c.Retry.BaseDelay, "retry.max_delay must be at least retry.base_delay")
	check(c.Retry.Jitter >= 0, "retry.jitter must not be negative")
	check(c.Fetch.Timeout > 0, "fetch.timeout must be positive")
	check(c.Crawl.MaxPages >= 1, "crawl.max_pages must be at least 1")
	check(c.Crawl.Deadline >= 0, "crawl.deadline must not be negative")
	check(c.Crawl.PageDelayMin >= 0 && c.Crawl.PageDelayMax >= c.Crawl.PageDelayMin,
		"crawl.page_delay_max must be at least crawl.page_delay_min")
	check(c.Target.PageParam != "", "target.page_param is required")
	check(c.Metrics.Port >= 0 && c.Metrics.Port <= 65535, "metrics.port out of range")

	if _, err := fingerprint.ParseProfile(c.Fetch.Fingerprint); err != nil {
		errs = append(errs, err)
	}

	switch c.Audit.Driver {
	case "":
	case "sqlite", "postgres", "json":
		check(c.Audit.DSN != "", "audit.dsn is required for audit.driver %q", c.Audit.Driver)
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q is not one of sqlite, postgres, json", c.Audit.Driver))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

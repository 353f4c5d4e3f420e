package config

import (
	"cmp"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultMarketplaceURL is the public Visual Studio Marketplace gallery query endpoint.
const DefaultMarketplaceURL = "https://marketplace.visualstudio.com/_apis/public/gallery/extensionquery"

// DefaultMarketplaceCacheTTL keeps cached catalogs shorter than the default crawl cadence.
const DefaultMarketplaceCacheTTL = time.Hour

type Config struct{ v *viper.Viper }

func New() *Config {
	vv := viper.New()
	vv.AutomaticEnv()
	vv.SetDefault("CRAWL_SCHEDULE", "0 */6 * * *")
	vv.SetDefault("MARKETPLACE_API_URL", DefaultMarketplaceURL)
	vv.SetDefault("MARKETPLACE_CACHE_TTL", DefaultMarketplaceCacheTTL.String())
	vv.SetDefault("MARKETPLACE_RATE_LIMIT", 60)
	vv.SetDefault("MARKETPLACE_TIMEOUT", "30s")
	return &Config{v: vv}
}

// ReadFile loads an optional config file on top of the environment.
// Environment variables keep precedence over file values.
func (c *Config) ReadFile(path string) error {
	if path == "" {
		return nil
	}
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// GetDsn returns DSN when set, otherwise a postgres URL assembled from the
// libpq environment (PGUSER, PGPASSWORD, PGHOST, PGPORT, PGDATABASE, PGSSLMODE).
// A PGHOST starting with "/" selects a unix socket.
func (c *Config) GetDsn() (*url.URL, error) {
	if source := c.v.GetString("DSN"); source != "" {
		u, err := url.Parse(source)
		if err != nil || u.Scheme == "" {
			return nil, errors.New("invalid DSN: must be in format driver://dataSourceName")
		}
		return u, nil
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   c.pgUser(),
		Path:   "/" + c.getOr("PGDATABASE", "postgres"),
	}
	q := url.Values{}
	q.Set("sslmode", c.getOr("PGSSLMODE", "disable"))
	host := c.getOr("PGHOST", "localhost")
	port := c.v.GetString("PGPORT")
	if strings.HasPrefix(host, "/") {
		dir, inferred := socketDir(host)
		if port == "" {
			port = inferred
		}
		q.Set("host", dir)
		q.Set("port", cmp.Or(port, "5432"))
	} else {
		u.Host = host + ":" + cmp.Or(port, "5432")
	}
	u.RawQuery = q.Encode()
	return u, nil
}

func (c *Config) getOr(key, fallback string) string {
	return cmp.Or(c.v.GetString(key), fallback)
}

func (c *Config) pgUser() *url.Userinfo {
	name := cmp.Or(c.v.GetString("PGUSER"), c.v.GetString("USER"), "postgres")
	if pw := c.v.GetString("PGPASSWORD"); pw != "" {
		return url.UserPassword(name, pw)
	}
	return url.User(name)
}

// socketDir returns the socket directory for host and, when host names the
// socket file itself (".s.PGSQL.<port>"), the port encoded in its name.
func socketDir(host string) (dir, port string) {
	fi, err := os.Stat(host)
	if err != nil || fi.IsDir() {
		return host, ""
	}
	if p, ok := strings.CutPrefix(filepath.Base(host), ".s.PGSQL."); ok {
		if _, err := strconv.Atoi(p); err == nil {
			port = p
		}
	}
	return filepath.Dir(host), port
}

func (c *Config) GetAddr() string {
	port := c.v.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	host := c.v.GetString("HOST")
	if host == "" {
		host = "localhost"
	}
	return host + ":" + port
}

// GetServiceName returns the service name reported to the trace exporter.
func (c *Config) GetServiceName() string {
	if n := c.v.GetString("OTEL_SERVICE_NAME"); n != "" {
		return n
	}
	return "marketstats"
}

// TelemetryEnabled reports whether an OTLP endpoint has been configured.
func (c *Config) TelemetryEnabled() bool {
	return c.v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT") != "" ||
		c.v.GetString("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") != ""
}

// GetWatchedPublishers returns the publishers whose catalogs are crawled.
// Reads WATCHED_PUBLISHERS, a comma or space separated list. The result is
// deduplicated and sorted.
func (c *Config) GetWatchedPublishers() []string {
	var out []string
	for _, raw := range c.v.GetStringSlice("WATCHED_PUBLISHERS") {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// IsReadOnly reports whether scheduled crawls must skip every write.
func (c *Config) IsReadOnly() bool { return c.v.GetBool("READ_ONLY") }

// GetCrawlSchedule returns the cron expression driving scheduled crawls.
func (c *Config) GetCrawlSchedule() string { return c.v.GetString("CRAWL_SCHEDULE") }

func (c *Config) GetMarketplaceURL() string { return c.v.GetString("MARKETPLACE_API_URL") }

// GetMarketplaceCacheTTL returns the TTL for cached publisher catalogs.
// Reads duration from env var MARKETPLACE_CACHE_TTL, default 1h; an explicit
// zero keeps entries until invalidated.
func (c *Config) GetMarketplaceCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.v.GetString("MARKETPLACE_CACHE_TTL"))
	if err != nil || d < 0 {
		return DefaultMarketplaceCacheTTL
	}
	return d
}

// GetMarketplaceRateLimit returns the allowed marketplace requests per minute.
func (c *Config) GetMarketplaceRateLimit() int {
	if n := c.v.GetInt("MARKETPLACE_RATE_LIMIT"); n > 0 {
		return n
	}
	return 60
}

// GetMarketplaceTimeout returns the HTTP timeout for a single marketplace call.
func (c *Config) GetMarketplaceTimeout() time.Duration {
	const def = 30 * time.Second
	if v := c.v.GetString("MARKETPLACE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// GetAdminToken returns the token expected in the TOKEN request header.
// An empty token grants admin rights to every request.
func (c *Config) GetAdminToken() string { return c.v.GetString("TOKEN") }

func (c *Config) Set(key string, value any) { c.v.Set(key, value) }

// GetLogLevel returns the log level from env var LOG_LEVEL mapped to slog.Level.
// Recognized values: debug, info (default), warn|warning, error.
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToLower(c.v.GetString("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OnLogLevelChange calls fn with the slog.Level whenever it changes.
// The initial call is made immediately.
func (c *Config) OnLogLevelChange(fn func(slog.Level)) {
	apply := func() { fn(c.GetLogLevel()) }
	apply()
	c.v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("Config file changed", "name", e.Name, "op", e.Op.String())
		apply()
	})
}

// Watch starts watching the config file, if any, for the lifetime of the process.
func (c *Config) Watch() {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.WatchConfig()
}

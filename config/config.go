package config

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jonwraymond/steadycore/cache"
	"github.com/jonwraymond/steadycore/messaging"
	"github.com/jonwraymond/steadycore/observe"
	"github.com/jonwraymond/steadycore/pool"
	"github.com/jonwraymond/steadycore/resilience"
	"github.com/jonwraymond/steadycore/secret"
	"github.com/jonwraymond/steadycore/storage"
)

// EnvPrefix prefixes every environment variable read by the core.
const EnvPrefix = "steady"

// DefaultEnvFiles are loaded by NewViper when no files are given.
var DefaultEnvFiles = []string{".env.local", ".env"}

// Config is the fully resolved configuration. Loggers and instruments are
// left unset; the caller wires them after building the observer.
type Config struct {
	ServiceName string
	SecretsDir  string
	ServeAddr   string

	Storage   storage.Config
	Remote    Remote
	Messaging messaging.Config
	Caches    map[string]cache.Policy
	Observe   observe.Config
}

// Remote holds the layers of the remote resilience client.
type Remote struct {
	Retry     resilience.RetryConfig
	Breaker   resilience.CircuitBreakerConfig
	RateLimit resilience.RateLimiterConfig
	Bulkhead  resilience.BulkheadConfig
	Timeout   time.Duration
}

// NewViper returns a viper instance with defaults and environment binding.
// The env files are loaded into the process environment first; a variable
// that is already set is never overridden, so earlier files win.
func NewViper(envFiles ...string) *viper.Viper {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// BindFlags makes flags set on fs take precedence over the environment.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	return v.BindPFlags(fs)
}

// Load reads every setting from v, resolves credentials through r and
// validates the result. A nil resolver only expands environment variables.
func Load(ctx context.Context, v *viper.Viper, r *secret.Resolver) (*Config, error) {
	resolved := make(map[string]string)
	for _, key := range []string{KeyStoragePath, KeyRemoteBaseURL, KeyRemoteToken} {
		val, err := r.ResolveValue(ctx, v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("config: resolve %s: %w", key, err)
		}
		resolved[key] = val
	}

	caches, err := ParseCaches(v.GetString(KeyCaches))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServiceName: v.GetString(KeyServiceName),
		SecretsDir:  v.GetString(KeySecretsDir),
		ServeAddr:   v.GetString(KeyServeAddr),
		Storage: storage.Config{
			Path:         resolved[KeyStoragePath],
			BusyTimeout:  v.GetDuration(KeyStorageBusyTimeout),
			MaxOpenConns: v.GetInt(KeyStorageMaxConns),
			Retry: resilience.RetryConfig{
				Name:        "storage",
				MaxAttempts: v.GetInt(KeyStorageRetryAttempts),
				BaseDelay:   v.GetDuration(KeyStorageRetryBaseDelay),
				MaxDelay:    v.GetDuration(KeyStorageRetryMaxDelay),
			},
		},
		Remote: Remote{
			Retry: resilience.RetryConfig{
				Name:        "remote",
				MaxAttempts: v.GetInt(KeyRemoteRetryAttempts),
				BaseDelay:   v.GetDuration(KeyRemoteRetryBaseDelay),
				MaxDelay:    v.GetDuration(KeyRemoteRetryMaxDelay),
				Classify:    resilience.ClassifyHTTP,
			},
			Breaker: resilience.CircuitBreakerConfig{
				MaxFailures:  v.GetInt(KeyBreakerMaxFailures),
				ResetTimeout: v.GetDuration(KeyBreakerResetTimeout),
			},
			RateLimit: resilience.RateLimiterConfig{
				Rate:        v.GetFloat64(KeyRemoteRate),
				Burst:       v.GetInt(KeyRemoteBurst),
				WaitOnLimit: true,
				MaxWait:     v.GetDuration(KeyRemoteMaxWait),
			},
			Bulkhead: resilience.BulkheadConfig{
				MaxConcurrent: v.GetInt(KeyRemoteConcurrency),
				MaxWait:       v.GetDuration(KeyRemoteMaxWait),
			},
			Timeout: v.GetDuration(KeyRemoteTimeout),
		},
		Messaging: messaging.Config{
			BaseURL:   resolved[KeyRemoteBaseURL],
			Token:     resolved[KeyRemoteToken],
			UserAgent: v.GetString(KeyRemoteUserAgent),
			Sessions: pool.Config{
				Name:           "messaging-sessions",
				Min:            v.GetInt(KeyPoolMin),
				Max:            v.GetInt(KeyPoolMax),
				AcquireTimeout: v.GetDuration(KeyPoolAcquireTimeout),
				IdleTimeout:    v.GetDuration(KeyPoolIdleTimeout),
				MaxLifetime:    v.GetDuration(KeyPoolMaxLifetime),
				SweepInterval:  v.GetDuration(KeyPoolSweepInterval),
			},
		},
		Caches: caches,
		Observe: observe.Config{
			ServiceName: v.GetString(KeyServiceName),
			Version:     Version,
			Tracing: observe.TracingConfig{
				Enabled:   v.GetString(KeyTracingExporter) != "none",
				Exporter:  v.GetString(KeyTracingExporter),
				SamplePct: v.GetFloat64(KeyTracingSample),
			},
			Metrics: observe.MetricsConfig{
				Enabled:  v.GetString(KeyMetricsExporter) != "none",
				Exporter: v.GetString(KeyMetricsExporter),
			},
			Logging: observe.LoggingConfig{
				Enabled: true,
				Level:   v.GetString(KeyLogLevel),
			},
		},
	}
	if p, ok := caches[MessagingReadsCache]; ok {
		cfg.Messaging.Reads = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MessagingReadsCache names the cache spec that configures the messaging
// client's read cache.
const MessagingReadsCache = "messaging-reads"

// Validate checks bounds that the components' own defaults would otherwise
// paper over.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
	}

	switch {
	case strings.TrimSpace(c.Storage.Path) == "":
		return invalid("%s is required", KeyStoragePath)
	case c.Storage.Retry.MaxAttempts < 1:
		return invalid("%s must be at least 1", KeyStorageRetryAttempts)
	case c.Remote.Retry.MaxAttempts < 1:
		return invalid("%s must be at least 1", KeyRemoteRetryAttempts)
	case c.Remote.Retry.BaseDelay > c.Remote.Retry.MaxDelay:
		return invalid("%s exceeds %s", KeyRemoteRetryBaseDelay, KeyRemoteRetryMaxDelay)
	case c.Remote.RateLimit.Rate <= 0:
		return invalid("%s must be positive", KeyRemoteRate)
	case c.Remote.RateLimit.Burst < 1:
		return invalid("%s must be at least 1", KeyRemoteBurst)
	case c.Remote.Bulkhead.MaxConcurrent < 1:
		return invalid("%s must be at least 1", KeyRemoteConcurrency)
	case c.Remote.Timeout <= 0:
		return invalid("%s must be positive", KeyRemoteTimeout)
	case c.Remote.Breaker.MaxFailures < 1:
		return invalid("%s must be at least 1", KeyBreakerMaxFailures)
	}

	if c.Messaging.BaseURL != "" {
		u, err := url.Parse(c.Messaging.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("%s %q is not an http(s) URL", KeyRemoteBaseURL, c.Messaging.BaseURL)
		}
	}
	if err := c.Messaging.Sessions.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for name, p := range c.Caches {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: cache %s: %w", ErrInvalidConfig, name, err)
		}
	}
	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// CacheNames returns the configured cache names, sorted.
func (c *Config) CacheNames() []string {
	names := make([]string, 0, len(c.Caches))
	for name := range c.Caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseCaches parses "name:ttl:maxsize,..." into policies. Each cache sweeps
// once a minute or once per TTL, whichever is shorter, and accepts explicit
// TTLs up to an hour or its own TTL if longer.
func ParseCaches(spec string) (map[string]cache.Policy, error) {
	out := make(map[string]cache.Policy)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 || fields[0] == "" {
			return nil, fmt.Errorf("%w: %q, want name:ttl:maxsize", ErrInvalidCacheSpec, part)
		}
		name := fields[0]
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: duplicate cache %q", ErrInvalidCacheSpec, name)
		}
		ttl, err := time.ParseDuration(fields[1])
		if err != nil || ttl < 0 {
			return nil, fmt.Errorf("%w: %q: bad ttl %q", ErrInvalidCacheSpec, part, fields[1])
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%w: %q: bad maxsize %q", ErrInvalidCacheSpec, part, fields[2])
		}
		out[name] = cache.Policy{
			DefaultTTL:    ttl,
			MaxTTL:        max(ttl, time.Hour),
			MaxSize:       size,
			SweepInterval: sweepFor(ttl),
		}
	}
	return out, nil
}

func sweepFor(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return min(ttl, time.Minute)
}

package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Setting keys. Each is also a flag name.
const (
	KeyServiceName = "service-name"
	KeySecretsDir  = "secrets-dir"
	KeyServeAddr   = "serve-addr"

	KeyStoragePath           = "storage-path"
	KeyStorageBusyTimeout    = "storage-busy-timeout"
	KeyStorageMaxConns       = "storage-max-conns"
	KeyStorageRetryAttempts  = "storage-retry-attempts"
	KeyStorageRetryBaseDelay = "storage-retry-base-delay"
	KeyStorageRetryMaxDelay  = "storage-retry-max-delay"

	KeyRemoteBaseURL        = "remote-base-url"
	KeyRemoteToken          = "remote-token"
	KeyRemoteUserAgent      = "remote-user-agent"
	KeyRemoteRetryAttempts  = "remote-retry-attempts"
	KeyRemoteRetryBaseDelay = "remote-retry-base-delay"
	KeyRemoteRetryMaxDelay  = "remote-retry-max-delay"
	KeyRemoteRate           = "remote-rate"
	KeyRemoteBurst          = "remote-burst"
	KeyRemoteMaxWait        = "remote-max-wait"
	KeyRemoteConcurrency    = "remote-concurrency"
	KeyRemoteTimeout        = "remote-timeout"
	KeyBreakerMaxFailures   = "breaker-max-failures"
	KeyBreakerResetTimeout  = "breaker-reset-timeout"

	KeyPoolMin            = "pool-min"
	KeyPoolMax            = "pool-max"
	KeyPoolAcquireTimeout = "pool-acquire-timeout"
	KeyPoolIdleTimeout    = "pool-idle-timeout"
	KeyPoolMaxLifetime    = "pool-max-lifetime"
	KeyPoolSweepInterval  = "pool-sweep-interval"

	KeyCaches = "caches"

	KeyLogLevel        = "log-level"
	KeyTracingExporter = "tracing-exporter"
	KeyTracingSample   = "tracing-sample"
	KeyMetricsExporter = "metrics-exporter"
)

type setting struct {
	key   string
	def   any
	usage string
}

var settings = []setting{
	{KeyServiceName, "steady", "Service name reported in telemetry"},
	{KeySecretsDir, "/run/secrets", "Directory read by secretref:file references"},
	{KeyServeAddr, ":8080", "Listen address of the health and metrics server"},

	{KeyStoragePath, "steady.db", "SQLite database file"},
	{KeyStorageBusyTimeout, 5 * time.Second, "How long SQLite waits on a lock before reporting busy"},
	{KeyStorageMaxConns, 4, "Maximum open database connections"},
	{KeyStorageRetryAttempts, 5, "Attempts for an operation that hits lock contention"},
	{KeyStorageRetryBaseDelay, 50 * time.Millisecond, "First backoff delay on lock contention"},
	{KeyStorageRetryMaxDelay, 2 * time.Second, "Backoff delay cap on lock contention"},

	{KeyRemoteBaseURL, "", "Root URL of the messaging API"},
	{KeyRemoteToken, "", "Bearer token for the messaging API (supports secretref:)"},
	{KeyRemoteUserAgent, "steadycore", "User-Agent sent to the messaging API"},
	{KeyRemoteRetryAttempts, 3, "Attempts per remote call"},
	{KeyRemoteRetryBaseDelay, 500 * time.Millisecond, "First backoff delay between remote attempts"},
	{KeyRemoteRetryMaxDelay, 30 * time.Second, "Backoff delay cap between remote attempts"},
	{KeyRemoteRate, 30.0, "Remote calls per second"},
	{KeyRemoteBurst, 5, "Remote call burst size"},
	{KeyRemoteMaxWait, time.Second, "Longest wait for a rate limit token"},
	{KeyRemoteConcurrency, 10, "Concurrent remote calls"},
	{KeyRemoteTimeout, 10 * time.Second, "Timeout of a single remote attempt"},
	{KeyBreakerMaxFailures, 5, "Consecutive failures that open a target's circuit"},
	{KeyBreakerResetTimeout, 30 * time.Second, "How long an open circuit rejects calls"},

	{KeyPoolMin, 0, "Sessions kept warm in the messaging session pool"},
	{KeyPoolMax, 4, "Maximum sessions in the messaging session pool"},
	{KeyPoolAcquireTimeout, 30 * time.Second, "Longest wait for a pooled session"},
	{KeyPoolIdleTimeout, 5 * time.Minute, "Idle time after which a session is closed (negative keeps forever)"},
	{KeyPoolMaxLifetime, time.Duration(0), "Maximum session age (0 means unlimited)"},
	{KeyPoolSweepInterval, 30 * time.Second, "Period of the pool maintenance sweep (negative disables)"},

	{KeyCaches, "", "Named caches as name:ttl:maxsize, comma separated"},

	{KeyLogLevel, "info", "Log level (debug, info, warn, error)"},
	{KeyTracingExporter, "none", "Tracing exporter (otlp, stdout, none)"},
	{KeyTracingSample, 1.0, "Fraction of traces sampled"},
	{KeyMetricsExporter, "prometheus", "Metrics exporter (otlp, prometheus, stdout, none)"},
}

// RegisterFlags defines one flag per setting on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		switch def := s.def.(type) {
		case string:
			fs.String(s.key, def, s.usage)
		case int:
			fs.Int(s.key, def, s.usage)
		case float64:
			fs.Float64(s.key, def, s.usage)
		case bool:
			fs.Bool(s.key, def, s.usage)
		case time.Duration:
			fs.Duration(s.key, def, s.usage)
		default:
			panic(fmt.Sprintf("config: unsupported default type %T for %s", def, s.key))
		}
	}
}

func setDefaults(v *viper.Viper) {
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
	}
}

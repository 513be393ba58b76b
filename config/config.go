package config

import (
	"time"

	"github.com/flagpole-io/flagpole/internal/logging"

	ct "github.com/launchdarkly/go-configtypes"
)

const (
	// DefaultPort is the port the API server listens on if not specified.
	DefaultPort = 4242

	// DefaultPrometheusPort is the port the Prometheus exporter listens on if not specified.
	DefaultPrometheusPort = 8031

	// DefaultStreamingInterval is the default value for StreamingConfig.Interval.
	DefaultStreamingInterval = time.Second

	// MinimumStreamingInterval is the smallest allowed value for StreamingConfig.Interval.
	MinimumStreamingInterval = 100 * time.Millisecond

	// DefaultRedisChannel is the pub/sub channel used for revision notifications if not specified.
	DefaultRedisChannel = "flagpole:revisions"

	// DefaultEventRetention is how long events are kept in the event log if not specified.
	DefaultEventRetention = 30 * 24 * time.Hour

	// DefaultEventPruneInterval is how often the event log is pruned if not specified.
	DefaultEventPruneInterval = time.Hour

	// DefaultMaxRequestBodyBytes limits the size of request bodies if not specified.
	DefaultMaxRequestBodyBytes = 1 << 20

	// DefaultReadHeaderTimeout is the HTTP server's ReadHeaderTimeout if not specified.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultDatabaseConnectRetries is how many times we try to reach the database at startup.
	DefaultDatabaseConnectRetries = 5

	// DefaultDatabaseRetryInterval is the delay between database connection attempts.
	DefaultDatabaseRetryInterval = 2 * time.Second

	// DefaultLoginRateLimit is the number of failed logins allowed per minute per client address.
	DefaultLoginRateLimit = 10
)

// DefaultLoggers is the default logging configuration used by Flagpole.
//
// Output goes to stdout, except Error level which goes to stderr. Debug level is disabled.
var DefaultLoggers = logging.MakeDefaultLoggers()

// Config describes the configuration for a Flagpole server instance.
//
// If you are configuring Flagpole programmatically, start from DefaultConfig and change only the fields
// you need.
type Config struct {
	Main         MainConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Streaming    StreamingConfig
	Experimental ExperimentalConfig
	Events       EventsConfig
	Import       ImportConfig
	Proxy        ProxyConfig
	MetricsConfig
}

// MainConfig contains global configuration options.
//
// This corresponds to the [Main] section in the configuration file.
type MainConfig struct {
	Port                ct.OptIntGreaterThanZero `conf:"PORT"`
	BaseURI             ct.OptURLAbsolute        `conf:"BASE_URI"`
	LogLevel            OptLogLevel              `conf:"LOG_LEVEL"`
	TLSEnabled          bool                     `conf:"TLS_ENABLED"`
	TLSCert             string                   `conf:"TLS_CERT"`
	TLSKey              string                   `conf:"TLS_KEY"`
	TLSMinVersion       OptTLSVersion            `conf:"TLS_MIN_VERSION"`
	MaxRequestBodyBytes ct.OptIntGreaterThanZero `conf:"MAX_REQUEST_BODY_BYTES"`
	ReadHeaderTimeout   ct.OptDuration           `conf:"READ_HEADER_TIMEOUT"`
}

// DatabaseConfig configures the PostgreSQL store. If URL is not set, an in-memory store is used.
//
// This corresponds to the [Database] section in the configuration file.
type DatabaseConfig struct {
	URL               ct.OptURLAbsolute        `conf:"DATABASE_URL"`
	MaxConns          ct.OptIntGreaterThanZero `conf:"DATABASE_MAX_CONNS"`
	MinConns          int                      `conf:"DATABASE_MIN_CONNS"`
	ConnectRetries    ct.OptIntGreaterThanZero `conf:"DATABASE_CONNECT_RETRIES"`
	RetryInterval     ct.OptDuration           `conf:"DATABASE_RETRY_INTERVAL"`
	DisableMigrations bool                     `conf:"DATABASE_DISABLE_MIGRATIONS"`
}

// RedisConfig configures the optional Redis pub/sub channel that wakes up streaming connections on
// other instances when the revision advances.
//
// This corresponds to the [Redis] section in the configuration file.
type RedisConfig struct {
	URL      ct.OptURLAbsolute `conf:"REDIS_URL"`
	Channel  string            `conf:"REDIS_CHANNEL"`
	TLS      bool              `conf:"REDIS_TLS"`
	Password string            `conf:"REDIS_PASSWORD"`
}

// AuthConfig controls authentication and the bootstrap credentials created at startup.
//
// This corresponds to the [Auth] section in the configuration file.
type AuthConfig struct {
	Type               AuthType                 `conf:"AUTH_TYPE"`
	DisableAdminTokens bool                     `conf:"AUTH_DISABLE_ADMIN_TOKENS"`
	InitAdminEmail     string                   `conf:"INIT_ADMIN_EMAIL"`
	InitAdminPassword  string                   `conf:"INIT_ADMIN_PASSWORD"`
	InitAdminTokens    ct.OptStringList         `conf:"INIT_ADMIN_API_TOKENS"`
	InitClientTokens   ct.OptStringList         `conf:"INIT_CLIENT_API_TOKENS"`
	InitFrontendTokens ct.OptStringList         `conf:"INIT_FRONTEND_API_TOKENS"`
	LoginRateLimit     ct.OptIntGreaterThanZero `conf:"AUTH_LOGIN_RATE_LIMIT"`
}

// StreamingConfig configures the experimental server-sent events endpoint.
//
// This corresponds to the [Streaming] section in the configuration file.
type StreamingConfig struct {
	Interval          ct.OptDuration `conf:"STREAMING_INTERVAL"`
	MaxConnectionTime ct.OptDuration `conf:"STREAMING_MAX_CONNECTION_TIME"`
}

// ExperimentalConfig lists the experimental flags that are turned on.
//
// This corresponds to the [Experimental] section in the configuration file.
type ExperimentalConfig struct {
	Flags ct.OptStringList `conf:"EXPERIMENTAL_FLAGS"`
}

// EventsConfig controls retention of the event log.
//
// This corresponds to the [Events] section in the configuration file.
type EventsConfig struct {
	Retention     ct.OptDuration `conf:"EVENT_RETENTION"`
	PruneInterval ct.OptDuration `conf:"EVENT_PRUNE_INTERVAL"`
}

// ImportConfig configures loading a state file at startup.
//
// This corresponds to the [Import] section in the configuration file.
type ImportConfig struct {
	File             string `conf:"IMPORT_FILE"`
	Watch            bool   `conf:"IMPORT_WATCH"`
	DropBeforeImport bool   `conf:"IMPORT_DROP_BEFORE_IMPORT"`
}

// ProxyConfig represents all the supported proxy options for outgoing requests (addon webhooks).
//
// This corresponds to the [Proxy] section in the configuration file.
type ProxyConfig struct {
	URL         ct.OptURLAbsolute `conf:"PROXY_URL"`
	NTLMAuth    bool              `conf:"PROXY_AUTH_NTLM"`
	User        string            `conf:"PROXY_AUTH_USER"`
	Password    string            `conf:"PROXY_AUTH_PASSWORD"`
	Domain      string            `conf:"PROXY_AUTH_DOMAIN"`
	CACertFiles ct.OptStringList  `conf:"PROXY_CA_CERTS"`
}

// MetricsConfig contains configurations for optional metrics integrations.
//
// This corresponds to the [Datadog], [Stackdriver], and [Prometheus] sections in the configuration file.
type MetricsConfig struct {
	Datadog     DatadogConfig
	Stackdriver StackdriverConfig
	Prometheus  PrometheusConfig
}

// DatadogConfig configures the optional Datadog integration, which is used only if Enabled is true.
//
// This corresponds to the [Datadog] section in the configuration file.
type DatadogConfig struct {
	Enabled   bool     `conf:"USE_DATADOG"`
	Prefix    string   `conf:"DATADOG_PREFIX"`
	TraceAddr string   `conf:"DATADOG_TRACE_ADDR"`
	StatsAddr string   `conf:"DATADOG_STATS_ADDR"`
	Tag       []string // env vars are DATADOG_TAG_name=value
}

// StackdriverConfig configures the optional Stackdriver integration, which is used only if Enabled is true.
//
// This corresponds to the [Stackdriver] section in the configuration file.
type StackdriverConfig struct {
	Enabled   bool   `conf:"USE_STACKDRIVER"`
	Prefix    string `conf:"STACKDRIVER_PREFIX"`
	ProjectID string `conf:"STACKDRIVER_PROJECT_ID"`
}

// PrometheusConfig configures the optional Prometheus integration, which is used only if Enabled is true.
//
// This corresponds to the [Prometheus] section in the configuration file.
type PrometheusConfig struct {
	Enabled bool                     `conf:"USE_PROMETHEUS"`
	Prefix  string                   `conf:"PROMETHEUS_PREFIX"`
	Port    ct.OptIntGreaterThanZero `conf:"PROMETHEUS_PORT"`
}

// DefaultConfig returns a Config with only the defaults that must be present before loading; everything
// else is resolved with GetOrElse where it is used.
func DefaultConfig() Config {
	return Config{
		Auth: AuthConfig{Type: AuthTypeToken},
		Redis: RedisConfig{
			Channel: DefaultRedisChannel,
		},
	}
}

// IsExperimentalFlagEnabled reports whether the named experimental flag is listed in the configuration.
func (c ExperimentalConfig) IsExperimentalFlagEnabled(name string) bool {
	for _, f := range c.Flags.Values() {
		if f == name {
			return true
		}
	}
	return false
}

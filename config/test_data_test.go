package config

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

type testDataValidConfig struct {
	name        string
	makeConfig  func(c *Config)
	envVars     map[string]string
	fileContent string
}

type testDataInvalidConfig struct {
	name         string
	envVarsError string
	fileError    string
	envVars      map[string]string
	fileContent  string
}

func (tdc testDataValidConfig) assertResult(t *testing.T, actualConfig Config) {
	var expectedConfig Config
	if tdc.makeConfig != nil {
		tdc.makeConfig(&expectedConfig)
	}
	require.NoError(t, ValidateConfig(&expectedConfig, ldlog.NewDisabledLoggers()))
	assert.Equal(t, expectedConfig, actualConfig)
}

func mustOptIntGreaterThanZero(n int) ct.OptIntGreaterThanZero {
	o, err := ct.NewOptIntGreaterThanZero(n)
	if err != nil {
		panic(err)
	}
	return o
}

func newOptURLAbsoluteMustBeValid(urlString string) ct.OptURLAbsolute {
	o, err := ct.NewOptURLAbsoluteFromString(urlString)
	if err != nil {
		panic(err)
	}
	return o
}

func makeValidConfigs() []testDataValidConfig {
	return []testDataValidConfig{
		makeValidConfigAllMainProperties(),
		makeValidConfigDatabase(),
		makeValidConfigRedis(),
		makeValidConfigAuth(),
		makeValidConfigStreamingAndExperimental(),
		makeValidConfigEventsAndImport(),
		makeValidConfigDatadog(),
		makeValidConfigStackdriver(),
		makeValidConfigPrometheus(),
		makeValidConfigProxy(),
	}
}

func makeInvalidConfigs() []testDataInvalidConfig {
	return []testDataInvalidConfig{
		makeInvalidConfigTLSWithNoCertOrKey(),
		makeInvalidConfigBadAuthType(),
		makeInvalidConfigAdminPasswordWithoutEmail(),
		makeInvalidConfigMalformedInitToken(),
		makeInvalidConfigStreamingIntervalTooSmall(),
		makeInvalidConfigImportWatchWithoutFile(),
		makeInvalidConfigNTLMWithoutURL(),
		makeInvalidConfigBadDatabaseScheme(),
		makeInvalidConfigBadRedisScheme(),
		makeInvalidConfigBadTLSVersion(),
	}
}

func makeValidConfigAllMainProperties() testDataValidConfig {
	c := testDataValidConfig{name: "all main properties"}
	c.makeConfig = func(c *Config) {
		c.Main = MainConfig{
			Port:                mustOptIntGreaterThanZero(8333),
			BaseURI:             newOptURLAbsoluteMustBeValid("https://flags.example.com"),
			LogLevel:            NewOptLogLevel(ldlog.Warn),
			TLSEnabled:          true,
			TLSCert:             "cert",
			TLSKey:              "key",
			TLSMinVersion:       NewOptTLSVersion(tls.VersionTLS12),
			MaxRequestBodyBytes: mustOptIntGreaterThanZero(2048),
			ReadHeaderTimeout:   ct.NewOptDuration(5 * time.Second),
		}
	}
	c.envVars = map[string]string{
		"PORT":                   "8333",
		"BASE_URI":               "https://flags.example.com",
		"LOG_LEVEL":              "warn",
		"TLS_ENABLED":            "1",
		"TLS_CERT":               "cert",
		"TLS_KEY":                "key",
		"TLS_MIN_VERSION":        "1.2",
		"MAX_REQUEST_BODY_BYTES": "2048",
		"READ_HEADER_TIMEOUT":    "5s",
	}
	c.fileContent = `
[Main]
Port = 8333
BaseUri = "https://flags.example.com"
LogLevel = "warn"
TLSEnabled = 1
TLSCert = "cert"
TLSKey = "key"
TLSMinVersion = "1.2"
MaxRequestBodyBytes = 2048
ReadHeaderTimeout = 5s
`
	return c
}

func makeValidConfigDatabase() testDataValidConfig {
	c := testDataValidConfig{name: "database"}
	c.makeConfig = func(c *Config) {
		c.Database = DatabaseConfig{
			URL:               newOptURLAbsoluteMustBeValid("postgres://flagpole:secret@db:5432/flagpole"),
			MaxConns:          mustOptIntGreaterThanZero(20),
			MinConns:          2,
			ConnectRetries:    mustOptIntGreaterThanZero(3),
			RetryInterval:     ct.NewOptDuration(time.Second),
			DisableMigrations: true,
		}
	}
	c.envVars = map[string]string{
		"DATABASE_URL":                "postgres://flagpole:secret@db:5432/flagpole",
		"DATABASE_MAX_CONNS":          "20",
		"DATABASE_MIN_CONNS":          "2",
		"DATABASE_CONNECT_RETRIES":    "3",
		"DATABASE_RETRY_INTERVAL":     "1s",
		"DATABASE_DISABLE_MIGRATIONS": "true",
	}
	c.fileContent = `
[Database]
URL = "postgres://flagpole:secret@db:5432/flagpole"
MaxConns = 20
MinConns = 2
ConnectRetries = 3
RetryInterval = 1s
DisableMigrations = true
`
	return c
}

func makeValidConfigRedis() testDataValidConfig {
	c := testDataValidConfig{name: "redis"}
	c.makeConfig = func(c *Config) {
		c.Redis = RedisConfig{
			URL:      newOptURLAbsoluteMustBeValid("rediss://cache:6380"),
			Channel:  "my-channel",
			TLS:      true,
			Password: "pass",
		}
	}
	c.envVars = map[string]string{
		"REDIS_URL":      "rediss://cache:6380",
		"REDIS_CHANNEL":  "my-channel",
		"REDIS_TLS":      "1",
		"REDIS_PASSWORD": "pass",
	}
	c.fileContent = `
[Redis]
URL = "rediss://cache:6380"
Channel = "my-channel"
TLS = true
Password = "pass"
`
	return c
}

func makeValidConfigAuth() testDataValidConfig {
	c := testDataValidConfig{name: "auth"}
	c.makeConfig = func(c *Config) {
		c.Auth = AuthConfig{
			Type:               AuthTypeToken,
			DisableAdminTokens: false,
			InitAdminEmail:     "admin@example.com",
			InitAdminPassword:  "hunter22",
			InitAdminTokens:    ct.NewOptStringList([]string{"*:*.adminsecret"}),
			InitClientTokens:   ct.NewOptStringList([]string{"default:development.a", "default:production.b"}),
			InitFrontendTokens: ct.NewOptStringList([]string{"default:development.c"}),
			LoginRateLimit:     mustOptIntGreaterThanZero(5),
		}
	}
	c.envVars = map[string]string{
		"AUTH_TYPE":                "token",
		"INIT_ADMIN_EMAIL":         "admin@example.com",
		"INIT_ADMIN_PASSWORD":      "hunter22",
		"INIT_ADMIN_API_TOKENS":    "*:*.adminsecret",
		"INIT_CLIENT_API_TOKENS":   "default:development.a,default:production.b",
		"INIT_FRONTEND_API_TOKENS": "default:development.c",
		"AUTH_LOGIN_RATE_LIMIT":    "5",
	}
	c.fileContent = `
[Auth]
Type = "token"
InitAdminEmail = "admin@example.com"
InitAdminPassword = "hunter22"
InitAdminTokens = "*:*.adminsecret"
InitClientTokens = "default:development.a"
InitClientTokens = "default:production.b"
InitFrontendTokens = "default:development.c"
LoginRateLimit = 5
`
	return c
}

func makeValidConfigStreamingAndExperimental() testDataValidConfig {
	c := testDataValidConfig{name: "streaming and experimental flags"}
	c.makeConfig = func(c *Config) {
		c.Streaming = StreamingConfig{
			Interval:          ct.NewOptDuration(500 * time.Millisecond),
			MaxConnectionTime: ct.NewOptDuration(time.Hour),
		}
		c.Experimental = ExperimentalConfig{
			Flags: ct.NewOptStringList([]string{"streaming", "deltaApi"}),
		}
	}
	c.envVars = map[string]string{
		"STREAMING_INTERVAL":            "500ms",
		"STREAMING_MAX_CONNECTION_TIME": "1h",
		"EXPERIMENTAL_FLAGS":            "streaming,deltaApi",
	}
	c.fileContent = `
[Streaming]
Interval = 500ms
MaxConnectionTime = 1h

[Experimental]
Flags = "streaming"
Flags = "deltaApi"
`
	return c
}

func makeValidConfigEventsAndImport() testDataValidConfig {
	c := testDataValidConfig{name: "events and import"}
	c.makeConfig = func(c *Config) {
		c.Events = EventsConfig{
			Retention:     ct.NewOptDuration(48 * time.Hour),
			PruneInterval: ct.NewOptDuration(10 * time.Minute),
		}
		c.Import = ImportConfig{
			File:             "/etc/flagpole/state.json",
			Watch:            true,
			DropBeforeImport: true,
		}
	}
	c.envVars = map[string]string{
		"EVENT_RETENTION":           "48h",
		"EVENT_PRUNE_INTERVAL":      "10m",
		"IMPORT_FILE":               "/etc/flagpole/state.json",
		"IMPORT_WATCH":              "true",
		"IMPORT_DROP_BEFORE_IMPORT": "true",
	}
	c.fileContent = `
[Events]
Retention = 48h
PruneInterval = 10m

[Import]
File = "/etc/flagpole/state.json"
Watch = true
DropBeforeImport = true
`
	return c
}

func makeValidConfigDatadog() testDataValidConfig {
	c := testDataValidConfig{name: "Datadog"}
	c.makeConfig = func(c *Config) {
		c.MetricsConfig.Datadog = DatadogConfig{
			Enabled:   true,
			Prefix:    "pre-",
			TraceAddr: "trace",
			StatsAddr: "stats",
			Tag:       []string{"tag1:value1", "tag2:value2"},
		}
	}
	c.envVars = map[string]string{
		"USE_DATADOG":        "1",
		"DATADOG_PREFIX":     "pre-",
		"DATADOG_TRACE_ADDR": "trace",
		"DATADOG_STATS_ADDR": "stats",
		"DATADOG_TAG_tag1":   "value1",
		"DATADOG_TAG_tag2":   "value2",
	}
	c.fileContent = `
[Datadog]
Enabled = true
Prefix = "pre-"
TraceAddr = "trace"
StatsAddr = "stats"
Tag = "tag1:value1"
Tag = "tag2:value2"
`
	return c
}

func makeValidConfigStackdriver() testDataValidConfig {
	c := testDataValidConfig{name: "Stackdriver"}
	c.makeConfig = func(c *Config) {
		c.MetricsConfig.Stackdriver = StackdriverConfig{
			Enabled:   true,
			Prefix:    "pre-",
			ProjectID: "proj",
		}
	}
	c.envVars = map[string]string{
		"USE_STACKDRIVER":        "1",
		"STACKDRIVER_PREFIX":     "pre-",
		"STACKDRIVER_PROJECT_ID": "proj",
	}
	c.fileContent = `
[Stackdriver]
Enabled = true
Prefix = "pre-"
ProjectID = "proj"
`
	return c
}

func makeValidConfigPrometheus() testDataValidConfig {
	c := testDataValidConfig{name: "Prometheus"}
	c.makeConfig = func(c *Config) {
		c.MetricsConfig.Prometheus = PrometheusConfig{
			Enabled: true,
			Prefix:  "pre-",
			Port:    mustOptIntGreaterThanZero(8333),
		}
	}
	c.envVars = map[string]string{
		"USE_PROMETHEUS":    "1",
		"PROMETHEUS_PREFIX": "pre-",
		"PROMETHEUS_PORT":   "8333",
	}
	c.fileContent = `
[Prometheus]
Enabled = true
Prefix = "pre-"
Port = 8333
`
	return c
}

func makeValidConfigProxy() testDataValidConfig {
	c := testDataValidConfig{name: "proxy"}
	c.makeConfig = func(c *Config) {
		c.Proxy = ProxyConfig{
			URL:         newOptURLAbsoluteMustBeValid("http://my-proxy"),
			NTLMAuth:    true,
			User:        "my-user",
			Password:    "my-password",
			Domain:      "my-domain",
			CACertFiles: ct.NewOptStringList([]string{"file1", "file2"}),
		}
	}
	c.envVars = map[string]string{
		"PROXY_URL":           "http://my-proxy",
		"PROXY_AUTH_NTLM":     "1",
		"PROXY_AUTH_USER":     "my-user",
		"PROXY_AUTH_PASSWORD": "my-password",
		"PROXY_AUTH_DOMAIN":   "my-domain",
		"PROXY_CA_CERTS":      "file1,file2",
	}
	c.fileContent = `
[Proxy]
URL = "http://my-proxy"
NTLMAuth = true
User = "my-user"
Password = "my-password"
Domain = "my-domain"
CACertFiles = "file1"
CACertFiles = "file2"
`
	return c
}

func makeInvalidConfigTLSWithNoCertOrKey() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "TLS without cert/key"}
	c.envVarsError = errTLSEnabledWithoutCertOrKey.Error()
	c.envVars = map[string]string{"TLS_ENABLED": "1"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Main]
TLSEnabled = true
`
	return c
}

func makeInvalidConfigBadAuthType() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "bad auth type"}
	c.envVarsError = `"open-sesame" is not a valid auth type`
	c.envVars = map[string]string{"AUTH_TYPE": "open-sesame"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Auth]
Type = "open-sesame"
`
	return c
}

func makeInvalidConfigAdminPasswordWithoutEmail() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "admin password without email"}
	c.envVarsError = errAdminPasswordWithoutEmail.Error()
	c.envVars = map[string]string{"INIT_ADMIN_PASSWORD": "hunter22"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Auth]
InitAdminPassword = "hunter22"
`
	return c
}

func makeInvalidConfigMalformedInitToken() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "malformed init token"}
	c.envVarsError = `client token "nocolon" must have the form`
	c.envVars = map[string]string{"INIT_CLIENT_API_TOKENS": "nocolon"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Auth]
InitClientTokens = "nocolon"
`
	return c
}

func makeInvalidConfigStreamingIntervalTooSmall() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "streaming interval too small"}
	c.envVarsError = "streaming interval cannot be less than 100ms"
	c.envVars = map[string]string{"STREAMING_INTERVAL": "10ms"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Streaming]
Interval = 10ms
`
	return c
}

func makeInvalidConfigImportWatchWithoutFile() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "import watch without file"}
	c.envVarsError = errImportWatchWithoutFile.Error()
	c.envVars = map[string]string{"IMPORT_WATCH": "true"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Import]
Watch = true
`
	return c
}

func makeInvalidConfigNTLMWithoutURL() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "NTLM without proxy URL"}
	c.envVarsError = errNTLMWithoutProxyURL.Error()
	c.envVars = map[string]string{
		"PROXY_AUTH_NTLM":     "1",
		"PROXY_AUTH_USER":     "u",
		"PROXY_AUTH_PASSWORD": "p",
	}
	c.fileError = c.envVarsError
	c.fileContent = `
[Proxy]
NTLMAuth = true
User = "u"
Password = "p"
`
	return c
}

func makeInvalidConfigBadDatabaseScheme() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "bad database scheme"}
	c.envVarsError = `database URL scheme must be postgres or postgresql, not "mysql"`
	c.envVars = map[string]string{"DATABASE_URL": "mysql://db/flagpole"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Database]
URL = "mysql://db/flagpole"
`
	return c
}

func makeInvalidConfigBadRedisScheme() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "bad Redis scheme"}
	c.envVarsError = `Redis URL scheme must be redis or rediss, not "http"`
	c.envVars = map[string]string{"REDIS_URL": "http://cache"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Redis]
URL = "http://cache"
`
	return c
}

func makeInvalidConfigBadTLSVersion() testDataInvalidConfig {
	c := testDataInvalidConfig{name: "bad TLS version"}
	c.envVarsError = `"x" is not a valid TLS version`
	c.envVars = map[string]string{"TLS_MIN_VERSION": "x"}
	c.fileError = c.envVarsError
	c.fileContent = `
[Main]
TLSMinVersion = x
`
	return c
}

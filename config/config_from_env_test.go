package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

func TestConfigFromEnvironmentWithValidProperties(t *testing.T) {
	for _, tdc := range makeValidConfigs() {
		t.Run(tdc.name, func(t *testing.T) {
			testValidConfigVars(t, tdc)
		})
	}
}

func TestConfigFromEnvironmentWithInvalidProperties(t *testing.T) {
	for _, tdc := range makeInvalidConfigs() {
		if len(tdc.envVars) != 0 {
			t.Run(tdc.name, func(t *testing.T) {
				testInvalidConfigVars(t, tdc.envVars, tdc.envVarsError)
			})
		}
	}
}

func TestConfigFromEnvironmentOverridesExistingSettings(t *testing.T) {
	t.Run("environment variable replaces file value", func(t *testing.T) {
		startingConfig := DefaultConfig()
		startingConfig.Main.Port = mustOptIntGreaterThanZero(1111)
		startingConfig.Database.MinConns = 3
		vars := map[string]string{"PORT": "2222"}
		withEnvironment(vars, func() {
			c := startingConfig
			err := LoadConfigFromEnvironment(&c, ldlog.NewDisabledLoggers())
			require.NoError(t, err)
			assert.Equal(t, 2222, c.Main.Port.GetOrElse(0))
			assert.Equal(t, 3, c.Database.MinConns)
		})
	})

	t.Run("unset variables leave defaults alone", func(t *testing.T) {
		withEnvironment(nil, func() {
			c := DefaultConfig()
			err := LoadConfigFromEnvironment(&c, ldlog.NewDisabledLoggers())
			require.NoError(t, err)
			assert.Equal(t, DefaultRedisChannel, c.Redis.Channel)
			assert.Equal(t, AuthTypeToken, c.Auth.Type)
			assert.False(t, c.Streaming.Interval.IsDefined())
		})
	})
}

func TestConfigFromEnvironmentFieldValidation(t *testing.T) {
	t.Run("allows boolean values 0/1 or true/false", func(t *testing.T) {
		testValidConfigVars(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Import.File = "f"; c.Import.Watch = true },
			envVars:    map[string]string{"IMPORT_FILE": "f", "IMPORT_WATCH": "true"},
		})
		testValidConfigVars(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Import.File = "f"; c.Import.Watch = true },
			envVars:    map[string]string{"IMPORT_FILE": "f", "IMPORT_WATCH": "1"},
		})
		testValidConfigVars(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Import.File = "f" },
			envVars:    map[string]string{"IMPORT_FILE": "f", "IMPORT_WATCH": "false"},
		})
	})

	t.Run("rejects invalid boolean value", func(t *testing.T) {
		testInvalidConfigVars(t,
			map[string]string{"IMPORT_WATCH": "x"},
			"IMPORT_WATCH: not a valid boolean",
		)
	})

	t.Run("parses valid int", func(t *testing.T) {
		testValidConfigVars(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Main.Port = mustOptIntGreaterThanZero(222) },
			envVars:    map[string]string{"PORT": "222"},
		})
	})

	t.Run("rejects invalid int", func(t *testing.T) {
		testInvalidConfigVars(t,
			map[string]string{"PORT": "not-numeric"},
			"PORT: not a valid integer",
		)
	})

	t.Run("rejects <=0 value for int that must be >0", func(t *testing.T) {
		testInvalidConfigVars(t,
			map[string]string{"PORT": "0"},
			"PORT: value must be greater than zero",
		)
	})

	t.Run("parses valid URI", func(t *testing.T) {
		testValidConfigVars(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Main.BaseURI = newOptURLAbsoluteMustBeValid("http://some/uri") },
			envVars:    map[string]string{"BASE_URI": "http://some/uri"},
		})
	})

	t.Run("rejects invalid URI", func(t *testing.T) {
		testInvalidConfigVars(t,
			map[string]string{"BASE_URI": "not/absolute"},
			"BASE_URI: must be an absolute URL/URI",
		)
	})

	t.Run("parses valid duration", func(t *testing.T) {
		testValidConfigVars(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Events.Retention = ct.NewOptDuration(3 * time.Second) },
			envVars:    map[string]string{"EVENT_RETENTION": "3s"},
		})
	})

	t.Run("rejects invalid duration", func(t *testing.T) {
		testInvalidConfigVars(t,
			map[string]string{"EVENT_RETENTION": "x"},
			"EVENT_RETENTION: not a valid duration",
		)
	})

	t.Run("parses valid log level", func(t *testing.T) {
		testValidConfigVars(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Main.LogLevel = NewOptLogLevel(ldlog.Debug) },
			envVars:    map[string]string{"LOG_LEVEL": "DEBUG"},
		})
	})

	t.Run("rejects invalid log level", func(t *testing.T) {
		testInvalidConfigVars(t,
			map[string]string{"LOG_LEVEL": "loud"},
			`LOG_LEVEL: "loud" is not a valid log level`,
		)
	})

	t.Run("rejects obsolete variable", func(t *testing.T) {
		testInvalidConfigVars(t,
			map[string]string{"INIT_API_TOKENS": "default:development.x"},
			"INIT_API_TOKENS: this variable is no longer supported; use INIT_ADMIN_API_TOKENS",
		)
	})
}

func testValidConfigVars(t *testing.T, tdc testDataValidConfig) {
	withEnvironment(tdc.envVars, func() {
		var c Config
		err := LoadConfigFromEnvironment(&c, ldlog.NewDisabledLoggers())
		require.NoError(t, err)
		tdc.assertResult(t, c)
	})
}

func testInvalidConfigVars(t *testing.T, vars map[string]string, errMessage string) {
	withEnvironment(vars, func() {
		var c Config
		err := LoadConfigFromEnvironment(&c, ldlog.NewDisabledLoggers())
		require.Error(t, err)
		assert.Contains(t, err.Error(), errMessage)
	})
}

func withEnvironment(vars map[string]string, action func()) {
	saved := make(map[string]string)
	for _, kv := range os.Environ() {
		p := strings.Index(kv, "=")
		saved[kv[:p]] = kv[p+1:]
	}
	defer func() {
		os.Clearenv()
		for k, v := range saved {
			os.Setenv(k, v)
		}
	}()
	os.Clearenv()
	for k, v := range vars {
		os.Setenv(k, v)
	}
	action()
}

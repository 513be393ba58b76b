package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	helpers "github.com/launchdarkly/go-test-helpers/v3"
)

func TestConfigFromFileWithValidProperties(t *testing.T) {
	for _, tdc := range makeValidConfigs() {
		t.Run(tdc.name, func(t *testing.T) {
			testFileWithValidConfig(t, tdc)
		})
	}
}

func TestConfigFromFileWithInvalidProperties(t *testing.T) {
	for _, tdc := range makeInvalidConfigs() {
		if tdc.fileContent != "" {
			t.Run(tdc.name, func(t *testing.T) {
				testFileWithInvalidConfig(t, tdc.fileContent, tdc.fileError)
			})
		}
	}
}

func TestConfigFromFileBasicValidation(t *testing.T) {
	t.Run("raises error for unknown config section", func(t *testing.T) {
		testFileWithInvalidConfig(t,
			`[Unknown]
`,
			`unsupported or misspelled section "Unknown"`,
		)
	})

	t.Run("raises error for unknown config field", func(t *testing.T) {
		testFileWithInvalidConfig(t,
			`[Main]
Colour = "blue"`,
			`unsupported or misspelled section "Main", variable "Colour"`,
		)
	})

	t.Run("parses valid duration", func(t *testing.T) {
		testFileWithValidConfig(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Streaming.MaxConnectionTime = ct.NewOptDuration(90 * time.Second) },
			fileContent: `[Streaming]
MaxConnectionTime = 90s`,
		})
	})

	t.Run("rejects invalid duration", func(t *testing.T) {
		testFileWithInvalidConfig(t,
			`[Streaming]
MaxConnectionTime = "x"`,
			"not a valid duration",
		)
	})

	t.Run("rejects <=0 value for int that must be >0", func(t *testing.T) {
		testFileWithInvalidConfig(t,
			`[Main]
Port = "-1"`,
			"value must be greater than zero",
		)
	})

	t.Run("parses auth type case-insensitively", func(t *testing.T) {
		testFileWithValidConfig(t, testDataValidConfig{
			makeConfig: func(c *Config) { c.Auth.Type = AuthTypeNone },
			fileContent: `[Auth]
Type = "NONE"`,
		})
	})

	t.Run("reports missing file", func(t *testing.T) {
		var c Config
		err := LoadConfigFile(&c, "/no/such/file.conf", ldlog.NewDisabledLoggers())
		require.Error(t, err)
		assert.Contains(t, err.Error(), `failed to read configuration file "/no/such/file.conf"`)
	})
}

func TestConfigFromString(t *testing.T) {
	var c Config
	err := LoadConfigString(&c, "[Experimental]\nFlags = streaming\n", ldlog.NewDisabledLoggers())
	require.NoError(t, err)
	assert.True(t, c.Experimental.IsExperimentalFlagEnabled("streaming"))
	assert.False(t, c.Experimental.IsExperimentalFlagEnabled("other"))
}

func testFileWithValidConfig(t *testing.T, tdc testDataValidConfig) {
	helpers.WithTempFile(func(filename string) {
		require.NoError(t, os.WriteFile(filename, []byte(tdc.fileContent), 0))

		var c Config
		err := LoadConfigFile(&c, filename, ldlog.NewDisabledLoggers())
		require.NoError(t, err)
		tdc.assertResult(t, c)
	})
}

func testFileWithInvalidConfig(t *testing.T, fileContent string, errMessage string) {
	helpers.WithTempFile(func(filename string) {
		require.NoError(t, os.WriteFile(filename, []byte(fileContent), 0))

		var c Config
		err := LoadConfigFile(&c, filename, ldlog.NewDisabledLoggers())
		require.Error(t, err)
		assert.Contains(t, err.Error(), errMessage)
	})
}

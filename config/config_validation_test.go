package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"
)

func TestValidateConfigFillsDefaults(t *testing.T) {
	var c Config
	require.NoError(t, ValidateConfig(&c, ldlog.NewDisabledLoggers()))
	assert.Equal(t, DefaultRedisChannel, c.Redis.Channel)
	assert.Equal(t, AuthTypeToken, c.Auth.Type)
}

func TestValidateConfigWarnings(t *testing.T) {
	t.Run("auth disabled", func(t *testing.T) {
		mockLog := ldlogtest.NewMockLog()
		c := Config{Auth: AuthConfig{Type: AuthTypeNone}}
		require.NoError(t, ValidateConfig(&c, mockLog.Loggers))
		mockLog.AssertMessageMatch(t, true, ldlog.Warn, "Authentication is disabled")
	})

	t.Run("init admin tokens ignored", func(t *testing.T) {
		mockLog := ldlogtest.NewMockLog()
		c := Config{Auth: AuthConfig{
			DisableAdminTokens: true,
			InitAdminTokens:    ct.NewOptStringList([]string{"*:*.secret"}),
		}}
		require.NoError(t, ValidateConfig(&c, mockLog.Loggers))
		mockLog.AssertMessageMatch(t, true, ldlog.Warn, "InitAdminTokens will be ignored")
	})
}

func TestValidateConfigDatabaseConnections(t *testing.T) {
	c := Config{Database: DatabaseConfig{MaxConns: mustOptIntGreaterThanZero(2), MinConns: 5}}
	err := ValidateConfig(&c, ldlog.NewDisabledLoggers())
	require.Error(t, err)
	assert.Contains(t, err.Error(), errDatabaseMinAboveMax.Error())
}

func TestIsWellFormedTokenSecret(t *testing.T) {
	for _, s := range []string{"default:development.abc", "*:*.abc", "[]:production.x"} {
		assert.True(t, IsWellFormedTokenSecret(s), s)
	}
	for _, s := range []string{"", "abc", ":development.abc", "default:.abc", "default:development.", "default:development"} {
		assert.False(t, IsWellFormedTokenSecret(s), s)
	}
}

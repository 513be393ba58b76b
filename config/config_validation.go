package config

import (
	"errors"
	"fmt"
	"strings"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

var (
	errTLSEnabledWithoutCertOrKey = errors.New("TLS cert and key are required if TLS is enabled")
	errAdminPasswordWithoutEmail  = errors.New("InitAdminPassword requires InitAdminEmail")
	errAdminEmailWithoutPassword  = errors.New("InitAdminEmail requires InitAdminPassword")
	errNTLMWithoutProxyURL        = errors.New("NTLM proxy authentication requires a proxy URL")
	errNTLMWithoutCredentials     = errors.New("NTLM proxy authentication requires a user and password")
	errImportWatchWithoutFile     = errors.New("Import.Watch requires Import.File") //nolint:stylecheck
	errDatabaseMinAboveMax        = errors.New("database MinConns cannot be greater than MaxConns")
)

func errBadDatabaseScheme(scheme string) error {
	return fmt.Errorf("database URL scheme must be postgres or postgresql, not %q", scheme)
}

func errBadRedisScheme(scheme string) error {
	return fmt.Errorf("Redis URL scheme must be redis or rediss, not %q", scheme) //nolint:stylecheck
}

func errStreamingIntervalTooSmall(min fmt.Stringer) error {
	return fmt.Errorf("streaming interval cannot be less than %s", min)
}

func errBadInitToken(kind, token string) error {
	return fmt.Errorf("%s token %q must have the form \"<project>:<environment>.<secret>\"", kind, token)
}

// ValidateConfig ensures that the configuration does not contain contradictory properties.
//
// This covers rules that can't be enforced on a per-field basis. It is allowed to modify the Config
// struct to canonicalize settings, such as filling in the default Redis channel.
//
// LoadConfigFromEnvironment and LoadConfigFile both call this method as a last step, but server.New
// calls it again because a Config can also be constructed programmatically.
func ValidateConfig(c *Config, loggers ldlog.Loggers) error {
	var result ct.ValidationResult

	validateConfigTLS(&result, c)
	validateConfigDatabase(&result, c)
	validateConfigRedis(&result, c)
	validateConfigAuth(&result, c, loggers)
	validateConfigStreaming(&result, c)
	validateConfigImport(&result, c)
	validateConfigProxy(&result, c)

	return result.GetError()
}

func validateConfigTLS(result *ct.ValidationResult, c *Config) {
	if c.Main.TLSEnabled && (c.Main.TLSCert == "" || c.Main.TLSKey == "") {
		result.AddError(nil, errTLSEnabledWithoutCertOrKey)
	}
}

func validateConfigDatabase(result *ct.ValidationResult, c *Config) {
	if u := c.Database.URL.Get(); u != nil {
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			result.AddError(ct.ValidationPath{"Database", "URL"}, errBadDatabaseScheme(u.Scheme))
		}
	}
	if c.Database.MaxConns.IsDefined() && c.Database.MinConns > c.Database.MaxConns.GetOrElse(0) {
		result.AddError(nil, errDatabaseMinAboveMax)
	}
}

func validateConfigRedis(result *ct.ValidationResult, c *Config) {
	if u := c.Redis.URL.Get(); u != nil {
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			result.AddError(ct.ValidationPath{"Redis", "URL"}, errBadRedisScheme(u.Scheme))
		}
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = DefaultRedisChannel
	}
}

func validateConfigAuth(result *ct.ValidationResult, c *Config, loggers ldlog.Loggers) {
	if c.Auth.Type == "" {
		c.Auth.Type = AuthTypeToken
	}
	if c.Auth.InitAdminPassword != "" && c.Auth.InitAdminEmail == "" {
		result.AddError(nil, errAdminPasswordWithoutEmail)
	}
	if c.Auth.InitAdminEmail != "" && c.Auth.InitAdminPassword == "" {
		result.AddError(nil, errAdminEmailWithoutPassword)
	}
	checkTokens := func(kind string, tokens ct.OptStringList) {
		for _, t := range tokens.Values() {
			if !IsWellFormedTokenSecret(t) {
				result.AddError(nil, errBadInitToken(kind, t))
			}
		}
	}
	checkTokens("admin", c.Auth.InitAdminTokens)
	checkTokens("client", c.Auth.InitClientTokens)
	checkTokens("frontend", c.Auth.InitFrontendTokens)

	if c.Auth.Type == AuthTypeNone {
		loggers.Warn("Authentication is disabled; every caller is treated as an administrator")
	}
	if c.Auth.DisableAdminTokens && len(c.Auth.InitAdminTokens.Values()) != 0 {
		loggers.Warn("Admin API tokens are disabled; InitAdminTokens will be ignored")
	}
}

func validateConfigStreaming(result *ct.ValidationResult, c *Config) {
	if c.Streaming.Interval.IsDefined() && c.Streaming.Interval.GetOrElse(0) < MinimumStreamingInterval {
		result.AddError(ct.ValidationPath{"Streaming", "Interval"},
			errStreamingIntervalTooSmall(MinimumStreamingInterval))
	}
}

func validateConfigImport(result *ct.ValidationResult, c *Config) {
	if c.Import.Watch && c.Import.File == "" {
		result.AddError(nil, errImportWatchWithoutFile)
	}
}

func validateConfigProxy(result *ct.ValidationResult, c *Config) {
	if !c.Proxy.NTLMAuth {
		return
	}
	if !c.Proxy.URL.IsDefined() {
		result.AddError(nil, errNTLMWithoutProxyURL)
	}
	if c.Proxy.User == "" || c.Proxy.Password == "" {
		result.AddError(nil, errNTLMWithoutCredentials)
	}
}

// IsWellFormedTokenSecret reports whether s has the "<project>:<environment>.<secret>" shape used by
// API token secrets. The project part may be "*" and, for admin tokens, so may the environment.
func IsWellFormedTokenSecret(s string) bool {
	colon := strings.Index(s, ":")
	if colon <= 0 {
		return false
	}
	rest := s[colon+1:]
	dot := strings.Index(rest, ".")
	return dot > 0 && dot < len(rest)-1
}

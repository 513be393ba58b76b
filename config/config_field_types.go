package config

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// AuthType selects how the admin and client APIs authenticate callers.
type AuthType string

const (
	// AuthTypeToken requires an API token (or, for the admin API, user credentials) on every request.
	AuthTypeToken AuthType = "token"

	// AuthTypeNone treats every caller as an administrator. Only intended for local development.
	AuthTypeNone AuthType = "none"
)

// UnmarshalText accepts "token" or "none" (case-insensitive). An empty string means AuthTypeToken.
func (a *AuthType) UnmarshalText(data []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(data)))
	switch s {
	case "", string(AuthTypeToken):
		*a = AuthTypeToken
	case string(AuthTypeNone):
		*a = AuthTypeNone
	default:
		return errBadAuthType(string(data))
	}
	return nil
}

// OptLogLevel represents an optional log level parameter. It must match one of the level names "debug",
// "info", "warn", "error", or "none" (case-insensitive).
//
// The zero value OptLogLevel{} is valid and undefined (IsDefined() is false).
type OptLogLevel struct {
	level ldlog.LogLevel
}

// NewOptLogLevel creates an OptLogLevel that wraps the given value.
func NewOptLogLevel(level ldlog.LogLevel) OptLogLevel {
	return OptLogLevel{level: level}
}

// NewOptLogLevelFromString creates an OptLogLevel from a string that must either be a valid log level
// name or an empty string.
func NewOptLogLevelFromString(levelName string) (OptLogLevel, error) {
	if levelName == "" {
		return OptLogLevel{}, nil
	}
	for _, level := range []ldlog.LogLevel{ldlog.Debug, ldlog.Info, ldlog.Warn, ldlog.Error, ldlog.None} {
		if strings.EqualFold(level.Name(), levelName) {
			return NewOptLogLevel(level), nil
		}
	}
	return OptLogLevel{}, errBadLogLevel(levelName)
}

// IsDefined returns true if the instance contains a value.
func (o OptLogLevel) IsDefined() bool {
	return o.level != 0
}

// GetOrElse returns the wrapped value, or the alternative value if there is no value.
func (o OptLogLevel) GetOrElse(orElseValue ldlog.LogLevel) ldlog.LogLevel {
	if o.level == 0 {
		return orElseValue
	}
	return o.level
}

// UnmarshalText attempts to parse the value from a byte string, using the same logic as
// NewOptLogLevelFromString.
func (o *OptLogLevel) UnmarshalText(data []byte) error {
	opt, err := NewOptLogLevelFromString(string(data))
	if err == nil {
		*o = opt
	}
	return err
}

// OptTLSVersion represents an optional minimum TLS version, written as "1.0" through "1.3".
//
// The zero value OptTLSVersion{} is valid and undefined.
type OptTLSVersion struct {
	value uint16
}

// NewOptTLSVersion creates an OptTLSVersion that wraps one of the crypto/tls version constants.
func NewOptTLSVersion(value uint16) OptTLSVersion {
	return OptTLSVersion{value: value}
}

// NewOptTLSVersionFromString parses a version name such as "1.2". An empty string is undefined.
func NewOptTLSVersionFromString(name string) (OptTLSVersion, error) {
	switch name {
	case "":
		return OptTLSVersion{}, nil
	case "1.0":
		return NewOptTLSVersion(tls.VersionTLS10), nil
	case "1.1":
		return NewOptTLSVersion(tls.VersionTLS11), nil
	case "1.2":
		return NewOptTLSVersion(tls.VersionTLS12), nil
	case "1.3":
		return NewOptTLSVersion(tls.VersionTLS13), nil
	default:
		return OptTLSVersion{}, errBadTLSVersion(name)
	}
}

// IsDefined returns true if the instance contains a value.
func (o OptTLSVersion) IsDefined() bool {
	return o.value != 0
}

// Get returns the wrapped value, or zero if undefined.
func (o OptTLSVersion) Get() uint16 {
	return o.value
}

// String returns the version name, or "" if undefined.
func (o OptTLSVersion) String() string {
	switch o.value {
	case tls.VersionTLS10:
		return "1.0"
	case tls.VersionTLS11:
		return "1.1"
	case tls.VersionTLS12:
		return "1.2"
	case tls.VersionTLS13:
		return "1.3"
	case 0:
		return ""
	default:
		return fmt.Sprintf("0x%x", o.value)
	}
}

// UnmarshalText attempts to parse the value from a byte string, using the same logic as
// NewOptTLSVersionFromString.
func (o *OptTLSVersion) UnmarshalText(data []byte) error {
	opt, err := NewOptTLSVersionFromString(string(data))
	if err == nil {
		*o = opt
	}
	return err
}

func errBadLogLevel(s string) error {
	return fmt.Errorf("%q is not a valid log level", s)
}

func errBadTLSVersion(s string) error {
	return fmt.Errorf("%q is not a valid TLS version", s)
}

func errBadAuthType(s string) error {
	return fmt.Errorf("%q is not a valid auth type (expected \"token\" or \"none\")", s)
}

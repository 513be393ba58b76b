// Package httpconfig builds the HTTP client used for outgoing requests, such as addon webhooks, from the
// proxy configuration.
package httpconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	ntlm "github.com/launchdarkly/go-ntlm-proxy-auth"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/util"
	"github.com/flagpole-io/flagpole/internal/version"
)

const (
	// DefaultConnectTimeout is the dial timeout for outgoing connections.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultRequestTimeout is the overall timeout of an outgoing request.
	DefaultRequestTimeout = 10 * time.Second
)

var (
	errProxyAuthWithoutProxyURL        = errors.New("cannot specify proxy authentication without a proxy URL")
	errNTLMProxyAuthWithoutCredentials = errors.New("NTLM proxy authentication requires username and password")
)

func errInvalidCACert(path string) error {
	return fmt.Errorf("invalid CA certificate data in %s", path)
}

// HTTPConfig encapsulates ProxyConfig plus the other options of outgoing HTTP clients.
type HTTPConfig struct {
	ProxyConfig config.ProxyConfig
	ProxyURL    *url.URL
	UserAgent   string
	tlsConfig   *tls.Config
}

// NewHTTPConfig validates all of the HTTP-related options and returns an HTTPConfig if successful.
func NewHTTPConfig(proxyConfig config.ProxyConfig, userAgent string, loggers ldlog.Loggers) (HTTPConfig, error) {
	ret := HTTPConfig{ProxyConfig: proxyConfig, UserAgent: "Flagpole/" + version.Version}
	if userAgent != "" {
		ret.UserAgent = userAgent + " " + ret.UserAgent
	}

	if !proxyConfig.URL.IsDefined() && proxyConfig.NTLMAuth {
		return ret, errProxyAuthWithoutProxyURL
	}
	if proxyConfig.URL.IsDefined() {
		loggers.Infof("Using proxy server at %s", util.RedactURL(proxyConfig.URL.String()))
		ret.ProxyURL = proxyConfig.URL.Get()
	}
	if proxyConfig.NTLMAuth {
		if proxyConfig.User == "" || proxyConfig.Password == "" {
			return ret, errNTLMProxyAuthWithoutCredentials
		}
		loggers.Info("NTLM proxy authentication enabled")
	}

	caCertFiles := proxyConfig.CACertFiles.Values()
	if len(caCertFiles) != 0 {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		for _, path := range caCertFiles {
			data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
			if err != nil {
				return ret, fmt.Errorf("can't read CA certificate file %s: %w", path, err)
			}
			if !pool.AppendCertsFromPEM(data) {
				return ret, errInvalidCACert(path)
			}
		}
		ret.tlsConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return ret, nil
}

// Client creates a new HTTP client instance based on the configuration.
func (c HTTPConfig) Client() *http.Client {
	dialer := &net.Dialer{
		Timeout:   DefaultConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       c.tlsConfig,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if c.ProxyURL != nil {
		if c.ProxyConfig.NTLMAuth {
			transport.DialContext = ntlm.NewNTLMProxyDialContext(dialer, *c.ProxyURL,
				c.ProxyConfig.User, c.ProxyConfig.Password, c.ProxyConfig.Domain, c.tlsConfig)
		} else {
			transport.Proxy = http.ProxyURL(c.ProxyURL)
		}
	}
	return &http.Client{
		Transport: userAgentTransport{base: transport, userAgent: c.UserAgent},
		Timeout:   DefaultRequestTimeout,
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		r := req.Clone(req.Context())
		r.Header.Set("User-Agent", t.userAgent)
		req = r
	}
	return t.base.RoundTrip(req)
}

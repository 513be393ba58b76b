package application

import (
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"
	helpers "github.com/launchdarkly/go-test-helpers/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/sharedtest"
)

func TestReadOptions(t *testing.T) {
	sharedtest.WithTempDir(func(dir string) {
		existing := filepath.Join(dir, "flagpole.conf")
		require.NoError(t, os.WriteFile(existing, []byte("[Main]\n"), 0o600))
		missing := filepath.Join(dir, "nope.conf")

		t.Run("file", func(t *testing.T) {
			o, err := ReadOptions([]string{"--config", existing})
			require.NoError(t, err)
			assert.Equal(t, Options{ConfigFile: existing}, o)
			assert.Equal(t, "configuration file "+existing, o.DescribeConfigSource())
		})

		t.Run("file plus environment", func(t *testing.T) {
			o, err := ReadOptions([]string{"--config", existing, "--from-env"})
			require.NoError(t, err)
			assert.Equal(t, Options{ConfigFile: existing, UseEnvironment: true}, o)
			assert.Equal(t, "configuration file "+existing+" plus environment variables", o.DescribeConfigSource())
		})

		t.Run("environment only", func(t *testing.T) {
			o, err := ReadOptions([]string{"--from-env"})
			require.NoError(t, err)
			assert.Equal(t, Options{UseEnvironment: true}, o)
			assert.Equal(t, "configuration from environment variables", o.DescribeConfigSource())
		})

		t.Run("missing file", func(t *testing.T) {
			_, err := ReadOptions([]string{"--config", missing})
			assert.Error(t, err)
		})

		t.Run("missing file allowed", func(t *testing.T) {
			o, err := ReadOptions([]string{"--config", missing, "--allow-missing-file"})
			require.NoError(t, err)
			assert.Equal(t, "", o.ConfigFile)
			assert.Equal(t, "default configuration", o.DescribeConfigSource())
		})

		t.Run("unknown flag", func(t *testing.T) {
			_, err := ReadOptions([]string{"--bogus"})
			assert.Error(t, err)
		})
	})
}

func TestDescribeVersion(t *testing.T) {
	assert.Equal(t, "1.4.0", DescribeVersion("1.4.0"))
	assert.Equal(t, "1.4.0 (build 999)", DescribeVersion("1.4.0+999"))
}

func TestServerParamsFromConfig(t *testing.T) {
	p := ServerParamsFromConfig(config.MainConfig{})
	assert.Equal(t, ServerParams{Port: config.DefaultPort, ReadHeaderTimeout: config.DefaultReadHeaderTimeout}, p)

	port, err := ct.NewOptIntGreaterThanZero(9000)
	require.NoError(t, err)
	p = ServerParamsFromConfig(config.MainConfig{
		Port:              port,
		TLSEnabled:        true,
		TLSCert:           "cert.pem",
		TLSKey:            "key.pem",
		TLSMinVersion:     config.NewOptTLSVersion(tls.VersionTLS12),
		ReadHeaderTimeout: ct.NewOptDuration(time.Second),
	})
	assert.Equal(t, ServerParams{
		Port:              9000,
		TLSEnabled:        true,
		TLSCertFile:       "cert.pem",
		TLSKeyFile:        "key.pem",
		TLSMinVersion:     tls.VersionTLS12,
		ReadHeaderTimeout: time.Second,
	}, p)
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestStartHTTPServer(t *testing.T) {
	mockLog := ldlogtest.NewMockLog()
	port := freePort(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	srv, errCh := StartHTTPServer(ServerParams{Port: port, ReadHeaderTimeout: time.Second}, handler, mockLog.Loggers)
	defer srv.Close() //nolint:errcheck

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:gosec,noctx
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusTeapot
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Close())
	helpers.AssertNoMoreValues(t, errCh, 50*time.Millisecond, "closing the server should not report an error")
	mockLog.AssertMessageMatch(t, true, ldlog.Info, "Starting server listening on port")
}

func TestStartHTTPServerReportsListenError(t *testing.T) {
	mockLog := ldlogtest.NewMockLog()
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close() //nolint:errcheck
	port := l.Addr().(*net.TCPAddr).Port

	srv, errCh := StartHTTPServer(ServerParams{Port: port}, http.NotFoundHandler(), mockLog.Loggers)
	defer srv.Close() //nolint:errcheck
	err = helpers.RequireValue(t, errCh, time.Second, "expected listen error")
	assert.Error(t, err)
}

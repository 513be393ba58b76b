package application

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/flagpole-io/flagpole/config"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// ServerParams describes the listener created by StartHTTPServer.
type ServerParams struct {
	Port              int
	TLSEnabled        bool
	TLSCertFile       string
	TLSKeyFile        string
	TLSMinVersion     uint16
	ReadHeaderTimeout time.Duration
}

// ServerParamsFromConfig resolves the listener settings of the main configuration, applying defaults.
func ServerParamsFromConfig(c config.MainConfig) ServerParams {
	return ServerParams{
		Port:              c.Port.GetOrElse(config.DefaultPort),
		TLSEnabled:        c.TLSEnabled,
		TLSCertFile:       c.TLSCert,
		TLSKeyFile:        c.TLSKey,
		TLSMinVersion:     c.TLSMinVersion.Get(),
		ReadHeaderTimeout: c.ReadHeaderTimeout.GetOrElse(config.DefaultReadHeaderTimeout),
	}
}

// StartHTTPServer starts the server, with or without TLS. It returns immediately, starting the server
// on a separate goroutine; if the server fails to start up, it sends an error to the error channel.
func StartHTTPServer(
	params ServerParams,
	handler http.Handler,
	loggers ldlog.Loggers,
) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", params.Port),
		Handler:           handler,
		ReadHeaderTimeout: params.ReadHeaderTimeout,
	}

	if params.TLSEnabled && params.TLSMinVersion != 0 {
		srv.TLSConfig = &tls.Config{ //nolint:gosec // linter doesn't want to see MinVersion being set to a variable
			MinVersion: params.TLSMinVersion,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		loggers.Infof("Starting server listening on port %d", params.Port)
		if params.TLSEnabled {
			message := "TLS enabled for server"
			if params.TLSMinVersion != 0 {
				message += fmt.Sprintf(" (minimum TLS version: %s)", config.NewOptTLSVersion(params.TLSMinVersion).String())
			}
			loggers.Info(message)
			err = srv.ListenAndServeTLS(params.TLSCertFile, params.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return srv, errCh
}

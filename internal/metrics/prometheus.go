package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"go.opencensus.io/stats/view"

	"github.com/flagpole-io/flagpole/config"
)

var prometheusExporterType exporterType = prometheusExporterTypeImpl{} //nolint:gochecknoglobals

type prometheusExporterTypeImpl struct{}

type prometheusExporterImpl struct {
	exporter *prometheus.Exporter
	server   *http.Server
	loggers  ldlog.Loggers
}

func (p prometheusExporterTypeImpl) getName() string {
	return "Prometheus"
}

func (p prometheusExporterTypeImpl) createExporterIfEnabled(
	mc config.MetricsConfig,
	loggers ldlog.Loggers,
) (exporter, error) {
	if !mc.Prometheus.Enabled {
		return nil, nil
	}

	port := mc.Prometheus.Port.GetOrElse(config.DefaultPrometheusPort)

	e, err := prometheus.NewExporter(prometheus.Options{
		Namespace: getPrefix(mc.Prometheus.Prefix),
		OnError: func(err error) {
			loggers.Errorf("Prometheus exporter error: %s", err)
		},
	})
	if err != nil {
		return nil, err
	}

	exporterMux := http.NewServeMux()
	exporterMux.Handle("/metrics", e)

	return &prometheusExporterImpl{
		exporter: e,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           exporterMux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		loggers: loggers,
	}, nil
}

func (p *prometheusExporterImpl) register() error {
	listener, err := net.Listen("tcp", p.server.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := p.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			p.loggers.Errorf("Prometheus listener stopped: %s", err)
		}
	}()

	// Prometheus scrapes us, so only views are exported; there is no trace exporter.
	view.RegisterExporter(p.exporter)
	return nil
}

func (p *prometheusExporterImpl) close() error {
	view.UnregisterExporter(p.exporter)
	return p.server.Close()
}

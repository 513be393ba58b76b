package metrics

import (
	datadog "github.com/DataDog/opencensus-go-exporter-datadog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	stackdriver "github.com/launchdarkly/opencensus-go-exporter-stackdriver"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"

	"github.com/flagpole-io/flagpole/config"
)

// Datadog and Stackdriver receive both view data and trace spans pushed from this process.

//nolint:gochecknoglobals
var (
	datadogExporterType exporterType = pushExporterType{
		name: "Datadog",
		create: func(mc config.MetricsConfig, loggers ldlog.Loggers) (pushTarget, func(), error) {
			if !mc.Datadog.Enabled {
				return nil, nil, nil
			}
			e, err := datadog.NewExporter(datadog.Options{
				Namespace: getPrefix(mc.Datadog.Prefix),
				Service:   getPrefix(mc.Datadog.Prefix),
				TraceAddr: mc.Datadog.TraceAddr,
				StatsAddr: mc.Datadog.StatsAddr,
				Tags:      mc.Datadog.Tag,
				OnError: func(err error) {
					loggers.Errorf("Datadog exporter error: %s", err)
				},
			})
			if err != nil {
				return nil, nil, err
			}
			return e, e.Stop, nil
		},
	}

	stackdriverExporterType exporterType = pushExporterType{
		name: "Stackdriver",
		create: func(mc config.MetricsConfig, loggers ldlog.Loggers) (pushTarget, func(), error) {
			if !mc.Stackdriver.Enabled {
				return nil, nil, nil
			}
			e, err := stackdriver.NewExporter(stackdriver.Options{
				MetricPrefix: getPrefix(mc.Stackdriver.Prefix),
				ProjectID:    mc.Stackdriver.ProjectID,
				OnError: func(err error) {
					loggers.Errorf("Stackdriver exporter error: %s", err)
				},
			})
			if err != nil {
				return nil, nil, err
			}
			return e, e.Flush, nil
		},
	}
)

type pushTarget interface {
	view.Exporter
	trace.Exporter
}

type pushExporterType struct {
	name   string
	create func(config.MetricsConfig, ldlog.Loggers) (pushTarget, func(), error)
}

type pushExporter struct {
	target pushTarget
	stop   func()
}

func (t pushExporterType) getName() string { return t.name }

func (t pushExporterType) createExporterIfEnabled(mc config.MetricsConfig, loggers ldlog.Loggers) (exporter, error) {
	target, stop, err := t.create(mc, loggers)
	if err != nil || target == nil {
		return nil, err
	}
	return &pushExporter{target: target, stop: stop}, nil
}

func (e *pushExporter) register() error {
	view.RegisterExporter(e.target)
	trace.RegisterExporter(e.target)
	return nil
}

func (e *pushExporter) close() error {
	view.UnregisterExporter(e.target)
	trace.UnregisterExporter(e.target)
	if e.stop != nil {
		e.stop()
	}
	return nil
}

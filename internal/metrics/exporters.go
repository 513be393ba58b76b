package metrics

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/config"
)

// exporterType is one metrics backend that the configuration can enable.
type exporterType interface {
	getName() string
	// createExporterIfEnabled returns nil, nil when the backend is disabled.
	createExporterIfEnabled(config.MetricsConfig, ldlog.Loggers) (exporter, error)
}

type exporter interface {
	register() error
	close() error
}

type activeExporter struct {
	name string
	exporter
}

// exportersSet holds registered exporters in registration order.
type exportersSet []activeExporter

func allExporterTypes() []exporterType {
	return []exporterType{datadogExporterType, prometheusExporterType, stackdriverExporterType}
}

// registerExporters creates and registers every enabled exporter. If any of them fails, the ones
// already registered are closed again.
func registerExporters(types []exporterType, mc config.MetricsConfig, loggers ldlog.Loggers) (exportersSet, error) {
	var set exportersSet
	fail := func(action, name string, err error) (exportersSet, error) {
		loggers.Errorf("Error %s %s metrics exporter: %s", action, name, err)
		closeExporters(set, loggers)
		return nil, err
	}
	for _, t := range types {
		name := t.getName()
		e, err := t.createExporterIfEnabled(mc, loggers)
		if err != nil {
			return fail("creating", name, err)
		}
		if e == nil {
			continue
		}
		set = append(set, activeExporter{name: name, exporter: e})
		if err := e.register(); err != nil {
			return fail("registering", name, err)
		}
		loggers.Infof("Successfully registered %s metrics exporter", name)
	}
	return set, nil
}

// closeExporters closes exporters in reverse order of registration.
func closeExporters(set exportersSet, loggers ldlog.Loggers) {
	for i := len(set) - 1; i >= 0; i-- {
		if err := set[i].close(); err != nil {
			loggers.Errorf("Error closing %s metrics exporter: %s", set[i].name, err)
		}
	}
}

// getPrefix returns the configured metric name prefix, or the default one.
func getPrefix(prefix string) string {
	if prefix == "" {
		return defaultMetricsPrefix
	}
	return prefix
}

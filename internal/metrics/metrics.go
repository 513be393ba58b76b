// Package metrics records OpenCensus measures for API requests, streaming connections and delta
// responses, and manages the configured exporters.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/pborman/uuid"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/flagpole-io/flagpole/config"
)

func errInitMetricsViews(err error) error {
	return fmt.Errorf("error registering metrics views: %w", err)
}

// Manager controls all metrics exporter activity. It is created by the server at startup and closed
// at shutdown.
type Manager struct {
	openCensusCtx context.Context
	instanceID    string
	exporters     exportersSet
	loggers       ldlog.Loggers
	closeOnce     sync.Once
	lock          sync.Mutex
}

// NewManager registers the exporters enabled in the configuration and the metrics views.
func NewManager(metricsConfig config.MetricsConfig, loggers ldlog.Loggers) (*Manager, error) {
	return newManager(allExporterTypes(), metricsConfig, loggers)
}

func newManager(
	exporterTypes []exporterType,
	metricsConfig config.MetricsConfig,
	loggers ldlog.Loggers,
) (*Manager, error) {
	instanceID := uuid.New()

	exporters, err := registerExporters(exporterTypes, metricsConfig, loggers)
	if err != nil {
		return nil, err
	}

	registerViewsOnce.Do(func() {
		err = view.Register(getViews()...)
	})
	if err != nil {
		closeExporters(exporters, loggers)
		return nil, errInitMetricsViews(err)
	}

	ctx, _ := tag.New(context.Background(), tag.Insert(instanceIDTagKey, instanceID))
	return &Manager{
		openCensusCtx: ctx,
		instanceID:    instanceID,
		exporters:     exporters,
		loggers:       loggers,
	}, nil
}

// GetOpenCensusContext returns the Context to record measures with. It carries the instance ID tag.
func (m *Manager) GetOpenCensusContext() context.Context {
	return m.openCensusCtx
}

// InstanceID returns the random identifier of this server instance.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Close unregisters and closes all exporters.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.lock.Lock()
		exporters := m.exporters
		m.exporters = nil
		m.lock.Unlock()
		closeExporters(exporters, m.loggers)
	})
}

// Pad empty keys to match tag keyset cardinality since empty strings are dropped
func sanitizeTagValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return "_"
	}
	return strings.ReplaceAll(v, "/", "_")
}

package model

import "time"

// ClientMetricsEntry aggregates evaluation counts for one feature, application and environment over
// one hour.
type ClientMetricsEntry struct {
	FeatureName string    `json:"featureName"`
	AppName     string    `json:"appName"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
	Yes         int64     `json:"yes"`
	No          int64     `json:"no"`
}

// ClientApplication is an SDK instance that has registered itself.
type ClientApplication struct {
	AppName     string    `json:"appName" validate:"required,max=255"`
	InstanceID  string    `json:"instanceId" validate:"max=255"`
	SDKVersion  string    `json:"sdkVersion,omitempty" validate:"max=255"`
	Environment string    `json:"environment"`
	Strategies  []string  `json:"strategies"`
	Interval    int64     `json:"interval"`
	Started     time.Time `json:"started"`
	SeenAt      time.Time `json:"seenAt"`
}

// ClientMetricsBucket is the usage report an SDK posts periodically.
type ClientMetricsBucket struct {
	Start   time.Time                `json:"start" validate:"required"`
	Stop    time.Time                `json:"stop" validate:"required"`
	Toggles map[string]ToggleCounter `json:"toggles"`
}

// ToggleCounter counts positive and negative evaluations of one toggle.
type ToggleCounter struct {
	Yes int64 `json:"yes" validate:"min=0"`
	No  int64 `json:"no" validate:"min=0"`
}

// ClientMetricsReport is the body of POST /api/client/metrics.
type ClientMetricsReport struct {
	AppName     string              `json:"appName" validate:"required,max=255"`
	InstanceID  string              `json:"instanceId" validate:"max=255"`
	Environment string              `json:"environment,omitempty"`
	Bucket      ClientMetricsBucket `json:"bucket"`
}

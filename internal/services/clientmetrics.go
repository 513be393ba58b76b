package services

import (
	"context"
	"sort"
	"time"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// MaxMetricsHours is the longest window FeatureMetrics reports on.
const MaxMetricsHours = 48

// ClientMetricsService records SDK registrations and usage counts.
type ClientMetricsService struct {
	base
}

// FeatureUsage is the hourly usage of one feature.
type FeatureUsage struct {
	FeatureName string                     `json:"featureName"`
	Hours       int                        `json:"hours"`
	Data        []model.ClientMetricsEntry `json:"data"`
}

// RegisterApplication records an SDK instance. The environment is the one of the token it used.
func (s *ClientMetricsService) RegisterApplication(ctx context.Context, app model.ClientApplication, environment string) error {
	if err := validation.Struct(app); err != nil {
		return err
	}
	now := s.now().UTC()
	app.Environment = environment
	app.SeenAt = now
	if app.Started.IsZero() {
		app.Started = now
	}
	if app.Strategies == nil {
		app.Strategies = []string{}
	}
	return s.store.Update(ctx, func(tx store.Tx) error {
		return tx.UpsertClientApplication(ctx, app)
	})
}

// RecordMetrics adds the counts of a usage report to the hour that contains the bucket start.
func (s *ClientMetricsService) RecordMetrics(ctx context.Context, report model.ClientMetricsReport, environment string) error {
	if err := validation.Struct(report); err != nil {
		return err
	}
	if report.Bucket.Stop.Before(report.Bucket.Start) {
		return validation.NewError("bucket.stop", "stop must not be before start")
	}
	if environment == "" {
		environment = report.Environment
	}
	hour := report.Bucket.Start.UTC().Truncate(time.Hour)
	names := make([]string, 0, len(report.Bucket.Toggles))
	for name := range report.Bucket.Toggles {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]model.ClientMetricsEntry, 0, len(names))
	for _, name := range names {
		c := report.Bucket.Toggles[name]
		if c.Yes < 0 || c.No < 0 {
			return validation.NewErrorf("bucket.toggles", "counts for %q must not be negative", name)
		}
		entries = append(entries, model.ClientMetricsEntry{
			FeatureName: name,
			AppName:     report.AppName,
			Environment: environment,
			Timestamp:   hour,
			Yes:         c.Yes,
			No:          c.No,
		})
	}
	now := s.now().UTC()
	return s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.AddClientMetrics(ctx, entries); err != nil {
			return err
		}
		app, err := findApplication(ctx, tx, report.AppName, report.InstanceID)
		if err != nil {
			return err
		}
		if app.AppName == "" {
			app = model.ClientApplication{AppName: report.AppName, InstanceID: report.InstanceID, Strategies: []string{},
				Started: now}
		}
		app.Environment = environment
		app.SeenAt = now
		return tx.UpsertClientApplication(ctx, app)
	})
}

func findApplication(ctx context.Context, tx store.Tx, appName, instanceID string) (model.ClientApplication, error) {
	apps, err := tx.ListClientApplications(ctx)
	if err != nil {
		return model.ClientApplication{}, err
	}
	for _, a := range apps {
		if a.AppName == appName && a.InstanceID == instanceID {
			return a, nil
		}
	}
	return model.ClientApplication{}, nil
}

// FeatureMetrics returns the usage of a feature over the last hours, including the current hour.
func (s *ClientMetricsService) FeatureMetrics(ctx context.Context, featureName string, hours int) (FeatureUsage, error) {
	if hours <= 0 {
		hours = 1
	}
	if hours > MaxMetricsHours {
		hours = MaxMetricsHours
	}
	since := s.now().UTC().Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)
	ret := FeatureUsage{FeatureName: featureName, Hours: hours}
	err := s.read(ctx, func(tx store.Tx) error {
		if _, err := tx.GetFeature(ctx, featureName); err != nil {
			return orNotFound(err, "feature", featureName)
		}
		var err error
		ret.Data, err = tx.ListClientMetrics(ctx, featureName, since)
		return err
	})
	return ret, err
}

// Applications returns the registered SDK instances.
func (s *ClientMetricsService) Applications(ctx context.Context) ([]model.ClientApplication, error) {
	var ret []model.ClientApplication
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListClientApplications(ctx)
		return
	})
	return ret, err
}

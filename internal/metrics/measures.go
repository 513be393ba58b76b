package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"go.opencensus.io/trace"

	"github.com/flagpole-io/flagpole/internal/logging"
)

var (
	connMeasure    = stats.Int64("connections", "current number of streaming connections", stats.UnitDimensionless)
	newConnMeasure = stats.Int64("newconnections", "total number of streaming connections", stats.UnitDimensionless)
	requestMeasure = stats.Int64("requests", "number of API requests", stats.UnitDimensionless)
	deltaMeasure   = stats.Int64("deltas", "number of delta responses by kind", stats.UnitDimensionless)

	clientTags   = []tag.Mutator{tag.Insert(apiCategoryTagKey, clientTagValue)}
	frontendTags = []tag.Mutator{tag.Insert(apiCategoryTagKey, frontendTagValue)}
	adminTags    = []tag.Mutator{tag.Insert(apiCategoryTagKey, adminTagValue)}

	// StreamConns is the gauge of open client streaming connections.
	StreamConns = Measure{measures: []*stats.Int64Measure{connMeasure}, tags: clientTags}

	// NewStreamConns counts client streaming connections as they are opened.
	NewStreamConns = Measure{measures: []*stats.Int64Measure{newConnMeasure}, tags: clientTags}

	ClientRequests   = Measure{measures: []*stats.Int64Measure{requestMeasure}, tags: clientTags}
	FrontendRequests = Measure{measures: []*stats.Int64Measure{requestMeasure}, tags: frontendTags}
	AdminRequests    = Measure{measures: []*stats.Int64Measure{requestMeasure}, tags: adminTags}
)

// Measure is a set of OpenCensus measures that are recorded together with the same tags.
type Measure struct {
	measures []*stats.Int64Measure
	tags     []tag.Mutator
}

// WithGauge increments the measure, calls f, and then decrements the measure.
func WithGauge(ctx context.Context, userAgent string, f func(), measure Measure) {
	ctx, err := tag.New(ctx, tag.Insert(userAgentTagKey, sanitizeTagValue(userAgent)))
	if err != nil {
		logging.GetGlobalContextLoggers(ctx).Errorf(`Failed to create tags: %s`, err)
	} else {
		for _, m := range measure.measures {
			ctx, _ := tag.New(ctx, measure.tags...)
			stats.Record(ctx, m.M(1))
			defer stats.Record(ctx, m.M(-1))
		}
	}
	f()
}

// WithCount increments the measure and then calls f.
func WithCount(ctx context.Context, userAgent string, f func(), measure Measure) {
	ctx, err := tag.New(ctx, tag.Insert(userAgentTagKey, sanitizeTagValue(userAgent)))
	if err != nil {
		logging.GetGlobalContextLoggers(ctx).Errorf(`Failed to create tag for user agent: %s`, err)
	} else {
		for _, m := range measure.measures {
			ctx, _ := tag.New(ctx, measure.tags...)
			stats.Record(ctx, m.M(1))
		}
	}
	f()
}

// WithRouteCount records a route hit and starts a trace span around f.
func WithRouteCount(ctx context.Context, userAgent, route, method string, f func(), measure Measure) {
	tagCtx, err := tag.New(ctx, tag.Insert(routeTagKey, sanitizeTagValue(route)),
		tag.Insert(methodTagKey, sanitizeTagValue(method)))
	if err != nil {
		logging.GetGlobalContextLoggers(ctx).Errorf(`Failed to create tags for route "%s %s": %s`, method, route, err)
	} else {
		ctx = tagCtx
	}
	ctx, span := trace.StartSpan(ctx, route)
	defer span.End()

	WithCount(ctx, userAgent, f, measure)
}

// RecordDelta counts one delta response of the given kind for an environment.
func RecordDelta(ctx context.Context, environment, kind string) {
	tagCtx, err := tag.New(ctx, tag.Insert(environmentTagKey, sanitizeTagValue(environment)),
		tag.Insert(deltaKindTagKey, kind))
	if err != nil {
		logging.GetGlobalContextLoggers(ctx).Errorf(`Failed to create tags for delta: %s`, err)
		return
	}
	stats.Record(tagCtx, deltaMeasure.M(1))
}

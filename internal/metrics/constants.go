package metrics

import (
	"go.opencensus.io/tag"
)

const (
	defaultMetricsPrefix = "flagpole"

	clientTagValue   = "client"
	frontendTagValue = "frontend"
	adminTagValue    = "admin"

	// DeltaFull, DeltaIncremental and DeltaNotModified are the values of the kind tag for delta responses.
	DeltaFull        = "full"
	DeltaIncremental = "incremental"
	DeltaNotModified = "not-modified"
)

var (
	instanceIDTagKey, _  = tag.NewKey("instanceId")
	apiCategoryTagKey, _ = tag.NewKey("apiCategory")
	userAgentTagKey, _   = tag.NewKey("userAgent")
	routeTagKey, _       = tag.NewKey("route")
	methodTagKey, _      = tag.NewKey("method")
	deltaKindTagKey, _   = tag.NewKey("kind")
	environmentTagKey, _ = tag.NewKey("environment")

	publicTags = []tag.Key{apiCategoryTagKey, userAgentTagKey}
)

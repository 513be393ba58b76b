package middleware

import (
	"context"

	"github.com/flagpole-io/flagpole/internal/permission"
)

type contextKeyType string

const (
	identityKey contextKeyType = "identity"
	metricsKey  contextKeyType = "metrics"
)

// GetIdentity returns the caller identity attached to the Context by the Authenticate middleware.
func GetIdentity(ctx context.Context) (permission.Identity, bool) {
	id, ok := ctx.Value(identityKey).(permission.Identity)
	return id, ok
}

// WithIdentity returns a new Context with the identity added.
func WithIdentity(ctx context.Context, id permission.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func getMetricsContext(ctx context.Context) context.Context {
	if mc, ok := ctx.Value(metricsKey).(context.Context); ok {
		return mc
	}
	return context.Background()
}

// WithMetricsContext returns a new Context that carries the OpenCensus context that measures for
// this request are recorded with.
func WithMetricsContext(ctx context.Context, metricsCtx context.Context) context.Context {
	return context.WithValue(ctx, metricsKey, metricsCtx)
}

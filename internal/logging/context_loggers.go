package logging

import (
	"context"
	"net/http"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

type loggersKey struct{}

// ContextWithLoggers returns a copy of ctx that carries loggers.
func ContextWithLoggers(ctx context.Context, loggers ldlog.Loggers) context.Context {
	return context.WithValue(ctx, loggersKey{}, loggers)
}

// GetGlobalContextLoggers returns the Loggers attached with ContextWithLoggers or
// GlobalContextLoggersMiddleware, or disabled loggers if there are none.
func GetGlobalContextLoggers(ctx context.Context) ldlog.Loggers {
	if l, ok := ctx.Value(loggersKey{}).(ldlog.Loggers); ok {
		return l
	}
	return ldlog.NewDisabledLoggers()
}

// GlobalContextLoggersMiddleware makes loggers available to handlers through GetGlobalContextLoggers.
func GlobalContextLoggersMiddleware(loggers ldlog.Loggers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(ContextWithLoggers(req.Context(), loggers)))
		})
	}
}

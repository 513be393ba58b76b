package middleware

import (
	"net/http"

	"github.com/flagpole-io/flagpole/internal/metrics"

	"github.com/gorilla/mux"
)

func withCount(handler http.Handler, measure metrics.Measure) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userAgent := getUserAgent(req)
		metrics.WithCount(getMetricsContext(req.Context()), userAgent, func() {
			handler.ServeHTTP(w, req)
		}, measure)
	})
}

func withGauge(handler http.Handler, measure metrics.Measure) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userAgent := getUserAgent(req)
		metrics.WithGauge(getMetricsContext(req.Context()), userAgent, func() {
			handler.ServeHTTP(w, req)
		}, measure)
	})
}

// CountStreamConns is a middleware function that increments the total number of streaming connections,
// and also increments the number of active streaming connections until the handler ends.
func CountStreamConns(handler http.Handler) http.Handler {
	return withCount(withGauge(handler, metrics.StreamConns), metrics.NewStreamConns)
}

// RequestCount is a middleware function that increments the specified metric for each request.
func RequestCount(measure metrics.Measure) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			userAgent := getUserAgent(req)
			var route string
			if current := mux.CurrentRoute(req); current != nil {
				// Ignoring internal routing error that would have been ignored anyway
				route, _ = current.GetPathTemplate()
			}
			metrics.WithRouteCount(getMetricsContext(req.Context()), userAgent, route, req.Method, func() {
				next.ServeHTTP(w, req)
			}, measure)
		})
	}
}

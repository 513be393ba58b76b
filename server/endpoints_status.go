package server

import (
	"context"
	"net/http"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/flagpole-io/flagpole/internal/api"
)

const healthCheckTimeout = 5 * time.Second

// healthHandler reports whether the data store can be reached. It does not require authentication.
func healthHandler(s *Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()

		status, health := http.StatusOK, api.HealthGood
		if err := s.store.Ping(ctx); err != nil {
			s.loggers.Warnf("Health check failed: %s", err)
			status, health = http.StatusInternalServerError, api.HealthBad
		}

		jw := jwriter.NewWriter()
		obj := jw.Object()
		obj.Name("health").String(health)
		obj.Name("version").String(s.version)
		obj.End()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(jw.Bytes())
	})
}

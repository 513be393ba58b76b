package streams

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/launchdarkly/eventsource"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/internal/delta"
	"github.com/flagpole-io/flagpole/internal/flags"
	"github.com/flagpole-io/flagpole/internal/util"
)

// ExperimentalFlag is the name of the experimental flag that turns on the streaming endpoint.
const ExperimentalFlag = "streaming"

// DefaultInterval is how often a timestamp is written if HandlerConfig.Interval is not set.
const DefaultInterval = time.Second

// FlagChecker reports whether an experimental flag is on. config.ExperimentalConfig implements it.
type FlagChecker interface {
	IsExperimentalFlagEnabled(name string) bool
}

// DeltaSource computes deltas for streaming connections. *delta.Service implements it.
type DeltaSource interface {
	GetDelta(ctx context.Context, scope flags.Scope, clientRevision *int64) (delta.Result, error)
	CurrentRevision(ctx context.Context) (int64, error)
}

// HandlerConfig contains the timing parameters of a Handler.
type HandlerConfig struct {
	// Interval is how often the timestamp event is written.
	Interval time.Duration
	// MaxConnectionTime, if non-zero, closes each stream after this long.
	MaxConnectionTime time.Duration
}

// Handler serves the streaming endpoint.
type Handler struct {
	deltas       DeltaSource
	hub          *RevisionHub
	experimental FlagChecker
	scopeFor     func(*http.Request) flags.Scope
	config       HandlerConfig
	loggers      ldlog.Loggers
	active       int64
}

// NewHandler creates a Handler. The scopeFor function returns the features visible to the caller
// of a request.
func NewHandler(
	deltas DeltaSource,
	hub *RevisionHub,
	experimental FlagChecker,
	scopeFor func(*http.Request) flags.Scope,
	config HandlerConfig,
	loggers ldlog.Loggers,
) *Handler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Handler{
		deltas:       deltas,
		hub:          hub,
		experimental: experimental,
		scopeFor:     scopeFor,
		config:       config,
		loggers:      loggers,
	}
}

// ActiveConnections returns the number of streams currently open.
func (h *Handler) ActiveConnections() int {
	return int(atomic.LoadInt64(&h.active))
}

// ServeHTTP responds 403 with an empty body when streaming is off. Otherwise it holds the connection
// open, writing a timestamp every interval and an "updated" event whenever the revision advances.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !h.experimental.IsExperimentalFlagEnabled(ExperimentalFlag) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(util.ErrorJSONMsg("streaming is not supported by this connection"))
		return
	}

	ctx := req.Context()
	scope := h.scopeFor(req)
	cursor := delta.ParseRevision(req.Header.Get("If-None-Match"))
	var lastRevision int64
	if cursor == nil {
		current, err := h.deltas.CurrentRevision(ctx)
		if err != nil {
			h.loggers.Errorf("Unable to read current revision for stream: %s", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write(util.ErrorJSONMsg("revision is not available"))
			return
		}
		lastRevision = current
	} else {
		lastRevision = *cursor
	}

	s := &stream{
		handler:      h,
		ctx:          ctx,
		w:            w,
		flusher:      flusher,
		encoder:      eventsource.NewEncoder(w, false),
		scope:        scope,
		lastRevision: lastRevision,
	}
	s.run(cursor != nil)
}

type stream struct {
	handler      *Handler
	ctx          context.Context
	w            http.ResponseWriter
	flusher      http.Flusher
	encoder      *eventsource.Encoder
	scope        flags.Scope
	lastRevision int64
}

func (s *stream) run(catchUp bool) {
	h := s.handler
	sub := h.hub.Subscribe()
	ticker := time.NewTicker(h.config.Interval)
	var maxTimer *time.Timer
	var maxTime <-chan time.Time
	if h.config.MaxConnectionTime > 0 {
		maxTimer = time.NewTimer(h.config.MaxConnectionTime)
		maxTime = maxTimer.C
	}
	atomic.AddInt64(&h.active, 1)

	reason := "client disconnected"
	defer func() {
		ticker.Stop()
		if maxTimer != nil {
			maxTimer.Stop()
		}
		h.hub.Unsubscribe(sub)
		atomic.AddInt64(&h.active, -1)
		h.loggers.Debugf("Stream for environment %q closed: %s", s.scope.Environment, reason)
	}()

	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()

	if catchUp || h.hub.Latest() > s.lastRevision {
		if err := s.sendDelta(); err != nil {
			reason = err.Error()
			return
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-maxTime:
			reason = "maximum connection time reached"
			return
		case t := <-ticker.C:
			if err := s.send(MakeTimestampEvent(t)); err != nil {
				reason = errWriteFailed(err).Error()
				return
			}
		case revision, ok := <-sub.C():
			if !ok {
				reason = "server shutting down"
				return
			}
			if revision <= s.lastRevision {
				continue
			}
			if err := s.sendDelta(); err != nil {
				reason = err.Error()
				return
			}
		}
	}
}

func (s *stream) sendDelta() error {
	last := s.lastRevision
	result, err := s.handler.deltas.GetDelta(s.ctx, s.scope, &last)
	if err != nil {
		s.handler.loggers.Errorf("Unable to compute delta for stream: %s", err)
		return errDeltaFailed(err)
	}
	if result.NotModified {
		return nil
	}
	if err := s.send(MakeUpdatedEvent(result.Payload())); err != nil {
		return errWriteFailed(err)
	}
	s.lastRevision = result.Revision
	return nil
}

func (s *stream) send(event eventsource.Event) error {
	if err := s.encoder.Encode(event); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

package streams

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/launchdarkly/eventsource"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"
	helpers "github.com/launchdarkly/go-test-helpers/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/flagpole-io/flagpole/internal/delta"
	"github.com/flagpole-io/flagpole/internal/flags"
	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/services"
	"github.com/flagpole-io/flagpole/internal/sharedtest"
	"github.com/flagpole-io/flagpole/internal/store/memory"
)

const (
	testInterval = 20 * time.Millisecond
	testTimeout  = 2 * time.Second
	testUser     = "tester"
)

var timestampPattern = regexp.MustCompile(`^\d{13}$`) //nolint:gochecknoglobals

type experimentalFlags []string

func (f experimentalFlags) IsExperimentalFlagEnabled(name string) bool {
	for _, n := range f {
		if n == name {
			return true
		}
	}
	return false
}

type streamsTestParams struct {
	t        *testing.T
	ctx      context.Context
	services *services.Services
	hub      *RevisionHub
	handler  *Handler
	mockLog  *ldlogtest.MockLog
}

func streamsTest(t *testing.T, experimental FlagChecker, config HandlerConfig) streamsTestParams {
	if config.Interval == 0 {
		config.Interval = testInterval
	}
	st := memory.New(memory.WithRevision(14))
	mockLog := ldlogtest.NewMockLog()
	svc := services.New(services.Config{Store: st, Loggers: mockLog.Loggers, PasswordCost: bcrypt.MinCost})
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx, services.InitOptions{}))
	hub := NewRevisionHub()
	svc.Bus.Subscribe(hub.HandleEvents)
	scopeFor := func(*http.Request) flags.Scope { return flags.Scope{Environment: "development"} }
	handler := NewHandler(delta.NewService(st, mockLog.Loggers), hub, experimental, scopeFor, config, mockLog.Loggers)
	return streamsTestParams{t: t, ctx: ctx, services: svc, hub: hub, handler: handler, mockLog: mockLog}
}

func (p streamsTestParams) createFeature(name string) {
	_, err := p.services.Features.CreateFeature(p.ctx, model.DefaultProjectID, model.Feature{Name: name}, testUser)
	require.NoError(p.t, err)
}

func streamRequest() *http.Request {
	return sharedtest.BuildRequest("GET", "/api/client/streaming", nil, nil)
}

func requireEvent(t *testing.T, eventCh <-chan eventsource.Event, name string) eventsource.Event {
	for {
		e := helpers.RequireValue(t, eventCh, testTimeout, "timed out waiting for %q event", name)
		require.NotNil(t, e, "stream closed before %q event", name)
		if e.Event() == name {
			return e
		}
	}
}

func decodePayload(t *testing.T, e eventsource.Event) delta.Payload {
	var p delta.Payload
	require.NoError(t, json.Unmarshal([]byte(e.Data()), &p))
	return p
}

func awaitNoConnections(t *testing.T, h *Handler, hub *RevisionHub) {
	require.Eventually(t, func() bool {
		return h.ActiveConnections() == 0 && hub.SubscriberCount() == 0
	}, testTimeout, time.Millisecond)
}

func TestStreamingIsForbiddenWhenFlagIsOff(t *testing.T) {
	for name, experimental := range map[string]experimentalFlags{
		"no flags":    nil,
		"other flags": {"something-else"},
	} {
		t.Run(name, func(t *testing.T) {
			p := streamsTest(t, experimental, HandlerConfig{})
			resp, body := sharedtest.DoRequest(streamRequest(), p.handler)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			assert.Empty(t, body)
			sharedtest.AssertNonStreamingHeaders(t, resp.Header)
			assert.Equal(t, 0, p.hub.SubscriberCount())
		})
	}
}

func TestStreamWritesTimestamps(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{})
	before := time.Now().UnixMilli()
	sharedtest.WithStreamRequest(t, streamRequest(), p.handler, func(eventCh <-chan eventsource.Event) {
		for i := 0; i < 2; i++ {
			e := requireEvent(t, eventCh, "")
			assert.Regexp(t, timestampPattern, e.Data())
			millis, err := strconv.ParseInt(e.Data(), 10, 64)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, millis, before)
		}
		assert.Equal(t, 1, p.handler.ActiveConnections())
	})
	awaitNoConnections(t, p.handler, p.hub)
	p.mockLog.AssertMessageMatch(t, true, ldlog.Debug, "closed: client disconnected")
}

func TestStreamSendsUpdatedEventWhenRevisionAdvances(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{Interval: time.Hour})
	sharedtest.WithStreamRequest(t, streamRequest(), p.handler, func(eventCh <-chan eventsource.Event) {
		require.Eventually(t, func() bool { return p.hub.SubscriberCount() == 1 }, testTimeout, time.Millisecond)
		p.createFeature("new-feature")

		payload := decodePayload(t, requireEvent(t, eventCh, UpdatedEventName))
		assert.Equal(t, int64(15), payload.RevisionID)
		require.Len(t, payload.Updated, 1)
		assert.Equal(t, "new-feature", payload.Updated[0].Name)
		assert.Empty(t, payload.Removed)

		require.NoError(t, p.services.Features.ArchiveFeature(p.ctx, model.DefaultProjectID, "new-feature", testUser))
		payload = decodePayload(t, requireEvent(t, eventCh, UpdatedEventName))
		assert.Equal(t, int64(16), payload.RevisionID)
		assert.Empty(t, payload.Updated)
		assert.Equal(t, []model.RemovedFeature{{Name: "new-feature"}}, payload.Removed)
	})
	awaitNoConnections(t, p.handler, p.hub)
}

func TestStreamCatchesUpFromClientRevision(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{Interval: time.Hour})
	p.createFeature("a")
	p.createFeature("b")

	req := streamRequest()
	req.Header.Set("If-None-Match", `"15"`)
	sharedtest.WithStreamRequest(t, req, p.handler, func(eventCh <-chan eventsource.Event) {
		payload := decodePayload(t, requireEvent(t, eventCh, UpdatedEventName))
		assert.Equal(t, int64(16), payload.RevisionID)
		require.Len(t, payload.Updated, 1)
		assert.Equal(t, "b", payload.Updated[0].Name)
	})
}

func TestStreamWithCurrentRevisionSendsNoInitialUpdate(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{Interval: time.Hour})
	req := streamRequest()
	req.Header.Set("If-None-Match", "14")
	sharedtest.WithStreamRequest(t, req, p.handler, func(eventCh <-chan eventsource.Event) {
		helpers.AssertNoMoreValues(t, eventCh, 50*time.Millisecond)
	})
}

func TestStreamEndsAtMaxConnectionTime(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{MaxConnectionTime: 50 * time.Millisecond})
	sharedtest.WithStreamRequest(t, streamRequest(), p.handler, func(eventCh <-chan eventsource.Event) {
		for {
			e := helpers.RequireValue(t, eventCh, testTimeout, "timed out waiting for stream to close")
			if e == nil {
				break
			}
		}
	})
	awaitNoConnections(t, p.handler, p.hub)
	p.mockLog.AssertMessageMatch(t, true, ldlog.Debug, "closed: maximum connection time reached")
}

func TestStreamEndsWhenHubCloses(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{Interval: time.Hour})
	sharedtest.WithStreamRequest(t, streamRequest(), p.handler, func(eventCh <-chan eventsource.Event) {
		require.Eventually(t, func() bool { return p.hub.SubscriberCount() == 1 }, testTimeout, time.Millisecond)
		p.hub.Close()
		assert.Nil(t, helpers.RequireValue(t, eventCh, testTimeout))
	})
	awaitNoConnections(t, p.handler, p.hub)
	p.mockLog.AssertMessageMatch(t, true, ldlog.Debug, "closed: server shutting down")
}

type failingWriter struct {
	header http.Header
	status int
	writes int
}

func (w *failingWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *failingWriter) Write(data []byte) (int, error) {
	w.writes++
	return 0, errors.New("connection reset")
}

func (w *failingWriter) WriteHeader(status int) { w.status = status }

func (w *failingWriter) Flush() {}

func TestStreamEndsOnWriteError(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{})
	w := &failingWriter{}
	done := make(chan struct{})
	go func() {
		p.handler.ServeHTTP(w, streamRequest())
		close(done)
	}()
	helpers.RequireValue(t, done, testTimeout, "handler did not return after write error")
	assert.Equal(t, http.StatusOK, w.status)
	assert.Equal(t, 1, w.writes)
	awaitNoConnections(t, p.handler, p.hub)
	p.mockLog.AssertMessageMatch(t, true, ldlog.Debug, "closed: write failed: .*connection reset")
}

func TestStreamRequiresFlusher(t *testing.T) {
	p := streamsTest(t, experimentalFlags{ExperimentalFlag}, HandlerConfig{})
	w := struct{ http.ResponseWriter }{httptest.NewRecorder()}
	p.handler.ServeHTTP(w, streamRequest())
	assert.Equal(t, http.StatusInternalServerError, w.ResponseWriter.(*httptest.ResponseRecorder).Code)
	assert.Equal(t, 0, p.hub.SubscriberCount())
}

package sharedtest

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/launchdarkly/eventsource"
	helpers "github.com/launchdarkly/go-test-helpers/v3"

	"github.com/stretchr/testify/require"
)

// BuildRequest creates a request for calling a handler directly. A nil body sends no body, and the
// given headers are added to the request.
func BuildRequest(method, url string, body []byte, headers http.Header) *http.Request {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		panic(err)
	}
	for name, values := range headers {
		req.Header[name] = values
	}
	return req
}

// BuildRequestWithAuth creates a request carrying credentials. A request with a body is sent as JSON.
func BuildRequestWithAuth(method, url, authorization string, body []byte) *http.Request {
	req := BuildRequest(method, url, body, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// BasicAuth returns an Authorization header value for HTTP basic authentication.
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// AddQueryParam appends a "name=value" query to a URL.
func AddQueryParam(url, query string) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + query
}

// DoRequest serves req with handler and returns the recorded response and its body.
func DoRequest(req *http.Request, handler http.Handler) (*http.Response, []byte) {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Result(), rec.Body.Bytes()
}

// ExpectStreamEvent returns the next event of an SSE stream, failing the test if none arrives in time.
func ExpectStreamEvent(t *testing.T, stream *eventsource.Stream, timeout time.Duration) eventsource.Event {
	return helpers.RequireValue(t, stream.Events, timeout, "no stream event arrived")
}

// ExpectNoStreamEvent stops the test if an SSE stream delivers an event within timeout.
func ExpectNoStreamEvent(t *testing.T, stream *eventsource.Stream, timeout time.Duration) {
	if !helpers.AssertNoMoreValues(t, stream.Events, timeout, "unexpected stream event") {
		t.FailNow()
	}
}

// CallHandlerAndAwaitStatus serves req on its own goroutine and returns the status as soon as the
// handler starts its response. Streaming handlers keep running until the request context ends.
func CallHandlerAndAwaitStatus(t *testing.T, handler http.Handler, req *http.Request, timeout time.Duration) int {
	rec := &startRecorder{header: make(http.Header), started: make(chan struct{})}
	go handler.ServeHTTP(rec, req)
	select {
	case <-rec.started:
		return rec.status
	case <-time.After(timeout):
		require.FailNow(t, "handler did not start a response")
		return 0
	}
}

// startRecorder is a ResponseWriter that only records the status of the first write. Unlike
// httptest.ResponseRecorder it can be inspected while the handler is still running.
type startRecorder struct {
	header  http.Header
	status  int
	started chan struct{}
	once    sync.Once
}

func (r *startRecorder) Header() http.Header {
	return r.header
}

func (r *startRecorder) Write(data []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	return len(data), nil
}

func (r *startRecorder) WriteHeader(status int) {
	r.once.Do(func() {
		r.status = status
		close(r.started)
	})
}

func (r *startRecorder) Flush() {
	r.WriteHeader(http.StatusOK)
}

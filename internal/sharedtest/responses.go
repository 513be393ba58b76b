package sharedtest

import (
	"net/http"
	"strings"
	"testing"

	m "github.com/launchdarkly/go-test-helpers/v3/matchers"
	"github.com/stretchr/testify/assert"
)

// Headers that every event stream response carries besides its Content-Type.
var streamHeaders = map[string]string{ //nolint:gochecknoglobals
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

// ExpectJSONBody matches a body that is equivalent JSON to expected.
func ExpectJSONBody(expected string) m.Matcher {
	return m.JSONStrEqual(expected)
}

// ExpectNoBody matches a nil or empty body.
func ExpectNoBody() m.Matcher {
	return m.Length().Should(m.Equal(0))
}

// AssertStreamingHeaders fails the test unless h describes an SSE response.
func AssertStreamingHeaders(t *testing.T, h http.Header) {
	t.Helper()
	assert.True(t, isEventStream(h), "unexpected Content-Type %q", h.Get("Content-Type"))
	for name, value := range streamHeaders {
		assert.Equal(t, value, h.Get(name), "header %s", name)
	}
}

// AssertNonStreamingHeaders fails the test if h describes an SSE response, as it should not for a
// refused stream.
func AssertNonStreamingHeaders(t *testing.T, h http.Header) {
	t.Helper()
	assert.False(t, isEventStream(h), "unexpected Content-Type %q", h.Get("Content-Type"))
	assert.Empty(t, h.Get("X-Accel-Buffering"))
}

func isEventStream(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "text/event-stream")
}

package logging

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLoggers(t *testing.T) {
	loggers := MakeDefaultLoggers()
	assert.Equal(t, ldlog.Info, loggers.GetMinLevel())
}

func TestMakeLoggersSplitsErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	loggers := MakeLoggers(&out, &errOut)
	loggers.Info("hello")
	loggers.Error("broken")
	loggers.Debug("hidden")

	assert.Contains(t, out.String(), "INFO: hello")
	assert.NotContains(t, out.String(), "broken")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, errOut.String(), "ERROR: broken")
}

func TestGlobalContextLoggers(t *testing.T) {
	assert.Equal(t, ldlog.NewDisabledLoggers(), GetGlobalContextLoggers(context.Background()))

	mockLog := ldlogtest.NewMockLog()
	assert.Equal(t, mockLog.Loggers, GetGlobalContextLoggers(ContextWithLoggers(context.Background(), mockLog.Loggers)))

	req, _ := http.NewRequest("GET", "", nil)
	called := false
	GlobalContextLoggersMiddleware(mockLog.Loggers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, mockLog.Loggers, GetGlobalContextLoggers(r.Context()))
	})).ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestDescribeCredentials(t *testing.T) {
	for header, expected := range map[string]string{
		"":                                "none",
		"Basic YWRtaW46cGFzc3dvcmQ=":      "basic",
		"*:*.0123456789abcdef":            "token(*:*)",
		"Bearer default:development.abcd": "token(default:development)",
		"[a,b]:production.secret":         "token([a,b]:production)",
		"garbage":                         "token(?)",
	} {
		assert.Equal(t, expected, describeCredentials(header), "header %q", header)
	}
}

func TestRequestLoggerMiddleware(t *testing.T) {
	t.Run("non-streaming request", func(t *testing.T) {
		mockLog := ldlogtest.NewMockLog()
		mockLog.Loggers.SetMinLevel(ldlog.Debug)
		req, _ := http.NewRequest("GET", "http://localhost/api/admin/projects", nil)
		req.Header.Set("Authorization", "*:*.0123456789abcdef")
		handler := RequestLoggerMiddleware(mockLog.Loggers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("hello"))
		}))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		mockLog.AssertMessageMatch(t, true, ldlog.Debug,
			`Request: GET http://localhost/api/admin/projects auth=token\(\*:\*\) status=200 bytes=5 duration=`)
		mockLog.AssertMessageMatch(t, false, ldlog.Debug, `0123456789abcdef`)
	})

	t.Run("handler that writes nothing", func(t *testing.T) {
		mockLog := ldlogtest.NewMockLog()
		mockLog.Loggers.SetMinLevel(ldlog.Debug)
		req, _ := http.NewRequest("DELETE", "http://localhost/api/admin/projects/p", nil)
		RequestLoggerMiddleware(mockLog.Loggers)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
			ServeHTTP(httptest.NewRecorder(), req)

		mockLog.AssertMessageMatch(t, true, ldlog.Debug, `status=200 bytes=0`)
	})

	t.Run("streaming request logs open and close", func(t *testing.T) {
		mockLog := ldlogtest.NewMockLog()
		mockLog.Loggers.SetMinLevel(ldlog.Debug)
		req, _ := http.NewRequest("GET", "http://localhost/api/client/streaming", nil)
		handler := RequestLoggerMiddleware(mockLog.Loggers)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("data: 1\n\n"))
			w.(http.Flusher).Flush()
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		mockLog.AssertMessageMatch(t, true, ldlog.Debug, `Stream opened: GET http://localhost/api/client/streaming auth=none status=200`)
		mockLog.AssertMessageMatch(t, true, ldlog.Debug, `Stream closed: http://localhost/api/client/streaming auth=none bytes=9`)
		assert.True(t, rec.Flushed)
	})
}

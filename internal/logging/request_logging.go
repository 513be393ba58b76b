package logging

import (
	"net/http"
	"strings"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

const eventStreamContentType = "text/event-stream"

// RequestLoggerMiddleware decorates a Handler with debug-level logging of all requests. Streams are
// logged when they open and again when they close.
func RequestLoggerMiddleware(loggers ldlog.Loggers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rw := &requestLogWriter{
				ResponseWriter: w,
				loggers:        loggers,
				req:            req,
				auth:           describeCredentials(req.Header.Get("Authorization")),
				started:        time.Now(),
			}
			next.ServeHTTP(rw, req)
			rw.finish()
		})
	}
}

// describeCredentials returns a loggable form of an Authorization header. API token secrets are reduced
// to their "projects:environment" prefix and basic credentials to the scheme name.
func describeCredentials(header string) string {
	header = strings.TrimSpace(header)
	switch {
	case header == "":
		return "none"
	case len(header) > 6 && strings.EqualFold(header[:6], "basic "):
		return "basic"
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		header = strings.TrimSpace(header[7:])
	}
	if dot := strings.LastIndex(header, "."); dot > 0 {
		return "token(" + header[:dot] + ")"
	}
	return "token(?)"
}

type requestLogWriter struct {
	http.ResponseWriter
	loggers   ldlog.Loggers
	req       *http.Request
	auth      string
	started   time.Time
	status    int
	streaming bool
	bytes     uint64
}

func (w *requestLogWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(data)
	w.bytes += uint64(n)
	return n, err
}

func (w *requestLogWriter) WriteHeader(status int) {
	w.status = status
	if strings.HasPrefix(w.Header().Get("Content-Type"), eventStreamContentType) {
		w.streaming = true
		w.loggers.Debugf("Stream opened: %s %s auth=%s status=%d", w.req.Method, w.req.URL, w.auth, status)
	}
	w.ResponseWriter.WriteHeader(status)
}

// Flush passes through to the underlying writer so that SSE frames are not held in a buffer.
func (w *requestLogWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *requestLogWriter) finish() {
	elapsed := time.Since(w.started).Round(time.Millisecond)
	if w.streaming {
		w.loggers.Debugf("Stream closed: %s auth=%s bytes=%d duration=%s", w.req.URL, w.auth, w.bytes, elapsed)
		return
	}
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	w.loggers.Debugf("Request: %s %s auth=%s status=%d bytes=%d duration=%s",
		w.req.Method, w.req.URL, w.auth, status, w.bytes, elapsed)
}

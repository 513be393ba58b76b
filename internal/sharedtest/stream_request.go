package sharedtest

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/launchdarkly/eventsource"

	"github.com/stretchr/testify/assert"
)

// StreamRecorder is an extension of ResponseRecorder to handle streaming content.
type StreamRecorder struct {
	*bufio.Writer
	*httptest.ResponseRecorder
	pipe *io.PipeWriter
}

func (r StreamRecorder) Write(data []byte) (int, error) {
	return r.Writer.Write(data)
}

func (r StreamRecorder) Flush() {
	_ = r.Writer.Flush()
}

// Close flushes any buffered output and ends the stream seen by the reader.
func (r StreamRecorder) Close() {
	_ = r.Writer.Flush()
	_ = r.pipe.Close()
}

func NewStreamRecorder() (StreamRecorder, io.Reader) {
	reader, writer := io.Pipe()
	recorder := httptest.NewRecorder()
	return StreamRecorder{
		ResponseRecorder: recorder,
		Writer:           bufio.NewWriter(writer),
		pipe:             writer,
	}, reader
}

// WithStreamRequest makes a request that should receive an SSE stream, and calls the given code
// with a channel that will read from that stream. A nil value is pushed to the channel when the
// stream closes or encounters an error. The request is cancelled when the action returns.
func WithStreamRequest(
	t *testing.T,
	req *http.Request,
	handler http.Handler,
	action func(<-chan eventsource.Event),
) *http.Response {
	w, bodyReader := NewStreamRecorder()
	wg := sync.WaitGroup{}
	wg.Add(1)
	eventCh := make(chan eventsource.Event, 10)

	ctx, cancelRequest := context.WithCancel(req.Context())
	reqWithContext := req.WithContext(ctx)

	go func() {
		handler.ServeHTTP(w, reqWithContext)
		assert.Equal(t, http.StatusOK, w.Code)
		AssertStreamingHeaders(t, w.Header())
		w.Close()
		wg.Done()
	}()
	dec := eventsource.NewDecoder(bodyReader)
	go func() {
		for {
			event, err := dec.Decode()
			if err != nil {
				eventCh <- nil
				return
			}
			eventCh <- event
		}
	}()
	action(eventCh)
	cancelRequest()
	wg.Wait()
	return w.Result()
}

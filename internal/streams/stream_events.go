package streams

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/launchdarkly/eventsource"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/flagpole-io/flagpole/internal/delta"
	"github.com/flagpole-io/flagpole/internal/model"
)

// UpdatedEventName is the SSE event name used for delta payloads.
const UpdatedEventName = "updated"

// The event data is computed lazily, and at most once, because the encoder may ask for it more
// than once and a connection that is closing may never ask at all.

type deferredEvent struct {
	name   string
	data func() string
}

func (e deferredEvent) Event() string { return e.name }
func (e deferredEvent) Id() string    { return "" } //nolint:golint,stylecheck
func (e deferredEvent) Data() string  { return e.data() }

// MakeTimestampEvent creates the unnamed keep-alive event whose data is the time in Unix milliseconds.
func MakeTimestampEvent(t time.Time) eventsource.Event {
	return deferredEvent{
		data: sync.OnceValue(func() string { return strconv.FormatInt(t.UnixMilli(), 10) }),
	}
}

// MakeUpdatedEvent creates an "updated" event carrying a delta payload.
func MakeUpdatedEvent(payload delta.Payload) eventsource.Event {
	return deferredEvent{
		name: UpdatedEventName,
		data: sync.OnceValue(encodeDeltaPayload(payload)),
	}
}

func encodeDeltaPayload(payload delta.Payload) func() string {
	return func() string {
		w := jwriter.NewWriter()
		obj := w.Object()
		updated := payload.Updated
		if updated == nil {
			updated = []model.ClientFeature{}
		}
		data, err := json.Marshal(updated)
		if err != nil {
			w.AddError(err)
			return ""
		}
		obj.Name("updated").Raw(data)
		removed := obj.Name("removed").Array()
		for _, r := range payload.Removed {
			item := removed.Object()
			item.Name("name").String(r.Name)
			item.End()
		}
		removed.End()
		obj.Name("revisionId").Int(int(payload.RevisionID))
		obj.End()
		return string(w.Bytes())
	}
}

package streams

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flagpole-io/flagpole/internal/delta"
	"github.com/flagpole-io/flagpole/internal/model"
)

func TestTimestampEvent(t *testing.T) {
	e := MakeTimestampEvent(time.UnixMilli(1709294400123))
	assert.Equal(t, "", e.Event())
	assert.Equal(t, "", e.Id())
	assert.Equal(t, "1709294400123", e.Data())
}

func TestUpdatedEvent(t *testing.T) {
	e := MakeUpdatedEvent(delta.Payload{
		Updated: []model.ClientFeature{{Name: "a", Project: "default", Type: "release", Enabled: true,
			Strategies: []model.ClientStrategy{}}},
		Removed:    []model.RemovedFeature{{Name: "b"}},
		RevisionID: 15,
	})
	assert.Equal(t, UpdatedEventName, e.Event())
	assert.JSONEq(t, `{
		"updated": [{"name": "a", "project": "default", "type": "release", "enabled": true, "stale": false,
			"impressionData": false, "strategies": []}],
		"removed": [{"name": "b"}],
		"revisionId": 15
	}`, e.Data())
}

func TestUpdatedEventWithEmptyLists(t *testing.T) {
	e := MakeUpdatedEvent(delta.Payload{RevisionID: 3})
	assert.JSONEq(t, `{"updated": [], "removed": [], "revisionId": 3}`, e.Data())
}

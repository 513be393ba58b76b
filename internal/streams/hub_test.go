package streams

import (
	"context"
	"testing"
	"time"

	helpers "github.com/launchdarkly/go-test-helpers/v3"
	"github.com/stretchr/testify/assert"

	"github.com/flagpole-io/flagpole/internal/model"
)

func TestHubDeliversLatestRevisionOnly(t *testing.T) {
	hub := NewRevisionHub()
	sub := hub.Subscribe()
	hub.Publish(15)
	hub.Publish(16)
	hub.Publish(16)
	hub.Publish(12)

	assert.Equal(t, int64(16), helpers.RequireValue(t, sub.C(), time.Second))
	helpers.AssertNoMoreValues(t, sub.C(), 20*time.Millisecond)
	assert.Equal(t, int64(16), hub.Latest())
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewRevisionHub()
	sub1, sub2 := hub.Subscribe(), hub.Subscribe()
	assert.Equal(t, 2, hub.SubscriberCount())

	hub.Unsubscribe(sub1)
	hub.Unsubscribe(sub1)
	hub.Publish(1)
	helpers.AssertNoMoreValues(t, sub1.C(), 20*time.Millisecond)
	assert.Equal(t, int64(1), helpers.RequireValue(t, sub2.C(), time.Second))
	assert.Equal(t, 1, hub.SubscriberCount())
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewRevisionHub()
	sub := hub.Subscribe()
	hub.Close()
	hub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	hub.Unsubscribe(sub)
	hub.Publish(5)
	assert.Equal(t, 0, hub.SubscriberCount())

	late := hub.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
}

func TestHubHandleEventsAnnouncesNewestAdvancingRevision(t *testing.T) {
	hub := NewRevisionHub()
	sub := hub.Subscribe()

	hub.HandleEvents(context.Background(), []model.Event{
		{Type: model.EventFeatureTagged, Revision: 30},
		{Type: model.EventFeatureCreated, Revision: 15},
		{Type: model.EventFeatureEnvironmentEnabled, Revision: 16},
	})
	assert.Equal(t, int64(16), helpers.RequireValue(t, sub.C(), time.Second))

	hub.HandleEvents(context.Background(), []model.Event{{Type: model.EventProjectCreated, Revision: 40}})
	helpers.AssertNoMoreValues(t, sub.C(), 20*time.Millisecond)
}

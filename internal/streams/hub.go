// Package streams implements the server-sent events channel that tells connected SDKs when the flag
// configuration has changed, and the notification plumbing behind it.
package streams

import (
	"context"
	"sync"

	"github.com/flagpole-io/flagpole/internal/model"
)

// RevisionHub fans out revision announcements to streaming connections.
//
// Each subscriber has a one-slot buffer. A slow subscriber never blocks Publish: a pending value is
// replaced by the newer one, since only the latest revision matters.
type RevisionHub struct {
	subscribers map[*Subscription]struct{}
	latest      int64
	closed      bool
	lock        sync.Mutex
}

// Subscription receives revisions from a RevisionHub. Its channel is closed when the hub is closed.
type Subscription struct {
	ch chan int64
}

// C returns the channel that revisions are delivered on.
func (s *Subscription) C() <-chan int64 {
	return s.ch
}

// NewRevisionHub creates an empty RevisionHub.
func NewRevisionHub() *RevisionHub {
	return &RevisionHub{subscribers: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber. If the hub is already closed, the returned subscription's
// channel is closed.
func (h *RevisionHub) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan int64, 1)}
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subscribers[s] = struct{}{}
	return s
}

// Unsubscribe removes a subscriber. It is safe to call more than once, and after Close.
func (h *RevisionHub) Unsubscribe(s *Subscription) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.subscribers, s)
}

// Publish announces a revision to every subscriber. Revisions that are not newer than the latest
// one already announced are ignored.
func (h *RevisionHub) Publish(revision int64) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed || revision <= h.latest {
		return
	}
	h.latest = revision
	for s := range h.subscribers {
		select {
		case <-s.ch:
		default:
		}
		s.ch <- revision
	}
}

// Latest returns the newest revision announced so far.
func (h *RevisionHub) Latest() int64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.latest
}

// SubscriberCount returns the number of current subscribers.
func (h *RevisionHub) SubscriberCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subscribers)
}

// HandleEvents announces the newest revision produced by a committed batch of events. It has the
// signature of services.EventListener.
func (h *RevisionHub) HandleEvents(_ context.Context, events []model.Event) {
	var newest int64
	for _, e := range events {
		if e.Type.AdvancesRevision() && e.Revision > newest {
			newest = e.Revision
		}
	}
	if newest > 0 {
		h.Publish(newest)
	}
}

// Close closes every subscriber's channel, which ends their streams.
func (h *RevisionHub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subscribers {
		close(s.ch)
	}
	h.subscribers = nil
}

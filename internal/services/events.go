package services

import (
	"context"
	"time"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

const (
	// DefaultEventLimit is the page size of ListEvents when none is given.
	DefaultEventLimit = 100
	// MaxEventLimit is the largest page size of ListEvents.
	MaxEventLimit = 1000
	// ClientMetricsRetention is how long hourly client metrics are kept.
	ClientMetricsRetention = 48 * time.Hour
)

// EventService queries and prunes the event log.
type EventService struct {
	base
}

// List returns matching events, newest first.
func (s *EventService) List(ctx context.Context, q store.EventQuery) ([]model.Event, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultEventLimit
	}
	if q.Limit > MaxEventLimit {
		q.Limit = MaxEventLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	var ret []model.Event
	err := s.read(ctx, func(tx store.Tx) (err error) {
		ret, err = tx.ListEvents(ctx, q)
		return
	})
	if ret == nil {
		ret = []model.Event{}
	}
	return ret, err
}

// Prune deletes events older than retention and client metrics older than ClientMetricsRetention.
// Pruning events raises the history floor, so SDKs with an older revision get a full snapshot.
func (s *EventService) Prune(ctx context.Context, retention time.Duration) error {
	now := s.now().UTC()
	var events, metrics int64
	err := s.store.Update(ctx, func(tx store.Tx) (err error) {
		if events, err = tx.PruneEvents(ctx, now.Add(-retention)); err != nil {
			return err
		}
		metrics, err = tx.PruneClientMetrics(ctx, now.Add(-ClientMetricsRetention))
		return err
	})
	if err != nil {
		return err
	}
	if events > 0 || metrics > 0 {
		s.loggers.Infof("Pruned %d events and %d client metrics entries", events, metrics)
	}
	return nil
}

// RunPruner calls Prune every interval until the context is done.
func (s *EventService) RunPruner(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(ctx, retention); err != nil && ctx.Err() == nil {
				s.loggers.Errorf("Event pruning failed: %s", err)
			}
		}
	}
}

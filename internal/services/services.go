// Package services implements the operations of the admin and client APIs on top of a store.Store.
//
// Every write happens in a single store transaction together with the events it produces. Events are
// handed to the EventBus only after that transaction has committed.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"golang.org/x/crypto/bcrypt"

	"github.com/flagpole-io/flagpole/internal/evaluation"
	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

// EventListener is called with the events written by a transaction after it commits. It must not block.
type EventListener func(ctx context.Context, events []model.Event)

// EventBus fans committed events out to listeners.
type EventBus struct {
	lock      sync.RWMutex
	listeners []EventListener
}

// NewEventBus creates an EventBus with no listeners.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe adds a listener.
func (b *EventBus) Subscribe(listener EventListener) {
	b.lock.Lock()
	b.listeners = append(b.listeners, listener)
	b.lock.Unlock()
}

// Publish calls every listener with the events.
func (b *EventBus) Publish(ctx context.Context, events []model.Event) {
	b.lock.RLock()
	listeners := b.listeners
	b.lock.RUnlock()
	for _, l := range listeners {
		l(ctx, events)
	}
}

// Config contains the dependencies of the services.
type Config struct {
	Store   store.Store
	Loggers ldlog.Loggers
	// Bus receives committed events. If nil, a new EventBus is created.
	Bus *EventBus
	// Now is the clock. If nil, time.Now is used.
	Now func() time.Time
	// DisableAdminTokens rejects the creation and use of admin API tokens.
	DisableAdminTokens bool
	// PasswordCost is the bcrypt cost for password hashes. If zero, bcrypt.DefaultCost is used.
	PasswordCost int
	// Evaluator is used by the playground and frontend API. If nil, a default Evaluator is created.
	Evaluator *evaluation.Evaluator
}

// Services holds one instance of each service.
type Services struct {
	Bus           *EventBus
	Features      *FeatureToggleService
	Projects      *ProjectService
	Environments  *EnvironmentService
	Strategies    *StrategyService
	Segments      *SegmentService
	Tags          *TagService
	APITokens     *APITokenService
	Users         *UserService
	Addons        *AddonService
	Events        *EventService
	ClientMetrics *ClientMetricsService
	Playground    *PlaygroundService
	State         *StateService
}

// New creates all the services.
func New(c Config) *Services {
	if c.Bus == nil {
		c.Bus = NewEventBus()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.PasswordCost == 0 {
		c.PasswordCost = bcrypt.DefaultCost
	}
	if c.Evaluator == nil {
		c.Evaluator = evaluation.NewEvaluator()
	}
	b := base{store: c.Store, bus: c.Bus, loggers: c.Loggers, now: c.Now}
	return &Services{
		Bus:           c.Bus,
		Features:      &FeatureToggleService{base: b},
		Projects:      &ProjectService{base: b},
		Environments:  &EnvironmentService{base: b},
		Strategies:    &StrategyService{base: b},
		Segments:      &SegmentService{base: b},
		Tags:          &TagService{base: b},
		APITokens:     &APITokenService{base: b, disableAdminTokens: c.DisableAdminTokens},
		Users:         &UserService{base: b, passwordCost: c.PasswordCost},
		Addons:        &AddonService{base: b},
		Events:        &EventService{base: b},
		ClientMetrics: &ClientMetricsService{base: b},
		Playground:    &PlaygroundService{base: b, evaluator: c.Evaluator},
		State:         &StateService{base: b},
	}
}

type base struct {
	store   store.Store
	bus     *EventBus
	loggers ldlog.Loggers
	now     func() time.Time
}

// writer is the transaction handle passed to write callbacks. It records the events it emits.
type writer struct {
	store.Tx
	ctx    context.Context
	now    time.Time
	by     string
	events []model.Event
}

func (w *writer) emit(e model.Event) error {
	e.CreatedAt = w.now
	if e.CreatedBy == "" {
		e.CreatedBy = w.by
	}
	stored, err := w.AppendEvent(w.ctx, e)
	if err != nil {
		return err
	}
	w.events = append(w.events, stored)
	return nil
}

func (b base) read(ctx context.Context, fn func(tx store.Tx) error) error {
	return b.store.View(ctx, fn)
}

func (b base) write(ctx context.Context, by string, fn func(w *writer) error) error {
	var events []model.Event
	err := b.store.Update(ctx, func(tx store.Tx) error {
		w := &writer{Tx: tx, ctx: ctx, now: b.now().UTC(), by: by}
		if err := fn(w); err != nil {
			return err
		}
		events = w.events
		return nil
	})
	if err != nil {
		return err
	}
	if len(events) != 0 {
		b.bus.Publish(ctx, events)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

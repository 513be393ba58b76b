// Package memory provides an in-memory implementation of store.Store, used in tests and for
// single-node development.
//
// Update transactions are serialized by a writer lock and operate on a copy of the current state,
// which replaces the published state only when the transaction function succeeds. View transactions
// read whichever state was published when they started and never block.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

// Option configures a Store.
type Option func(*state)

// WithRevision starts the store at the given revision, with no event history before it.
func WithRevision(revision int64) Option {
	return func(s *state) {
		s.revision = revision
		s.floor = revision
	}
}

// Store is an in-memory store.Store.
type Store struct {
	writeLock sync.Mutex
	current   atomic.Pointer[state]
	now       func() time.Time
}

type featureTagKey struct {
	feature string
	tag     model.Tag
}

type featureEnvKey struct {
	feature     string
	environment string
}

type metricsKey struct {
	feature     string
	app         string
	environment string
	timestamp   int64
}

type appKey struct {
	app      string
	instance string
}

type state struct {
	projects      map[string]model.Project
	environments  map[string]model.Environment
	features      map[string]model.Feature
	featureEnvs   map[featureEnvKey]model.FeatureEnvironment
	strategies    map[string]model.FeatureStrategy
	definitions   map[string]model.StrategyDefinition
	segments      map[int64]model.Segment
	tagTypes      map[string]model.TagType
	featureTags   map[featureTagKey]struct{}
	tokens        map[string]model.APIToken
	users         map[int64]model.User
	addons        map[int64]model.Addon
	events        []model.Event
	metrics       map[metricsKey]model.ClientMetricsEntry
	applications  map[appKey]model.ClientApplication
	revision      int64
	floor         int64
	lastEventID   int64
	lastSegmentID int64
	lastUserID    int64
	lastAddonID   int64
}

// New creates an empty store. Call store.SeedDefaults to add the default project and environments.
func New(options ...Option) *Store {
	s := &state{
		projects:     make(map[string]model.Project),
		environments: make(map[string]model.Environment),
		features:     make(map[string]model.Feature),
		featureEnvs:  make(map[featureEnvKey]model.FeatureEnvironment),
		strategies:   make(map[string]model.FeatureStrategy),
		definitions:  make(map[string]model.StrategyDefinition),
		segments:     make(map[int64]model.Segment),
		tagTypes:     make(map[string]model.TagType),
		featureTags:  make(map[featureTagKey]struct{}),
		tokens:       make(map[string]model.APIToken),
		users:        make(map[int64]model.User),
		addons:       make(map[int64]model.Addon),
		metrics:      make(map[metricsKey]model.ClientMetricsEntry),
		applications: make(map[appKey]model.ClientApplication),
	}
	for _, o := range options {
		o(s)
	}
	ret := &Store{now: time.Now}
	ret.current.Store(s)
	return ret
}

// View implements store.Store.
func (m *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{state: m.current.Load(), readOnly: true, now: m.now})
}

// Update implements store.Store.
func (m *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	m.writeLock.Lock()
	defer m.writeLock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := m.current.Load().clone()
	if err := fn(&tx{state: working, now: m.now}); err != nil {
		return err
	}
	m.current.Store(working)
	return nil
}

// Ping implements store.Store.
func (m *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements store.Store.
func (m *Store) Close() error {
	return nil
}

func (s *state) clone() *state {
	c := *s
	c.projects = cloneMap(s.projects)
	c.environments = cloneMap(s.environments)
	c.features = cloneMap(s.features)
	c.featureEnvs = cloneMap(s.featureEnvs)
	c.strategies = cloneMap(s.strategies)
	c.definitions = cloneMap(s.definitions)
	c.segments = cloneMap(s.segments)
	c.tagTypes = cloneMap(s.tagTypes)
	c.featureTags = cloneMap(s.featureTags)
	c.tokens = cloneMap(s.tokens)
	c.users = cloneMap(s.users)
	c.addons = cloneMap(s.addons)
	c.metrics = cloneMap(s.metrics)
	c.applications = cloneMap(s.applications)
	c.events = append([]model.Event(nil), s.events...)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	ret := make(map[K]V, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

// Package store defines the persistence interface used by the service layer.
//
// All reads and writes happen inside a transaction obtained from Store.View or Store.Update. An Update
// transaction that appends an event whose type advances the revision also advances the revision
// counter, atomically with the rest of the transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/flagpole-io/flagpole/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when inserting a row whose key already exists.
	ErrConflict = errors.New("already exists")

	// ErrReadOnly is returned by write methods called in a View transaction.
	ErrReadOnly = errors.New("write attempted in a read-only transaction")
)

// Store is a transactional data store.
type Store interface {
	// View runs fn in a read-only transaction with a consistent snapshot.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn in a read-write transaction. If fn returns an error, nothing is persisted.
	Update(ctx context.Context, fn func(Tx) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases all resources.
	Close() error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	ProjectRepository
	EnvironmentRepository
	FeatureRepository
	StrategyRepository
	SegmentRepository
	TagRepository
	TokenRepository
	UserRepository
	AddonRepository
	EventRepository
	ClientMetricsRepository
}

// ProjectRepository stores projects.
type ProjectRepository interface {
	GetProject(ctx context.Context, id string) (model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)
	InsertProject(ctx context.Context, p model.Project) error
	UpdateProject(ctx context.Context, p model.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// EnvironmentRepository stores environments.
type EnvironmentRepository interface {
	GetEnvironment(ctx context.Context, name string) (model.Environment, error)
	ListEnvironments(ctx context.Context) ([]model.Environment, error)
	InsertEnvironment(ctx context.Context, e model.Environment) error
	UpdateEnvironment(ctx context.Context, e model.Environment) error
	DeleteEnvironment(ctx context.Context, name string) error
}

// FeatureQuery filters ListFeatures. Zero values match everything.
type FeatureQuery struct {
	Projects []string
	Names    []string
	Archived *bool
}

// FeatureRepository stores features and their per-environment enabled state.
type FeatureRepository interface {
	GetFeature(ctx context.Context, name string) (model.Feature, error)
	// ListFeatures returns matching features ordered by name.
	ListFeatures(ctx context.Context, q FeatureQuery) ([]model.Feature, error)
	InsertFeature(ctx context.Context, f model.Feature) error
	UpdateFeature(ctx context.Context, f model.Feature) error
	// DeleteFeature removes the feature along with its environment states, strategies, and tags.
	DeleteFeature(ctx context.Context, name string) error

	GetFeatureEnvironments(ctx context.Context, featureName string) ([]model.FeatureEnvironment, error)
	// ListFeatureEnvironments returns the states of the named features (all if nil) in one environment.
	ListFeatureEnvironments(ctx context.Context, environment string, featureNames []string) ([]model.FeatureEnvironment, error)
	SetFeatureEnvironment(ctx context.Context, fe model.FeatureEnvironment) error
}

// StrategyQuery filters ListFeatureStrategies. Zero values match everything.
type StrategyQuery struct {
	FeatureNames []string
	Environment  string
	SegmentID    *int64
}

// StrategyRepository stores feature strategies and strategy definitions.
type StrategyRepository interface {
	GetFeatureStrategy(ctx context.Context, id string) (model.FeatureStrategy, error)
	// ListFeatureStrategies returns matching strategies ordered by feature name, then sort order.
	ListFeatureStrategies(ctx context.Context, q StrategyQuery) ([]model.FeatureStrategy, error)
	InsertFeatureStrategy(ctx context.Context, s model.FeatureStrategy) error
	UpdateFeatureStrategy(ctx context.Context, s model.FeatureStrategy) error
	DeleteFeatureStrategy(ctx context.Context, id string) error

	GetStrategyDefinition(ctx context.Context, name string) (model.StrategyDefinition, error)
	ListStrategyDefinitions(ctx context.Context) ([]model.StrategyDefinition, error)
	InsertStrategyDefinition(ctx context.Context, d model.StrategyDefinition) error
	UpdateStrategyDefinition(ctx context.Context, d model.StrategyDefinition) error
	DeleteStrategyDefinition(ctx context.Context, name string) error
}

// SegmentRepository stores segments.
type SegmentRepository interface {
	GetSegment(ctx context.Context, id int64) (model.Segment, error)
	ListSegments(ctx context.Context) ([]model.Segment, error)
	// InsertSegment assigns and returns a new ID; s.ID is ignored.
	InsertSegment(ctx context.Context, s model.Segment) (int64, error)
	UpdateSegment(ctx context.Context, s model.Segment) error
	DeleteSegment(ctx context.Context, id int64) error
}

// TagRepository stores tag types and feature tags.
type TagRepository interface {
	GetTagType(ctx context.Context, name string) (model.TagType, error)
	ListTagTypes(ctx context.Context) ([]model.TagType, error)
	InsertTagType(ctx context.Context, tt model.TagType) error
	UpdateTagType(ctx context.Context, tt model.TagType) error
	DeleteTagType(ctx context.Context, name string) error

	ListFeatureTags(ctx context.Context, featureName string) ([]model.Tag, error)
	AddFeatureTag(ctx context.Context, featureName string, tag model.Tag) error
	RemoveFeatureTag(ctx context.Context, featureName string, tag model.Tag) error
}

// TokenRepository stores API tokens.
type TokenRepository interface {
	GetToken(ctx context.Context, secret string) (model.APIToken, error)
	ListTokens(ctx context.Context) ([]model.APIToken, error)
	InsertToken(ctx context.Context, t model.APIToken) error
	UpdateToken(ctx context.Context, t model.APIToken) error
	DeleteToken(ctx context.Context, secret string) error
}

// UserRepository stores users and service accounts.
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (model.User, error)
	// GetUserByLogin finds a user by email or username, case-insensitively.
	GetUserByLogin(ctx context.Context, login string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	InsertUser(ctx context.Context, u model.User) (int64, error)
	UpdateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// AddonRepository stores addon configurations.
type AddonRepository interface {
	GetAddon(ctx context.Context, id int64) (model.Addon, error)
	ListAddons(ctx context.Context) ([]model.Addon, error)
	InsertAddon(ctx context.Context, a model.Addon) (int64, error)
	UpdateAddon(ctx context.Context, a model.Addon) error
	DeleteAddon(ctx context.Context, id int64) error
}

// EventQuery filters ListEvents. Zero values match everything.
type EventQuery struct {
	Type        model.EventType
	FeatureName string
	Project     string
	Limit       int
	Offset      int
}

// EventRepository stores the event log and the revision counter.
type EventRepository interface {
	// AppendEvent writes an event. If its type advances the revision, the revision counter is advanced
	// and the new value is stored in the event. The stored event is returned.
	AppendEvent(ctx context.Context, e model.Event) (model.Event, error)
	CurrentRevision(ctx context.Context) (int64, error)
	// HistoryFloor is the lowest revision from which every later revision-advancing event is retained.
	HistoryFloor(ctx context.Context) (int64, error)
	// ListEvents returns matching events, newest first.
	ListEvents(ctx context.Context, q EventQuery) ([]model.Event, error)
	// EventsSinceRevision returns the revision-advancing events with revision greater than after,
	// in revision order.
	EventsSinceRevision(ctx context.Context, after int64) ([]model.Event, error)
	// PruneEvents deletes events created before the given time and raises the history floor to cover
	// them. It returns the number of events deleted.
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// ClientMetricsRepository stores SDK usage metrics and registrations.
type ClientMetricsRepository interface {
	// AddClientMetrics adds the counts to any existing entries with the same key.
	AddClientMetrics(ctx context.Context, entries []model.ClientMetricsEntry) error
	ListClientMetrics(ctx context.Context, featureName string, since time.Time) ([]model.ClientMetricsEntry, error)
	PruneClientMetrics(ctx context.Context, before time.Time) (int64, error)
	UpsertClientApplication(ctx context.Context, app model.ClientApplication) error
	ListClientApplications(ctx context.Context) ([]model.ClientApplication, error)
}

// SeedDefaults creates the default project, environments, built-in strategy definitions, and the
// "simple" tag type if they do not already exist.
func SeedDefaults(ctx context.Context, tx Tx, now time.Time) error {
	if _, err := tx.GetProject(ctx, model.DefaultProjectID); errors.Is(err, ErrNotFound) {
		p := model.Project{ID: model.DefaultProjectID, Name: "Default", Description: "Default project", CreatedAt: now}
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	for _, e := range model.DefaultEnvironments() {
		if _, err := tx.GetEnvironment(ctx, e.Name); errors.Is(err, ErrNotFound) {
			e.CreatedAt = now
			if err := tx.InsertEnvironment(ctx, e); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}
	for _, d := range model.BuiltInStrategies() {
		if _, err := tx.GetStrategyDefinition(ctx, d.Name); errors.Is(err, ErrNotFound) {
			if err := tx.InsertStrategyDefinition(ctx, d); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}
	if _, err := tx.GetTagType(ctx, "simple"); errors.Is(err, ErrNotFound) {
		tt := model.TagType{Name: "simple", Description: "Used to simplify filtering of features", Icon: "#"}
		if err := tx.InsertTagType(ctx, tt); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	return nil
}

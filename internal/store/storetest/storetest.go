// Package storetest contains a test suite that every store.Store implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
)

// StoreFactory creates an empty store for one test. The store is closed by the suite.
type StoreFactory func(t *testing.T) store.Store

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

// RunStoreTests runs the full suite against stores created by the factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	run := func(name string, fn func(t *testing.T, s store.Store)) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fn(t, s)
		})
	}
	run("seed defaults", testSeedDefaults)
	run("projects", testProjects)
	run("environments", testEnvironments)
	run("features", testFeatures)
	run("feature environments", testFeatureEnvironments)
	run("strategies", testStrategies)
	run("strategy definitions", testStrategyDefinitions)
	run("segments", testSegments)
	run("tags", testTags)
	run("tokens", testTokens)
	run("users", testUsers)
	run("addons", testAddons)
	run("events advance revision", testEventsAdvanceRevision)
	run("event queries", testEventQueries)
	run("prune events raises floor", testPruneEvents)
	run("failed update is rolled back", testRollback)
	run("view is read-only", testViewIsReadOnly)
	run("client metrics", testClientMetrics)
}

func update(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx)) {
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

func view(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx)) {
	ctx := context.Background()
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

func seed(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, store.SeedDefaults(ctx, tx, testTime))
	})
}

func addFeature(t *testing.T, tx store.Tx, name string) {
	require.NoError(t, tx.InsertFeature(context.Background(), model.Feature{
		Name: name, Project: model.DefaultProjectID, Type: model.DefaultFeatureType, CreatedAt: testTime,
	}))
}

func testSeedDefaults(t *testing.T, s store.Store) {
	seed(t, s)
	seed(t, s) // second time is a no-op
	view(t, s, func(ctx context.Context, tx store.Tx) {
		projects, err := tx.ListProjects(ctx)
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, model.DefaultProjectID, projects[0].ID)

		envs, err := tx.ListEnvironments(ctx)
		require.NoError(t, err)
		require.Len(t, envs, 2)
		assert.Equal(t, "development", envs[0].Name)
		assert.Equal(t, "production", envs[1].Name)

		defs, err := tx.ListStrategyDefinitions(ctx)
		require.NoError(t, err)
		assert.Len(t, defs, len(model.BuiltInStrategies()))

		_, err = tx.GetTagType(ctx, "simple")
		assert.NoError(t, err)
	})
}

func testProjects(t *testing.T, s store.Store) {
	p := model.Project{ID: "p1", Name: "Project 1", Description: "d", CreatedAt: testTime}
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.InsertProject(ctx, p))
		assert.ErrorIs(t, tx.InsertProject(ctx, p), store.ErrConflict)
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, p, got)
		_, err = tx.GetProject(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
	update(t, s, func(ctx context.Context, tx store.Tx) {
		p2 := p
		p2.Name = "Renamed"
		p2.CreatedAt = time.Time{}
		require.NoError(t, tx.UpdateProject(ctx, p2))
		got, err := tx.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.True(t, testTime.Equal(got.CreatedAt))

		assert.ErrorIs(t, tx.UpdateProject(ctx, model.Project{ID: "nope"}), store.ErrNotFound)
		require.NoError(t, tx.DeleteProject(ctx, "p1"))
		assert.ErrorIs(t, tx.DeleteProject(ctx, "p1"), store.ErrNotFound)
	})
}

func testEnvironments(t *testing.T, s store.Store) {
	seed(t, s)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		e := model.Environment{Name: "staging", Type: "preproduction", Enabled: true, SortOrder: 150, CreatedAt: testTime}
		require.NoError(t, tx.InsertEnvironment(ctx, e))
		assert.ErrorIs(t, tx.InsertEnvironment(ctx, e), store.ErrConflict)

		envs, err := tx.ListEnvironments(ctx)
		require.NoError(t, err)
		names := []string{}
		for _, env := range envs {
			names = append(names, env.Name)
		}
		assert.Equal(t, []string{"development", "staging", "production"}, names)

		e.Enabled = false
		require.NoError(t, tx.UpdateEnvironment(ctx, e))
		got, err := tx.GetEnvironment(ctx, "staging")
		require.NoError(t, err)
		assert.False(t, got.Enabled)

		require.NoError(t, tx.DeleteEnvironment(ctx, "staging"))
		_, err = tx.GetEnvironment(ctx, "staging")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func testFeatures(t *testing.T, s store.Store) {
	seed(t, s)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.InsertProject(ctx, model.Project{ID: "other", Name: "Other", CreatedAt: testTime}))
		addFeature(t, tx, "b-feature")
		addFeature(t, tx, "a-feature")
		require.NoError(t, tx.InsertFeature(ctx, model.Feature{Name: "c-feature", Project: "other", Type: "release", CreatedAt: testTime}))
		assert.ErrorIs(t, tx.InsertFeature(ctx, model.Feature{Name: "a-feature", Project: "other"}), store.ErrConflict)

		archivedAt := testTime.Add(time.Hour)
		f, err := tx.GetFeature(ctx, "b-feature")
		require.NoError(t, err)
		f.Archived = true
		f.ArchivedAt = &archivedAt
		require.NoError(t, tx.UpdateFeature(ctx, f))
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		all, err := tx.ListFeatures(ctx, store.FeatureQuery{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a-feature", "b-feature", "c-feature"}, featureNames(all))

		notArchived := false
		active, err := tx.ListFeatures(ctx, store.FeatureQuery{Archived: &notArchived})
		require.NoError(t, err)
		assert.Equal(t, []string{"a-feature", "c-feature"}, featureNames(active))

		inDefault, err := tx.ListFeatures(ctx, store.FeatureQuery{Projects: []string{model.DefaultProjectID}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a-feature", "b-feature"}, featureNames(inDefault))

		byName, err := tx.ListFeatures(ctx, store.FeatureQuery{Names: []string{"c-feature", "zzz"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"c-feature"}, featureNames(byName))

		none, err := tx.ListFeatures(ctx, store.FeatureQuery{Names: []string{}})
		require.NoError(t, err)
		assert.Len(t, none, 0)

		b, err := tx.GetFeature(ctx, "b-feature")
		require.NoError(t, err)
		assert.True(t, b.Archived)
		require.NotNil(t, b.ArchivedAt)
		assert.True(t, testTime.Add(time.Hour).Equal(*b.ArchivedAt))
	})
}

func featureNames(fs []model.Feature) []string {
	ret := []string{}
	for _, f := range fs {
		ret = append(ret, f.Name)
	}
	return ret
}

func testFeatureEnvironments(t *testing.T, s store.Store) {
	seed(t, s)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		addFeature(t, tx, "f1")
		addFeature(t, tx, "f2")
		require.NoError(t, tx.SetFeatureEnvironment(ctx, model.FeatureEnvironment{FeatureName: "f1", Environment: "development", Enabled: true}))
		require.NoError(t, tx.SetFeatureEnvironment(ctx, model.FeatureEnvironment{FeatureName: "f1", Environment: "production", Enabled: false}))
		require.NoError(t, tx.SetFeatureEnvironment(ctx, model.FeatureEnvironment{FeatureName: "f2", Environment: "development", Enabled: false}))
		require.NoError(t, tx.SetFeatureEnvironment(ctx, model.FeatureEnvironment{FeatureName: "f2", Environment: "development", Enabled: true}))
		assert.ErrorIs(t, tx.SetFeatureEnvironment(ctx, model.FeatureEnvironment{FeatureName: "nope", Environment: "development"}), store.ErrNotFound)
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		f1, err := tx.GetFeatureEnvironments(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, []model.FeatureEnvironment{
			{FeatureName: "f1", Environment: "development", Enabled: true},
			{FeatureName: "f1", Environment: "production", Enabled: false},
		}, f1)

		dev, err := tx.ListFeatureEnvironments(ctx, "development", nil)
		require.NoError(t, err)
		assert.Equal(t, []model.FeatureEnvironment{
			{FeatureName: "f1", Environment: "development", Enabled: true},
			{FeatureName: "f2", Environment: "development", Enabled: true},
		}, dev)

		only, err := tx.ListFeatureEnvironments(ctx, "development", []string{"f2"})
		require.NoError(t, err)
		assert.Len(t, only, 1)
	})
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.DeleteFeature(ctx, "f1"))
		states, err := tx.GetFeatureEnvironments(ctx, "f1")
		require.NoError(t, err)
		assert.Len(t, states, 0)
	})
}

func testStrategies(t *testing.T, s store.Store) {
	seed(t, s)
	segmentID := int64(0)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		addFeature(t, tx, "f1")
		addFeature(t, tx, "f2")
		var err error
		segmentID, err = tx.InsertSegment(ctx, model.Segment{Name: "beta", Constraints: []model.Constraint{}, CreatedAt: testTime})
		require.NoError(t, err)

		require.NoError(t, tx.InsertFeatureStrategy(ctx, model.FeatureStrategy{
			ID: "s2", FeatureName: "f1", ProjectID: "default", Environment: "development", Name: "default",
			Parameters: map[string]string{}, Constraints: []model.Constraint{}, SortOrder: 2, CreatedAt: testTime,
		}))
		require.NoError(t, tx.InsertFeatureStrategy(ctx, model.FeatureStrategy{
			ID: "s1", FeatureName: "f1", ProjectID: "default", Environment: "development", Name: "flexibleRollout",
			Parameters:  map[string]string{"rollout": "50", "stickiness": "default", "groupId": "f1"},
			Constraints: []model.Constraint{{ContextName: "userId", Operator: model.OpIn, Values: []string{"a", "b"}}},
			Segments:    []int64{segmentID}, SortOrder: 1, CreatedAt: testTime,
		}))
		require.NoError(t, tx.InsertFeatureStrategy(ctx, model.FeatureStrategy{
			ID: "s3", FeatureName: "f2", ProjectID: "default", Environment: "production", Name: "default",
			Parameters: map[string]string{}, Constraints: []model.Constraint{}, CreatedAt: testTime,
		}))
		assert.ErrorIs(t, tx.InsertFeatureStrategy(ctx, model.FeatureStrategy{
			ID: "s4", FeatureName: "nope", Environment: "development", Name: "default",
		}), store.ErrNotFound)
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		all, err := tx.ListFeatureStrategies(ctx, store.StrategyQuery{})
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2", "s3"}, strategyIDs(all))

		dev, err := tx.ListFeatureStrategies(ctx, store.StrategyQuery{Environment: "development"})
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2"}, strategyIDs(dev))

		bySegment, err := tx.ListFeatureStrategies(ctx, store.StrategyQuery{SegmentID: &segmentID})
		require.NoError(t, err)
		assert.Equal(t, []string{"s1"}, strategyIDs(bySegment))

		byFeature, err := tx.ListFeatureStrategies(ctx, store.StrategyQuery{FeatureNames: []string{"f2"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"s3"}, strategyIDs(byFeature))

		s1, err := tx.GetFeatureStrategy(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "50", s1.Parameters["rollout"])
		assert.Equal(t, []string{"a", "b"}, s1.Constraints[0].Values)
		assert.Equal(t, []int64{segmentID}, s1.Segments)
	})
	update(t, s, func(ctx context.Context, tx store.Tx) {
		s1, err := tx.GetFeatureStrategy(ctx, "s1")
		require.NoError(t, err)
		s1.Disabled = true
		s1.Segments = nil
		require.NoError(t, tx.UpdateFeatureStrategy(ctx, s1))
		got, err := tx.GetFeatureStrategy(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, got.Disabled)
		assert.Len(t, got.Segments, 0)

		require.NoError(t, tx.DeleteFeatureStrategy(ctx, "s2"))
		assert.ErrorIs(t, tx.DeleteFeatureStrategy(ctx, "s2"), store.ErrNotFound)

		require.NoError(t, tx.DeleteFeature(ctx, "f1"))
		_, err = tx.GetFeatureStrategy(ctx, "s1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func strategyIDs(list []model.FeatureStrategy) []string {
	ret := []string{}
	for _, s := range list {
		ret = append(ret, s.ID)
	}
	return ret
}

func testStrategyDefinitions(t *testing.T, s store.Store) {
	d := model.StrategyDefinition{
		Name:        "custom",
		Description: "Custom",
		Parameters:  []model.StrategyParameter{{Name: "region", Type: model.ParamString, Required: true}},
	}
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.InsertStrategyDefinition(ctx, d))
		assert.ErrorIs(t, tx.InsertStrategyDefinition(ctx, d), store.ErrConflict)
		got, err := tx.GetStrategyDefinition(ctx, "custom")
		require.NoError(t, err)
		assert.Equal(t, d, got)

		d.Deprecated = true
		require.NoError(t, tx.UpdateStrategyDefinition(ctx, d))
		got, err = tx.GetStrategyDefinition(ctx, "custom")
		require.NoError(t, err)
		assert.True(t, got.Deprecated)

		require.NoError(t, tx.DeleteStrategyDefinition(ctx, "custom"))
		_, err = tx.GetStrategyDefinition(ctx, "custom")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func testSegments(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		id1, err := tx.InsertSegment(ctx, model.Segment{
			Name:        "seg1",
			Constraints: []model.Constraint{{ContextName: "country", Operator: model.OpIn, Values: []string{"NO"}}},
			CreatedAt:   testTime,
		})
		require.NoError(t, err)
		id2, err := tx.InsertSegment(ctx, model.Segment{Name: "seg2", Constraints: []model.Constraint{}, CreatedAt: testTime})
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		_, err = tx.InsertSegment(ctx, model.Segment{Name: "seg1"})
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := tx.GetSegment(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, "seg1", got.Name)
		assert.Equal(t, []string{"NO"}, got.Constraints[0].Values)

		got.Description = "updated"
		require.NoError(t, tx.UpdateSegment(ctx, got))
		list, err := tx.ListSegments(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "updated", list[0].Description)

		require.NoError(t, tx.DeleteSegment(ctx, id2))
		assert.ErrorIs(t, tx.DeleteSegment(ctx, id2), store.ErrNotFound)
	})
}

func testTags(t *testing.T, s store.Store) {
	seed(t, s)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		addFeature(t, tx, "f1")
		require.NoError(t, tx.InsertTagType(ctx, model.TagType{Name: "team"}))
		require.NoError(t, tx.AddFeatureTag(ctx, "f1", model.Tag{Type: "team", Value: "web"}))
		require.NoError(t, tx.AddFeatureTag(ctx, "f1", model.Tag{Type: "simple", Value: "x"}))
		assert.ErrorIs(t, tx.AddFeatureTag(ctx, "f1", model.Tag{Type: "team", Value: "web"}), store.ErrConflict)
		assert.ErrorIs(t, tx.AddFeatureTag(ctx, "f1", model.Tag{Type: "unknown", Value: "x"}), store.ErrNotFound)

		tags, err := tx.ListFeatureTags(ctx, "f1")
		require.NoError(t, err)
		assert.Equal(t, []model.Tag{{Type: "simple", Value: "x"}, {Type: "team", Value: "web"}}, tags)

		require.NoError(t, tx.RemoveFeatureTag(ctx, "f1", model.Tag{Type: "simple", Value: "x"}))
		assert.ErrorIs(t, tx.RemoveFeatureTag(ctx, "f1", model.Tag{Type: "simple", Value: "x"}), store.ErrNotFound)

		require.NoError(t, tx.DeleteTagType(ctx, "team"))
		tags, err = tx.ListFeatureTags(ctx, "f1")
		require.NoError(t, err)
		assert.Len(t, tags, 0)
	})
}

func testTokens(t *testing.T, s store.Store) {
	expires := testTime.Add(24 * time.Hour)
	tok := model.APIToken{
		Secret:      "default:development.abc",
		TokenName:   "sdk",
		Type:        model.TokenTypeClient,
		Environment: "development",
		Projects:    []string{"default"},
		ExpiresAt:   &expires,
		CreatedAt:   testTime,
	}
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.InsertToken(ctx, tok))
		assert.ErrorIs(t, tx.InsertToken(ctx, tok), store.ErrConflict)
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		got, err := tx.GetToken(ctx, tok.Secret)
		require.NoError(t, err)
		assert.Equal(t, tok.TokenName, got.TokenName)
		assert.Equal(t, tok.Projects, got.Projects)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, expires.Equal(*got.ExpiresAt))

		list, err := tx.ListTokens(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
	update(t, s, func(ctx context.Context, tx store.Tx) {
		tok.ExpiresAt = nil
		require.NoError(t, tx.UpdateToken(ctx, tok))
		got, err := tx.GetToken(ctx, tok.Secret)
		require.NoError(t, err)
		assert.Nil(t, got.ExpiresAt)
		require.NoError(t, tx.DeleteToken(ctx, tok.Secret))
		_, err = tx.GetToken(ctx, tok.Secret)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func testUsers(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		id, err := tx.InsertUser(ctx, model.User{
			Name: "Alice", Email: "Alice@Example.com", RootRole: model.RoleAdmin, PasswordHash: "hash", CreatedAt: testTime,
		})
		require.NoError(t, err)
		svcID, err := tx.InsertUser(ctx, model.User{
			Name: "robot", Username: "robot", RootRole: model.RoleEditor, IsService: true, CreatedAt: testTime,
		})
		require.NoError(t, err)
		assert.NotEqual(t, id, svcID)

		_, err = tx.InsertUser(ctx, model.User{Email: "alice@example.com", RootRole: model.RoleViewer})
		assert.ErrorIs(t, err, store.ErrConflict)

		u, err := tx.GetUserByLogin(ctx, "alice@example.COM")
		require.NoError(t, err)
		assert.Equal(t, id, u.ID)
		assert.Equal(t, "hash", u.PasswordHash)

		u, err = tx.GetUserByLogin(ctx, "ROBOT")
		require.NoError(t, err)
		assert.True(t, u.IsService)

		_, err = tx.GetUserByLogin(ctx, "bob")
		assert.ErrorIs(t, err, store.ErrNotFound)

		u.RootRole = model.RoleViewer
		u.LoginAttempts = 2
		require.NoError(t, tx.UpdateUser(ctx, u))
		got, err := tx.GetUser(ctx, svcID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleViewer, got.RootRole)
		assert.Equal(t, 2, got.LoginAttempts)

		users, err := tx.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 2)

		require.NoError(t, tx.DeleteUser(ctx, svcID))
		assert.ErrorIs(t, tx.DeleteUser(ctx, svcID), store.ErrNotFound)
	})
}

func testAddons(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		id, err := tx.InsertAddon(ctx, model.Addon{
			Provider:   "webhook",
			Enabled:    true,
			Parameters: map[string]string{"url": "http://hook"},
			Events:     []model.EventType{model.EventFeatureCreated},
			CreatedAt:  testTime,
		})
		require.NoError(t, err)
		a, err := tx.GetAddon(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "http://hook", a.Parameters["url"])
		assert.Equal(t, []model.EventType{model.EventFeatureCreated}, a.Events)

		a.Enabled = false
		require.NoError(t, tx.UpdateAddon(ctx, a))
		list, err := tx.ListAddons(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.False(t, list[0].Enabled)

		require.NoError(t, tx.DeleteAddon(ctx, id))
		_, err = tx.GetAddon(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func testEventsAdvanceRevision(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		rev, err := tx.CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rev)

		e1, err := tx.AppendEvent(ctx, model.Event{Type: model.EventFeatureCreated, FeatureName: "f1", Project: "default", CreatedBy: "test", CreatedAt: testTime})
		require.NoError(t, err)
		assert.Equal(t, int64(1), e1.Revision)

		e2, err := tx.AppendEvent(ctx, model.Event{Type: model.EventFeatureTagged, FeatureName: "f1", CreatedBy: "test", CreatedAt: testTime})
		require.NoError(t, err)
		assert.Equal(t, int64(1), e2.Revision)
		assert.Greater(t, e2.ID, e1.ID)

		e3, err := tx.AppendEvent(ctx, model.Event{Type: model.EventFeatureEnvironmentEnabled, FeatureName: "f1", Environment: "development", CreatedBy: "test", CreatedAt: testTime})
		require.NoError(t, err)
		assert.Equal(t, int64(2), e3.Revision)
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		rev, err := tx.CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), rev)

		since0, err := tx.EventsSinceRevision(ctx, 0)
		require.NoError(t, err)
		require.Len(t, since0, 2)
		assert.Equal(t, model.EventFeatureCreated, since0[0].Type)
		assert.Equal(t, model.EventFeatureEnvironmentEnabled, since0[1].Type)
		assert.Equal(t, "development", since0[1].Environment)

		since1, err := tx.EventsSinceRevision(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, since1, 1)

		since2, err := tx.EventsSinceRevision(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, since2, 0)
	})
}

func testEventQueries(t *testing.T, s store.Store) {
	segID := int64(7)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		for _, e := range []model.Event{
			{Type: model.EventFeatureCreated, FeatureName: "f1", Project: "default"},
			{Type: model.EventFeatureCreated, FeatureName: "f2", Project: "other"},
			{Type: model.EventFeatureUpdated, FeatureName: "f1", Project: "default", Data: []byte(`{"name":"f1"}`)},
			{Type: model.EventSegmentUpdated, SegmentID: &segID},
		} {
			e.CreatedBy = "test"
			e.CreatedAt = testTime
			_, err := tx.AppendEvent(ctx, e)
			require.NoError(t, err)
		}
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		all, err := tx.ListEvents(ctx, store.EventQuery{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, model.EventSegmentUpdated, all[0].Type)
		require.NotNil(t, all[0].SegmentID)
		assert.Equal(t, segID, *all[0].SegmentID)

		f1, err := tx.ListEvents(ctx, store.EventQuery{FeatureName: "f1"})
		require.NoError(t, err)
		require.Len(t, f1, 2)
		assert.Equal(t, model.EventFeatureUpdated, f1[0].Type)
		assert.JSONEq(t, `{"name":"f1"}`, string(f1[0].Data))

		created, err := tx.ListEvents(ctx, store.EventQuery{Type: model.EventFeatureCreated})
		require.NoError(t, err)
		assert.Len(t, created, 2)

		other, err := tx.ListEvents(ctx, store.EventQuery{Project: "other"})
		require.NoError(t, err)
		assert.Len(t, other, 1)

		page, err := tx.ListEvents(ctx, store.EventQuery{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, model.EventFeatureUpdated, page[0].Type)
	})
}

func testPruneEvents(t *testing.T, s store.Store) {
	update(t, s, func(ctx context.Context, tx store.Tx) {
		for i := 0; i < 3; i++ {
			_, err := tx.AppendEvent(ctx, model.Event{
				Type: model.EventFeatureUpdated, FeatureName: "f", CreatedBy: "test",
				CreatedAt: testTime.Add(time.Duration(i) * time.Hour),
			})
			require.NoError(t, err)
		}
	})
	update(t, s, func(ctx context.Context, tx store.Tx) {
		n, err := tx.PruneEvents(ctx, testTime.Add(90*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		floor, err := tx.HistoryFloor(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), floor)
		rev, err := tx.CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), rev)
		events, err := tx.EventsSinceRevision(ctx, floor)
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})
}

var errDeliberate = errors.New("deliberate")

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertProject(ctx, model.Project{ID: "p", Name: "P", CreatedAt: testTime}))
		_, err := tx.AppendEvent(ctx, model.Event{Type: model.EventFeatureCreated, FeatureName: "x", CreatedBy: "t", CreatedAt: testTime})
		require.NoError(t, err)
		return errDeliberate
	})
	assert.ErrorIs(t, err, errDeliberate)
	view(t, s, func(ctx context.Context, tx store.Tx) {
		_, err := tx.GetProject(ctx, "p")
		assert.ErrorIs(t, err, store.ErrNotFound)
		rev, err := tx.CurrentRevision(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), rev)
	})
}

func testViewIsReadOnly(t *testing.T, s store.Store) {
	view(t, s, func(ctx context.Context, tx store.Tx) {
		assert.ErrorIs(t, tx.InsertProject(ctx, model.Project{ID: "p", Name: "P"}), store.ErrReadOnly)
		_, err := tx.AppendEvent(ctx, model.Event{Type: model.EventFeatureCreated})
		assert.ErrorIs(t, err, store.ErrReadOnly)
	})
}

func testClientMetrics(t *testing.T, s store.Store) {
	hour := testTime.Truncate(time.Hour)
	update(t, s, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.AddClientMetrics(ctx, []model.ClientMetricsEntry{
			{FeatureName: "f1", AppName: "app", Environment: "development", Timestamp: hour, Yes: 3, No: 1},
			{FeatureName: "f2", AppName: "app", Environment: "development", Timestamp: hour, Yes: 1},
		}))
		require.NoError(t, tx.AddClientMetrics(ctx, []model.ClientMetricsEntry{
			{FeatureName: "f1", AppName: "app", Environment: "development", Timestamp: hour, Yes: 2, No: 2},
			{FeatureName: "f1", AppName: "app", Environment: "development", Timestamp: hour.Add(-48 * time.Hour), Yes: 9},
		}))
		require.NoError(t, tx.UpsertClientApplication(ctx, model.ClientApplication{
			AppName: "app", InstanceID: "i1", Environment: "development", Strategies: []string{"default"},
			Interval: 15000, Started: testTime, SeenAt: testTime,
		}))
		require.NoError(t, tx.UpsertClientApplication(ctx, model.ClientApplication{
			AppName: "app", InstanceID: "i1", Environment: "development", Strategies: []string{"default"},
			SeenAt: testTime.Add(time.Minute),
		}))
	})
	view(t, s, func(ctx context.Context, tx store.Tx) {
		entries, err := tx.ListClientMetrics(ctx, "f1", hour.Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(5), entries[0].Yes)
		assert.Equal(t, int64(3), entries[0].No)

		apps, err := tx.ListClientApplications(ctx)
		require.NoError(t, err)
		require.Len(t, apps, 1)
		assert.True(t, testTime.Equal(apps[0].Started))
		assert.True(t, testTime.Add(time.Minute).Equal(apps[0].SeenAt))
	})
	update(t, s, func(ctx context.Context, tx store.Tx) {
		n, err := tx.PruneClientMetrics(ctx, hour.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

package delta

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/internal/flags"
	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/store/memory"
)

var (
	testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals
	devScope = flags.Scope{Environment: "development"}      //nolint:gochecknoglobals
)

func rev(n int64) *int64 { return &n }

type deltaTestParams struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	service *Service
}

func deltaTest(t *testing.T, options ...memory.Option) deltaTestParams {
	s := memory.New(options...)
	p := deltaTestParams{t: t, ctx: context.Background(), store: s, service: NewService(s, ldlog.NewDisabledLoggers())}
	p.update(func(tx store.Tx) {
		require.NoError(t, store.SeedDefaults(p.ctx, tx, testTime))
		require.NoError(t, tx.InsertProject(p.ctx, model.Project{ID: "other", Name: "Other", CreatedAt: testTime}))
	})
	return p
}

func (p deltaTestParams) update(fn func(tx store.Tx)) {
	require.NoError(p.t, p.store.Update(p.ctx, func(tx store.Tx) error {
		fn(tx)
		return nil
	}))
}

func (p deltaTestParams) event(tx store.Tx, e model.Event) {
	e.CreatedAt = testTime
	e.CreatedBy = "test"
	_, err := tx.AppendEvent(p.ctx, e)
	require.NoError(p.t, err)
}

func (p deltaTestParams) createFeature(name, project string) {
	p.update(func(tx store.Tx) {
		require.NoError(p.t, tx.InsertFeature(p.ctx, model.Feature{Name: name, Project: project, CreatedAt: testTime}))
		require.NoError(p.t, tx.SetFeatureEnvironment(p.ctx, model.FeatureEnvironment{
			FeatureName: name, Environment: "development", Enabled: true}))
		p.event(tx, model.Event{Type: model.EventFeatureCreated, FeatureName: name, Project: project})
	})
}

func (p deltaTestParams) archiveFeature(name string) {
	p.update(func(tx store.Tx) {
		f, err := tx.GetFeature(p.ctx, name)
		require.NoError(p.t, err)
		f.Archived = true
		require.NoError(p.t, tx.UpdateFeature(p.ctx, f))
		p.event(tx, model.Event{Type: model.EventFeatureArchived, FeatureName: name, Project: f.Project})
	})
}

func (p deltaTestParams) reviveFeature(name string) {
	p.update(func(tx store.Tx) {
		f, err := tx.GetFeature(p.ctx, name)
		require.NoError(p.t, err)
		f.Archived = false
		require.NoError(p.t, tx.UpdateFeature(p.ctx, f))
		p.event(tx, model.Event{Type: model.EventFeatureRevived, FeatureName: name, Project: f.Project})
	})
}

func (p deltaTestParams) get(scope flags.Scope, clientRevision *int64) Result {
	result, err := p.service.GetDelta(p.ctx, scope, clientRevision)
	require.NoError(p.t, err)
	return result
}

func updatedNames(r Result) []string {
	ret := []string{}
	for _, f := range r.Updated {
		ret = append(ret, f.Name)
	}
	return ret
}

func removedNames(r Result) []string {
	ret := []string{}
	for _, f := range r.Removed {
		ret = append(ret, f.Name)
	}
	return ret
}

func TestNotModifiedWhenClientIsCurrent(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	result := p.get(devScope, rev(14))
	assert.True(t, result.NotModified)
	assert.Nil(t, result.Updated)
	assert.Nil(t, result.Removed)

	// repeated reads change nothing
	assert.Equal(t, result, p.get(devScope, rev(14)))
}

func TestCreatedFeatureIsUpdatedAfterSeededRevision(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	assert.True(t, p.get(devScope, rev(14)).NotModified)

	p.createFeature("new-feature", model.DefaultProjectID)

	result := p.get(devScope, rev(14))
	assert.False(t, result.NotModified)
	assert.False(t, result.Full)
	assert.Equal(t, int64(15), result.Revision)
	assert.Equal(t, []string{"new-feature"}, updatedNames(result))
	assert.True(t, result.Updated[0].Enabled)
	assert.Equal(t, []string{}, removedNames(result))

	assert.True(t, p.get(devScope, rev(15)).NotModified)
}

func TestFeatureArchivedAfterCursorIsRemoved(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	p.createFeature("a", model.DefaultProjectID)
	p.createFeature("b", model.DefaultProjectID)
	p.archiveFeature("a")

	result := p.get(devScope, rev(16))
	assert.Equal(t, int64(17), result.Revision)
	assert.Equal(t, []string{}, updatedNames(result))
	assert.Equal(t, []string{"a"}, removedNames(result))

	result = p.get(devScope, rev(15))
	assert.Equal(t, []string{"b"}, updatedNames(result))
	assert.Equal(t, []string{"a"}, removedNames(result))
}

func TestFeatureCreatedAndArchivedAfterCursorIsOmitted(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	p.createFeature("a", model.DefaultProjectID)
	p.archiveFeature("a")

	result := p.get(devScope, rev(14))
	assert.Equal(t, int64(16), result.Revision)
	assert.Equal(t, []string{}, updatedNames(result))
	assert.Equal(t, []string{}, removedNames(result))
}

func TestFeatureArchivedAtCursorAndRevivedThenArchivedIsOmitted(t *testing.T) {
	p := deltaTest(t)
	p.createFeature("x", model.DefaultProjectID)
	p.archiveFeature("x")
	p.reviveFeature("x")
	p.archiveFeature("x")

	result := p.get(devScope, rev(2))
	assert.Equal(t, int64(4), result.Revision)
	assert.Equal(t, []string{}, updatedNames(result))
	assert.Equal(t, []string{}, removedNames(result))

	result = p.get(devScope, rev(3))
	assert.Equal(t, []string{"x"}, removedNames(result))
}

func TestFeatureArchivedAtCursorAndRevivedIsUpdated(t *testing.T) {
	p := deltaTest(t)
	p.createFeature("x", model.DefaultProjectID)
	p.archiveFeature("x")
	p.reviveFeature("x")

	result := p.get(devScope, rev(2))
	assert.Equal(t, []string{"x"}, updatedNames(result))
	assert.Equal(t, []string{}, removedNames(result))
}

func TestDeletedAndRecreatedFeatureIsUpdated(t *testing.T) {
	p := deltaTest(t)
	p.createFeature("a", model.DefaultProjectID)
	p.update(func(tx store.Tx) {
		require.NoError(t, tx.DeleteFeature(p.ctx, "a"))
		p.event(tx, model.Event{Type: model.EventFeatureDeleted, FeatureName: "a", Project: model.DefaultProjectID})
	})
	p.createFeature("a", model.DefaultProjectID)
	p.archiveFeature("a")

	result := p.get(devScope, rev(1))
	assert.Equal(t, []string{"a"}, removedNames(result))
}

func TestFullSnapshot(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	p.createFeature("b", model.DefaultProjectID)
	p.createFeature("a", model.DefaultProjectID)
	p.archiveFeature("b")

	for name, cursor := range map[string]*int64{
		"no cursor":             nil,
		"cursor below floor":    rev(10),
		"cursor beyond current": rev(99),
	} {
		t.Run(name, func(t *testing.T) {
			result := p.get(devScope, cursor)
			assert.True(t, result.Full)
			assert.Equal(t, int64(17), result.Revision)
			assert.Equal(t, []string{"a"}, updatedNames(result))
			assert.Equal(t, []string{}, removedNames(result))
		})
	}
}

func TestNonAdvancingEventsDoNotAffectDelta(t *testing.T) {
	p := deltaTest(t)
	p.createFeature("a", model.DefaultProjectID)
	p.update(func(tx store.Tx) {
		p.event(tx, model.Event{Type: model.EventFeatureTagged, FeatureName: "a", Project: model.DefaultProjectID})
	})
	assert.True(t, p.get(devScope, rev(1)).NotModified)
}

func TestEventsAreFilteredByScope(t *testing.T) {
	p := deltaTest(t)
	p.createFeature("mine", model.DefaultProjectID)
	p.createFeature("theirs", "other")
	p.update(func(tx store.Tx) {
		require.NoError(t, tx.SetFeatureEnvironment(p.ctx, model.FeatureEnvironment{
			FeatureName: "mine", Environment: "production", Enabled: true}))
		p.event(tx, model.Event{Type: model.EventFeatureEnvironmentEnabled, FeatureName: "mine",
			Project: model.DefaultProjectID, Environment: "production"})
	})

	scope := flags.Scope{Projects: []string{model.DefaultProjectID}, Environment: "development"}
	result := p.get(scope, rev(0))
	assert.Equal(t, int64(3), result.Revision)
	assert.Equal(t, []string{"mine"}, updatedNames(result))

	result = p.get(scope, rev(1))
	assert.Equal(t, []string{}, updatedNames(result))
	assert.Equal(t, []string{}, removedNames(result))

	prodScope := flags.Scope{Projects: []string{model.DefaultProjectID}, Environment: "production"}
	result = p.get(prodScope, rev(2))
	assert.Equal(t, []string{"mine"}, updatedNames(result))
	assert.True(t, result.Updated[0].Enabled)
}

func TestSegmentEventExpandsToReferencingFeatures(t *testing.T) {
	p := deltaTest(t)
	var segmentID int64
	p.update(func(tx store.Tx) {
		var err error
		segmentID, err = tx.InsertSegment(p.ctx, model.Segment{Name: "beta", CreatedAt: testTime})
		require.NoError(t, err)
	})
	p.createFeature("uses-segment", model.DefaultProjectID)
	p.createFeature("plain", model.DefaultProjectID)
	p.createFeature("other-project", "other")
	p.update(func(tx store.Tx) {
		for _, name := range []string{"uses-segment", "other-project"} {
			f, err := tx.GetFeature(p.ctx, name)
			require.NoError(t, err)
			require.NoError(t, tx.InsertFeatureStrategy(p.ctx, model.FeatureStrategy{
				ID: "s-" + name, FeatureName: name, ProjectID: f.Project, Environment: "development",
				Name: model.StrategyDefault, Segments: []int64{segmentID}, CreatedAt: testTime,
			}))
		}
	})
	before := p.get(devScope, nil).Revision
	p.update(func(tx store.Tx) {
		seg, err := tx.GetSegment(p.ctx, segmentID)
		require.NoError(t, err)
		seg.Description = "changed"
		require.NoError(t, tx.UpdateSegment(p.ctx, seg))
		p.event(tx, model.Event{Type: model.EventSegmentUpdated, SegmentID: &segmentID})
	})

	result := p.get(devScope, rev(before))
	assert.Equal(t, []string{"other-project", "uses-segment"}, updatedNames(result))

	scoped := p.get(flags.Scope{Projects: []string{model.DefaultProjectID}, Environment: "development"}, rev(before))
	assert.Equal(t, []string{"uses-segment"}, updatedNames(scoped))
}

func TestSegmentConstraintChangeAltersDelta(t *testing.T) {
	p := deltaTest(t)
	var segmentID int64
	p.update(func(tx store.Tx) {
		var err error
		segmentID, err = tx.InsertSegment(p.ctx, model.Segment{Name: "beta", CreatedAt: testTime})
		require.NoError(t, err)
	})
	p.createFeature("uses-segment", model.DefaultProjectID)
	p.update(func(tx store.Tx) {
		require.NoError(t, tx.InsertFeatureStrategy(p.ctx, model.FeatureStrategy{
			ID: "s1", FeatureName: "uses-segment", ProjectID: model.DefaultProjectID, Environment: "development",
			Name: model.StrategyDefault, Segments: []int64{segmentID}, CreatedAt: testTime,
		}))
		p.event(tx, model.Event{Type: model.EventFeatureStrategyAdded, FeatureName: "uses-segment",
			Project: model.DefaultProjectID, Environment: "development"})
	})
	cursor := p.get(devScope, nil).Revision
	before := p.get(devScope, rev(cursor-1))
	require.Len(t, before.Updated, 1)
	require.Len(t, before.Updated[0].Strategies, 1)
	assert.Equal(t, []model.Constraint{}, before.Updated[0].Strategies[0].Constraints)

	constraint := model.Constraint{ContextName: "userId", Operator: model.OpIn, Values: []string{"a", "b"}}
	p.update(func(tx store.Tx) {
		seg, err := tx.GetSegment(p.ctx, segmentID)
		require.NoError(t, err)
		seg.Constraints = []model.Constraint{constraint}
		require.NoError(t, tx.UpdateSegment(p.ctx, seg))
		p.event(tx, model.Event{Type: model.EventSegmentUpdated, SegmentID: &segmentID})
	})

	after := p.get(devScope, rev(cursor))
	require.Len(t, after.Updated, 1)
	strategy := after.Updated[0].Strategies[0]
	assert.Equal(t, []model.Constraint{constraint}, strategy.Constraints)
	assert.Nil(t, strategy.Segments)
	assert.NotEqual(t, before.Payload().Updated, after.Payload().Updated)

	full := p.get(devScope, nil)
	assert.Equal(t, []model.Constraint{constraint}, full.Updated[0].Strategies[0].Constraints)
}

func TestPrunedHistoryFallsBackToFull(t *testing.T) {
	p := deltaTest(t)
	p.createFeature("a", model.DefaultProjectID)
	p.createFeature("b", model.DefaultProjectID)
	p.update(func(tx store.Tx) {
		_, err := tx.PruneEvents(p.ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
	})
	assert.True(t, p.get(devScope, rev(0)).Full)
	assert.True(t, p.get(devScope, rev(2)).NotModified)
}

func TestConcurrentRequestsAgree(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	p.createFeature("a", model.DefaultProjectID)

	var wg sync.WaitGroup
	results := make([]Result, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.service.GetDelta(p.ctx, devScope, rev(14))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, []string{"a"}, updatedNames(r))
		assert.Equal(t, int64(15), r.Revision)
	}
}

// gatedStore blocks the first View until released.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) View(ctx context.Context, fn func(store.Tx) error) error {
	first := false
	g.once.Do(func() {
		first = true
		close(g.entered)
	})
	if first {
		<-g.release
	}
	return g.Store.View(ctx, fn)
}

func TestSharedComputationSurvivesCallerCancellation(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	p.createFeature("a", model.DefaultProjectID)
	gated := &gatedStore{Store: p.store, entered: make(chan struct{}), release: make(chan struct{})}
	service := NewService(gated, ldlog.NewDisabledLoggers())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := service.GetDelta(leaderCtx, devScope, rev(14))
		leaderErr <- err
	}()
	<-gated.entered
	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for cancelled caller to return")
	}

	// the computation is still blocked in View, so this joins it
	followerResult := make(chan Result, 1)
	go func() {
		r, err := service.GetDelta(context.Background(), devScope, rev(14))
		assert.NoError(t, err)
		followerResult <- r
	}()
	close(gated.release)
	select {
	case r := <-followerResult:
		assert.Equal(t, []string{"a"}, updatedNames(r))
		assert.Equal(t, int64(15), r.Revision)
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for delta")
	}
}

func TestPayload(t *testing.T) {
	r := Result{Revision: 3, Updated: []model.ClientFeature{{Name: "a"}}, Removed: []model.RemovedFeature{{Name: "b"}}}
	assert.Equal(t, Payload{Updated: r.Updated, Removed: r.Removed, RevisionID: 3}, r.Payload())
}

func TestCurrentRevision(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	current, err := p.service.CurrentRevision(p.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(14), current)

	p.createFeature("f", model.DefaultProjectID)
	current, err = p.service.CurrentRevision(p.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(15), current)
}

func TestParseRevision(t *testing.T) {
	for header, expected := range map[string]*int64{
		"14":                   rev(14),
		`"14"`:                 rev(14),
		`W/"14"`:               rev(14),
		" 0 ":                  rev(0),
		"":                     nil,
		"abc":                  nil,
		"-1":                   nil,
		`"1.5"`:                nil,
		"99999999999999999999": nil,
	} {
		t.Run(header, func(t *testing.T) {
			assert.Equal(t, expected, ParseRevision(header))
		})
	}
	assert.Equal(t, `"15"`, ETag(15))
	assert.Equal(t, rev(15), ParseRevision(ETag(15)))
}

func TestSnapshot(t *testing.T) {
	p := deltaTest(t, memory.WithRevision(14))
	p.createFeature("b", model.DefaultProjectID)
	p.createFeature("a", "other")

	snapshot, err := p.service.Snapshot(p.ctx, devScope)
	require.NoError(t, err)
	assert.Equal(t, int64(16), snapshot.Revision)
	require.Len(t, snapshot.Features, 2)
	assert.Equal(t, "a", snapshot.Features[0].Name)
	assert.True(t, snapshot.Features[0].Enabled)

	snapshot, err = p.service.Snapshot(p.ctx, flags.Scope{Environment: "development", Projects: []string{"other"}})
	require.NoError(t, err)
	require.Len(t, snapshot.Features, 1)
	assert.Equal(t, "a", snapshot.Features[0].Name)
}

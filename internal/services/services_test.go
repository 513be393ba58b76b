package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/flagpole-io/flagpole/internal/model"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/store/memory"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

const testUser = "tester"

type servicesTestParams struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	services *Services
	mockLog  *ldlogtest.MockLog
	clock    *testClock
	lock     sync.Mutex
	events   []model.Event
}

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	c.lock.Unlock()
}

func servicesTest(t *testing.T, options ...memory.Option) *servicesTestParams {
	p := &servicesTestParams{
		t:       t,
		ctx:     context.Background(),
		store:   memory.New(options...),
		mockLog: ldlogtest.NewMockLog(),
		clock:   &testClock{now: testTime},
	}
	p.services = New(Config{
		Store:        p.store,
		Loggers:      p.mockLog.Loggers,
		Now:          p.clock.Now,
		PasswordCost: bcrypt.MinCost,
	})
	p.services.Bus.Subscribe(func(_ context.Context, events []model.Event) {
		p.lock.Lock()
		p.events = append(p.events, events...)
		p.lock.Unlock()
	})
	require.NoError(t, p.services.Initialize(p.ctx, InitOptions{}))
	return p
}

func (p *servicesTestParams) publishedTypes() []model.EventType {
	p.lock.Lock()
	defer p.lock.Unlock()
	ret := make([]model.EventType, 0, len(p.events))
	for _, e := range p.events {
		ret = append(ret, e.Type)
	}
	return ret
}

func (p *servicesTestParams) clearEvents() {
	p.lock.Lock()
	p.events = nil
	p.lock.Unlock()
}

func (p *servicesTestParams) revision() int64 {
	var rev int64
	require.NoError(p.t, p.store.View(p.ctx, func(tx store.Tx) (err error) {
		rev, err = tx.CurrentRevision(p.ctx)
		return
	}))
	return rev
}

func (p *servicesTestParams) createFeature(name string) FeatureDetails {
	f, err := p.services.Features.CreateFeature(p.ctx, model.DefaultProjectID, model.Feature{Name: name}, testUser)
	require.NoError(p.t, err)
	return f
}

func requireNotFound(t *testing.T, err error) {
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)
}

func requireDenied(t *testing.T, err error) {
	var od *OperationDeniedError
	require.True(t, errors.As(err, &od), "expected OperationDeniedError, got %v", err)
}

func requireExists(t *testing.T, err error) {
	var ne *NameExistsError
	require.True(t, errors.As(err, &ne), "expected NameExistsError, got %v", err)
}

func requireInvalid(t *testing.T, err error) {
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
}

func TestEventsArePublishedAfterCommit(t *testing.T) {
	p := servicesTest(t)
	p.createFeature("my-feature")
	assert.Equal(t, []model.EventType{model.EventFeatureCreated}, p.publishedTypes())

	p.clearEvents()
	_, err := p.services.Features.CreateFeature(p.ctx, model.DefaultProjectID, model.Feature{Name: "my-feature"}, testUser)
	requireExists(t, err)
	assert.Empty(t, p.publishedTypes())
}

func TestFailedWriteDoesNotAdvanceRevision(t *testing.T) {
	p := servicesTest(t, memory.WithRevision(14))
	_, err := p.services.Features.CreateFeature(p.ctx, "no-such-project", model.Feature{Name: "f"}, testUser)
	requireNotFound(t, err)
	assert.Equal(t, int64(14), p.revision())

	p.createFeature("f")
	assert.Equal(t, int64(15), p.revision())
}

func TestEventsCarryActorAndTime(t *testing.T) {
	p := servicesTest(t)
	p.createFeature("f")
	p.lock.Lock()
	defer p.lock.Unlock()
	require.Len(t, p.events, 1)
	assert.Equal(t, testUser, p.events[0].CreatedBy)
	assert.Equal(t, testTime, p.events[0].CreatedAt)
	assert.Equal(t, "f", p.events[0].FeatureName)
	assert.Equal(t, model.DefaultProjectID, p.events[0].Project)
}

func TestInitializeIsIdempotent(t *testing.T) {
	p := servicesTest(t)
	require.NoError(t, p.services.Initialize(p.ctx, InitOptions{}))
	envs, err := p.services.Environments.List(p.ctx)
	require.NoError(t, err)
	assert.Len(t, envs, len(model.DefaultEnvironments()))
}

func TestInitializeCreatesTokensAndAdmin(t *testing.T) {
	p := servicesTest(t)
	opts := InitOptions{
		AdminEmail:    "admin@example.com",
		AdminPassword: "correct horse",
		ClientTokens:  []string{"*:development.abc123"},
	}
	require.NoError(t, p.services.Initialize(p.ctx, opts))
	require.NoError(t, p.services.Initialize(p.ctx, opts))

	tokens, err := p.services.APITokens.List(p.ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "development", tokens[0].Environment)
	assert.Equal(t, []string{model.AllProjects}, tokens[0].Projects)

	users, err := p.services.Users.ListUsers(p.ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, model.RoleAdmin, users[0].RootRole)

	_, err = p.services.Users.Authenticate(p.ctx, "admin@example.com", "correct horse")
	assert.NoError(t, err)
}

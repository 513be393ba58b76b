package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/store/storetest"
)

const testDatabaseURLVar = "FLAGPOLE_TEST_POSTGRES_URL"

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))
	assert.Equal(t, store.ErrNotFound, mapError(pgx.ErrNoRows))
	assert.Equal(t, store.ErrConflict, mapError(&pgconn.PgError{Code: codeUniqueViolation}))
	assert.Equal(t, store.ErrNotFound, mapError(&pgconn.PgError{Code: codeForeignKeyViolation}))

	other := errors.New("boom")
	assert.Equal(t, other, mapError(other))
}

func TestAffectedOne(t *testing.T) {
	assert.NoError(t, affectedOne(pgconn.NewCommandTag("UPDATE 1"), nil))
	assert.Equal(t, store.ErrNotFound, affectedOne(pgconn.NewCommandTag("DELETE 0"), nil))
}

func TestOpenRequiresURL(t *testing.T) {
	mockLog := ldlogtest.NewMockLog()
	_, err := Open(context.Background(), config.DatabaseConfig{}, mockLog.Loggers)
	assert.Equal(t, errEmptyConnectionString, err)
}

func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv(testDatabaseURLVar)
	if dbURL == "" {
		t.Skipf("set %s to run PostgreSQL store tests", testDatabaseURLVar)
	}
	u, err := ct.NewOptURLAbsoluteFromString(dbURL)
	require.NoError(t, err)

	storetest.RunStoreTests(t, func(t *testing.T) store.Store {
		mockLog := ldlogtest.NewMockLog()
		s, err := Open(context.Background(), config.DatabaseConfig{URL: u}, mockLog.Loggers)
		require.NoError(t, err)
		require.NoError(t, resetForTest(context.Background(), s))
		return s
	})
}

func resetForTest(ctx context.Context, s *Store) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE projects, environments, features, feature_environments,
		feature_strategies, strategy_definitions, segments, tag_types, feature_tags, api_tokens, users, addons,
		events, client_metrics, client_applications RESTART IDENTITY CASCADE;
		UPDATE revision_state SET revision = 0, floor = 0 WHERE id = 1`)
	return err
}

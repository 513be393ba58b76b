// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/util"
)

var (
	errEmptyConnectionString = errors.New("database URL is not set")
	errFailedToConnect       = errors.New("failed to connect to database")
)

// Store is a store.Store backed by a PostgreSQL connection pool.
type Store struct {
	pool    *pgxpool.Pool
	loggers ldlog.Loggers
}

// Open connects to the database described by the configuration, retrying if it is not yet reachable,
// and applies any pending schema migrations unless they are disabled.
func Open(ctx context.Context, dbConfig config.DatabaseConfig, loggers ldlog.Loggers) (*Store, error) {
	if !dbConfig.URL.IsDefined() {
		return nil, errEmptyConnectionString
	}
	connString := dbConfig.URL.String()
	loggers.Infof("Using PostgreSQL store at %s", util.RedactURL(connString))

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	if dbConfig.MaxConns.IsDefined() {
		poolConfig.MaxConns = int32(dbConfig.MaxConns.GetOrElse(0)) //nolint:gosec
	}
	if dbConfig.MinConns > 0 {
		poolConfig.MinConns = int32(dbConfig.MinConns) //nolint:gosec
	}

	pool, err := connect(ctx, poolConfig,
		dbConfig.ConnectRetries.GetOrElse(config.DefaultDatabaseConnectRetries),
		dbConfig.RetryInterval.GetOrElse(config.DefaultDatabaseRetryInterval),
		loggers)
	if err != nil {
		return nil, err
	}

	if !dbConfig.DisableMigrations {
		if err := migrate(ctx, pool, loggers); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &Store{pool: pool, loggers: loggers}, nil
}

func connect(
	ctx context.Context,
	poolConfig *pgxpool.Config,
	attempts int,
	interval time.Duration,
	loggers ldlog.Loggers,
) (*pgxpool.Pool, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := time.Duration(i) * interval
			loggers.Warnf("Database connection failed (%s), will retry in %s", lastErr, delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			lastErr = err
			continue
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			lastErr = err
			continue
		}
		return pool, nil
	}
	return nil, errors.Join(errFailedToConnect, lastErr)
}

// View implements store.Store. The transaction is read-only with a repeatable-read snapshot.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return pgx.BeginTxFunc(ctx, s.pool, opts, func(ptx pgx.Tx) error {
		return fn(&tx{tx: ptx, readOnly: true})
	})
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(ptx pgx.Tx) error {
		return fn(&tx{tx: ptx})
	})
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/pressly/goose/v3"
)

const migrationsTable = "flagpole_schema_migrations"

//go:embed migrations/*.sql
var migrations embed.FS

func migrate(ctx context.Context, pool *pgxpool.Pool, loggers ldlog.Loggers) error {
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if err := db.Close(); err != nil {
			loggers.Warnf("Error closing migration connection: %s", err)
		}
	}()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{loggers})
	goose.SetTableName(migrationsTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

type gooseLogger struct {
	loggers ldlog.Loggers
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	l.loggers.Errorf(format, v...)
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	l.loggers.Infof(format, v...)
}

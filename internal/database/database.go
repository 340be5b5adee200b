// Package database opens the PostgreSQL pool and applies schema migrations.
package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/jackc/tern/v2/migrate"
	"github.com/newrelic/go-agent/v3/integrations/nrpgx5"
	"github.com/rs/zerolog"

	"github.com/akave-ai/anomalog/internal/config"
)

const versionTable = "schema_version"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Database wraps the pool shared by the repositories.
type Database struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to cfg and pings the server. Queries are traced through New
// Relic when withNewRelic is set, otherwise logged at debug level.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger, withNewRelic bool) (*Database, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(min(cfg.MaxIdleConns, cfg.MaxOpenConns))
	poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetime) * time.Second
	poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleTime) * time.Second
	poolCfg.ConnConfig.Tracer = queryTracer(logger, withNewRelic)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("connected to database")
	return &Database{Pool: pool, log: logger}, nil
}

func queryTracer(logger zerolog.Logger, withNewRelic bool) pgx.QueryTracer {
	if withNewRelic {
		return nrpgx5.NewTracer()
	}
	return &tracelog.TraceLog{
		Logger:   zerologadapter.NewLogger(logger.With().Str("component", "pgx").Logger()),
		LogLevel: tracelog.LogLevelDebug,
	}
}

func (db *Database) Close() {
	if db == nil || db.Pool == nil {
		return
	}
	db.Pool.Close()
}

// Migrate applies the embedded migrations on a dedicated connection.
func (db *Database) Migrate(ctx context.Context) error {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	m, err := migrate.NewMigrator(ctx, conn.Conn(), versionTable)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	if err := m.LoadMigrations(sub); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	from, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	to := int32(len(m.Migrations))
	if from == to {
		db.log.Info().Int32("version", to).Msg("database schema up to date")
	} else {
		db.log.Info().Int32("from", from).Int32("to", to).Msg("migrated database schema")
	}
	return nil
}

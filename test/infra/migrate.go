package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"contractflow/db"
)

// AppName tags every connection opened by ApplyMigrations so chaos only
// targets this run's backends.
const AppName = "intake-stress"

// ApplyMigrations opens a pool against dsn and applies the embedded schema.
// With isolate set the schema lives in a fresh per-run namespace that the
// returned teardown drops; otherwise teardown is a no-op.
func ApplyMigrations(ctx context.Context, dsn string, isolate bool) (*pgxpool.Pool, func(context.Context) error, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("infra: parse pool config: %w", err)
	}
	cfg.MaxConns = 32
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.ConnConfig.RuntimeParams["application_name"] = AppName

	teardown := func(context.Context) error { return nil }
	if isolate {
		schema, drop, err := createSchema(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
		teardown = drop
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		_ = teardown(ctx)
		return nil, nil, fmt.Errorf("infra: connect pool: %w", err)
	}
	if _, err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		_ = teardown(ctx)
		return nil, nil, err
	}
	return pool, teardown, nil
}

func createSchema(ctx context.Context, dsn string) (string, func(context.Context) error, error) {
	schema := fmt.Sprintf("intake_run_%d", time.Now().UnixNano())
	ident := pgx.Identifier{schema}.Sanitize()

	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+ident); err != nil {
		return "", nil, fmt.Errorf("infra: create schema %s: %w", schema, err)
	}
	drop := func(ctx context.Context) error {
		return execOnce(ctx, dsn, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
	}
	return schema, drop, nil
}

func execOnce(ctx context.Context, dsn, sql string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}

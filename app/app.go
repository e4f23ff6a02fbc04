// Package app assembles the pipeline services from configuration. Both the
// HTTP server and the operator CLI start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"contractflow/config"
	"contractflow/db"
	"contractflow/finalize"
	"contractflow/logger"
	"contractflow/matcher"
	"contractflow/observability"
	"contractflow/operator"
	"contractflow/sequence"
	"contractflow/staging"
	"contractflow/workspace"
)

type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Pool       *pgxpool.Pool
	Numbers    *sequence.Allocator
	Workspaces *workspace.Service
	Staging    *staging.Service
	Matcher    *matcher.Matcher
	Finalizer  *finalize.Finalizer
	// Tokens is nil when no signing secret is configured.
	Tokens *operator.Tokens

	stopTracing func(context.Context) error
}

// Open connects to the database and wires every service.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("app: logger: %w", err)
	}

	stopTracing, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("app: tracing: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, db.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		_ = stopTracing(ctx)
		return nil, fmt.Errorf("app: database: %w", err)
	}

	a := &App{Config: cfg, Log: log, Pool: pool, stopTracing: stopTracing}
	a.wire()

	if cfg.Auth.JWTSecret != "" {
		tokens, err := operator.NewTokens(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenExpireHours)*time.Hour)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Tokens = tokens
	}
	return a, nil
}

func (a *App) wire() {
	cfg := a.Config
	a.Numbers = sequence.NewAllocator(a.Pool)
	a.Workspaces = workspace.NewService(a.Pool, workspace.NewRepository()).
		WithLease(cfg.Intake.ClaimLease).
		WithLogger(a.Log.With("component", "workspace"))
	a.Staging = staging.NewService(a.Pool, staging.NewRepository(), a.Workspaces, a.Numbers).
		WithLease(cfg.Intake.ClaimLease).
		WithMaxRows(cfg.Intake.ImportMaxRow).
		WithLogger(a.Log.With("component", "staging"))
	a.Matcher = matcher.New(a.Pool, a.Workspaces).
		WithLimit(cfg.Intake.SearchLimit).
		WithLogger(a.Log.With("component", "matcher"))
	a.Finalizer = finalize.New(a.Pool, a.Workspaces, a.Numbers).
		WithRecipient(cfg.Notify.Recipient).
		WithLogger(a.Log.With("component", "finalize"))
}

// Close releases the pool, flushes spans and syncs the logger.
func (a *App) Close(ctx context.Context) {
	a.Pool.Close()
	if err := a.stopTracing(ctx); err != nil {
		a.Log.Warn("tracing shutdown", "error", err)
	}
	a.Log.Sync()
}

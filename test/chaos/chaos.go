package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer terminates random backends tagged with AppName until stopped.
type Killer struct {
	Pool     *pgxpool.Pool
	AppName  string
	Interval time.Duration
	// Odds is the 1-in-N chance of a kill on each tick.
	Odds int

	kills atomic.Int64
}

// Kills reports how many backends were terminated.
func (k *Killer) Kills() int64 { return k.kills.Load() }

// Run blocks until ctx is done or stop is closed.
func (k *Killer) Run(ctx context.Context, stop <-chan struct{}) {
	interval := k.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	odds := k.Odds
	if odds <= 0 {
		odds = 5
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(odds) != 0 {
				continue
			}
			var killed bool
			err := k.Pool.QueryRow(ctx, `
				SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false) FROM (
					SELECT pid FROM pg_stat_activity
					WHERE datname = current_database()
					  AND pid <> pg_backend_pid()
					  AND ($1 = '' OR application_name = $1)
					ORDER BY random() LIMIT 1
				) victim`, k.AppName).Scan(&killed)
			if err == nil && killed {
				k.kills.Add(1)
			}
		}
	}
}

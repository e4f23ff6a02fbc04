package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema files in lexical order. Every file is
// written to be re-runnable.
func Migrate(ctx context.Context, q Querier) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("db: read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return applied, fmt.Errorf("db: read %s: %w", e.Name(), err)
		}
		if _, err := q.Exec(ctx, string(data)); err != nil {
			return applied, fmt.Errorf("db: apply %s: %w", e.Name(), err)
		}
		applied = append(applied, e.Name())
	}

	return applied, nil
}

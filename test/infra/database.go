package infra

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	localDatabase = "intake_stress"
	localRole     = "intake"
	localPassword = "intake"
)

// InitLocalDatabase recreates the intake_stress database on a Postgres server
// listening on PGHOST:PGPORT (default 127.0.0.1:5432) and returns a DSN owned
// by the intake role.
func InitLocalDatabase(ctx context.Context) (string, error) {
	host := envOr("PGHOST", "127.0.0.1")
	port := envOr("PGPORT", "5432")
	if !listening(host, port) {
		return "", fmt.Errorf("infra: no postgres listening on %s:%s", host, port)
	}

	admin, err := connectAdmin(ctx, host, port)
	if err != nil {
		return "", err
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{localRole}.Sanitize()
	dbName := pgx.Identifier{localDatabase}.Sanitize()
	stmts := []string{
		fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s WITH LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$`, role, localPassword),
		fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, localDatabase),
		fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, dbName),
		fmt.Sprintf(`CREATE DATABASE %s OWNER %s`, dbName, role),
	}
	for _, stmt := range stmts {
		if _, err := admin.Exec(ctx, stmt); err != nil {
			return "", fmt.Errorf("infra: prepare %s: %w", localDatabase, err)
		}
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", localRole, localPassword, host, port, localDatabase), nil
}

// connectAdmin tries PGUSER, postgres and $USER, with and without the
// conventional "postgres" password.
func connectAdmin(ctx context.Context, host, port string) (*pgx.Conn, error) {
	users := []string{os.Getenv("PGUSER"), "postgres", os.Getenv("USER")}
	passwords := []string{os.Getenv("PGPASSWORD"), "postgres"}

	var errs []error
	for _, user := range users {
		if user == "" {
			continue
		}
		for _, pw := range passwords {
			cred := user
			if pw != "" {
				cred = user + ":" + pw
			}
			dsn := fmt.Sprintf("postgres://%s@%s:%s/postgres?sslmode=disable", cred, host, port)
			conn, err := pgx.Connect(ctx, dsn)
			if err == nil {
				return conn, nil
			}
			errs = append(errs, err)
		}
	}
	return nil, fmt.Errorf("infra: connect as admin: %w", errors.Join(errs...))
}

func listening(host, port string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

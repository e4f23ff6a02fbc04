package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8*time.Hour, cfg.Intake.ClaimLease)
	assert.Equal(t, 20, cfg.Intake.SearchLimit)
	assert.Equal(t, "contractflow", cfg.Tracing.ServiceName)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9000
database:
  url: postgres://file/db
intake:
  claim_lease: 30m
notify:
  recipient: ops@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, 30*time.Minute, cfg.Intake.ClaimLease)
	assert.Equal(t, "ops@example.com", cfg.Notify.Recipient)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("PORT", "eighty")
	_, err := Load("")
	assert.ErrorContains(t, err, "PORT")
}

func TestValidate_ReportsEverythingMissing(t *testing.T) {
	cfg := Default()
	cfg.Notify.Recipient = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "database.url")
	assert.ErrorContains(t, err, "jwt_secret")
	assert.ErrorContains(t, err, "notify.recipient")
}

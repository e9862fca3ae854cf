package knex_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	knex "github.com/sam-lord/knex"
)

func writeKnexfile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "knexfile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigReadsKnexfile(t *testing.T) {
	path := writeKnexfile(t, `
client: pg
connection: postgres://localhost/app
debug: true
useNullAsDefault: true
searchPath:
  - crm
pool:
  min: 1
  max: 7
  acquireTimeoutMs: 1500
  propagateCreateError: true
compileSqlOnError: false
`)
	cfg, err := knex.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "pg", cfg.Client)
	assert.Equal(t, "postgres://localhost/app", cfg.Connection)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.UseNullAsDefault)
	assert.Equal(t, []string{"crm"}, cfg.SearchPath)
	assert.Equal(t, 1, cfg.Pool.Min)
	assert.Equal(t, 7, cfg.Pool.Max)
	assert.Equal(t, 1500*time.Millisecond, cfg.Pool.AcquireTimeout)
	assert.True(t, cfg.Pool.PropagateCreateError)
	require.NotNil(t, cfg.CompileSQLOnError)
	assert.False(t, *cfg.CompileSQLOnError)
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("APP_DB_URL", "postgres://prod/app")
	path := writeKnexfile(t, `
client: pg
connection: ${APP_DB_URL}
`)
	cfg, err := knex.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://prod/app", cfg.Connection)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := knex.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, knex.ErrConfig)
}

func TestLoadConfigInvalidClient(t *testing.T) {
	path := writeKnexfile(t, "connection: x\n")
	_, err := knex.LoadConfig(path)
	assert.ErrorIs(t, err, knex.ErrConfig)
}

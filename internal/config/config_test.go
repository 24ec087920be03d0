package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvlad212/moviesync/internal/retry"
)

var envKeys = []string{
	ConfigFileEnv, "ETL_PIPELINE", "MODEL_TO_CHECK",
	"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_SCHEMA", "DB_DSN",
	"ES_URL", "ES_HOST", "ES_PORT", "ES_USER", "ES_PASSWORD",
	"CHECKPOINT_BACKEND", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB",
	"CHECKPOINT_SQLITE_PATH", "CHECKPOINT_LOCK_TTL",
	"PAGE_SIZE", "RELATED_BATCH_SIZE", "BACKOFF_BASE", "BACKOFF_MAX", "BACKOFF_MAX_ATTEMPTS",
	"MOVIESYNC_LOG_FILE", "MOVIESYNC_LOG_LEVEL",
}

// clearEnv blanks every variable Load reads; empty counts as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moviesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "movies", cfg.PipelineDef().Name)
	assert.Equal(t, "host=localhost port=5432 dbname=movies_database user=app sslmode=disable password=123qwe", cfg.DataSourceName())
	assert.Equal(t, "http://localhost:9200", cfg.ElasticsearchURL())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Equal(t, retry.DefaultPolicy(), cfg.RetryPolicy())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ETL_PIPELINE", "genres")
	t.Setenv("MODEL_TO_CHECK", "genre")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6432")
	t.Setenv("ES_URL", "https://search:9243")
	t.Setenv("CHECKPOINT_BACKEND", "sqlite")
	t.Setenv("PAGE_SIZE", "500")
	t.Setenv("BACKOFF_BASE", "250ms")
	t.Setenv("BACKOFF_MAX", "30")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "genres", cfg.Pipeline)
	assert.Equal(t, "genre", string(cfg.EntityType()))
	assert.Equal(t, "db.internal", cfg.Source.Host)
	assert.Equal(t, 6432, cfg.Source.Port)
	assert.Equal(t, "https://search:9243", cfg.ElasticsearchURL())
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, 100, cfg.RelatedBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
}

func TestLoad_MalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAGE_SIZE", "lots")
	t.Setenv("BACKOFF_MAX", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAGE_SIZE")
	assert.Contains(t, err.Error(), "BACKOFF_MAX")
}

func TestLoad_FileOverlay(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
pipeline: persons
entity: person
source:
  host: replica
  schema: public
checkpoint:
  backend: sqlite
  sqlite_path: /var/lib/moviesync/state.db
  lock_ttl: 15m
page_size: 50
backoff_max: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "persons", cfg.Pipeline)
	assert.Equal(t, "replica", cfg.Source.Host)
	assert.Equal(t, "public", cfg.Source.Schema)
	assert.Equal(t, 5432, cfg.Source.Port, "keys absent from the file keep defaults")
	assert.Equal(t, "/var/lib/moviesync/state.db", cfg.Checkpoint.SQLitePath)
	assert.Equal(t, 15*time.Minute, cfg.Checkpoint.LockTTL)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, time.Minute, cfg.BackoffMax)
}

func TestLoad_EnvironmentBeatsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(ConfigFileEnv, writeFile(t, "page_size: 50\nsource:\n  host: replica\n"))
	t.Setenv("PAGE_SIZE", "75")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 75, cfg.PageSize)
	assert.Equal(t, "replica", cfg.Source.Host)
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = Load(writeFile(t, "page_size: [1, 2]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown pipeline", func(c *Config) { c.Pipeline = "shows" }, `unknown pipeline "shows"`},
		{"unknown entity", func(c *Config) { c.Entity = "studio" }, `unknown entity type "studio"`},
		{"untracked entity", func(c *Config) { c.Pipeline = "genres"; c.Entity = "person" }, "does not track person"},
		{"unknown driver", func(c *Config) { c.Source.Driver = "mysql" }, `unknown source driver "mysql"`},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "etcd" }, `unknown checkpoint backend "etcd"`},
		{"zero page size", func(c *Config) { c.PageSize = 0 }, "page size must be positive"},
		{"negative related batch", func(c *Config) { c.RelatedBatchSize = -1 }, "related batch size must be positive"},
		{"negative attempts", func(c *Config) { c.BackoffMaxAttempts = -1 }, "must not be negative"},
		{"backoff max below base", func(c *Config) { c.BackoffMax = time.Millisecond }, "below backoff base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.PageSize = 0
	cfg.Checkpoint.Backend = "etcd"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page size")
	assert.Contains(t, err.Error(), "checkpoint backend")
}

func TestDataSourceName(t *testing.T) {
	cfg := Defaults()
	cfg.Source.Password = "it's secret"
	assert.Contains(t, cfg.DataSourceName(), `password='it\'s secret'`)

	cfg.Source.DSN = "postgres://app@db/movies"
	assert.Equal(t, "postgres://app@db/movies", cfg.DataSourceName())

	cfg = Defaults()
	cfg.Source.Driver = "sqlite3"
	cfg.Source.Name = "/tmp/movies.db"
	assert.Equal(t, "/tmp/movies.db", cfg.DataSourceName())
}

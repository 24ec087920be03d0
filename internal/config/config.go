// Package config builds the moviesync process configuration from defaults,
// an optional YAML file, and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vvlad212/moviesync/internal/model"
	"github.com/vvlad212/moviesync/internal/retry"
)

// ConfigFileEnv names the variable holding the YAML overlay path.
const ConfigFileEnv = "MOVIESYNC_CONFIG"

// Config holds all configuration values.
type Config struct {
	// Target
	Pipeline string `yaml:"pipeline"`
	Entity   string `yaml:"entity"`

	Source        SourceConfig        `yaml:"source"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`

	// Batching
	PageSize         int `yaml:"page_size"`
	RelatedBatchSize int `yaml:"related_batch_size"`

	// Reconnect backoff
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`

	// BackoffMaxAttempts bounds reconnect attempts; zero retries forever.
	BackoffMaxAttempts int `yaml:"backoff_max_attempts"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// SourceConfig locates the relational store.
type SourceConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`

	// DSN overrides the parts above when set.
	DSN string `yaml:"dsn"`
}

// ElasticsearchConfig locates the search cluster.
type ElasticsearchConfig struct {
	// URL overrides Host and Port when set.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CheckpointConfig selects and locates the checkpoint store.
type CheckpointConfig struct {
	Backend       string        `yaml:"backend"`
	RedisHost     string        `yaml:"redis_host"`
	RedisPort     int           `yaml:"redis_port"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	SQLitePath    string        `yaml:"sqlite_path"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// Checkpoint backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Defaults returns the configuration used when nothing is set. The values
// match the deployment the ETL jobs always ran in.
func Defaults() Config {
	return Config{
		Pipeline: model.MoviesPipeline.Name,
		Entity:   string(model.FilmWork),
		Source: SourceConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Name:     "movies_database",
			User:     "app",
			Password: "123qwe",
			Schema:   "content",
		},
		Elasticsearch: ElasticsearchConfig{
			Host: "localhost",
			Port: 9200,
		},
		Checkpoint: CheckpointConfig{
			Backend:    BackendRedis,
			RedisHost:  "localhost",
			RedisPort:  6379,
			SQLitePath: "moviesync-state.db",
		},
		PageSize:         100,
		RelatedBatchSize: 100,
		BackoffBase:      100 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		LogFile:          "/tmp/moviesync.log",
		LogLevel:         "INFO",
	}
}

// Load builds the configuration. path names a YAML overlay; when empty,
// MOVIESYNC_CONFIG is consulted, and no file is read if both are empty.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) error {
	c.Pipeline = getEnv("ETL_PIPELINE", c.Pipeline)
	c.Entity = getEnv("MODEL_TO_CHECK", c.Entity)

	// Source
	c.Source.Driver = getEnv("DB_DRIVER", c.Source.Driver)
	c.Source.Host = getEnv("DB_HOST", c.Source.Host)
	c.Source.Name = getEnv("DB_NAME", c.Source.Name)
	c.Source.User = getEnv("DB_USER", c.Source.User)
	c.Source.Password = getEnv("DB_PASSWORD", c.Source.Password)
	c.Source.Schema = getEnv("DB_SCHEMA", c.Source.Schema)
	c.Source.DSN = getEnv("DB_DSN", c.Source.DSN)

	// Elasticsearch
	c.Elasticsearch.URL = getEnv("ES_URL", c.Elasticsearch.URL)
	c.Elasticsearch.Host = getEnv("ES_HOST", c.Elasticsearch.Host)
	c.Elasticsearch.Username = getEnv("ES_USER", c.Elasticsearch.Username)
	c.Elasticsearch.Password = getEnv("ES_PASSWORD", c.Elasticsearch.Password)

	// Checkpoint store
	c.Checkpoint.Backend = getEnv("CHECKPOINT_BACKEND", c.Checkpoint.Backend)
	c.Checkpoint.RedisHost = getEnv("REDIS_HOST", c.Checkpoint.RedisHost)
	c.Checkpoint.RedisPassword = getEnv("REDIS_PASSWORD", c.Checkpoint.RedisPassword)
	c.Checkpoint.SQLitePath = getEnv("CHECKPOINT_SQLITE_PATH", c.Checkpoint.SQLitePath)

	// Logging
	c.LogFile = getEnv("MOVIESYNC_LOG_FILE", c.LogFile)
	c.LogLevel = getEnv("MOVIESYNC_LOG_LEVEL", c.LogLevel)

	var errs []error
	ints := []struct {
		key string
		dst *int
	}{
		{"DB_PORT", &c.Source.Port},
		{"ES_PORT", &c.Elasticsearch.Port},
		{"REDIS_PORT", &c.Checkpoint.RedisPort},
		{"REDIS_DB", &c.Checkpoint.RedisDB},
		{"PAGE_SIZE", &c.PageSize},
		{"RELATED_BATCH_SIZE", &c.RelatedBatchSize},
		{"BACKOFF_MAX_ATTEMPTS", &c.BackoffMaxAttempts},
	}
	for _, v := range ints {
		n, err := getEnvInt(v.key, *v.dst)
		errs = append(errs, err)
		*v.dst = n
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"BACKOFF_BASE", &c.BackoffBase},
		{"BACKOFF_MAX", &c.BackoffMax},
		{"CHECKPOINT_LOCK_TTL", &c.Checkpoint.LockTTL},
	}
	for _, v := range durations {
		d, err := getEnvDuration(v.key, *v.dst)
		errs = append(errs, err)
		*v.dst = d
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal, fmt.Errorf("%s: %q is not an integer", key, val)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("250ms") and bare seconds ("10").
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return defaultVal, fmt.Errorf("%s: %q is not a duration", key, val)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	p, err := model.LookupPipeline(c.Pipeline)
	if err != nil {
		errs = append(errs, err)
	}
	e, err := model.ParseEntityType(c.Entity)
	if err != nil {
		errs = append(errs, err)
	} else if p.Name != "" && !p.Tracks(e) {
		errs = append(errs, fmt.Errorf("pipeline %s does not track %s (tracked: %v)", p.Name, e, p.Tracked))
	}

	switch c.Source.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("unknown source driver %q", c.Source.Driver))
	}
	switch c.Checkpoint.Backend {
	case BackendRedis, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q (want %s or %s)", c.Checkpoint.Backend, BackendRedis, BackendSQLite))
	}

	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.RelatedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("related batch size must be positive, got %d", c.RelatedBatchSize))
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("backoff base must be positive, got %s", c.BackoffBase))
	}
	if c.BackoffMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("backoff max attempts must not be negative, got %d", c.BackoffMaxAttempts))
	}
	if c.BackoffMax < c.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff max %s is below backoff base %s", c.BackoffMax, c.BackoffBase))
	}
	return errors.Join(errs...)
}

// PipelineDef returns the configured pipeline. Call Validate first.
func (c Config) PipelineDef() model.Pipeline {
	p, _ := model.LookupPipeline(c.Pipeline)
	return p
}

// DataSourceName returns the driver-specific DSN for the source store.
func (c Config) DataSourceName() string {
	s := c.Source
	if s.DSN != "" {
		return s.DSN
	}
	if s.Driver == "sqlite3" {
		return s.Name
	}
	parts := []string{
		"host=" + quoteDSN(s.Host),
		"port=" + strconv.Itoa(s.Port),
		"dbname=" + quoteDSN(s.Name),
		"user=" + quoteDSN(s.User),
		"sslmode=disable",
	}
	if s.Password != "" {
		parts = append(parts, "password="+quoteDSN(s.Password))
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a lib/pq key/value when it holds spaces or quotes.
func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ElasticsearchURL returns the cluster URL.
func (c Config) ElasticsearchURL() string {
	if c.Elasticsearch.URL != "" {
		return c.Elasticsearch.URL
	}
	u := url.URL{Scheme: "http", Host: c.Elasticsearch.Host + ":" + strconv.Itoa(c.Elasticsearch.Port)}
	return u.String()
}

// RedisAddr returns host:port of the Redis checkpoint store.
func (c Config) RedisAddr() string {
	return c.Checkpoint.RedisHost + ":" + strconv.Itoa(c.Checkpoint.RedisPort)
}

// EntityType returns the configured triggering type. Call Validate first.
func (c Config) EntityType() model.EntityType {
	return model.EntityType(c.Entity)
}

// RetryPolicy returns the reconnect schedule shared by every backing store.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:   c.BackoffBase,
		MaxDelay:    c.BackoffMax,
		MaxAttempts: c.BackoffMaxAttempts,
	}
}

package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/lib/pq"

	"github.com/vvlad212/moviesync/internal/retry"
)

// Config holds the relational store connection settings.
type Config struct {
	// Driver is the database/sql driver name ("postgres" in production).
	Driver string

	// DSN is the driver-specific data source name.
	DSN string

	// Schema prefixes every table name ("content" for the movies database).
	// Empty means unqualified names.
	Schema string
}

// DB is a read-only SQL client that reconnects when a query fails.
type DB struct {
	cfg    Config
	policy retry.Policy
	log    *slog.Logger

	mu     sync.Mutex
	db     *sql.DB
	broken bool
}

// Open connects to the source store, retrying with policy until the server
// answers a ping or ctx is done.
func Open(ctx context.Context, cfg Config, policy retry.Policy, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &DB{
		cfg:    cfg,
		policy: policy,
		log:    log.With("component", "source", "driver", cfg.Driver),
		broken: true,
	}
	err := retry.Do(ctx, policy, d.log, "connect", func(ctx context.Context) error {
		return d.reconnect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to source: %w", err)
	}
	return d, nil
}

// reconnect replaces the pool with a fresh one. Callers hold no lock.
func (d *DB) reconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.broken {
		return nil
	}
	if d.db != nil {
		_ = d.db.Close()
		d.db = nil
	}

	d.log.Info("connecting to source database")
	db, err := sql.Open(d.cfg.Driver, d.cfg.DSN)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	d.db = db
	d.broken = false
	d.log.Info("connected to source database")
	return nil
}

func (d *DB) markBroken() {
	d.mu.Lock()
	d.broken = true
	d.mu.Unlock()
}

func (d *DB) pool() *sql.DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db
}

// Tables returns the table naming for this source.
func (d *DB) Tables() Tables {
	return Tables{Schema: d.cfg.Schema}
}

// Close closes the pool.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	d.broken = true
	return err
}

// errScan marks a row decoding failure. Those are not fixed by reconnecting.
type errScan struct{ err error }

func (e errScan) Error() string { return e.err.Error() }
func (e errScan) Unwrap() error { return e.err }

// queryAll runs query and decodes every row with scan. Any query or
// iteration error marks the pool broken, and the same query with the same
// arguments is retried on a fresh connection. Decoding errors are returned
// at once.
func queryAll[T any](ctx context.Context, d *DB, step, query string, args []any, scan func(*sql.Rows) (T, error)) ([]T, error) {
	var out []T
	err := retry.Do(ctx, d.policy, d.log, step, func(ctx context.Context) error {
		if err := d.reconnect(ctx); err != nil {
			return err
		}
		out = nil

		rows, err := d.pool().QueryContext(ctx, query, args...)
		if err != nil {
			return d.fail(ctx, step, err)
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				return retry.Permanent(errScan{fmt.Errorf("%s: decode row: %w", step, err)})
			}
			out = append(out, v)
		}
		if err := rows.Err(); err != nil {
			return d.fail(ctx, step, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *DB) fail(ctx context.Context, step string, err error) error {
	if ctx.Err() != nil {
		return retry.Permanent(ctx.Err())
	}
	d.log.Error("query failed, reconnecting", "step", step, "error", err)
	d.markBroken()
	return err
}

// IsDecodeError reports whether err came from decoding a row.
func IsDecodeError(err error) bool {
	var e errScan
	return errors.As(err, &e)
}

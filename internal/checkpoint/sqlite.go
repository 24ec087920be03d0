package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vvlad212/moviesync/internal/model"
	"github.com/vvlad212/moviesync/internal/retry"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Index on run_locks.acquired_at for TTL expiry
const currentSchemaVersion = 1

// SQLiteStore keeps checkpoints in a local SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
	lockTTL   time.Duration
	policy    retry.Policy
	log       *slog.Logger
	now       func() time.Time
}

// OpenSQLite creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode so `checkpoint show` can read during a run
//   - 5-second busy timeout for lock contention between overlapping runs
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path, namespace string, lockTTL time.Duration, policy retry.Policy, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{
		db:        db,
		namespace: namespace,
		lockTTL:   lockTTL,
		policy:    policy,
		log:       log.With("component", "checkpoint", "backend", "sqlite"),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_locks_acquired ON run_locks(acquired_at)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// do retries fn while SQLite reports the database busy or locked.
func (s *SQLiteStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.policy, s.log, op, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
			return err
		}
		return retry.Permanent(err)
	})
}

func (s *SQLiteStore) Checkpoint(ctx context.Context, e model.EntityType) (time.Time, error) {
	var ts time.Time
	err := s.do(ctx, "get checkpoint", func(ctx context.Context) error {
		var raw string
		err := s.db.QueryRowContext(ctx,
			`SELECT processed_at FROM checkpoints WHERE namespace = ? AND entity = ?`,
			s.namespace, string(e),
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Info("checkpoint not found, storing sentinel", "entity", e)
			ts = time.Time{}
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO checkpoints (namespace, entity, processed_at, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(namespace, entity) DO NOTHING
			`, s.namespace, string(e), Encode(ts), Encode(s.now()))
			return err
		}
		if err != nil {
			return err
		}
		ts, err = Decode(raw)
		return err
	})
	return ts, err
}

func (s *SQLiteStore) Checkpoints(ctx context.Context) (map[model.EntityType]time.Time, error) {
	var out map[model.EntityType]time.Time
	err := s.do(ctx, "get checkpoints", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT entity, processed_at FROM checkpoints WHERE namespace = ? ORDER BY entity`,
			s.namespace,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make(map[model.EntityType]time.Time)
		for rows.Next() {
			var entity, raw string
			if err := rows.Scan(&entity, &raw); err != nil {
				return err
			}
			ts, err := Decode(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", entity, err)
			}
			out[model.EntityType(entity)] = ts
		}
		return rows.Err()
	})
	return out, err
}

// Advance writes all entities in one transaction. The WHERE clause on the
// upsert keeps the stored value when it is already at or past ts.
func (s *SQLiteStore) Advance(ctx context.Context, ts time.Time, entities ...model.EntityType) error {
	value := Encode(ts)
	err := s.do(ctx, "advance checkpoint", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, e := range entities {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO checkpoints (namespace, entity, processed_at, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(namespace, entity) DO UPDATE
				SET processed_at = excluded.processed_at, updated_at = excluded.updated_at
				WHERE excluded.processed_at > checkpoints.processed_at
			`, s.namespace, string(e), value, Encode(s.now()))
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("advance %v: %w", entities, err)
	}
	s.log.Info("checkpoint advanced", "entities", entities, "checkpoint", ts)
	return nil
}

func (s *SQLiteStore) TryAcquireLock(ctx context.Context, e model.EntityType) (bool, error) {
	var acquired bool
	err := s.do(ctx, "acquire lock", func(ctx context.Context) error {
		now := s.now()
		if s.lockTTL > 0 {
			_, err := s.db.ExecContext(ctx,
				`DELETE FROM run_locks WHERE namespace = ? AND entity = ? AND acquired_at < ?`,
				s.namespace, string(e), Encode(now.Add(-s.lockTTL)),
			)
			if err != nil {
				return err
			}
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO run_locks (namespace, entity, acquired_at)
			VALUES (?, ?, ?)
			ON CONFLICT(namespace, entity) DO NOTHING
		`, s.namespace, string(e), Encode(now))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		acquired = n == 1
		return nil
	})
	return acquired, err
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, e model.EntityType) error {
	return s.do(ctx, "release lock", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM run_locks WHERE namespace = ? AND entity = ?`,
			s.namespace, string(e),
		)
		return err
	})
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	return s.do(ctx, "reset checkpoints", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE namespace = ?`, s.namespace)
		return err
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

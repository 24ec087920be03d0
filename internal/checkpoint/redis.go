package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vvlad212/moviesync/internal/model"
	"github.com/vvlad212/moviesync/internal/retry"
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// LockTTL expires a run lock left behind by a crashed run. Zero keeps
	// the lock until it is released explicitly.
	LockTTL time.Duration
}

// RedisStore keeps checkpoints in a Redis hash.
type RedisStore struct {
	client    *redis.Client
	namespace string
	lockTTL   time.Duration
	policy    retry.Policy
	log       *slog.Logger
}

// OpenRedis connects to Redis, retrying with policy until the server answers
// PING or ctx is done.
func OpenRedis(ctx context.Context, opts RedisOptions, namespace string, policy retry.Policy, log *slog.Logger) (*RedisStore, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		namespace: namespace,
		lockTTL:   opts.LockTTL,
		policy:    policy,
		log:       log.With("component", "checkpoint", "backend", "redis"),
	}

	s.log.Info("connecting to redis", "addr", opts.Addr, "db", opts.DB)
	err := retry.Do(ctx, policy, s.log, "redis ping", func(ctx context.Context) error {
		return s.client.Ping(ctx).Err()
	})
	if err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	s.log.Info("connected to redis")
	return s, nil
}

func (s *RedisStore) checkpointsKey() string {
	return "moviesync:" + s.namespace + ":checkpoints"
}

func (s *RedisStore) lockKey(e model.EntityType) string {
	return "moviesync:" + s.namespace + ":lock:" + string(e)
}

// do retries fn on connectivity errors. Server error replies and decoding
// failures are returned at once.
func (s *RedisStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.policy, s.log, op, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || isTransient(err) {
			return err
		}
		return retry.Permanent(err)
	})
}

func isTransient(err error) bool {
	if errors.Is(err, redis.TxFailedErr) {
		return true
	}
	if errors.Is(err, ErrParse) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var replyErr redis.Error
	return !errors.As(err, &replyErr)
}

func (s *RedisStore) Checkpoint(ctx context.Context, e model.EntityType) (time.Time, error) {
	var ts time.Time
	err := s.do(ctx, "get checkpoint", func(ctx context.Context) error {
		raw, err := s.client.HGet(ctx, s.checkpointsKey(), string(e)).Result()
		if errors.Is(err, redis.Nil) {
			s.log.Info("checkpoint not found, storing sentinel", "entity", e)
			ts = time.Time{}
			return s.client.HSetNX(ctx, s.checkpointsKey(), string(e), Encode(ts)).Err()
		}
		if err != nil {
			return err
		}
		ts, err = Decode(raw)
		return err
	})
	return ts, err
}

func (s *RedisStore) Checkpoints(ctx context.Context) (map[model.EntityType]time.Time, error) {
	var out map[model.EntityType]time.Time
	err := s.do(ctx, "get checkpoints", func(ctx context.Context) error {
		raw, err := s.client.HGetAll(ctx, s.checkpointsKey()).Result()
		if err != nil {
			return err
		}
		out = make(map[model.EntityType]time.Time, len(raw))
		for field, value := range raw {
			ts, err := Decode(value)
			if err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
			out[model.EntityType(field)] = ts
		}
		return nil
	})
	return out, err
}

// Advance runs under WATCH so a concurrent writer cannot interleave between
// the read of the current values and the write.
func (s *RedisStore) Advance(ctx context.Context, ts time.Time, entities ...model.EntityType) error {
	key := s.checkpointsKey()
	err := s.do(ctx, "advance checkpoint", func(ctx context.Context) error {
		return s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			updates := make(map[string]any, len(entities))
			for _, e := range entities {
				if raw, ok := current[string(e)]; ok {
					cur, err := Decode(raw)
					if err != nil {
						return err
					}
					if !ts.After(cur) {
						continue
					}
				}
				updates[string(e)] = Encode(ts)
			}
			if len(updates) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, updates)
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		return fmt.Errorf("advance %v: %w", entities, err)
	}
	s.log.Info("checkpoint advanced", "entities", entities, "checkpoint", ts)
	return nil
}

// TryAcquireLock sets the lock key to a value unique to this call. A SETNX
// whose reply was lost is retried; finding our own value in the key then
// means the first attempt took the lock.
func (s *RedisStore) TryAcquireLock(ctx context.Context, e model.EntityType) (bool, error) {
	key := s.lockKey(e)
	owner := uuid.NewString() + " " + time.Now().UTC().Format(time.RFC3339)
	var acquired bool
	err := s.do(ctx, "acquire lock", func(ctx context.Context) error {
		ok, err := s.client.SetNX(ctx, key, owner, s.lockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			return nil
		}
		held, err := s.client.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// Released between the two calls; try again.
			return errLockVanished
		case err != nil:
			return err
		}
		acquired = held == owner
		return nil
	})
	return acquired, err
}

var errLockVanished = errors.New("run lock released while being checked")

func (s *RedisStore) ReleaseLock(ctx context.Context, e model.EntityType) error {
	return s.do(ctx, "release lock", func(ctx context.Context) error {
		return s.client.Del(ctx, s.lockKey(e)).Err()
	})
}

func (s *RedisStore) Reset(ctx context.Context) error {
	return s.do(ctx, "reset checkpoints", func(ctx context.Context) error {
		return s.client.Del(ctx, s.checkpointsKey()).Err()
	})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

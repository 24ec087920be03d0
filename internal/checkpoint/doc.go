// Package checkpoint stores, per pipeline and entity type, the modified
// timestamp up to which source changes have been propagated, plus a run lock
// per entity type.
//
// # Invariants
//
//   - Checkpoints never move backwards. Advance with a value at or below the
//     stored one leaves the stored value untouched.
//   - A missing checkpoint reads as the zero time (the minimum sentinel) and
//     the sentinel is persisted on first read.
//   - A run lock is held by at most one caller; TryAcquireLock is atomic.
//
// # Backends
//
//   - RedisStore: one hash per pipeline for checkpoints
//     (moviesync:<pipeline>:checkpoints), one key per entity for locks
//     (moviesync:<pipeline>:lock:<entity>).
//   - SQLiteStore: checkpoints and run_locks tables in a local database file.
//   - MemoryStore: process-local, for tests and dry runs.
//
// Values are encoded with a fixed-width UTC layout so that string order is
// time order. Values written by the older ETL scripts
// ("2006-01-02 15:04:05.000000 -0700", or "" for the sentinel) still decode.
package checkpoint

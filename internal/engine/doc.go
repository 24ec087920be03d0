// Package engine implements the moviesync run coordinator.
//
// One Coordinator.Run call is one pass of one pipeline for one triggering
// entity type. The coordinator walks a fixed state machine:
//
//	IDLE → LOCK_CHECK → (SKIPPED | DETERMINE_CHECKPOINT) → EXTRACT_LOAD_LOOP → FINALIZE → IDLE
//
// LOCK_CHECK:
// The run lock for the triggering type is the only concurrency primitive.
// A held lock is a normal outcome (SKIPPED), not an error.
//
// DETERMINE_CHECKPOINT:
// When no tracked type has a checkpoint yet, a root-triggered run
// bootstraps every tracked type from the zero time; a run triggered by a
// related type is deferred until the root has bootstrapped. Otherwise the
// triggering type's own checkpoint is the lower bound. The finalize value
// is read from the clock here, before any source query runs.
//
// EXTRACT_LOAD_LOOP:
// Each page is loaded before its high-water mark is written. A page without
// a high-water mark is loaded but never advances anything.
//
// FINALIZE:
// Every type in scope advances to the finalize value, then the lock is
// released. Checkpoint stores never rewind, so a finalize value behind a
// page high-water mark is harmless.
//
// A run that fails after LOCK_CHECK keeps the lock held, except when it
// fails before touching the source (malformed checkpoint) or defers.
package engine

package engine

import (
	"errors"
	"fmt"

	"github.com/vvlad212/moviesync/internal/model"
)

// RunError represents a run that stopped before finalizing.
//
// Run errors include:
//   - Lock failure: the lock store could not be reached
//   - Checkpoint parse/read failure: no safe starting point
//   - Extract failure: a source query kept failing or a row did not decode
//   - Load failure: the index refused a page
//   - Checkpoint write failure: an advance or the finalize write failed
//
// Checkpoints stay at their last good value in every case.
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the failed run.
	RunID string

	// Pipeline and Entity identify what was being propagated.
	Pipeline string
	Entity   model.EntityType

	// Err is the underlying cause.
	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeLockFailed indicates the run lock could not be taken or released.
	ErrCodeLockFailed RunErrorCode = "LOCK_FAILED"

	// ErrCodeCheckpointParse indicates a stored checkpoint is malformed.
	ErrCodeCheckpointParse RunErrorCode = "CHECKPOINT_PARSE"

	// ErrCodeCheckpointRead indicates stored checkpoints could not be read.
	ErrCodeCheckpointRead RunErrorCode = "CHECKPOINT_READ"

	// ErrCodeExtractFailed indicates the change extractor failed.
	ErrCodeExtractFailed RunErrorCode = "EXTRACT_FAILED"

	// ErrCodeLoadFailed indicates the index loader failed.
	ErrCodeLoadFailed RunErrorCode = "LOAD_FAILED"

	// ErrCodeCheckpointWrite indicates a checkpoint advance failed.
	ErrCodeCheckpointWrite RunErrorCode = "CHECKPOINT_WRITE"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s (pipeline=%s, entity=%s", e.Code, e.Message, e.Pipeline, e.Entity)
	if e.RunID != "" {
		msg += ", run=" + e.RunID
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsLoadFailure returns true if the run stopped on a loader error.
// Uses errors.As to handle wrapped errors.
func IsLoadFailure(err error) bool {
	return hasCode(err, ErrCodeLoadFailed)
}

// IsCheckpointParseError returns true if the run refused a malformed
// checkpoint.
func IsCheckpointParseError(err error) bool {
	return hasCode(err, ErrCodeCheckpointParse)
}

// IsCheckpointWriteError returns true if a checkpoint advance failed.
func IsCheckpointWriteError(err error) bool {
	return hasCode(err, ErrCodeCheckpointWrite)
}

// IsExtractFailure returns true if the run stopped on an extractor error.
func IsExtractFailure(err error) bool {
	return hasCode(err, ErrCodeExtractFailed)
}

// IsLockFailure returns true if the lock store failed.
func IsLockFailure(err error) bool {
	return hasCode(err, ErrCodeLockFailed)
}

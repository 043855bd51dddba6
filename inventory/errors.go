/*
errors.go - Error taxonomy for the stock ledger

ERROR CATEGORIES:
  1. Validation - malformed input to an append. Never retried automatically.
  2. Duplicate  - id collision with a different payload. Identical replays
                  are not errors: the stored record is returned instead.
  3. Storage    - the durable medium failed. Safe to retry the whole append,
                  appends are idempotent by id.
  4. Timeout    - the storage backend did not commit before the deadline.

Negative levels are NOT errors. See NegativeLevelWarning in ledger.go.

USAGE:
  if errors.Is(err, inventory.ErrValidation) {
      // fix input and resubmit
  }
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("duplicate id with different payload")
	ErrStorage    = errors.New("storage failure")
	ErrTimeout    = errors.New("storage timeout")
	ErrNotFound   = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ValidationErrors collects every violated precondition of one draft.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	switch len(es) {
	case 0:
		return "no validation errors"
	case 1:
		return es[0].Error()
	}
	msg := es[0].Error()
	for _, e := range es[1:] {
		msg += "; " + e.Error()
	}
	return msg
}

func (es ValidationErrors) Unwrap() error { return ErrValidation }

func (es ValidationErrors) orNil() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// DuplicateError means the id is taken by a record with a different payload.
type DuplicateError struct {
	Record string // "transaction" or "snapshot"
	ID     string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %s already exists with a different payload", e.Record, e.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s: timed out: %v", e.Op, e.Err) }

func (e *TimeoutError) Unwrap() []error { return []error{ErrTimeout, e.Err} }

// WrapStorage classifies a backend error. Deadline errors become TimeoutError,
// ledger errors pass through untouched, anything else becomes StorageError.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrTimeout), errors.Is(err, ErrStorage):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &TimeoutError{Op: op, Err: err}
	default:
		return &StorageError{Op: op, Err: err}
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller must change the input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrDuplicate)
}

// IsRetryable returns true if repeating the same append may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrTimeout)
}

/*
errors.go - Centralized error types for the habit engine

PURPOSE:
  All error kinds the engine returns, in one place. None of them is fatal:
  every error is an explicit result for the caller to surface.

ERROR CATEGORIES:
  1. Catalog errors - unknown habit, invalid definition
  2. Ledger errors - duplicate daily log, nothing to undo
  3. Storage errors - any I/O failure below the engine

USAGE:
  if errors.Is(err, habit.ErrAlreadyLoggedToday) {
      // informational, nothing changed
  }
  if errors.Is(err, habit.ErrStorageUnavailable) {
      // retry; Rebuild converges after partial failure
  }

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package habit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrHabitNotFound is returned when the catalog has no such habit.
	ErrHabitNotFound = errors.New("habit not found")

	// ErrAlreadyLoggedToday is returned when (user, habit, day) is already logged.
	ErrAlreadyLoggedToday = errors.New("habit already logged today")

	// ErrNothingToUndo is returned by UndoLast on an empty log.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrInvalidSign is returned when a definition's point sign contradicts its kind.
	ErrInvalidSign = errors.New("point value sign does not match habit kind")

	// ErrInvalidHabit is returned for malformed definitions (empty name, unknown kind).
	ErrInvalidHabit = errors.New("invalid habit definition")

	// ErrInvalidDate is returned when a log has no calendar date.
	ErrInvalidDate = errors.New("invalid calendar date")

	// ErrUserExists is returned when creating a user that already has an aggregate.
	ErrUserExists = errors.New("user already exists")

	// ErrStorageUnavailable wraps every failure of the event log or aggregate store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StorageError records which store operation failed.
type StorageError struct {
	Op   string
	User UserID
	Err  error
}

func (e *StorageError) Error() string {
	if e.User != "" {
		return fmt.Sprintf("storage unavailable: %s for %s: %v", e.Op, e.User, e.Err)
	}
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

// storageErr wraps err unless it already is a domain error.
func storageErr(op string, user UserID, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &StorageError{Op: op, User: user, Err: err}
}

// DuplicateLogError names the entry that already covers the day.
type DuplicateLogError struct {
	User  UserID
	Habit string
	Date  Date
}

func (e *DuplicateLogError) Error() string {
	return fmt.Sprintf("%q already logged on %s", e.Habit, e.Date)
}

func (e *DuplicateLogError) Unwrap() error { return ErrAlreadyLoggedToday }

// SignError describes a definition whose point value contradicts its kind.
type SignError struct {
	Name       string
	Kind       Kind
	PointValue int
}

func (e *SignError) Error() string {
	return fmt.Sprintf("habit %q: %s habit cannot have %d points", e.Name, e.Kind, e.PointValue)
}

func (e *SignError) Unwrap() error { return ErrInvalidSign }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyLoggedToday) ||
		errors.Is(err, ErrInvalidSign) ||
		errors.Is(err, ErrInvalidHabit) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrUserExists)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrHabitNotFound) || errors.Is(err, ErrNothingToUndo)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

func isDomainError(err error) bool {
	return IsClientError(err) || IsNotFound(err)
}

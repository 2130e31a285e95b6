/*
errors.go - Centralized error types for the circulation engine

PURPOSE:
  All expected failure outcomes in one place. Every error here is a
  recoverable, caller-visible outcome of a checkout or return, not a
  crash. The HTTP layer maps these to status codes; nothing in this
  package swallows them.

ERROR CATEGORIES:
  1. Lookup failures   - referenced book or checkout does not exist
  2. Business rejections - no copies, duplicate checkout, nothing to return
  3. Conflict          - an invariant-violating write was rejected by the
                         atomic unit; logged, surfaced as retryable

USAGE:
  Callers match with errors.Is:

    if errors.Is(err, circulation.ErrNoCopiesAvailable) { ... }

  or pull context from the structured variants with errors.As.

SEE ALSO:
  - controller.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package circulation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBookNotFound is returned when a referenced book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrCheckoutNotFound is returned when a referenced checkout does not exist.
	ErrCheckoutNotFound = errors.New("checkout not found")

	// ErrNoCopiesAvailable is returned when a checkout is attempted with
	// zero available copies. Terminal: nothing was mutated.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrAlreadyCheckedOut is returned when the user already holds an
	// active checkout for this book. At most one active checkout may
	// exist per (user, book) pair.
	ErrAlreadyCheckedOut = errors.New("book already checked out by user")

	// ErrNoActiveCheckout is returned when a return is attempted with no
	// matching active checkout.
	ErrNoActiveCheckout = errors.New("no active checkout for user and book")

	// ErrAlreadyReturned is returned when a return is attempted on a
	// checkout that was already closed. The return timestamp is written
	// exactly once; a second return must not double-apply side effects.
	ErrAlreadyReturned = errors.New("checkout already returned")

	// ErrConflict is returned when the atomic unit rejects a write that
	// would break the copy-counter bounds. Under correct operation this
	// cannot happen; it indicates a concurrency bug or a torn external
	// mutation of total_copies. Surfaced as retryable, never silently
	// corrected.
	ErrConflict = errors.New("availability conflict")

	// ErrInvalidBook is returned when a book fails admission validation
	// (bad ISBN, non-positive copy count).
	ErrInvalidBook = errors.New("invalid book")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AlreadyCheckedOutError identifies the existing active checkout that
// blocks a duplicate checkout attempt.
type AlreadyCheckedOutError struct {
	BookID     BookID
	UserID     UserID
	ExistingID CheckoutID
}

func (e *AlreadyCheckedOutError) Error() string {
	return fmt.Sprintf("user %s already has book %s checked out (checkout: %s)",
		e.UserID, e.BookID, e.ExistingID)
}

func (e *AlreadyCheckedOutError) Unwrap() error { return ErrAlreadyCheckedOut }

// ConflictError describes the rejected counter adjustment.
type ConflictError struct {
	BookID    BookID
	Delta     int
	Available int
	Total     int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("adjusting book %s by %d would leave %d of %d copies available",
		e.BookID, e.Delta, e.Available+e.Delta, e.Total)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing book or checkout.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookNotFound) ||
		errors.Is(err, ErrCheckoutNotFound)
}

// IsClientError returns true if the error is a business rejection the
// caller can understand and act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoCopiesAvailable) ||
		errors.Is(err, ErrAlreadyCheckedOut) ||
		errors.Is(err, ErrNoActiveCheckout) ||
		errors.Is(err, ErrAlreadyReturned) ||
		errors.Is(err, ErrInvalidBook)
}

// IsRetryable returns true if the error might succeed on retry. Only
// conflicts qualify; retrying a business rejection would be wrong (a
// blind checkout retry could create a duplicate active loan).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

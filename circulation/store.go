/*
store.go - Persistence contracts for the catalog and the checkout ledger

PURPOSE:
  Defines the interface between the circulation engine and the database.
  Two concerns live here: the Catalog (books and their copy counters) and
  the Ledger (checkout records). The Controller mutates both inside one
  transactional unit, so a combined Store and a TxStore wrapper are also
  defined.

COUNTER CONTRACT:
  AdjustAvailability is the mutating half of an atomic compare-and-adjust.
  It fails with ErrConflict if applying the delta would leave the counter
  outside [0, total_copies], and otherwise commits the new value before
  returning. It never clamps and never corrects silently.

LEDGER CONTRACT:
  Checkouts are appended by AppendCheckout and closed exactly once by
  MarkReturned. A second MarkReturned on the same checkout fails with
  ErrAlreadyReturned instead of double-applying. There is no delete.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (transactions via sql.Tx)
  - circulation/store/memory.go: In-memory for testing/dev

SEE ALSO:
  - controller.go: The only writer of Catalog counters and Ledger rows
  - stats.go: Read-side consumer
*/
package circulation

import (
	"context"
	"time"
)

// =============================================================================
// CATALOG - Books and copy counters
// =============================================================================

// Catalog stores books. GetBook returns ErrBookNotFound for unknown IDs.
type Catalog interface {
	// SaveBook inserts or replaces a book record.
	SaveBook(ctx context.Context, book Book) error

	// GetBook returns the book or ErrBookNotFound.
	GetBook(ctx context.Context, id BookID) (*Book, error)

	// ListBooks returns all books ordered by title.
	ListBooks(ctx context.Context) ([]Book, error)

	// ListAvailableBooks returns books with at least one available copy,
	// ordered by title.
	ListAvailableBooks(ctx context.Context) ([]Book, error)

	// AdjustAvailability applies delta to the book's available counter.
	// Fails with ErrConflict if the result would fall outside
	// [0, total_copies]; fails with ErrBookNotFound for unknown IDs.
	// On success the new value is committed before returning.
	AdjustAvailability(ctx context.Context, id BookID, delta int) (*Book, error)

	// SetCopyCounts rewrites both counters for an administrative resize.
	// The caller must hold the book's serialization scope; see
	// Controller.ResizeCopies.
	SetCopyCounts(ctx context.Context, id BookID, total, available int) (*Book, error)
}

// =============================================================================
// LEDGER - Checkout records, append-then-close
// =============================================================================

// CheckoutFilter selects which of a user's checkouts to list.
type CheckoutFilter string

const (
	FilterActive  CheckoutFilter = "active"  // Open checkouts only
	FilterHistory CheckoutFilter = "history" // Everything, newest first
)

// Ledger stores checkout records for their entire life. Records are
// appended, updated once (the return timestamp), and never deleted.
type Ledger interface {
	// AppendCheckout persists a new checkout record.
	AppendCheckout(ctx context.Context, c Checkout) error

	// GetCheckout returns the checkout or ErrCheckoutNotFound.
	GetCheckout(ctx context.Context, id CheckoutID) (*Checkout, error)

	// MarkReturned sets the return timestamp exactly once. Fails with
	// ErrAlreadyReturned if it was already set, ErrCheckoutNotFound if
	// the checkout does not exist.
	MarkReturned(ctx context.Context, id CheckoutID, returnTime time.Time) (*Checkout, error)

	// FindActiveCheckout returns the open checkout for (book, user), or
	// (nil, nil) when there is none.
	FindActiveCheckout(ctx context.Context, bookID BookID, userID UserID) (*Checkout, error)

	// ListCheckoutsByUser returns a user's checkouts newest first,
	// restricted by the filter.
	ListCheckoutsByUser(ctx context.Context, userID UserID, filter CheckoutFilter) ([]Checkout, error)

	// ListOverdue returns open checkouts whose due time is before now,
	// ordered by due time ascending (most overdue first).
	ListOverdue(ctx context.Context, now time.Time) ([]Checkout, error)

	// ListCheckouts returns every checkout newest first. Read-side only;
	// used for statistics.
	ListCheckouts(ctx context.Context) ([]Checkout, error)

	// CountActiveByBook returns the number of open checkouts for a book.
	CountActiveByBook(ctx context.Context, bookID BookID) (int, error)
}

// =============================================================================
// COMBINED STORE + TRANSACTIONAL WRAPPER
// =============================================================================

// Store combines the catalog and the ledger. Checkout and return touch
// both, so implementations back them with the same database.
type Store interface {
	Catalog
	Ledger
}

// TxStore wraps Store with transaction support. WithTx executes fn
// against a transactional view: if fn returns an error every write is
// rolled back, otherwise all writes commit together. This is what makes
// "append ledger row" and "decrement counter" one indivisible unit.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

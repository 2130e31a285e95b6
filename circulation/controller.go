/*
controller.go - The concurrency-safe checkout/return state machine

PURPOSE:
  The Controller is the only writer of book counters and checkout
  records. Each operation runs as one atomic unit scoped to the target
  book: a per-book mutex serializes competing units, and a store
  transaction makes the ledger write and the counter write commit or
  roll back together. "Check availability" and "consume availability"
  can never be separated by a concurrent competing request.

STATE MACHINE (per book+user pair):
  NoActiveLoan --Checkout--> Active --Return--> Returned

  Checkout fails terminally (no mutation) when:
    - the book does not exist            (ErrBookNotFound)
    - no copies are available            (ErrNoCopiesAvailable)
    - the user already holds this book   (ErrAlreadyCheckedOut)
  Return fails terminally when:
    - the book does not exist            (ErrBookNotFound)
    - there is no open checkout to close (ErrNoActiveCheckout)

WHY LOCK AND TRANSACTION BOTH:
  The per-book mutex guarantees two in-flight units on the same book
  never interleave. The transaction guarantees that an abort between
  "append checkout" and "decrement counter" leaves no half-applied
  state. A request that gives up waiting for the lock has written
  nothing; there is no partial state to clean up.

ERROR POLICY:
  Every failure is returned to the caller as a typed outcome. Nothing
  is retried internally: a blind checkout retry could violate the
  one-active-loan-per-user rule. Only ErrConflict is logged, because it
  can only mean a correctness bug or a torn external mutation of
  total_copies, and an operator should see that.

SEE ALSO:
  - locks.go: Per-book mutex
  - store.go: TxStore contract
*/
package circulation

import (
	"context"
	"errors"
	"log"
	"time"
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller coordinates atomic checkout/return operations over a
// transactional store.
type Controller struct {
	store  TxStore
	policy LoanPolicy
	locks  *bookLocks

	// Clock supplies the current time. Overridable in tests; defaults
	// to time.Now.
	Clock func() time.Time
}

// NewController creates a controller over the given store with the
// given loan policy.
func NewController(store TxStore, policy LoanPolicy) *Controller {
	return &Controller{
		store:  store,
		policy: policy,
		locks:  newBookLocks(),
		Clock:  time.Now,
	}
}

// Store exposes the underlying store for read-side consumers.
func (c *Controller) Store() Store { return c.store }

// Policy returns the loan policy in effect.
func (c *Controller) Policy() LoanPolicy { return c.policy }

// =============================================================================
// CHECKOUT
// =============================================================================

// Checkout lends one copy of the book to the user. On success the new
// checkout record is returned and the book's available counter has been
// decremented in the same committed unit.
func (c *Controller) Checkout(ctx context.Context, bookID BookID, userID UserID, notes string) (*Checkout, error) {
	lock := c.locks.forBook(bookID)
	lock.Lock()
	defer lock.Unlock()

	var created *Checkout
	err := c.store.WithTx(ctx, func(s Store) error {
		book, err := s.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book.AvailableCopies == 0 {
			return ErrNoCopiesAvailable
		}

		existing, err := s.FindActiveCheckout(ctx, bookID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &AlreadyCheckedOutError{
				BookID:     bookID,
				UserID:     userID,
				ExistingID: existing.ID,
			}
		}

		now := c.Clock()
		co := Checkout{
			ID:           NewCheckoutID(),
			BookID:       bookID,
			UserID:       userID,
			CheckoutTime: now,
			DueTime:      c.policy.DueFrom(now),
			Notes:        notes,
		}
		if err := s.AppendCheckout(ctx, co); err != nil {
			return err
		}

		// Cannot conflict here: availability was checked above inside
		// the same unit. A conflict means the store let a competing
		// writer through.
		if _, err := s.AdjustAvailability(ctx, bookID, -1); err != nil {
			return err
		}

		created = &co
		return nil
	})
	if err != nil {
		c.noteConflict("checkout", bookID, err)
		return nil, err
	}
	return created, nil
}

// =============================================================================
// RETURN
// =============================================================================

// Return closes the user's active checkout for the book. On success the
// updated checkout record is returned and the available counter has
// been incremented in the same committed unit.
func (c *Controller) Return(ctx context.Context, bookID BookID, userID UserID) (*Checkout, error) {
	lock := c.locks.forBook(bookID)
	lock.Lock()
	defer lock.Unlock()

	var returned *Checkout
	err := c.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetBook(ctx, bookID); err != nil {
			return err
		}

		active, err := s.FindActiveCheckout(ctx, bookID, userID)
		if err != nil {
			return err
		}
		if active == nil {
			return ErrNoActiveCheckout
		}

		updated, err := s.MarkReturned(ctx, active.ID, c.Clock())
		if err != nil {
			return err
		}

		// The increment cannot exceed total_copies: the decrement was
		// paired at checkout time under the same per-book scope.
		if _, err := s.AdjustAvailability(ctx, bookID, +1); err != nil {
			return err
		}

		returned = updated
		return nil
	})
	if err != nil {
		c.noteConflict("return", bookID, err)
		return nil, err
	}
	return returned, nil
}

// =============================================================================
// BOOK ADMINISTRATION
// =============================================================================

// AddBook validates and admits a new book to the catalog. All copies
// start available. An empty ID is assigned one.
func (c *Controller) AddBook(ctx context.Context, book Book) (*Book, error) {
	if book.Title == "" || book.Author == "" {
		return nil, ErrInvalidBook
	}
	if !ValidISBN(book.ISBN) {
		return nil, ErrInvalidBook
	}
	if book.TotalCopies < 1 {
		return nil, ErrInvalidBook
	}

	if book.ID == "" {
		book.ID = NewBookID()
	}
	book.AvailableCopies = book.TotalCopies
	now := c.Clock()
	book.DateAdded = now
	book.DateUpdated = now

	if err := c.store.SaveBook(ctx, book); err != nil {
		return nil, err
	}
	return &book, nil
}

// ResizeCopies changes a book's total copy count. It takes the same
// per-book lock as checkout/return: resizing must not race with an
// in-flight checkout, or the counter invariants would be corrupted.
// Shrinking below the number of currently active checkouts fails with
// ErrConflict.
func (c *Controller) ResizeCopies(ctx context.Context, bookID BookID, newTotal int) (*Book, error) {
	if newTotal < 1 {
		return nil, ErrInvalidBook
	}

	lock := c.locks.forBook(bookID)
	lock.Lock()
	defer lock.Unlock()

	var resized *Book
	err := c.store.WithTx(ctx, func(s Store) error {
		book, err := s.GetBook(ctx, bookID)
		if err != nil {
			return err
		}

		active, err := s.CountActiveByBook(ctx, bookID)
		if err != nil {
			return err
		}
		if newTotal < active {
			return &ConflictError{
				BookID:    bookID,
				Delta:     newTotal - book.TotalCopies,
				Available: book.AvailableCopies,
				Total:     book.TotalCopies,
			}
		}

		resized, err = s.SetCopyCounts(ctx, bookID, newTotal, newTotal-active)
		return err
	})
	if err != nil {
		c.noteConflict("resize", bookID, err)
		return nil, err
	}
	return resized, nil
}

// noteConflict logs conflict outcomes for operator attention. All other
// failures are routine business rejections and stay quiet.
func (c *Controller) noteConflict(op string, bookID BookID, err error) {
	if errors.Is(err, ErrConflict) {
		log.Printf("circulation: %s conflict on book %s: %v", op, bookID, err)
	}
}

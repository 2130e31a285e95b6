/*
Package circulation provides the core inventory and checkout ledger engine.

PURPOSE:
  This package contains the domain types and operations for tracking a
  finite pool of physical book copies borrowed and returned by many
  concurrent users. The central guarantee: a book can never be checked
  out more times than copies physically exist, no matter how many
  requests race for the last copy.

KEY CONCEPTS IN THIS FILE (types.go):
  - Book: A catalog entry with total/available copy counters
  - Checkout: One borrow event, appended once and updated once (return)
  - CheckoutStatus: Active / Returned / Overdue (Overdue is derived)
  - LoanPolicy: The configured loan period applied at checkout time

DESIGN PRINCIPLES:
  1. Counters and ledger move together: every committed operation keeps
     available_copies equal to total_copies minus active checkouts
  2. Overdue is never stored: it is always computed from due time vs now,
     so stored state and the clock cannot diverge
  3. Checkouts are append-then-close: created by Checkout(), closed by
     Return(), never deleted

SEE ALSO:
  - controller.go: The atomic checkout/return operations
  - store.go: Persistence contracts (Catalog, Ledger, TxStore)
  - stats.go: Read-side aggregation
*/
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookID string
type UserID string
type CheckoutID string

// NewBookID generates a unique book identifier.
func NewBookID() BookID { return BookID(uuid.NewString()) }

// NewCheckoutID generates a unique checkout identifier.
func NewCheckoutID() CheckoutID { return CheckoutID(uuid.NewString()) }

// =============================================================================
// BOOK - Catalog entry with copy counters
// =============================================================================

// Book is a catalog entry. AvailableCopies is authoritative committed
// state: it always equals TotalCopies minus the number of active
// checkouts referencing this book.
type Book struct {
	ID            BookID
	Title         string
	Author        string
	ISBN          string
	Publisher     string
	PublishedDate time.Time
	Genre         string
	Description   string

	TotalCopies     int
	AvailableCopies int

	DateAdded   time.Time
	DateUpdated time.Time
}

// IsAvailable reports whether at least one copy can be checked out.
func (b Book) IsAvailable() bool { return b.AvailableCopies > 0 }

// ValidISBN reports whether s is a 10 or 13 digit ISBN.
func ValidISBN(s string) bool {
	if len(s) != 10 && len(s) != 13 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// CHECKOUT - One borrow event
// =============================================================================

type CheckoutStatus string

const (
	StatusActive   CheckoutStatus = "active"   // Copy is out, due time not yet passed
	StatusOverdue  CheckoutStatus = "overdue"  // Copy is out, due time passed (derived, never stored)
	StatusReturned CheckoutStatus = "returned" // Copy is back, ReturnTime set exactly once
)

// Checkout records a single borrow event. It is created only by a
// successful Controller.Checkout and closed only by a successful
// Controller.Return. ReturnTime, once set, never changes.
type Checkout struct {
	ID           CheckoutID
	BookID       BookID
	UserID       UserID
	CheckoutTime time.Time
	DueTime      time.Time
	ReturnTime   *time.Time
	Notes        string
}

// Returned reports whether this checkout has been closed.
func (c Checkout) Returned() bool { return c.ReturnTime != nil }

// Status classifies the checkout at a given time. Overdue is a read-time
// classification: an open checkout whose due time has passed.
func (c Checkout) Status(now time.Time) CheckoutStatus {
	switch {
	case c.Returned():
		return StatusReturned
	case now.After(c.DueTime):
		return StatusOverdue
	default:
		return StatusActive
	}
}

// IsOverdue reports whether the checkout is open past its due time.
func (c Checkout) IsOverdue(now time.Time) bool {
	return !c.Returned() && now.After(c.DueTime)
}

// DaysOverdue returns how many whole days past due the checkout is.
// Returned or on-time checkouts report zero.
func (c Checkout) DaysOverdue(now time.Time) int {
	if !c.IsOverdue(now) {
		return 0
	}
	return int(now.Sub(c.DueTime).Hours() / 24)
}

// =============================================================================
// LOAN POLICY - Process-wide loan period, read once at startup
// =============================================================================

// DefaultLoanPeriod is the standard loan period applied when no
// configuration overrides it.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// LoanPolicy holds the fixed loan period. It is configuration, not
// per-call input: all checkouts in a process share one policy.
type LoanPolicy struct {
	Period time.Duration
}

// DefaultLoanPolicy returns the standard 14-day policy.
func DefaultLoanPolicy() LoanPolicy {
	return LoanPolicy{Period: DefaultLoanPeriod}
}

// DueFrom computes the due time for a checkout starting at t.
func (p LoanPolicy) DueFrom(t time.Time) time.Time {
	return t.Add(p.Period)
}

/*
stats.go - Read-side aggregation over committed catalog and ledger state

PURPOSE:
  Produces overdue listings and library-wide summary counts by scanning
  committed state. The aggregator never takes a book lock and never
  blocks a writer; it may observe a snapshot that is a moment stale,
  which is acceptable for statistics (eventual, not strict, consistency).

DERIVED, NOT STORED:
  Overdue is computed here from due time vs the current clock. There is
  no background job flipping a stored status, so stored state and the
  clock cannot disagree.

SEE ALSO:
  - store.go: Read operations consumed here
  - api/handlers.go: Exposes these as /api/stats and /api/checkouts/overdue
*/
package circulation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATS TYPES
// =============================================================================

// BookPopularity pairs a book with its all-time checkout count.
type BookPopularity struct {
	BookID        BookID
	Title         string
	Author        string
	CheckoutCount int
}

// Stats summarizes the library at one point in time. All counts reflect
// only committed writes.
type Stats struct {
	TotalBooks       int
	TotalCopies      int
	AvailableCopies  int
	CheckedOutCopies int

	ActiveCheckouts  int
	ActiveUsers      int // distinct users holding at least one open checkout
	OverdueCheckouts int
	TotalCheckouts   int // all-time, returned included

	// Utilization is CheckedOutCopies / TotalCopies as an exact decimal,
	// zero when the catalog holds no copies.
	Utilization decimal.Decimal

	PopularBooks    []BookPopularity // top 5 by all-time checkout count
	RecentCheckouts []Checkout       // 10 newest checkouts
}

const (
	popularBookLimit    = 5
	recentCheckoutLimit = 10
)

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator computes read-side views. It only reads; all writes go
// through the Controller.
type Aggregator struct {
	store Store

	// Clock supplies the current time for overdue classification.
	Clock func() time.Time
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, Clock: time.Now}
}

// OverdueCheckouts returns open checkouts whose due time has passed,
// most overdue first.
func (a *Aggregator) OverdueCheckouts(ctx context.Context, now time.Time) ([]Checkout, error) {
	return a.store.ListOverdue(ctx, now)
}

// Stats scans the catalog and the ledger and aggregates.
func (a *Aggregator) Stats(ctx context.Context) (*Stats, error) {
	books, err := a.store.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	checkouts, err := a.store.ListCheckouts(ctx)
	if err != nil {
		return nil, err
	}

	now := a.Clock()
	s := &Stats{TotalBooks: len(books)}

	titles := make(map[BookID]Book, len(books))
	for _, b := range books {
		s.TotalCopies += b.TotalCopies
		s.AvailableCopies += b.AvailableCopies
		titles[b.ID] = b
	}
	s.CheckedOutCopies = s.TotalCopies - s.AvailableCopies

	activeUsers := make(map[UserID]struct{})
	perBook := make(map[BookID]int)
	for _, c := range checkouts {
		s.TotalCheckouts++
		perBook[c.BookID]++
		if !c.Returned() {
			s.ActiveCheckouts++
			activeUsers[c.UserID] = struct{}{}
		}
		if c.IsOverdue(now) {
			s.OverdueCheckouts++
		}
	}
	s.ActiveUsers = len(activeUsers)

	if s.TotalCopies > 0 {
		s.Utilization = decimal.NewFromInt(int64(s.CheckedOutCopies)).
			Div(decimal.NewFromInt(int64(s.TotalCopies))).
			Round(4)
	} else {
		s.Utilization = decimal.Zero
	}

	s.PopularBooks = topBooks(perBook, titles, popularBookLimit)

	// ListCheckouts is newest first already.
	if len(checkouts) > recentCheckoutLimit {
		checkouts = checkouts[:recentCheckoutLimit]
	}
	s.RecentCheckouts = checkouts

	return s, nil
}

func topBooks(counts map[BookID]int, books map[BookID]Book, limit int) []BookPopularity {
	ranked := make([]BookPopularity, 0, len(counts))
	for id, n := range counts {
		b := books[id]
		ranked = append(ranked, BookPopularity{
			BookID:        id,
			Title:         b.Title,
			Author:        b.Author,
			CheckoutCount: n,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CheckoutCount != ranked[j].CheckoutCount {
			return ranked[i].CheckoutCount > ranked[j].CheckoutCount
		}
		return ranked[i].Title < ranked[j].Title
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	books     map[circulation.BookID]circulation.Book
	checkouts []circulation.Checkout // append order, oldest first
	byID      map[circulation.CheckoutID]int
}

func NewMemory() *Memory {
	return &Memory{
		books: make(map[circulation.BookID]circulation.Book),
		byID:  make(map[circulation.CheckoutID]int),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveBook(_ context.Context, book circulation.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBookLocked(book)
}

func (m *Memory) saveBookLocked(book circulation.Book) error {
	m.books[book.ID] = book
	return nil
}

func (m *Memory) GetBook(_ context.Context, id circulation.BookID) (*circulation.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBookLocked(id)
}

func (m *Memory) getBookLocked(id circulation.BookID) (*circulation.Book, error) {
	book, ok := m.books[id]
	if !ok {
		return nil, circulation.ErrBookNotFound
	}
	return &book, nil
}

func (m *Memory) ListBooks(_ context.Context) ([]circulation.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBooksLocked(false), nil
}

func (m *Memory) ListAvailableBooks(_ context.Context) ([]circulation.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBooksLocked(true), nil
}

func (m *Memory) listBooksLocked(availableOnly bool) []circulation.Book {
	result := make([]circulation.Book, 0, len(m.books))
	for _, b := range m.books {
		if availableOnly && !b.IsAvailable() {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Title < result[j].Title })
	return result
}

func (m *Memory) AdjustAvailability(_ context.Context, id circulation.BookID, delta int) (*circulation.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustAvailabilityLocked(id, delta)
}

func (m *Memory) adjustAvailabilityLocked(id circulation.BookID, delta int) (*circulation.Book, error) {
	book, ok := m.books[id]
	if !ok {
		return nil, circulation.ErrBookNotFound
	}

	next := book.AvailableCopies + delta
	if next < 0 || next > book.TotalCopies {
		return nil, &circulation.ConflictError{
			BookID:    id,
			Delta:     delta,
			Available: book.AvailableCopies,
			Total:     book.TotalCopies,
		}
	}

	book.AvailableCopies = next
	book.DateUpdated = time.Now()
	m.books[id] = book
	return &book, nil
}

func (m *Memory) SetCopyCounts(_ context.Context, id circulation.BookID, total, available int) (*circulation.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCopyCountsLocked(id, total, available)
}

func (m *Memory) setCopyCountsLocked(id circulation.BookID, total, available int) (*circulation.Book, error) {
	book, ok := m.books[id]
	if !ok {
		return nil, circulation.ErrBookNotFound
	}
	if available < 0 || available > total {
		return nil, &circulation.ConflictError{
			BookID:    id,
			Delta:     total - book.TotalCopies,
			Available: book.AvailableCopies,
			Total:     book.TotalCopies,
		}
	}

	book.TotalCopies = total
	book.AvailableCopies = available
	book.DateUpdated = time.Now()
	m.books[id] = book
	return &book, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) AppendCheckout(_ context.Context, c circulation.Checkout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendCheckoutLocked(c)
}

func (m *Memory) appendCheckoutLocked(c circulation.Checkout) error {
	m.byID[c.ID] = len(m.checkouts)
	m.checkouts = append(m.checkouts, c)
	return nil
}

func (m *Memory) GetCheckout(_ context.Context, id circulation.CheckoutID) (*circulation.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCheckoutLocked(id)
}

func (m *Memory) getCheckoutLocked(id circulation.CheckoutID) (*circulation.Checkout, error) {
	i, ok := m.byID[id]
	if !ok {
		return nil, circulation.ErrCheckoutNotFound
	}
	c := m.checkouts[i]
	return &c, nil
}

func (m *Memory) MarkReturned(_ context.Context, id circulation.CheckoutID, returnTime time.Time) (*circulation.Checkout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReturnedLocked(id, returnTime)
}

func (m *Memory) markReturnedLocked(id circulation.CheckoutID, returnTime time.Time) (*circulation.Checkout, error) {
	i, ok := m.byID[id]
	if !ok {
		return nil, circulation.ErrCheckoutNotFound
	}
	if m.checkouts[i].Returned() {
		return nil, circulation.ErrAlreadyReturned
	}

	t := returnTime
	m.checkouts[i].ReturnTime = &t
	c := m.checkouts[i]
	return &c, nil
}

func (m *Memory) FindActiveCheckout(_ context.Context, bookID circulation.BookID, userID circulation.UserID) (*circulation.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findActiveLocked(bookID, userID)
}

func (m *Memory) findActiveLocked(bookID circulation.BookID, userID circulation.UserID) (*circulation.Checkout, error) {
	for i := range m.checkouts {
		c := m.checkouts[i]
		if c.BookID == bookID && c.UserID == userID && !c.Returned() {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListCheckoutsByUser(_ context.Context, userID circulation.UserID, filter circulation.CheckoutFilter) ([]circulation.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByUserLocked(userID, filter), nil
}

func (m *Memory) listByUserLocked(userID circulation.UserID, filter circulation.CheckoutFilter) []circulation.Checkout {
	var result []circulation.Checkout
	for _, c := range m.checkouts {
		if c.UserID != userID {
			continue
		}
		if filter == circulation.FilterActive && c.Returned() {
			continue
		}
		result = append(result, c)
	}
	sortNewestFirst(result)
	return result
}

func (m *Memory) ListOverdue(_ context.Context, now time.Time) ([]circulation.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOverdueLocked(now), nil
}

func (m *Memory) listOverdueLocked(now time.Time) []circulation.Checkout {
	var result []circulation.Checkout
	for _, c := range m.checkouts {
		if c.IsOverdue(now) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueTime.Before(result[j].DueTime) })
	return result
}

func (m *Memory) ListCheckouts(_ context.Context) ([]circulation.Checkout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCheckoutsLocked(), nil
}

func (m *Memory) listCheckoutsLocked() []circulation.Checkout {
	result := make([]circulation.Checkout, len(m.checkouts))
	copy(result, m.checkouts)
	sortNewestFirst(result)
	return result
}

func (m *Memory) CountActiveByBook(_ context.Context, bookID circulation.BookID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countActiveLocked(bookID), nil
}

func (m *Memory) countActiveLocked(bookID circulation.BookID) int {
	n := 0
	for _, c := range m.checkouts {
		if c.BookID == bookID && !c.Returned() {
			n++
		}
	}
	return n
}

func sortNewestFirst(cs []circulation.Checkout) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].CheckoutTime.After(cs[j].CheckoutTime) })
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(circulation.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	view := &txMemoryView{parent: tm}
	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	books     map[circulation.BookID]circulation.Book
	checkouts []circulation.Checkout
	byID      map[circulation.CheckoutID]int
}

func (tm *TxMemory) snapshot() memorySnapshot {
	booksCopy := make(map[circulation.BookID]circulation.Book, len(tm.books))
	for k, v := range tm.books {
		booksCopy[k] = v
	}
	checkoutsCopy := make([]circulation.Checkout, len(tm.checkouts))
	copy(checkoutsCopy, tm.checkouts)
	byIDCopy := make(map[circulation.CheckoutID]int, len(tm.byID))
	for k, v := range tm.byID {
		byIDCopy[k] = v
	}
	return memorySnapshot{books: booksCopy, checkouts: checkoutsCopy, byID: byIDCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.books = s.books
	tm.checkouts = s.checkouts
	tm.byID = s.byID
}

// txMemoryView runs against the parent with its lock already held.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) SaveBook(_ context.Context, book circulation.Book) error {
	return tv.parent.saveBookLocked(book)
}

func (tv *txMemoryView) GetBook(_ context.Context, id circulation.BookID) (*circulation.Book, error) {
	return tv.parent.getBookLocked(id)
}

func (tv *txMemoryView) ListBooks(_ context.Context) ([]circulation.Book, error) {
	return tv.parent.listBooksLocked(false), nil
}

func (tv *txMemoryView) ListAvailableBooks(_ context.Context) ([]circulation.Book, error) {
	return tv.parent.listBooksLocked(true), nil
}

func (tv *txMemoryView) AdjustAvailability(_ context.Context, id circulation.BookID, delta int) (*circulation.Book, error) {
	return tv.parent.adjustAvailabilityLocked(id, delta)
}

func (tv *txMemoryView) SetCopyCounts(_ context.Context, id circulation.BookID, total, available int) (*circulation.Book, error) {
	return tv.parent.setCopyCountsLocked(id, total, available)
}

func (tv *txMemoryView) AppendCheckout(_ context.Context, c circulation.Checkout) error {
	return tv.parent.appendCheckoutLocked(c)
}

func (tv *txMemoryView) GetCheckout(_ context.Context, id circulation.CheckoutID) (*circulation.Checkout, error) {
	return tv.parent.getCheckoutLocked(id)
}

func (tv *txMemoryView) MarkReturned(_ context.Context, id circulation.CheckoutID, returnTime time.Time) (*circulation.Checkout, error) {
	return tv.parent.markReturnedLocked(id, returnTime)
}

func (tv *txMemoryView) FindActiveCheckout(_ context.Context, bookID circulation.BookID, userID circulation.UserID) (*circulation.Checkout, error) {
	return tv.parent.findActiveLocked(bookID, userID)
}

func (tv *txMemoryView) ListCheckoutsByUser(_ context.Context, userID circulation.UserID, filter circulation.CheckoutFilter) ([]circulation.Checkout, error) {
	return tv.parent.listByUserLocked(userID, filter), nil
}

func (tv *txMemoryView) ListOverdue(_ context.Context, now time.Time) ([]circulation.Checkout, error) {
	return tv.parent.listOverdueLocked(now), nil
}

func (tv *txMemoryView) ListCheckouts(_ context.Context) ([]circulation.Checkout, error) {
	return tv.parent.listCheckoutsLocked(), nil
}

func (tv *txMemoryView) CountActiveByBook(_ context.Context, bookID circulation.BookID) (int, error) {
	return tv.parent.countActiveLocked(bookID), nil
}

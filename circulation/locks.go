/*
locks.go - Per-book mutual exclusion

PURPOSE:
  Serializes all mutation of a single book's (counter, active-checkout)
  pair. The lock is keyed by book ID: two checkouts racing for the same
  book take turns, while operations on different books proceed in
  parallel. A process-wide lock would also be correct but would destroy
  cross-book throughput for no benefit.

LIFETIME:
  Locks are created on first use and kept for the life of the process.
  The map is bounded by the number of distinct books touched, which is
  bounded by the catalog, so there is no eviction.

SEE ALSO:
  - controller.go: The only user of this type
*/
package circulation

import "sync"

// bookLocks hands out one mutex per book ID.
type bookLocks struct {
	mu    sync.Mutex
	locks map[BookID]*sync.Mutex
}

func newBookLocks() *bookLocks {
	return &bookLocks{locks: make(map[BookID]*sync.Mutex)}
}

// forBook returns the mutex guarding the given book, creating it on
// first use. Callers lock and unlock the returned mutex themselves.
func (b *bookLocks) forBook(id BookID) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	return l
}

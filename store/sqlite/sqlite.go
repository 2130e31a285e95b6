/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements circulation.Store and circulation.TxStore using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences (and row-level locking would replace the process
  mutex).

KEY TABLES:
  books:     Catalog entries with total/available copy counters
  checkouts: One row per borrow event, updated once (return_time)

COUNTER SAFETY:
  The availability counter is protected three times over:
  1. The Controller serializes per-book operations above this layer
  2. AdjustAvailability is a guarded UPDATE: the bounds check and the
     write are one statement, so even a misbehaving caller cannot drive
     the counter negative or past total_copies
  3. A CHECK constraint on the table rejects anything that slips past

UNIQUE ACTIVE LOAN:
  A partial unique index on (book_id, user_id) WHERE return_time IS NULL
  makes a duplicate active checkout unrepresentable in the database.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/circulation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  controller := circulation.NewController(store, circulation.DefaultLoanPolicy())

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - circulation/store.go: Interface definitions
  - circulation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/circulation-engine/circulation"
)

// Store implements circulation.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		isbn TEXT NOT NULL UNIQUE,
		publisher TEXT,
		published_date TEXT,
		genre TEXT,
		description TEXT,
		total_copies INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		date_added TEXT NOT NULL,
		date_updated TEXT NOT NULL,
		CHECK (total_copies >= 0),
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	);

	CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);
	CREATE INDEX IF NOT EXISTS idx_books_author ON books(author);

	-- Checkout ledger (append, then one update for the return timestamp)
	CREATE TABLE IF NOT EXISTS checkouts (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES books(id),
		user_id TEXT NOT NULL,
		checkout_time TEXT NOT NULL,
		due_time TEXT NOT NULL,
		return_time TEXT,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_checkouts_user
		ON checkouts(user_id, checkout_time DESC);
	CREATE INDEX IF NOT EXISTS idx_checkouts_due_open
		ON checkouts(due_time) WHERE return_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_checkouts_book_open
		ON checkouts(book_id) WHERE return_time IS NULL;

	-- CRITICAL: At most one active checkout per (book, user) pair.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_checkouts_one_active
		ON checkouts(book_id, user_id) WHERE return_time IS NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same queries run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const timeLayout = time.RFC3339Nano

// =============================================================================
// CATALOG (circulation.Catalog interface)
// =============================================================================

// SaveBook inserts or replaces a book record.
func (s *Store) SaveBook(ctx context.Context, book circulation.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBook(ctx, s.db, book)
}

func saveBook(ctx context.Context, db dbtx, book circulation.Book) error {
	query := `
		INSERT INTO books
		(id, title, author, isbn, publisher, published_date, genre, description,
		 total_copies, available_copies, date_added, date_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			isbn = excluded.isbn,
			publisher = excluded.publisher,
			published_date = excluded.published_date,
			genre = excluded.genre,
			description = excluded.description,
			total_copies = excluded.total_copies,
			available_copies = excluded.available_copies,
			date_updated = excluded.date_updated
	`

	_, err := db.ExecContext(ctx, query,
		book.ID,
		book.Title,
		book.Author,
		book.ISBN,
		book.Publisher,
		book.PublishedDate.UTC().Format(timeLayout),
		book.Genre,
		book.Description,
		book.TotalCopies,
		book.AvailableCopies,
		book.DateAdded.UTC().Format(timeLayout),
		book.DateUpdated.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save book: %w", err)
	}
	return nil
}

// GetBook returns the book or circulation.ErrBookNotFound.
func (s *Store) GetBook(ctx context.Context, id circulation.BookID) (*circulation.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBook(ctx, s.db, id)
}

const bookColumns = `id, title, author, isbn, publisher, published_date, genre, description,
	total_copies, available_copies, date_added, date_updated`

func getBook(ctx context.Context, db dbtx, id circulation.BookID) (*circulation.Book, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = ?`, id)

	book, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, circulation.ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// ListBooks returns all books ordered by title.
func (s *Store) ListBooks(ctx context.Context) ([]circulation.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBooks(ctx, s.db,
		`SELECT `+bookColumns+` FROM books ORDER BY title ASC`)
}

// ListAvailableBooks returns books with at least one available copy.
func (s *Store) ListAvailableBooks(ctx context.Context) ([]circulation.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBooks(ctx, s.db,
		`SELECT `+bookColumns+` FROM books WHERE available_copies > 0 ORDER BY title ASC`)
}

// AdjustAvailability applies delta to the available counter as a guarded
// single-statement compare-and-adjust.
func (s *Store) AdjustAvailability(ctx context.Context, id circulation.BookID, delta int) (*circulation.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return adjustAvailability(ctx, s.db, id, delta)
}

func adjustAvailability(ctx context.Context, db dbtx, id circulation.BookID, delta int) (*circulation.Book, error) {
	// The bounds check and the write are one statement: either the
	// counter moves within [0, total_copies] or nothing happens.
	res, err := db.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + ?, date_updated = ?
		WHERE id = ?
		  AND available_copies + ? >= 0
		  AND available_copies + ? <= total_copies
	`, delta, time.Now().UTC().Format(timeLayout), id, delta, delta)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust availability: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish missing book from a rejected adjustment.
		book, err := getBook(ctx, db, id)
		if err != nil {
			return nil, err
		}
		return nil, &circulation.ConflictError{
			BookID:    id,
			Delta:     delta,
			Available: book.AvailableCopies,
			Total:     book.TotalCopies,
		}
	}

	return getBook(ctx, db, id)
}

// SetCopyCounts rewrites both counters for an administrative resize.
func (s *Store) SetCopyCounts(ctx context.Context, id circulation.BookID, total, available int) (*circulation.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setCopyCounts(ctx, s.db, id, total, available)
}

func setCopyCounts(ctx context.Context, db dbtx, id circulation.BookID, total, available int) (*circulation.Book, error) {
	book, err := getBook(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if available < 0 || available > total {
		return nil, &circulation.ConflictError{
			BookID:    id,
			Delta:     total - book.TotalCopies,
			Available: book.AvailableCopies,
			Total:     book.TotalCopies,
		}
	}

	_, err = db.ExecContext(ctx, `
		UPDATE books
		SET total_copies = ?, available_copies = ?, date_updated = ?
		WHERE id = ?
	`, total, available, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set copy counts: %w", err)
	}

	return getBook(ctx, db, id)
}

func queryBooks(ctx context.Context, db dbtx, query string, args ...any) ([]circulation.Book, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []circulation.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *book)
	}
	return books, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*circulation.Book, error) {
	var (
		book          circulation.Book
		publisher     sql.NullString
		publishedDate sql.NullString
		genre         sql.NullString
		description   sql.NullString
		dateAdded     string
		dateUpdated   string
	)

	err := row.Scan(
		&book.ID, &book.Title, &book.Author, &book.ISBN,
		&publisher, &publishedDate, &genre, &description,
		&book.TotalCopies, &book.AvailableCopies,
		&dateAdded, &dateUpdated,
	)
	if err != nil {
		return nil, err
	}

	book.Publisher = publisher.String
	book.Genre = genre.String
	book.Description = description.String
	if publishedDate.Valid {
		book.PublishedDate, _ = time.Parse(timeLayout, publishedDate.String)
	}
	book.DateAdded, _ = time.Parse(timeLayout, dateAdded)
	book.DateUpdated, _ = time.Parse(timeLayout, dateUpdated)

	return &book, nil
}

// =============================================================================
// LEDGER (circulation.Ledger interface)
// =============================================================================

// AppendCheckout persists a new checkout record.
func (s *Store) AppendCheckout(ctx context.Context, c circulation.Checkout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendCheckout(ctx, s.db, c)
}

func appendCheckout(ctx context.Context, db dbtx, c circulation.Checkout) error {
	query := `
		INSERT INTO checkouts (id, book_id, user_id, checkout_time, due_time, return_time, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var returnTime any
	if c.ReturnTime != nil {
		returnTime = c.ReturnTime.UTC().Format(timeLayout)
	}

	_, err := db.ExecContext(ctx, query,
		c.ID,
		c.BookID,
		c.UserID,
		c.CheckoutTime.UTC().Format(timeLayout),
		c.DueTime.UTC().Format(timeLayout),
		returnTime,
		c.Notes,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return circulation.ErrAlreadyCheckedOut
		}
		return fmt.Errorf("failed to append checkout: %w", err)
	}
	return nil
}

// GetCheckout returns the checkout or circulation.ErrCheckoutNotFound.
func (s *Store) GetCheckout(ctx context.Context, id circulation.CheckoutID) (*circulation.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCheckout(ctx, s.db, id)
}

const checkoutColumns = `id, book_id, user_id, checkout_time, due_time, return_time, notes`

func getCheckout(ctx context.Context, db dbtx, id circulation.CheckoutID) (*circulation.Checkout, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+checkoutColumns+` FROM checkouts WHERE id = ?`, id)

	c, err := scanCheckout(row)
	if err == sql.ErrNoRows {
		return nil, circulation.ErrCheckoutNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	return c, nil
}

// MarkReturned sets the return timestamp exactly once.
func (s *Store) MarkReturned(ctx context.Context, id circulation.CheckoutID, returnTime time.Time) (*circulation.Checkout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markReturned(ctx, s.db, id, returnTime)
}

func markReturned(ctx context.Context, db dbtx, id circulation.CheckoutID, returnTime time.Time) (*circulation.Checkout, error) {
	// Guarded update: only an open checkout can be closed, so a second
	// return affects zero rows instead of overwriting the timestamp.
	res, err := db.ExecContext(ctx, `
		UPDATE checkouts SET return_time = ?
		WHERE id = ? AND return_time IS NULL
	`, returnTime.UTC().Format(timeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("failed to mark returned: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := getCheckout(ctx, db, id); err != nil {
			return nil, err
		}
		return nil, circulation.ErrAlreadyReturned
	}

	return getCheckout(ctx, db, id)
}

// FindActiveCheckout returns the open checkout for (book, user), or
// (nil, nil) when there is none.
func (s *Store) FindActiveCheckout(ctx context.Context, bookID circulation.BookID, userID circulation.UserID) (*circulation.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findActiveCheckout(ctx, s.db, bookID, userID)
}

func findActiveCheckout(ctx context.Context, db dbtx, bookID circulation.BookID, userID circulation.UserID) (*circulation.Checkout, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+checkoutColumns+` FROM checkouts
		WHERE book_id = ? AND user_id = ? AND return_time IS NULL
	`, bookID, userID)

	c, err := scanCheckout(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active checkout: %w", err)
	}
	return c, nil
}

// ListCheckoutsByUser returns a user's checkouts newest first.
func (s *Store) ListCheckoutsByUser(ctx context.Context, userID circulation.UserID, filter circulation.CheckoutFilter) ([]circulation.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCheckoutsByUser(ctx, s.db, userID, filter)
}

func listCheckoutsByUser(ctx context.Context, db dbtx, userID circulation.UserID, filter circulation.CheckoutFilter) ([]circulation.Checkout, error) {
	query := `
		SELECT ` + checkoutColumns + ` FROM checkouts
		WHERE user_id = ?
		ORDER BY checkout_time DESC
	`
	if filter == circulation.FilterActive {
		query = `
			SELECT ` + checkoutColumns + ` FROM checkouts
			WHERE user_id = ? AND return_time IS NULL
			ORDER BY checkout_time DESC
		`
	}
	return queryCheckouts(ctx, db, query, userID)
}

// ListOverdue returns open checkouts past due, most overdue first.
func (s *Store) ListOverdue(ctx context.Context, now time.Time) ([]circulation.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOverdue(ctx, s.db, now)
}

func listOverdue(ctx context.Context, db dbtx, now time.Time) ([]circulation.Checkout, error) {
	return queryCheckouts(ctx, db, `
		SELECT `+checkoutColumns+` FROM checkouts
		WHERE return_time IS NULL AND due_time < ?
		ORDER BY due_time ASC
	`, now.UTC().Format(timeLayout))
}

// ListCheckouts returns every checkout newest first.
func (s *Store) ListCheckouts(ctx context.Context) ([]circulation.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCheckouts(ctx, s.db)
}

func listCheckouts(ctx context.Context, db dbtx) ([]circulation.Checkout, error) {
	return queryCheckouts(ctx, db, `
		SELECT `+checkoutColumns+` FROM checkouts
		ORDER BY checkout_time DESC
	`)
}

// CountActiveByBook returns the number of open checkouts for a book.
func (s *Store) CountActiveByBook(ctx context.Context, bookID circulation.BookID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countActiveByBook(ctx, s.db, bookID)
}

func countActiveByBook(ctx context.Context, db dbtx, bookID circulation.BookID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkouts WHERE book_id = ? AND return_time IS NULL`,
		bookID,
	).Scan(&count)
	return count, err
}

func queryCheckouts(ctx context.Context, db dbtx, query string, args ...any) ([]circulation.Checkout, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkouts: %w", err)
	}
	defer rows.Close()

	var checkouts []circulation.Checkout
	for rows.Next() {
		c, err := scanCheckout(rows)
		if err != nil {
			return nil, err
		}
		checkouts = append(checkouts, *c)
	}
	return checkouts, rows.Err()
}

func scanCheckout(row rowScanner) (*circulation.Checkout, error) {
	var (
		c            circulation.Checkout
		checkoutTime string
		dueTime      string
		returnTime   sql.NullString
		notes        sql.NullString
	)

	err := row.Scan(&c.ID, &c.BookID, &c.UserID, &checkoutTime, &dueTime, &returnTime, &notes)
	if err != nil {
		return nil, err
	}

	c.CheckoutTime, _ = time.Parse(timeLayout, checkoutTime)
	c.DueTime, _ = time.Parse(timeLayout, dueTime)
	if returnTime.Valid {
		t, _ := time.Parse(timeLayout, returnTime.String)
		c.ReturnTime = &t
	}
	c.Notes = notes.String

	return &c, nil
}

// =============================================================================
// TRANSACTIONAL STORE (circulation.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store circulation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every operation against the enclosing sql.Tx. It never
// touches the parent mutex, which WithTx already holds.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveBook(ctx context.Context, book circulation.Book) error {
	return saveBook(ctx, ts.tx, book)
}

func (ts *txStore) GetBook(ctx context.Context, id circulation.BookID) (*circulation.Book, error) {
	return getBook(ctx, ts.tx, id)
}

func (ts *txStore) ListBooks(ctx context.Context) ([]circulation.Book, error) {
	return queryBooks(ctx, ts.tx,
		`SELECT `+bookColumns+` FROM books ORDER BY title ASC`)
}

func (ts *txStore) ListAvailableBooks(ctx context.Context) ([]circulation.Book, error) {
	return queryBooks(ctx, ts.tx,
		`SELECT `+bookColumns+` FROM books WHERE available_copies > 0 ORDER BY title ASC`)
}

func (ts *txStore) AdjustAvailability(ctx context.Context, id circulation.BookID, delta int) (*circulation.Book, error) {
	return adjustAvailability(ctx, ts.tx, id, delta)
}

func (ts *txStore) SetCopyCounts(ctx context.Context, id circulation.BookID, total, available int) (*circulation.Book, error) {
	return setCopyCounts(ctx, ts.tx, id, total, available)
}

func (ts *txStore) AppendCheckout(ctx context.Context, c circulation.Checkout) error {
	return appendCheckout(ctx, ts.tx, c)
}

func (ts *txStore) GetCheckout(ctx context.Context, id circulation.CheckoutID) (*circulation.Checkout, error) {
	return getCheckout(ctx, ts.tx, id)
}

func (ts *txStore) MarkReturned(ctx context.Context, id circulation.CheckoutID, returnTime time.Time) (*circulation.Checkout, error) {
	return markReturned(ctx, ts.tx, id, returnTime)
}

func (ts *txStore) FindActiveCheckout(ctx context.Context, bookID circulation.BookID, userID circulation.UserID) (*circulation.Checkout, error) {
	return findActiveCheckout(ctx, ts.tx, bookID, userID)
}

func (ts *txStore) ListCheckoutsByUser(ctx context.Context, userID circulation.UserID, filter circulation.CheckoutFilter) ([]circulation.Checkout, error) {
	return listCheckoutsByUser(ctx, ts.tx, userID, filter)
}

func (ts *txStore) ListOverdue(ctx context.Context, now time.Time) ([]circulation.Checkout, error) {
	return listOverdue(ctx, ts.tx, now)
}

func (ts *txStore) ListCheckouts(ctx context.Context) ([]circulation.Checkout, error) {
	return listCheckouts(ctx, ts.tx)
}

func (ts *txStore) CountActiveByBook(ctx context.Context, bookID circulation.BookID) (int, error) {
	return countActiveByBook(ctx, ts.tx, bookID)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

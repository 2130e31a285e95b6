/*
handlers.go - HTTP API handlers for the circulation engine

PURPOSE:
  Exposes the circulation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the
  Controller (writes) and Aggregator (reads). The core defines no wire
  format; everything JSON lives here.

ENDPOINTS:
  Books:
    GET    /api/books                    List (available_only, page, page_size)
    POST   /api/books                    Add a book to the catalog
    GET    /api/books/{id}               Get book details
    POST   /api/books/{id}/checkout      Check out one copy (X-User-ID)
    POST   /api/books/{id}/return        Return the caller's copy (X-User-ID)
    POST   /api/books/{id}/copies        Administrative resize of total copies

  Checkouts:
    GET    /api/checkouts/my             Caller's open checkouts (X-User-ID)
    GET    /api/checkouts/history        Caller's full history, paginated
    GET    /api/checkouts/overdue        All overdue checkouts, paginated

  Stats:
    GET    /api/stats                    Library-wide summary

  Utility:
    GET    /api/health                   Liveness probe
    GET    /metrics                      Prometheus metrics

IDENTITY:
  The caller's user ID arrives in the X-User-ID header, placed there by
  an upstream authentication layer. This service never authenticates;
  it only requires that identity be present where an operation needs one.

ERROR HANDLING:
  Typed circulation outcomes map to HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing identity header
  - 404: Book or checkout not found
  - 409: Business rejection (no copies, duplicate checkout, nothing to
         return, already returned) and retryable conflicts
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Controller *circulation.Controller
	Aggregator *circulation.Aggregator

	// Pagination bounds, from configuration.
	PageSize    int
	MaxPageSize int
}

// NewHandler creates a handler around the given controller.
func NewHandler(controller *circulation.Controller) *Handler {
	return &Handler{
		Controller:  controller,
		Aggregator:  circulation.NewAggregator(controller.Store()),
		PageSize:    10,
		MaxPageSize: 100,
	}
}

func (h *Handler) store() circulation.Store { return h.Controller.Store() }

// =============================================================================
// BOOK HANDLERS
// =============================================================================

// ListBooks returns the catalog, optionally restricted to books with an
// available copy.
// GET /api/books?available_only=true&page=1&page_size=10
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		books []circulation.Book
		err   error
	)
	if r.URL.Query().Get("available_only") == "true" {
		books, err = h.store().ListAvailableBooks(ctx)
	} else {
		books, err = h.store().ListBooks(ctx)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list books", err)
		return
	}

	page, size := h.pageParams(r)
	total := len(books)
	books = pageSlice(books, page, size)

	writeJSON(w, http.StatusOK, PagedResponse{
		Count:    total,
		Page:     page,
		PageSize: size,
		Results:  toBookListDTOs(books),
	})
}

// GetBook returns a single book.
// GET /api/books/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id := circulation.BookID(chi.URLParam(r, "id"))

	book, err := h.store().GetBook(r.Context(), id)
	if err != nil {
		h.writeOutcome(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// CreateBook adds a book to the catalog. All copies start available.
// POST /api/books
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	book := circulation.Book{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		Publisher:   req.Publisher,
		Genre:       req.Genre,
		Description: req.Description,
		TotalCopies: req.TotalCopies,
	}
	if req.PublishedDate != "" {
		published, err := time.Parse("2006-01-02", req.PublishedDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid published_date format (use YYYY-MM-DD)", err)
			return
		}
		book.PublishedDate = published
	}

	created, err := h.Controller.AddBook(r.Context(), book)
	if err != nil {
		h.writeOutcome(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookDTO(*created))
}

// ResizeCopies changes a book's total copy count. Serialized against
// in-flight checkouts on the same book.
// POST /api/books/{id}/copies
func (h *Handler) ResizeCopies(w http.ResponseWriter, r *http.Request) {
	id := circulation.BookID(chi.URLParam(r, "id"))

	var req ResizeCopiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	book, err := h.Controller.ResizeCopies(r.Context(), id, req.TotalCopies)
	recordOutcome("resize", err)
	if err != nil {
		h.writeOutcome(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookDTO(*book))
}

// =============================================================================
// CHECKOUT / RETURN HANDLERS
// =============================================================================

// CheckoutBook lends one copy of the book to the caller.
// POST /api/books/{id}/checkout
func (h *Handler) CheckoutBook(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookID := circulation.BookID(chi.URLParam(r, "id"))

	// Body is optional; an empty body means no notes.
	var req CheckoutRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	checkout, err := h.Controller.Checkout(r.Context(), bookID, userID, req.Notes)
	recordOutcome("checkout", err)
	if err != nil {
		h.writeOutcome(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "Book checked out",
		"checkout": toCheckoutDTO(*checkout, h.now()),
	})
}

// ReturnBook closes the caller's active checkout for the book.
// POST /api/books/{id}/return
func (h *Handler) ReturnBook(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookID := circulation.BookID(chi.URLParam(r, "id"))

	checkout, err := h.Controller.Return(r.Context(), bookID, userID)
	recordOutcome("return", err)
	if err != nil {
		h.writeOutcome(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Book returned",
		"checkout": toCheckoutDTO(*checkout, h.now()),
	})
}

// MyCheckouts returns the caller's open checkouts, newest first.
// GET /api/checkouts/my
func (h *Handler) MyCheckouts(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	checkouts, err := h.store().ListCheckoutsByUser(r.Context(), userID, circulation.FilterActive)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list checkouts", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(checkouts),
		"results": toCheckoutDTOs(checkouts, h.now()),
	})
}

// CheckoutHistory returns the caller's full checkout history, paginated.
// GET /api/checkouts/history?page=1&page_size=10
func (h *Handler) CheckoutHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	checkouts, err := h.store().ListCheckoutsByUser(r.Context(), userID, circulation.FilterHistory)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list checkouts", err)
		return
	}

	page, size := h.pageParams(r)
	total := len(checkouts)
	checkouts = pageSlice(checkouts, page, size)

	writeJSON(w, http.StatusOK, PagedResponse{
		Count:    total,
		Page:     page,
		PageSize: size,
		Results:  toCheckoutDTOs(checkouts, h.now()),
	})
}

// OverdueCheckouts returns all open checkouts past due, most overdue first.
// GET /api/checkouts/overdue?page=1&page_size=10
func (h *Handler) OverdueCheckouts(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	checkouts, err := h.Aggregator.OverdueCheckouts(r.Context(), now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list overdue checkouts", err)
		return
	}

	page, size := h.pageParams(r)
	total := len(checkouts)
	checkouts = pageSlice(checkouts, page, size)

	writeJSON(w, http.StatusOK, PagedResponse{
		Count:    total,
		Page:     page,
		PageSize: size,
		Results:  toCheckoutDTOs(checkouts, now),
	})
}

// =============================================================================
// STATS HANDLER
// =============================================================================

// GetStats returns the library-wide summary.
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Aggregator.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}

	popular := make([]PopularBookDTO, len(stats.PopularBooks))
	for i, p := range stats.PopularBooks {
		popular[i] = PopularBookDTO{
			Title:         p.Title,
			Author:        p.Author,
			CheckoutCount: p.CheckoutCount,
		}
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		TotalBooks:       stats.TotalBooks,
		TotalCopies:      stats.TotalCopies,
		AvailableCopies:  stats.AvailableCopies,
		CheckedOutCopies: stats.CheckedOutCopies,
		ActiveCheckouts:  stats.ActiveCheckouts,
		ActiveUsers:      stats.ActiveUsers,
		OverdueCheckouts: stats.OverdueCheckouts,
		TotalCheckouts:   stats.TotalCheckouts,
		Utilization:      stats.Utilization.String(),
		PopularBooks:     popular,
		RecentCheckouts:  toCheckoutDTOs(stats.RecentCheckouts, h.now()),
	})
}

// =============================================================================
// UTILITY HANDLERS
// =============================================================================

// Health is the liveness probe.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) now() time.Time { return h.Aggregator.Clock() }

// callerID extracts the authenticated user from the X-User-ID header.
// Writes a 401 and returns ok=false when absent.
func callerID(w http.ResponseWriter, r *http.Request) (circulation.UserID, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID header", nil)
		return "", false
	}
	return circulation.UserID(id), true
}

// writeOutcome maps a typed circulation outcome to an HTTP response.
func (h *Handler) writeOutcome(w http.ResponseWriter, err error) {
	switch {
	case circulation.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, circulation.ErrInvalidBook):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case circulation.IsClientError(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case circulation.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Retryable: true})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func (h *Handler) pageParams(r *http.Request) (page, size int) {
	page = intQuery(r, "page", 1)
	if page < 1 {
		page = 1
	}
	size = intQuery(r, "page_size", h.PageSize)
	if size < 1 {
		size = h.PageSize
	}
	if size > h.MaxPageSize {
		size = h.MaxPageSize
	}
	return page, size
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func pageSlice[T any](items []T, page, size int) []T {
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

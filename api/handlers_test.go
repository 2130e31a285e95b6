/*
handlers_test.go - HTTP surface tests

PURPOSE:
  Exercises the REST API end to end over the in-memory store: request
  decoding, identity extraction, outcome-to-status mapping, pagination,
  and response shapes. The business rules themselves are covered in the
  circulation package; these tests pin the wire contract.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/circulation-engine/api"
	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/circulation/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

type fixture struct {
	router     http.Handler
	controller *circulation.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	controller := circulation.NewController(store.NewTxMemory(), circulation.DefaultLoanPolicy())
	handler := api.NewHandler(controller)
	return &fixture{
		router:     api.NewRouter(handler),
		controller: controller,
	}
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) addBook(t *testing.T, title, isbn string, copies int) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/books", "", map[string]any{
		"title":        title,
		"author":       "Test Author",
		"isbn":         isbn,
		"total_copies": copies,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var book struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &book))
	require.NotEmpty(t, book.ID)
	return book.ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// BOOK ENDPOINTS
// =============================================================================

func TestAPI_CreateAndGetBook(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/books", "", map[string]any{
		"title":          "Dune",
		"author":         "Frank Herbert",
		"isbn":           "9780441172719",
		"publisher":      "Ace",
		"published_date": "1965-08-01",
		"total_copies":   3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[api.BookDTO](t, rec)
	assert.Equal(t, "Dune", created.Title)
	assert.Equal(t, "1965-08-01", created.PublishedDate)
	assert.Equal(t, 3, created.TotalCopies)
	assert.Equal(t, 3, created.AvailableCopies, "all copies start available")
	assert.True(t, created.IsAvailable)

	rec = f.do(t, http.MethodGet, "/api/books/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.BookDTO](t, rec)
	assert.Equal(t, created.ID, got.ID)
}

func TestAPI_CreateBook_Rejections(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad isbn", map[string]any{"title": "T", "author": "A", "isbn": "123", "total_copies": 1}},
		{"no title", map[string]any{"author": "A", "isbn": "9780441172719", "total_copies": 1}},
		{"zero copies", map[string]any{"title": "T", "author": "A", "isbn": "9780441172719", "total_copies": 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/books", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	t.Run("bad published_date", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/books", "", map[string]any{
			"title": "T", "author": "A", "isbn": "9780441172719",
			"total_copies": 1, "published_date": "01/02/2003",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/books", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_GetBook_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/books/no-such-id", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decode[api.ErrorResponse](t, rec)
	assert.NotEmpty(t, body.Error)
}

func TestAPI_ListBooks_FilterAndPagination(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 12; i++ {
		f.addBook(t, fmt.Sprintf("Book %02d", i), fmt.Sprintf("97800000002%02d", i), 1)
	}
	// Consume the only copy of one book.
	depleted := f.addBook(t, "Depleted", "9780000000998", 1)
	rec := f.do(t, http.MethodPost, "/api/books/"+depleted+"/checkout", "user-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/books?page=2&page_size=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[api.PagedResponse](t, rec)
	assert.Equal(t, 13, page.Count, "count is the unpaginated total")
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.PageSize)
	results, ok := page.Results.([]any)
	require.True(t, ok)
	assert.Len(t, results, 3, "second page holds the remainder")

	rec = f.do(t, http.MethodGet, "/api/books?available_only=true&page_size=100", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[api.PagedResponse](t, rec)
	assert.Equal(t, 12, page.Count, "the depleted book is filtered out")
}

func TestAPI_ResizeCopies(t *testing.T) {
	f := newFixture(t)
	id := f.addBook(t, "Resizable", "9780000000301", 1)

	rec := f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/books/"+id+"/copies", "", api.ResizeCopiesRequest{TotalCopies: 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	book := decode[api.BookDTO](t, rec)
	assert.Equal(t, 4, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)

	rec = f.do(t, http.MethodPost, "/api/books/"+id+"/copies", "", api.ResizeCopiesRequest{TotalCopies: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "non-positive totals are invalid")
}

// =============================================================================
// CHECKOUT / RETURN ENDPOINTS
// =============================================================================

func TestAPI_CheckoutAndReturn_RoundTrip(t *testing.T) {
	f := newFixture(t)
	id := f.addBook(t, "Hyperion", "9780000000401", 2)

	rec := f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1",
		api.CheckoutRequest{Notes: "vacation read"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Message  string          `json:"message"`
		Checkout api.CheckoutDTO `json:"checkout"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Book checked out", out.Message)
	assert.Equal(t, id, out.Checkout.BookID)
	assert.Equal(t, "user-1", out.Checkout.UserID)
	assert.Equal(t, "active", out.Checkout.Status)
	assert.Equal(t, "vacation read", out.Checkout.Notes)
	assert.Empty(t, out.Checkout.ReturnTime)

	checkoutTime, err := time.Parse(time.RFC3339, out.Checkout.CheckoutTime)
	require.NoError(t, err)
	dueTime, err := time.Parse(time.RFC3339, out.Checkout.DueTime)
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, dueTime.Sub(checkoutTime))

	rec = f.do(t, http.MethodPost, "/api/books/"+id+"/return", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "Book returned", out.Message)
	assert.Equal(t, "returned", out.Checkout.Status)
	assert.NotEmpty(t, out.Checkout.ReturnTime)

	rec = f.do(t, http.MethodGet, "/api/books/"+id, "", nil)
	book := decode[api.BookDTO](t, rec)
	assert.Equal(t, 2, book.AvailableCopies, "round trip restores the counter")
}

func TestAPI_Checkout_RequiresIdentity(t *testing.T) {
	f := newFixture(t)
	id := f.addBook(t, "Anon", "9780000000402", 1)

	rec := f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "Missing X-User-ID header", body.Error)

	rec = f.do(t, http.MethodPost, "/api/books/"+id+"/return", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_Checkout_BusinessRejectionsMapTo409(t *testing.T) {
	f := newFixture(t)
	id := f.addBook(t, "Scarce", "9780000000403", 1)

	rec := f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Same user again: duplicate active checkout.
	rec = f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Different user: no copies left.
	rec = f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Nothing to return.
	rec = f.do(t, http.MethodPost, "/api/books/"+id+"/return", "user-2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_Checkout_UnknownBook(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/books/no-such-id/checkout", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CHECKOUT LISTING ENDPOINTS
// =============================================================================

func TestAPI_MyCheckouts(t *testing.T) {
	f := newFixture(t)
	bookA := f.addBook(t, "A", "9780000000501", 1)
	bookB := f.addBook(t, "B", "9780000000502", 1)

	f.do(t, http.MethodPost, "/api/books/"+bookA+"/checkout", "user-1", nil)
	f.do(t, http.MethodPost, "/api/books/"+bookB+"/checkout", "user-1", nil)
	f.do(t, http.MethodPost, "/api/books/"+bookB+"/return", "user-1", nil)

	rec := f.do(t, http.MethodGet, "/api/checkouts/my", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Count   int               `json:"count"`
		Results []api.CheckoutDTO `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Count, "only open checkouts")
	require.Len(t, out.Results, 1)
	assert.Equal(t, bookA, out.Results[0].BookID)
}

func TestAPI_CheckoutHistory_IncludesReturned(t *testing.T) {
	f := newFixture(t)
	id := f.addBook(t, "History", "9780000000503", 1)

	f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1", nil)
	f.do(t, http.MethodPost, "/api/books/"+id+"/return", "user-1", nil)
	f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1", nil)

	rec := f.do(t, http.MethodGet, "/api/checkouts/history", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[api.PagedResponse](t, rec)
	assert.Equal(t, 2, page.Count, "history keeps the full trail")
}

func TestAPI_OverdueCheckouts(t *testing.T) {
	f := newFixture(t)
	id := f.addBook(t, "Late", "9780000000504", 1)

	// Backdate the checkout clock so the loan is already past due.
	f.controller.Clock = func() time.Time { return time.Now().Add(-20 * 24 * time.Hour) }
	rec := f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/checkouts/overdue", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[api.PagedResponse](t, rec)
	assert.Equal(t, 1, page.Count)

	results, ok := page.Results.([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	entry, ok := results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "overdue", entry["status"])
	assert.Equal(t, float64(6), entry["days_overdue"], "20 days out on a 14-day loan")
}

// =============================================================================
// STATS AND UTILITY ENDPOINTS
// =============================================================================

func TestAPI_Stats(t *testing.T) {
	f := newFixture(t)
	bookA := f.addBook(t, "Alpha", "9780000000601", 2)
	f.addBook(t, "Beta", "9780000000602", 3)

	f.do(t, http.MethodPost, "/api/books/"+bookA+"/checkout", "user-1", nil)

	rec := f.do(t, http.MethodGet, "/api/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[api.StatsDTO](t, rec)
	assert.Equal(t, 2, stats.TotalBooks)
	assert.Equal(t, 5, stats.TotalCopies)
	assert.Equal(t, 4, stats.AvailableCopies)
	assert.Equal(t, 1, stats.CheckedOutCopies)
	assert.Equal(t, 1, stats.ActiveCheckouts)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, "0.2", stats.Utilization)
	require.Len(t, stats.PopularBooks, 1)
	assert.Equal(t, "Alpha", stats.PopularBooks[0].Title)
	require.Len(t, stats.RecentCheckouts, 1)
}

func TestAPI_Health(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "healthy", out["status"])
}

func TestAPI_MetricsExposed(t *testing.T) {
	f := newFixture(t)
	id := f.addBook(t, "Measured", "9780000000603", 1)
	f.do(t, http.MethodPost, "/api/books/"+id+"/checkout", "user-1", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "circulation_operations_total")
}

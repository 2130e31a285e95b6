/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific formatting (timestamps as RFC3339 strings)
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the circulation package, not in
  DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/circulation-engine/circulation"
)

// =============================================================================
// BOOK TYPES
// =============================================================================

// BookDTO represents a book in API responses.
type BookDTO struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Publisher       string `json:"publisher,omitempty"`
	PublishedDate   string `json:"published_date,omitempty"`
	Genre           string `json:"genre,omitempty"`
	Description     string `json:"description,omitempty"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	IsAvailable     bool   `json:"is_available"`
	DateAdded       string `json:"date_added,omitempty"`
	DateUpdated     string `json:"date_updated,omitempty"`
}

// BookListDTO is the compact form used in listings.
type BookListDTO struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	AvailableCopies int    `json:"available_copies"`
}

// CreateBookRequest is the request to add a book to the catalog.
type CreateBookRequest struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	Publisher     string `json:"publisher"`
	PublishedDate string `json:"published_date"`
	Genre         string `json:"genre"`
	Description   string `json:"description"`
	TotalCopies   int    `json:"total_copies"`
}

// ResizeCopiesRequest changes a book's total copy count.
type ResizeCopiesRequest struct {
	TotalCopies int `json:"total_copies"`
}

// =============================================================================
// CHECKOUT TYPES
// =============================================================================

// CheckoutRequest is the optional body of a checkout call.
type CheckoutRequest struct {
	Notes string `json:"notes"`
}

// CheckoutDTO represents one borrow event in API responses.
type CheckoutDTO struct {
	ID           string `json:"id"`
	BookID       string `json:"book_id"`
	UserID       string `json:"user_id"`
	CheckoutTime string `json:"checkout_time"`
	DueTime      string `json:"due_time"`
	ReturnTime   string `json:"return_time,omitempty"`
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
	DaysOverdue  int    `json:"days_overdue,omitempty"`
}

// =============================================================================
// STATS TYPES
// =============================================================================

// PopularBookDTO pairs a book with its all-time checkout count.
type PopularBookDTO struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	CheckoutCount int    `json:"checkout_count"`
}

// StatsDTO is the library-wide summary.
type StatsDTO struct {
	TotalBooks       int              `json:"total_books"`
	TotalCopies      int              `json:"total_copies"`
	AvailableCopies  int              `json:"available_copies"`
	CheckedOutCopies int              `json:"checked_out_copies"`
	ActiveCheckouts  int              `json:"active_checkouts"`
	ActiveUsers      int              `json:"active_users"`
	OverdueCheckouts int              `json:"overdue_checkouts"`
	TotalCheckouts   int              `json:"total_checkouts"`
	Utilization      string           `json:"utilization"`
	PopularBooks     []PopularBookDTO `json:"popular_books"`
	RecentCheckouts  []CheckoutDTO    `json:"recent_checkouts"`
}

// =============================================================================
// ENVELOPES
// =============================================================================

// PagedResponse wraps a paginated listing.
type PagedResponse struct {
	Count    int `json:"count"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Results  any `json:"results"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toBookDTO(b circulation.Book) BookDTO {
	dto := BookDTO{
		ID:              string(b.ID),
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Publisher:       b.Publisher,
		Genre:           b.Genre,
		Description:     b.Description,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		IsAvailable:     b.IsAvailable(),
	}
	if !b.PublishedDate.IsZero() {
		dto.PublishedDate = b.PublishedDate.Format("2006-01-02")
	}
	if !b.DateAdded.IsZero() {
		dto.DateAdded = b.DateAdded.Format(time.RFC3339)
	}
	if !b.DateUpdated.IsZero() {
		dto.DateUpdated = b.DateUpdated.Format(time.RFC3339)
	}
	return dto
}

func toBookListDTOs(books []circulation.Book) []BookListDTO {
	dtos := make([]BookListDTO, len(books))
	for i, b := range books {
		dtos[i] = BookListDTO{
			ID:              string(b.ID),
			Title:           b.Title,
			Author:          b.Author,
			AvailableCopies: b.AvailableCopies,
		}
	}
	return dtos
}

func toCheckoutDTO(c circulation.Checkout, now time.Time) CheckoutDTO {
	dto := CheckoutDTO{
		ID:           string(c.ID),
		BookID:       string(c.BookID),
		UserID:       string(c.UserID),
		CheckoutTime: c.CheckoutTime.Format(time.RFC3339),
		DueTime:      c.DueTime.Format(time.RFC3339),
		Status:       string(c.Status(now)),
		Notes:        c.Notes,
		DaysOverdue:  c.DaysOverdue(now),
	}
	if c.ReturnTime != nil {
		dto.ReturnTime = c.ReturnTime.Format(time.RFC3339)
	}
	return dto
}

func toCheckoutDTOs(cs []circulation.Checkout, now time.Time) []CheckoutDTO {
	dtos := make([]CheckoutDTO, len(cs))
	for i, c := range cs {
		dtos[i] = toCheckoutDTO(c, now)
	}
	return dtos
}

package circulation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/circulation-engine/circulation"
)

func TestValidISBN(t *testing.T) {
	cases := []struct {
		isbn  string
		valid bool
	}{
		{"0441172719", true},     // ISBN-10
		{"9780441172719", true},  // ISBN-13
		{"978044117271", false},  // 12 digits
		{"97804411727190", false},
		{"978-0441172719", false}, // separators not accepted
		{"044117271X", false},     // digits only
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, circulation.ValidISBN(tc.isbn), "isbn %q", tc.isbn)
	}
}

func TestCheckoutStatus(t *testing.T) {
	due := time.Date(2025, time.May, 15, 0, 0, 0, 0, time.UTC)
	open := circulation.Checkout{DueTime: due}

	assert.Equal(t, circulation.StatusActive, open.Status(due.Add(-time.Hour)))
	assert.Equal(t, circulation.StatusOverdue, open.Status(due.Add(time.Hour)))

	returnedAt := due.Add(48 * time.Hour)
	closed := open
	closed.ReturnTime = &returnedAt
	assert.Equal(t, circulation.StatusReturned, closed.Status(returnedAt.Add(time.Hour)),
		"returned wins even past due")
}

func TestBookIsAvailable(t *testing.T) {
	assert.True(t, circulation.Book{TotalCopies: 2, AvailableCopies: 1}.IsAvailable())
	assert.False(t, circulation.Book{TotalCopies: 2, AvailableCopies: 0}.IsAvailable())
}

func TestLoanPolicyDueFrom(t *testing.T) {
	start := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, start.Add(circulation.DefaultLoanPeriod),
		circulation.DefaultLoanPolicy().DueFrom(start))

	week := circulation.LoanPolicy{Period: 7 * 24 * time.Hour}
	assert.Equal(t, start.Add(7*24*time.Hour), week.DueFrom(start))
}

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/circulation-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: No relevant environment variables
	// WHEN: Loading configuration
	// THEN: Built-in defaults apply

	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("LOAN_PERIOD_DAYS", "")
	t.Setenv("PAGE_SIZE", "")
	t.Setenv("MAX_PAGE_SIZE", "")

	cfg := config.Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "circulation.db", cfg.DBPath)
	assert.Equal(t, 14*24*time.Hour, cfg.LoanPeriod)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 100, cfg.MaxPageSize)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DB_PATH", "/tmp/test.db")
	t.Setenv("LOAN_PERIOD_DAYS", "7")
	t.Setenv("PAGE_SIZE", "25")
	t.Setenv("MAX_PAGE_SIZE", "50")

	cfg := config.Load()
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 7*24*time.Hour, cfg.LoanPeriod)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, 50, cfg.MaxPageSize)
}

func TestLoanPolicy(t *testing.T) {
	cfg := config.Config{LoanPeriod: 21 * 24 * time.Hour}
	policy := cfg.LoanPolicy()

	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(21*24*time.Hour), policy.DueFrom(start))
}

/*
Package config loads process-wide configuration.

PURPOSE:
  One place where environment becomes typed configuration. Values are
  read once at startup; notably the loan period is process-wide and
  fixed for the life of the server (it is configuration, not per-call
  input).

SOURCES:
  1. A .env file in the working directory, if present (godotenv)
  2. Real environment variables (override nothing; .env never wins
     over an already-set variable)
  3. Built-in defaults

VARIABLES:
  PORT              HTTP port                      (default 8080)
  DB_PATH           SQLite database path           (default circulation.db)
  LOAN_PERIOD_DAYS  Loan period in days            (default 14)
  MAX_PAGE_SIZE     Upper bound for page_size      (default 100)
*/
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/circulation-engine/circulation"
)

// Config holds all startup configuration.
type Config struct {
	Port        int
	DBPath      string
	LoanPeriod  time.Duration
	PageSize    int
	MaxPageSize int
}

// Load reads configuration from .env / environment with defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return Config{
		Port:        intEnv("PORT", 8080),
		DBPath:      strEnv("DB_PATH", "circulation.db"),
		LoanPeriod:  time.Duration(intEnv("LOAN_PERIOD_DAYS", defaultLoanDays())) * 24 * time.Hour,
		PageSize:    intEnv("PAGE_SIZE", 10),
		MaxPageSize: intEnv("MAX_PAGE_SIZE", 100),
	}
}

// LoanPolicy converts the configured period into a circulation policy.
func (c Config) LoanPolicy() circulation.LoanPolicy {
	return circulation.LoanPolicy{Period: c.LoanPeriod}
}

func defaultLoanDays() int {
	return int(circulation.DefaultLoanPeriod / (24 * time.Hour))
}

func strEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return n
}

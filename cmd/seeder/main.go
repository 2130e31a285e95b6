// Seeder loads a small sample catalog into the database so the API has
// something to serve during local development. Skips books whose ISBN
// is already present, so it is safe to run repeatedly.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/warp/circulation-engine/circulation"
	"github.com/warp/circulation-engine/config"
	"github.com/warp/circulation-engine/store/sqlite"
)

var sampleBooks = []circulation.Book{
	{
		Title:         "The Go Programming Language",
		Author:        "Alan A. A. Donovan",
		ISBN:          "9780134190440",
		Publisher:     "Addison-Wesley",
		PublishedDate: date(2015, time.October, 26),
		Genre:         "Programming",
		TotalCopies:   3,
	},
	{
		Title:         "Designing Data-Intensive Applications",
		Author:        "Martin Kleppmann",
		ISBN:          "9781449373320",
		Publisher:     "O'Reilly Media",
		PublishedDate: date(2017, time.March, 16),
		Genre:         "Databases",
		TotalCopies:   2,
	},
	{
		Title:         "The Mythical Man-Month",
		Author:        "Frederick P. Brooks Jr.",
		ISBN:          "9780201835953",
		Publisher:     "Addison-Wesley",
		PublishedDate: date(1995, time.August, 2),
		Genre:         "Software Engineering",
		TotalCopies:   1,
	},
	{
		Title:         "Structure and Interpretation of Computer Programs",
		Author:        "Harold Abelson",
		ISBN:          "9780262510875",
		Publisher:     "MIT Press",
		PublishedDate: date(1996, time.July, 25),
		Genre:         "Computer Science",
		TotalCopies:   2,
	},
	{
		Title:         "The Pragmatic Programmer",
		Author:        "David Thomas",
		ISBN:          "9780135957059",
		Publisher:     "Addison-Wesley",
		PublishedDate: date(2019, time.September, 13),
		Genre:         "Software Engineering",
		TotalCopies:   4,
	},
}

func main() {
	cfg := config.Load()
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Unable to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	controller := circulation.NewController(store, cfg.LoanPolicy())

	existing, err := store.ListBooks(ctx)
	if err != nil {
		log.Fatalf("Unable to list books: %v", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, b := range existing {
		seen[b.ISBN] = true
	}

	added := 0
	for _, book := range sampleBooks {
		if seen[book.ISBN] {
			continue
		}
		created, err := controller.AddBook(ctx, book)
		if err != nil {
			log.Fatalf("Failed to add %q: %v", book.Title, err)
		}
		log.Printf("Added %q (%d copies) as %s", created.Title, created.TotalCopies, created.ID)
		added++
	}

	log.Printf("Seeding complete: %d added, %d already present", added, len(sampleBooks)-added)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

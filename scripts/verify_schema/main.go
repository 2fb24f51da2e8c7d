package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"hedge-core/pkg/db"
)

func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/hedge.db"
	}
	fmt.Printf("Verifying database at: %s\n", dbPath)

	database, err := db.New(dbPath)
	if err != nil {
		logrus.Fatalf("open db: %v", err)
	}
	defer database.Close()

	ok := true
	for _, table := range []string{"batches", "batch_items"} {
		var ddl string
		err := database.DB.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&ddl)
		if err != nil {
			fmt.Printf("❌ %s table MISSING\n", table)
			ok = false
			continue
		}
		fmt.Printf("✓ %s table exists\n", table)
		if table != "batches" {
			continue
		}
		for _, col := range []string{"skipped_count", "concurrency"} {
			if strings.Contains(ddl, col) {
				fmt.Printf("  ✓ %s column exists\n", col)
			} else {
				fmt.Printf("  ❌ %s column MISSING (run the service once to migrate)\n", col)
				ok = false
			}
		}
	}

	recent, err := database.Queries().RecentBatches(context.Background(), 5)
	if err != nil {
		logrus.Fatalf("recent batches: %v", err)
	}
	for _, b := range recent {
		fmt.Printf("  %s %-8s %s ok=%d failed=%d\n", b.ID, b.Status, b.TaskName, b.SuccessCount, b.FailedCount)
	}
	if !ok {
		os.Exit(1)
	}
}

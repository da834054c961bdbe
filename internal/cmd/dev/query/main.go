// Command query prints recent delivery audit records and per-outcome counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"microchallenges/internal/storage"
	"microchallenges/internal/storage/factory"
)

func main() {
	var (
		limit   = flag.Int("limit", 10, "Maximum number of deliveries to show")
		since   = flag.Duration("since", 24*time.Hour, "Show deliveries since duration (e.g. 1h, 24h)")
		stats   = flag.Bool("stats", true, "Show outcome statistics instead of records")
		db      = flag.String("db", "sqlite:microchallenges.db", "Database URI")
		outcome = flag.String("outcome", "", "Filter by outcome (e.g. allowed, invalid_signature)")
		path    = flag.String("path", "", "Filter by request path")
	)
	flag.Parse()

	ctx := context.Background()

	store, err := factory.NewStorageFromURI(ctx, *db)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	sinceTime := time.Now().Add(-*since)

	if *stats {
		outcomeStats, err := store.GetStats(ctx, sinceTime)
		if err != nil {
			log.Fatalf("Failed to get outcome stats: %v", err)
		}

		outcomes := make([]string, 0, len(outcomeStats))
		for o := range outcomeStats {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)

		fmt.Printf("\nOutcome Statistics (since %s):\n", sinceTime.Format(time.RFC3339))
		for _, o := range outcomes {
			fmt.Printf("  %s: %d\n", o, outcomeStats[o])
		}
		return
	}

	opts := storage.QueryOptions{
		Limit: *limit,
		Since: sinceTime,
		Path:  *path,
	}
	if *outcome != "" {
		opts.Outcomes = []string{*outcome}
	}

	deliveries, total, err := store.ListDeliveries(ctx, opts)
	if err != nil {
		log.Fatalf("Failed to query deliveries: %v", err)
	}

	fmt.Printf("\nShowing %d of %d deliveries since %s:\n", len(deliveries), total, sinceTime.Format(time.RFC3339))
	fmt.Println("----------------------------------------")
	for _, d := range deliveries {
		fmt.Printf("ID:        %s\n", d.ID)
		fmt.Printf("Outcome:   %s\n", d.Outcome)
		fmt.Printf("Path:      %s\n", d.Path)
		fmt.Printf("From:      %s\n", d.RemoteAddr)
		fmt.Printf("Size:      %d bytes\n", d.PayloadSize)
		if d.PayloadSHA256 != "" {
			fmt.Printf("SHA-256:   %s\n", d.PayloadSHA256)
		}
		fmt.Printf("Timestamp: %s\n", d.CreatedAt.Format(time.RFC3339))
		fmt.Println("----------------------------------------")
	}
}

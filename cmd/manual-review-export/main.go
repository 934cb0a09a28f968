package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/models/reports"
)

// Writes bookings awaiting manual review to an xlsx workbook for the reservations desk.
func main() {
	output := flag.String("out", "", "Output file (default manual-review-YYYYMMDD.xlsx)")
	limit := flag.Int("limit", 1000, "Maximum number of bookings to export")
	flag.Parse()

	path := *output
	if path == "" {
		path = fmt.Sprintf("manual-review-%s.xlsx", time.Now().Format("20060102"))
	}

	ctx := context.Background()
	store, err := models.OpenStore(config.GetLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}

	rows, err := reports.LoadManualReviewRows(ctx, store, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load bookings: %v\n", err)
		os.Exit(1)
	}

	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := reports.WriteManualReviewWorkbook(f, rows); err != nil {
		_ = f.Close()
		fmt.Fprintf(os.Stderr, "write workbook: %v\n", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("exported %d bookings to %s\n", len(rows), path)
}

package reports

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/xuri/excelize/v2"
)

func TestManualReviewWorkbook(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	checkIn := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"b1", "b2"} {
		if err := store.CreateBooking(ctx, &models.Booking{
			ID:            id,
			BookingNumber: "BK-20261019-" + id,
			Status:        models.BookingStatusBookingRequested,
			GuestName:     "Guest " + id,
			CheckIn:       checkIn,
			CheckOut:      checkIn.AddDate(0, 0, 2),
			TotalAmount:   150000,
			Currency:      "INR",
			RetryCount:    12,
		}); err != nil {
			t.Fatalf("CreateBooking: %v", err)
		}
	}
	if err := store.MarkManualReview(ctx, "b1", time.Now()); err != nil {
		t.Fatalf("MarkManualReview: %v", err)
	}
	_ = store.AppendLog(ctx, models.NewBookingLog("b1", models.LogActionCRSReservationFailed, models.BookingLogLevelWarn, nil, nil))
	_ = store.AppendLog(ctx, models.NewBookingLog("b1", models.LogActionMaxRetriesManualReview, models.BookingLogLevelError, nil, errors.New("retries exhausted")))

	rows, err := LoadManualReviewRows(ctx, store, 100)
	if err != nil {
		t.Fatalf("LoadManualReviewRows: %v", err)
	}
	if len(rows) != 1 || rows[0].Booking.ID != "b1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if want := "max_retries_pending_manual_review: retries exhausted"; rows[0].LastError != want {
		t.Fatalf("last error = %q", rows[0].LastError)
	}

	var buf bytes.Buffer
	if err := WriteManualReviewWorkbook(&buf, rows); err != nil {
		t.Fatalf("WriteManualReviewWorkbook: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	for cell, want := range map[string]string{
		"A1": "Booking ID",
		"A2": "b1",
		"B2": "BK-20261019-b1",
		"I1": "Nights",
		"I2": "2",
		"J2": "1500.00",
		"L2": "12",
	} {
		got, err := f.GetCellValue(manualReviewSheet, cell)
		if err != nil {
			t.Fatalf("GetCellValue %s: %v", cell, err)
		}
		if got != want {
			t.Fatalf("%s = %q want %q", cell, got, want)
		}
	}
}

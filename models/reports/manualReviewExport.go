package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/xuri/excelize/v2"
)

const manualReviewSheet = "Manual Review"

var manualReviewHeaders = []string{
	"Booking ID", "Booking Number", "Status", "Guest", "Phone", "Email",
	"Check In", "Check Out", "Nights", "Amount", "Currency", "Retry Count",
	"Manual Review At", "Last Error",
}

type ManualReviewRow struct {
	Booking   models.Booking
	LastError string
}

// LoadManualReviewRows lists escalated bookings with the most recent error-level log message of each.
func LoadManualReviewRows(ctx context.Context, store models.Store, limit int) ([]ManualReviewRow, error) {
	bookings, err := store.ListManualReview(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list manual review bookings: %w", err)
	}
	rows := make([]ManualReviewRow, 0, len(bookings))
	for _, b := range bookings {
		logs, err := store.ListLogs(ctx, b.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("list logs for %s: %w", b.ID, err)
		}
		rows = append(rows, ManualReviewRow{Booking: b, LastError: lastError(logs)})
	}
	return rows, nil
}

func lastError(logs []models.BookingLog) string {
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		if l.Level != models.BookingLogLevelError {
			continue
		}
		if l.ErrorMessage != nil && *l.ErrorMessage != "" {
			return l.Action + ": " + *l.ErrorMessage
		}
		return l.Action
	}
	return ""
}

// WriteManualReviewWorkbook renders rows as an xlsx workbook to w.
func WriteManualReviewWorkbook(w io.Writer, rows []ManualReviewRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", manualReviewSheet); err != nil {
		return err
	}
	for i, h := range manualReviewHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(manualReviewSheet, cell, h); err != nil {
			return err
		}
	}

	for i, r := range rows {
		b := r.Booking
		manualReviewAt := ""
		if b.ManualReviewAt != nil {
			manualReviewAt = b.ManualReviewAt.UTC().Format(time.RFC3339)
		}
		values := []any{
			b.ID, b.BookingNumber, string(b.Status), b.GuestName, b.GuestPhone, b.GuestEmail,
			b.CheckIn.Format("2006-01-02"), b.CheckOut.Format("2006-01-02"), b.Nights(),
			utils.FormatMinor(b.TotalAmount), b.Currency, b.RetryCount,
			manualReviewAt, r.LastError,
		}
		start, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(manualReviewSheet, start, &values); err != nil {
			return err
		}
	}

	if err := f.SetPanes(manualReviewSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	return f.Write(w)
}

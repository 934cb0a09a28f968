package models

import (
	"encoding/json"
	"time"
)

type BookingLogLevel string

const (
	BookingLogLevelInfo  BookingLogLevel = "info"
	BookingLogLevelWarn  BookingLogLevel = "warn"
	BookingLogLevelError BookingLogLevel = "error"
)

const (
	LogActionStatusTransition          = "status_transition"
	LogActionPaymentVerified           = "payment_verified"
	LogActionPaymentAmountMismatch     = "payment_amount_mismatch"
	LogActionPaymentForInactiveBooking = "payment_for_inactive_booking"
	LogActionWebhookFinalizeError      = "webhook_finalize_error"
	LogActionCRSReservationConfirmed   = "crs_reservation_confirmed"
	LogActionCRSReservationFailed      = "crs_reservation_failed"
	LogActionCRSReservationPending     = "crs_reservation_pending"
	LogActionCRSTransportError         = "crs_transport_error"
	LogActionCRSPermanentFailure       = "crs_permanent_failure_manual_review"
	LogActionMaxRetriesManualReview    = "max_retries_pending_manual_review"
	LogActionWatchdogRetry             = "watchdog_retry"
	LogActionWatchdogError             = "watchdog_error"
	LogActionManualFinalize            = "manual_finalize_requested"
)

// BookingLog is append-only. Rows are never updated or deleted.
type BookingLog struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BookingID    string          `gorm:"type:char(36);not null;index" json:"booking_id"`
	Action       string          `gorm:"size:64;not null;index" json:"action"`
	Level        BookingLogLevel `gorm:"size:10;not null" json:"level"`
	Payload      string          `gorm:"type:text" json:"payload"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// NewBookingLog builds a log row; payload is stored as JSON and err, if any, as ErrorMessage.
func NewBookingLog(bookingID string, action string, level BookingLogLevel, payload any, err error) *BookingLog {
	entry := &BookingLog{
		BookingID: bookingID,
		Action:    action,
		Level:     level,
	}
	if payload != nil {
		if b, mErr := json.Marshal(payload); mErr == nil {
			entry.Payload = string(b)
		}
	}
	if err != nil {
		msg := err.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}

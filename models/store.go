package models

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
)

// Store is the persistence contract of the confirmation pipeline.
// Status and retry updates are compare-and-set: they report false instead of
// overwriting a row that another caller has already moved.
type Store interface {
	CreateBooking(ctx context.Context, booking *Booking) error
	GetBooking(ctx context.Context, id string) (*Booking, error)
	// UpdateBookingStatus moves id from -> to only if the row is still in from.
	// ConfirmedAt/CancelledAt are stamped with at when entering those states.
	UpdateBookingStatus(ctx context.Context, id string, from, to BookingStatus, at time.Time) (bool, error)
	// FindStaleBookings returns up to limit bookings in statuses with
	// updated_at < olderThan and no manual review flag, oldest first.
	FindStaleBookings(ctx context.Context, statuses []BookingStatus, olderThan time.Time, limit int) ([]Booking, error)
	// IncrementRetry bumps retry_count and updated_at while status is in statuses.
	IncrementRetry(ctx context.Context, id string, statuses []BookingStatus, at time.Time) (retryCount int, ok bool, err error)
	MarkManualReview(ctx context.Context, id string, at time.Time) error
	ListManualReview(ctx context.Context, limit int) ([]Booking, error)

	CreatePayment(ctx context.Context, payment *Payment) error
	GetPaymentByOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error)
	GetSuccessfulPayment(ctx context.Context, bookingID string) (*Payment, error)
	// MarkPaymentSuccess reports false when the payment was already success.
	MarkPaymentSuccess(ctx context.Context, gatewayOrderID string, v PaymentVerification) (bool, error)

	// CreateConfirmation returns ErrDuplicate when the booking already has one.
	CreateConfirmation(ctx context.Context, c *BookingConfirmation) error
	GetConfirmation(ctx context.Context, bookingID string) (*BookingConfirmation, error)

	AppendLog(ctx context.Context, entry *BookingLog) error
	ListLogs(ctx context.Context, bookingID string, limit int) ([]BookingLog, error)

	// BeginIdempotency inserts STARTED. skip is true when the key already SUCCEEDED.
	BeginIdempotency(ctx context.Context, handlerName, messageID string) (skip bool, err error)
	MarkIdempotencySucceeded(ctx context.Context, handlerName, messageID string) error
	MarkIdempotencyFailed(ctx context.Context, handlerName, messageID string, err error) error
}

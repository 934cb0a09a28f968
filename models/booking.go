package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusInitiated        BookingStatus = "initiated"
	BookingStatusPendingPayment   BookingStatus = "pending_payment"
	BookingStatusPaymentSuccess   BookingStatus = "payment_success"
	BookingStatusBookingRequested BookingStatus = "booking_requested"
	BookingStatusConfirmed        BookingStatus = "confirmed"
	BookingStatusFailed           BookingStatus = "failed"
	BookingStatusCancelled        BookingStatus = "cancelled"
)

var AllBookingStatuses = []BookingStatus{
	BookingStatusInitiated,
	BookingStatusPendingPayment,
	BookingStatusPaymentSuccess,
	BookingStatusBookingRequested,
	BookingStatusConfirmed,
	BookingStatusFailed,
	BookingStatusCancelled,
}

// RetryableBookingStatuses are the only statuses in which finalize may run and
// the watchdog may advance RetryCount.
var RetryableBookingStatuses = []BookingStatus{
	BookingStatusPaymentSuccess,
	BookingStatusBookingRequested,
}

func (s BookingStatus) IsValid() bool {
	for _, v := range AllBookingStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsRetryable() bool {
	return s == BookingStatusPaymentSuccess || s == BookingStatusBookingRequested
}

func ParseBookingStatus(s string) (BookingStatus, error) {
	st := BookingStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("invalid booking status %q", s)
	}
	return st, nil
}

type Booking struct {
	ID             string        `gorm:"type:char(36);primaryKey" json:"id"`
	BookingNumber  string        `gorm:"size:32;not null;uniqueIndex" json:"booking_number"`
	Status         BookingStatus `gorm:"size:32;not null;index:idx_bookings_status_updated,priority:1" json:"status"`
	GuestName      string        `gorm:"size:150;not null" json:"guest_name"`
	GuestEmail     string        `gorm:"size:150" json:"guest_email"`
	GuestPhone     string        `gorm:"size:32" json:"guest_phone"`
	CheckIn        time.Time     `gorm:"type:date;not null" json:"check_in"`
	CheckOut       time.Time     `gorm:"type:date;not null" json:"check_out"`
	Adults         int           `gorm:"not null;default:1" json:"adults"`
	Children       int           `gorm:"not null;default:0" json:"children"`
	Rooms          []BookingRoom `gorm:"foreignKey:BookingID" json:"rooms"`
	TotalAmount    int64         `gorm:"not null" json:"total_amount"`
	Currency       string        `gorm:"size:3;not null;default:INR" json:"currency"`
	RetryCount     int           `gorm:"not null;default:0" json:"retry_count"`
	ManualReviewAt *time.Time    `gorm:"index" json:"manual_review_at"`
	ConfirmedAt    *time.Time    `json:"confirmed_at"`
	CancelledAt    *time.Time    `json:"cancelled_at"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime;index:idx_bookings_status_updated,priority:2" json:"updated_at"`
}

type BookingRoom struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BookingID  string `gorm:"type:char(36);not null;index" json:"booking_id"`
	RoomTypeID string `gorm:"size:64;not null" json:"room_type_id"`
	RatePlanID string `gorm:"size:64;not null" json:"rate_plan_id"`
	Quantity   int    `gorm:"not null;default:1" json:"quantity"`
	Amount     int64  `gorm:"not null" json:"amount"`
}

// NewBookingID returns a fresh uuid for Booking.ID.
func NewBookingID() string {
	return uuid.NewString()
}

// NewBookingNumber returns a human readable number such as BK-20261019-7F3A2C.
func NewBookingNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("BK-%s-%s", now.UTC().Format("20060102"), suffix)
}

func (b *Booking) Nights() int {
	n := int(b.CheckOut.Sub(b.CheckIn).Hours() / 24)
	if n < 0 {
		return 0
	}
	return n
}

package models

import "time"

// BookingConfirmation exists exactly once per confirmed booking.
type BookingConfirmation struct {
	ID                 int       `gorm:"primary_key" json:"id"`
	BookingID          string    `gorm:"type:char(36);not null;uniqueIndex" json:"booking_id"`
	ConfirmationNumber string    `gorm:"size:64;not null" json:"confirmation_number"`
	ReservationID      string    `gorm:"size:64" json:"reservation_id"`
	Provider           string    `gorm:"size:32" json:"provider"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

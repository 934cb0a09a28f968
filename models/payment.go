package models

import "time"

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Payment is one payment-gateway order. Amount must equal the booking total.
type Payment struct {
	ID               int           `gorm:"primary_key" json:"id"`
	BookingID        string        `gorm:"type:char(36);not null;index" json:"booking_id"`
	GatewayOrderID   string        `gorm:"size:64;not null;uniqueIndex" json:"gateway_order_id"`
	GatewayPaymentID string        `gorm:"size:64" json:"gateway_payment_id"`
	Signature        string        `gorm:"size:128" json:"-"`
	Amount           int64         `gorm:"not null" json:"amount"`
	Currency         string        `gorm:"size:3;not null;default:INR" json:"currency"`
	Status           PaymentStatus `gorm:"size:20;not null;index" json:"status"`
	Method           string        `gorm:"size:32" json:"method"`
	VerifiedAt       *time.Time    `json:"verified_at"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// PaymentVerification is what the webhook records when a payment is captured.
type PaymentVerification struct {
	GatewayPaymentID string
	Signature        string
	Method           string
	VerifiedAt       time.Time
}

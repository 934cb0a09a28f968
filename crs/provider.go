// Package crs talks to the hotel's Central Reservation System. Callers depend
// only on Provider; the simulator and the HTTP client are interchangeable.
package crs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/reservations_backend/utils"
)

type AvailabilityStatus string

const (
	AvailabilityStatusSuccess AvailabilityStatus = "success"
	AvailabilityStatusFailure AvailabilityStatus = "failure"
)

type ReservationStatus string

const (
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusFailed    ReservationStatus = "failed"
	ReservationStatusPending   ReservationStatus = "pending"
)

// Reservation error codes shared by all providers.
const (
	CodeInvalidPayment        = "INVALID_PAYMENT"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeRatePlanClosed        = "RATE_PLAN_CLOSED"
	CodeDuplicateGuestBlocked = "DUPLICATE_GUEST_BLOCKED"
	CodeInventoryUnavailable  = "INVENTORY_UNAVAILABLE"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
)

// Provider is the CRS capability surface.
//
// CreateReservation must be idempotent on ReservationRequest.IdempotencyKey:
// a repeated key returns the reservation created by the first call and never
// creates a second one. Finalize relies on this when a webhook and the
// watchdog race on the same booking.
//
// Transport failures and non-2xx answers are returned as *ProviderError;
// implementations never panic on a bad upstream response.
type Provider interface {
	Name() string
	CheckAvailability(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error)
	CreateReservation(ctx context.Context, req ReservationRequest) (*ReservationResult, error)
}

type AvailabilityRequest struct {
	CheckIn  time.Time `json:"check_in" validate:"required"`
	CheckOut time.Time `json:"check_out" validate:"required,gtfield=CheckIn"`
	Adults   int       `json:"adults" validate:"gte=1"`
	Children int       `json:"children" validate:"gte=0"`
}

type RatePlan struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type RoomOffer struct {
	RoomTypeID string     `json:"room_type_id"`
	Name       string     `json:"name"`
	Available  int        `json:"available"`
	Price      int64      `json:"price"`
	RatePlans  []RatePlan `json:"rate_plans"`
}

type AvailabilityResult struct {
	Status  AvailabilityStatus `json:"status"`
	Rooms   []RoomOffer        `json:"rooms"`
	Message string             `json:"message,omitempty"`
}

type ReservationRoom struct {
	RoomTypeID string `json:"room_type_id" validate:"required"`
	RatePlanID string `json:"rate_plan_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gte=1"`
	Amount     int64  `json:"amount"`
}

type Guest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

// PaymentDetails amounts are in minor units. A non-positive amount is not a
// validation error; providers answer it with a failed reservation.
type PaymentDetails struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
}

type ReservationRequest struct {
	IdempotencyKey string            `json:"-" validate:"required"`
	BookingID      string            `json:"booking_id" validate:"required"`
	BookingNumber  string            `json:"booking_number"`
	CheckIn        time.Time         `json:"check_in" validate:"required"`
	CheckOut       time.Time         `json:"check_out" validate:"required,gtfield=CheckIn"`
	Adults         int               `json:"adults" validate:"gte=1"`
	Children       int               `json:"children" validate:"gte=0"`
	Rooms          []ReservationRoom `json:"rooms" validate:"required,min=1,dive"`
	Guest          Guest             `json:"guest"`
	Payment        PaymentDetails    `json:"payment"`
}

type ReservationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ReservationResult struct {
	Status             ReservationStatus  `json:"status"`
	ReservationID      string             `json:"reservation_id,omitempty"`
	ConfirmationNumber string             `json:"confirmation_number,omitempty"`
	Errors             []ReservationError `json:"errors,omitempty"`
}

// ErrorSummary joins the structured errors as "CODE: message; ...".
func (r *ReservationResult) ErrorSummary() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}

func failedReservation(code, message string) *ReservationResult {
	return &ReservationResult{
		Status: ReservationStatusFailed,
		Errors: []ReservationError{{Code: code, Message: message}},
	}
}

var validate = validator.New()

// ValidateReservationRequest returns an INVALID_REQUEST result when req is
// malformed, or nil when it may be sent.
func ValidateReservationRequest(req ReservationRequest) *ReservationResult {
	if err := validate.Struct(req); err != nil {
		return failedReservation(CodeInvalidRequest, utils.ValidationSummary(err))
	}
	return nil
}

func validateAvailabilityRequest(req AvailabilityRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("invalid availability request: %s", utils.ValidationSummary(err))
	}
	return nil
}

func nights(checkIn, checkOut time.Time) int {
	n := int(checkOut.Sub(checkIn).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

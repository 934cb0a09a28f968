package workflow

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/reservations_backend/crs"
	"github.com/mmdatafocus/reservations_backend/events"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// seedBooking stores a booking with one room and, when paid, a successful payment.
func seedBooking(t *testing.T, store *models.MemoryStore, id string, status models.BookingStatus, updatedAt time.Time) *models.Booking {
	t.Helper()
	ctx := context.Background()
	checkIn := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	b := &models.Booking{
		ID:            id,
		BookingNumber: "BK-20261019-" + id,
		Status:        status,
		GuestName:     "Asha Rao",
		GuestEmail:    "asha@example.com",
		GuestPhone:    "098123 45678",
		CheckIn:       checkIn,
		CheckOut:      checkIn.AddDate(0, 0, 2),
		Adults:        2,
		Rooms:         []models.BookingRoom{{RoomTypeID: "DLX", RatePlanID: "BAR", Quantity: 1, Amount: 150000}},
		TotalAmount:   150000,
		Currency:      "INR",
		UpdatedAt:     updatedAt,
	}
	if err := store.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	payment := &models.Payment{
		BookingID:      id,
		GatewayOrderID: "order_" + id,
		Amount:         150000,
		Currency:       "INR",
		Status:         models.PaymentStatusPending,
	}
	if err := store.CreatePayment(ctx, payment); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if status.IsRetryable() {
		if _, err := store.MarkPaymentSuccess(ctx, payment.GatewayOrderID, models.PaymentVerification{
			GatewayPaymentID: "pay_" + id,
			Method:           "upi",
			VerifiedAt:       updatedAt,
		}); err != nil {
			t.Fatalf("MarkPaymentSuccess: %v", err)
		}
	}
	return b
}

func newService(store models.Store, provider crs.Provider, pub events.Publisher) *BookingService {
	return NewBookingService(store, provider, pub, quietLogger(), BookingServiceConfig{ProviderTimeout: time.Second})
}

// scriptedProvider returns canned results and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	calls    int
	requests []crs.ReservationRequest
	reserve  func(ctx context.Context, req crs.ReservationRequest) (*crs.ReservationResult, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) CheckAvailability(context.Context, crs.AvailabilityRequest) (*crs.AvailabilityResult, error) {
	return &crs.AvailabilityResult{Status: crs.AvailabilityStatusSuccess}, nil
}

func (p *scriptedProvider) CreateReservation(ctx context.Context, req crs.ReservationRequest) (*crs.ReservationResult, error) {
	p.mu.Lock()
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.reserve(ctx, req)
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) LastRequest() crs.ReservationRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func failWith(code string) func(context.Context, crs.ReservationRequest) (*crs.ReservationResult, error) {
	return func(context.Context, crs.ReservationRequest) (*crs.ReservationResult, error) {
		return &crs.ReservationResult{
			Status: crs.ReservationStatusFailed,
			Errors: []crs.ReservationError{{Code: code, Message: "rejected"}},
		}, nil
	}
}

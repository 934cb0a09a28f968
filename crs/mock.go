package crs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Above this occupancy the simulator has no inventory.
const mockMaxOccupancy = 6

type mockRoomType struct {
	id        string
	name      string
	available int
	nightly   int64
}

var mockRoomTypes = []mockRoomType{
	{id: "DLX", name: "Deluxe Room", available: 5, nightly: 550000},
	{id: "STE", name: "Garden Suite", available: 2, nightly: 950000},
}

// MockProvider is a deterministic in-memory CRS. The same request always
// yields the same class of result:
//   - adults+children above 6: success with no rooms
//   - outage mode: availability failure, reservation PROVIDER_UNAVAILABLE
//   - payment amount <= 0: reservation INVALID_PAYMENT
//   - otherwise: two room types, confirmed reservations keyed by idempotency key
type MockProvider struct {
	mu                sync.Mutex
	outage            bool
	reservations      map[string]*ReservationResult
	availabilityCalls int
	reservationCalls  int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{reservations: map[string]*ReservationResult{}}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) SetOutage(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outage = on
}

func (m *MockProvider) CheckAvailability(ctx context.Context, req AvailabilityRequest) (*AvailabilityResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availabilityCalls++

	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: m.Name(), Op: "availability", Err: err}
	}
	if m.outage {
		return &AvailabilityResult{Status: AvailabilityStatusFailure, Message: "CRS unavailable (simulated outage)"}, nil
	}
	if err := validateAvailabilityRequest(req); err != nil {
		return &AvailabilityResult{Status: AvailabilityStatusFailure, Message: err.Error()}, nil
	}
	if req.Adults+req.Children > mockMaxOccupancy {
		return &AvailabilityResult{Status: AvailabilityStatusSuccess, Rooms: []RoomOffer{}, Message: "no inventory for requested occupancy"}, nil
	}

	n := int64(nights(req.CheckIn, req.CheckOut))
	rooms := make([]RoomOffer, 0, len(mockRoomTypes))
	for _, rt := range mockRoomTypes {
		bar := rt.nightly * n
		rooms = append(rooms, RoomOffer{
			RoomTypeID: rt.id,
			Name:       rt.name,
			Available:  rt.available,
			Price:      bar,
			RatePlans: []RatePlan{
				{ID: "BAR", Name: "Best Available Rate", Price: bar},
				{ID: "BB", Name: "Bed & Breakfast", Price: bar + 80000*n},
			},
		})
	}
	return &AvailabilityResult{Status: AvailabilityStatusSuccess, Rooms: rooms}, nil
}

func (m *MockProvider) CreateReservation(ctx context.Context, req ReservationRequest) (*ReservationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservationCalls++

	if err := ctx.Err(); err != nil {
		return nil, &ProviderError{Provider: m.Name(), Op: "reservation", Err: err}
	}
	if res := ValidateReservationRequest(req); res != nil {
		return res, nil
	}
	if existing, ok := m.reservations[req.IdempotencyKey]; ok {
		cp := *existing
		return &cp, nil
	}
	if m.outage {
		return failedReservation(CodeProviderUnavailable, "CRS unavailable (simulated outage)"), nil
	}
	if req.Payment.Amount <= 0 {
		return failedReservation(CodeInvalidPayment, "payment amount must be positive"), nil
	}

	sum := sha256.Sum256([]byte(req.IdempotencyKey))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	res := &ReservationResult{
		Status:             ReservationStatusConfirmed,
		ReservationID:      "RES-" + digest[10:22],
		ConfirmationNumber: "CNF-" + digest[:10],
	}
	m.reservations[req.IdempotencyKey] = res
	cp := *res
	return &cp, nil
}

func (m *MockProvider) AvailabilityCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availabilityCalls
}

func (m *MockProvider) ReservationCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservationCalls
}

// ReservationsCreated counts distinct reservations, one per idempotency key.
func (m *MockProvider) ReservationsCreated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

package models

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It backs unit tests and
// STORE_DRIVER=memory local runs; it offers the same compare-and-set
// guarantees as GormStore within one process.
type MemoryStore struct {
	mu            sync.Mutex
	bookings      map[string]*Booking
	payments      map[string]*Payment // by gateway order id
	confirmations map[string]*BookingConfirmation
	logs          []BookingLog
	idem          map[string]*IdempotencyKey
	nextID        int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings:      map[string]*Booking{},
		payments:      map[string]*Payment{},
		confirmations: map[string]*BookingConfirmation{},
		idem:          map[string]*IdempotencyKey{},
	}
}

func (s *MemoryStore) id() int {
	s.nextID++
	return s.nextID
}

func cloneBooking(b *Booking) *Booking {
	out := *b
	out.Rooms = append([]BookingRoom(nil), b.Rooms...)
	return &out
}

func statusIn(st BookingStatus, statuses []BookingStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateBooking(_ context.Context, booking *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if booking.ID == "" {
		booking.ID = NewBookingID()
	}
	if _, ok := s.bookings[booking.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	if booking.UpdatedAt.IsZero() {
		booking.UpdatedAt = now
	}
	for i := range booking.Rooms {
		booking.Rooms[i].BookingID = booking.ID
		if booking.Rooms[i].ID == 0 {
			booking.Rooms[i].ID = s.id()
		}
	}
	s.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneBooking(b), nil
}

func (s *MemoryStore) UpdateBookingStatus(_ context.Context, id string, from, to BookingStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	switch to {
	case BookingStatusConfirmed:
		t := at
		b.ConfirmedAt = &t
	case BookingStatusCancelled:
		t := at
		b.CancelledAt = &t
	}
	return true, nil
}

func (s *MemoryStore) FindStaleBookings(_ context.Context, statuses []BookingStatus, olderThan time.Time, limit int) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Booking
	for _, b := range s.bookings {
		if statusIn(b.Status, statuses) && b.UpdatedAt.Before(olderThan) && b.ManualReviewAt == nil {
			out = append(out, *cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) IncrementRetry(_ context.Context, id string, statuses []BookingStatus, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || !statusIn(b.Status, statuses) {
		return 0, false, nil
	}
	b.RetryCount++
	b.UpdatedAt = at
	return b.RetryCount, true, nil
}

func (s *MemoryStore) MarkManualReview(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return ErrRecordNotFound
	}
	if b.ManualReviewAt == nil {
		t := at
		b.ManualReviewAt = &t
	}
	return nil
}

func (s *MemoryStore) ListManualReview(_ context.Context, limit int) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Booking
	for _, b := range s.bookings {
		if b.ManualReviewAt != nil && b.Status.IsRetryable() {
			out = append(out, *cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ManualReviewAt.Before(*out[j].ManualReviewAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, payment *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[payment.GatewayOrderID]; ok {
		return ErrDuplicate
	}
	if payment.ID == 0 {
		payment.ID = s.id()
	}
	if payment.Status == "" {
		payment.Status = PaymentStatusPending
	}
	cp := *payment
	s.payments[payment.GatewayOrderID] = &cp
	return nil
}

func (s *MemoryStore) GetPaymentByOrderID(_ context.Context, gatewayOrderID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[gatewayOrderID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetSuccessfulPayment(_ context.Context, bookingID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.BookingID == bookingID && p.Status == PaymentStatusSuccess {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (s *MemoryStore) MarkPaymentSuccess(_ context.Context, gatewayOrderID string, v PaymentVerification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[gatewayOrderID]
	if !ok || p.Status == PaymentStatusSuccess {
		return false, nil
	}
	p.Status = PaymentStatusSuccess
	p.GatewayPaymentID = v.GatewayPaymentID
	p.Signature = v.Signature
	p.Method = v.Method
	t := v.VerifiedAt
	p.VerifiedAt = &t
	return true, nil
}

func (s *MemoryStore) CreateConfirmation(_ context.Context, c *BookingConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confirmations[c.BookingID]; ok {
		return ErrDuplicate
	}
	c.ID = s.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	s.confirmations[c.BookingID] = &cp
	return nil
}

func (s *MemoryStore) GetConfirmation(_ context.Context, bookingID string) (*BookingConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confirmations[bookingID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

// CountConfirmations is a test helper; the unique index makes it 0 or 1 in MySQL.
func (s *MemoryStore) CountConfirmations(bookingID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.confirmations[bookingID]; ok {
		return 1
	}
	return 0
}

func (s *MemoryStore) AppendLog(_ context.Context, entry *BookingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.id()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *MemoryStore) ListLogs(_ context.Context, bookingID string, limit int) ([]BookingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BookingLog
	for _, l := range s.logs {
		if l.BookingID != bookingID {
			continue
		}
		out = append(out, l)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// HasLog reports whether bookingID has at least one entry with action.
func (s *MemoryStore) HasLog(bookingID, action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.logs {
		if l.BookingID == bookingID && l.Action == action {
			return true
		}
	}
	return false
}

func (s *MemoryStore) BeginIdempotency(_ context.Context, handlerName, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := handlerName + "|" + messageID
	now := time.Now()
	existing, ok := s.idem[key]
	if !ok {
		s.idem[key] = &IdempotencyKey{
			ID:          s.id(),
			HandlerName: handlerName,
			MessageId:   messageID,
			Status:      IdempotencyStatusStarted,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return false, nil
	}
	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, nil
	case IdempotencyStatusStarted:
		if now.Sub(existing.UpdatedAt) < IdempotencyStaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	existing.Status = IdempotencyStatusStarted
	existing.LastError = nil
	existing.UpdatedAt = now
	return false, nil
}

func (s *MemoryStore) setIdempotency(handlerName, messageID string, status IdempotencyStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.idem[handlerName+"|"+messageID]
	if !ok {
		return
	}
	k.Status = status
	k.UpdatedAt = time.Now()
	k.LastError = nil
	if err != nil {
		msg := err.Error()
		k.LastError = &msg
	}
}

func (s *MemoryStore) MarkIdempotencySucceeded(_ context.Context, handlerName, messageID string) error {
	s.setIdempotency(handlerName, messageID, IdempotencyStatusSucceeded, nil)
	return nil
}

func (s *MemoryStore) MarkIdempotencyFailed(_ context.Context, handlerName, messageID string, err error) error {
	s.setIdempotency(handlerName, messageID, IdempotencyStatusFailed, err)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)

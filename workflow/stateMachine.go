package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/models"
)

var ErrConcurrentTransition = errors.New("booking status changed concurrently")

type NotFoundError struct {
	BookingID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("booking %s not found", e.BookingID)
}

type InvalidTransitionError struct {
	BookingID string
	From      models.BookingStatus
	To        models.BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for booking %s", e.From, e.To, e.BookingID)
}

// legal edges; failed and cancelled are reachable from every non-terminal state.
var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingStatusInitiated:        {models.BookingStatusPendingPayment, models.BookingStatusFailed, models.BookingStatusCancelled},
	models.BookingStatusPendingPayment:   {models.BookingStatusPaymentSuccess, models.BookingStatusFailed, models.BookingStatusCancelled},
	models.BookingStatusPaymentSuccess:   {models.BookingStatusBookingRequested, models.BookingStatusFailed, models.BookingStatusCancelled},
	models.BookingStatusBookingRequested: {models.BookingStatusConfirmed, models.BookingStatusFailed, models.BookingStatusCancelled},
	models.BookingStatusConfirmed:        {},
	models.BookingStatusFailed:           {},
	models.BookingStatusCancelled:        {},
}

func CanTransition(from, to models.BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status models.BookingStatus) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

type TransitionOptions struct {
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StateMachine is the only writer of Booking.Status. It validates the edge,
// applies it with a compare-and-set and appends a status_transition log.
// It has no other side effects.
type StateMachine struct {
	store models.Store
	now   func() time.Time
}

func NewStateMachine(store models.Store) *StateMachine {
	return &StateMachine{store: store, now: time.Now}
}

func (sm *StateMachine) Transition(ctx context.Context, bookingID string, target models.BookingStatus, opts TransitionOptions) (*models.Booking, error) {
	booking, err := sm.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return nil, &NotFoundError{BookingID: bookingID}
		}
		return nil, fmt.Errorf("load booking %s: %w", bookingID, err)
	}

	from := booking.Status
	if !CanTransition(from, target) {
		return nil, &InvalidTransitionError{BookingID: bookingID, From: from, To: target}
	}

	at := sm.now()
	ok, err := sm.store.UpdateBookingStatus(ctx, bookingID, from, target, at)
	if err != nil {
		return nil, fmt.Errorf("update booking %s status: %w", bookingID, err)
	}
	if !ok {
		return nil, ErrConcurrentTransition
	}

	booking.Status = target
	booking.UpdatedAt = at
	switch target {
	case models.BookingStatusConfirmed:
		booking.ConfirmedAt = &at
	case models.BookingStatusCancelled:
		booking.CancelledAt = &at
	}

	entry := models.NewBookingLog(bookingID, models.LogActionStatusTransition, models.BookingLogLevelInfo, map[string]any{
		"from":     from,
		"to":       target,
		"reason":   opts.Reason,
		"metadata": opts.Metadata,
	}, nil)
	if err := sm.store.AppendLog(ctx, entry); err != nil {
		// The transition is committed; a missing audit row does not undo it.
		config.LogError(config.GetLogger(), "stateMachine.go", "Transition", "AppendLog", entry, err)
	}
	return booking, nil
}

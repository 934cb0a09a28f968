package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/crs"
	"github.com/mmdatafocus/reservations_backend/events"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("reservations-workflow")

type FinalizeStatus string

const (
	FinalizeStatusConfirmed           FinalizeStatus = "confirmed"
	FinalizeStatusPendingRetry        FinalizeStatus = "pending_retry"
	FinalizeStatusPendingManualReview FinalizeStatus = "pending_manual_review"
	FinalizeStatusNotEligible         FinalizeStatus = "not_eligible"
	FinalizeStatusNotFound            FinalizeStatus = "not_found"
)

type FinalizeResult struct {
	Success bool           `json:"success"`
	Status  FinalizeStatus `json:"status"`
	Message string         `json:"message"`
}

type BookingServiceConfig struct {
	ProviderTimeout time.Duration
	// RetryPermanent keeps retrying failures classified as permanent instead
	// of escalating them to manual review on first sight.
	RetryPermanent bool
	PhoneRegion    string
}

func BookingServiceConfigFrom(cfg config.CRSConfig) BookingServiceConfig {
	return BookingServiceConfig{
		ProviderTimeout: cfg.Timeout,
		RetryPermanent:  cfg.RetryPermanent,
		PhoneRegion:     cfg.DefaultPhoneRegion,
	}
}

// BookingService turns paid bookings into CRS reservations.
//
// No in-process locks are taken. Concurrent callers for the same booking are
// kept safe by the compare-and-set status claim, the provider idempotency
// key and the unique booking_confirmations.booking_id.
type BookingService struct {
	store     models.Store
	machine   *StateMachine
	provider  crs.Provider
	publisher events.Publisher
	logger    *logrus.Logger
	cfg       BookingServiceConfig
	now       func() time.Time
}

func NewBookingService(store models.Store, provider crs.Provider, publisher events.Publisher, logger *logrus.Logger, cfg BookingServiceConfig) *BookingService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.PhoneRegion == "" {
		cfg.PhoneRegion = "IN"
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &BookingService{
		store:     store,
		machine:   NewStateMachine(store),
		provider:  provider,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *BookingService) StateMachine() *StateMachine {
	return s.machine
}

// ReservationIdempotencyKey is the key sent to the CRS for bookingID. It must
// stay stable for the lifetime of the booking.
func ReservationIdempotencyKey(bookingID string) string {
	return "booking-" + bookingID
}

// FinalizeFromWebhook attempts to move a paid booking to confirmed. It is safe
// to call repeatedly and concurrently for the same booking.
func (s *BookingService) FinalizeFromWebhook(ctx context.Context, bookingID string) FinalizeResult {
	ctx, span := tracer.Start(ctx, "workflow.FinalizeFromWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID))

	result := s.finalize(ctx, bookingID)
	span.SetAttributes(attribute.String("finalize.status", string(result.Status)))
	return result
}

func (s *BookingService) finalize(ctx context.Context, bookingID string) FinalizeResult {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return FinalizeResult{Status: FinalizeStatusNotFound, Message: "booking not found"}
		}
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "load booking: " + err.Error()}
	}

	if booking.Status == models.BookingStatusConfirmed {
		return FinalizeResult{Success: true, Status: FinalizeStatusConfirmed, Message: "booking already confirmed"}
	}
	if !booking.Status.IsRetryable() {
		return FinalizeResult{Status: FinalizeStatusNotEligible, Message: fmt.Sprintf("booking is %s; nothing to finalize", booking.Status)}
	}

	if booking.Status == models.BookingStatusPaymentSuccess {
		booking, err = s.claim(ctx, booking)
		if err != nil {
			return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "claim booking: " + err.Error()}
		}
		switch booking.Status {
		case models.BookingStatusConfirmed:
			return FinalizeResult{Success: true, Status: FinalizeStatusConfirmed, Message: "booking already confirmed"}
		case models.BookingStatusBookingRequested:
		default:
			return FinalizeResult{Status: FinalizeStatusNotEligible, Message: fmt.Sprintf("booking is %s; nothing to finalize", booking.Status)}
		}
	}

	var payment *models.Payment
	payment, err = s.store.GetSuccessfulPayment(ctx, bookingID)
	if err != nil && !errors.Is(err, models.ErrRecordNotFound) {
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "load payment: " + err.Error()}
	}

	req := s.reservationRequest(booking, payment)
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	res, err := s.provider.CreateReservation(callCtx, req)
	cancel()

	if err != nil {
		s.appendLog(ctx, models.NewBookingLog(bookingID, models.LogActionCRSTransportError, models.BookingLogLevelWarn, map[string]any{
			"provider":    s.provider.Name(),
			"retry_count": booking.RetryCount,
		}, err))
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "CRS request failed: " + err.Error()}
	}

	switch res.Status {
	case crs.ReservationStatusConfirmed:
		if res.ConfirmationNumber != "" {
			return s.confirm(ctx, booking, res)
		}
		s.appendLog(ctx, models.NewBookingLog(bookingID, models.LogActionCRSReservationPending, models.BookingLogLevelWarn, map[string]any{
			"provider":       s.provider.Name(),
			"reservation_id": res.ReservationID,
			"detail":         "confirmed without confirmation number",
		}, nil))
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "CRS confirmed without a confirmation number"}

	case crs.ReservationStatusPending:
		s.appendLog(ctx, models.NewBookingLog(bookingID, models.LogActionCRSReservationPending, models.BookingLogLevelWarn, map[string]any{
			"provider":       s.provider.Name(),
			"reservation_id": res.ReservationID,
			"retry_count":    booking.RetryCount,
		}, nil))
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "CRS reservation pending"}

	default:
		if crs.ClassifyFailure(res) == crs.FailurePermanent && !s.cfg.RetryPermanent {
			return s.escalate(ctx, booking, res)
		}
		s.appendLog(ctx, models.NewBookingLog(bookingID, models.LogActionCRSReservationFailed, models.BookingLogLevelWarn, map[string]any{
			"provider":    s.provider.Name(),
			"errors":      res.Errors,
			"retry_count": booking.RetryCount,
		}, nil))
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "CRS reservation failed: " + res.ErrorSummary()}
	}
}

// claim moves payment_success -> booking_requested. Losing the race to
// another caller is fine: the booking is reloaded and its current status returned.
func (s *BookingService) claim(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	claimed, err := s.machine.Transition(ctx, booking.ID, models.BookingStatusBookingRequested, TransitionOptions{Reason: "finalize"})
	if err == nil {
		return claimed, nil
	}
	var invalid *InvalidTransitionError
	if !errors.Is(err, ErrConcurrentTransition) && !errors.As(err, &invalid) {
		return nil, err
	}
	return s.store.GetBooking(ctx, booking.ID)
}

func (s *BookingService) confirm(ctx context.Context, booking *models.Booking, res *crs.ReservationResult) FinalizeResult {
	err := s.store.CreateConfirmation(ctx, &models.BookingConfirmation{
		BookingID:          booking.ID,
		ConfirmationNumber: res.ConfirmationNumber,
		ReservationID:      res.ReservationID,
		Provider:           s.provider.Name(),
	})
	if err != nil && !errors.Is(err, models.ErrDuplicate) {
		// The CRS holds the reservation; the next attempt gets it back via the idempotency key.
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "store confirmation: " + err.Error()}
	}

	_, err = s.machine.Transition(ctx, booking.ID, models.BookingStatusConfirmed, TransitionOptions{
		Reason: "crs_confirmed",
		Metadata: map[string]any{
			"confirmation_number": res.ConfirmationNumber,
			"reservation_id":      res.ReservationID,
		},
	})
	if err != nil {
		current, getErr := s.store.GetBooking(ctx, booking.ID)
		if getErr == nil && current.Status == models.BookingStatusConfirmed {
			return FinalizeResult{Success: true, Status: FinalizeStatusConfirmed, Message: "booking already confirmed"}
		}
		return FinalizeResult{Status: FinalizeStatusPendingRetry, Message: "confirm booking: " + err.Error()}
	}

	s.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionCRSReservationConfirmed, models.BookingLogLevelInfo, map[string]any{
		"provider":            s.provider.Name(),
		"confirmation_number": res.ConfirmationNumber,
		"reservation_id":      res.ReservationID,
		"retry_count":         booking.RetryCount,
	}, nil))
	s.publish(ctx, events.BookingEvent{
		Type:               events.TypeBookingConfirmed,
		BookingID:          booking.ID,
		BookingNumber:      booking.BookingNumber,
		Status:             string(models.BookingStatusConfirmed),
		ConfirmationNumber: res.ConfirmationNumber,
		RetryCount:         booking.RetryCount,
	})
	return FinalizeResult{Success: true, Status: FinalizeStatusConfirmed, Message: "booking confirmed: " + res.ConfirmationNumber}
}

func (s *BookingService) escalate(ctx context.Context, booking *models.Booking, res *crs.ReservationResult) FinalizeResult {
	if err := s.store.MarkManualReview(ctx, booking.ID, s.now()); err != nil {
		config.LogError(s.logger, "bookingService.go", "escalate", "MarkManualReview", booking.ID, err)
	}
	s.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionCRSPermanentFailure, models.BookingLogLevelError, map[string]any{
		"provider":    s.provider.Name(),
		"errors":      res.Errors,
		"retry_count": booking.RetryCount,
	}, nil))
	s.publish(ctx, events.BookingEvent{
		Type:          events.TypeBookingManualReview,
		BookingID:     booking.ID,
		BookingNumber: booking.BookingNumber,
		Status:        string(booking.Status),
		RetryCount:    booking.RetryCount,
		Reason:        res.ErrorSummary(),
	})
	return FinalizeResult{Status: FinalizeStatusPendingManualReview, Message: "CRS rejected reservation permanently: " + res.ErrorSummary()}
}

func (s *BookingService) reservationRequest(booking *models.Booking, payment *models.Payment) crs.ReservationRequest {
	req := crs.ReservationRequest{
		IdempotencyKey: ReservationIdempotencyKey(booking.ID),
		BookingID:      booking.ID,
		BookingNumber:  booking.BookingNumber,
		CheckIn:        booking.CheckIn,
		CheckOut:       booking.CheckOut,
		Adults:         booking.Adults,
		Children:       booking.Children,
		Guest: crs.Guest{
			Name:  booking.GuestName,
			Email: booking.GuestEmail,
			Phone: booking.GuestPhone,
		},
	}
	if booking.GuestPhone != "" {
		if phone, err := utils.NormalizePhoneE164(booking.GuestPhone, s.cfg.PhoneRegion); err == nil {
			req.Guest.Phone = phone
		} else {
			s.logger.WithFields(logrus.Fields{
				"field":      "finalize",
				"booking_id": booking.ID,
			}).Warn("guest phone is not a valid number; sending as entered")
		}
	}
	for _, r := range booking.Rooms {
		req.Rooms = append(req.Rooms, crs.ReservationRoom{
			RoomTypeID: r.RoomTypeID,
			RatePlanID: r.RatePlanID,
			Quantity:   r.Quantity,
			Amount:     r.Amount,
		})
	}
	if payment != nil {
		req.Payment = crs.PaymentDetails{
			GatewayOrderID:   payment.GatewayOrderID,
			GatewayPaymentID: payment.GatewayPaymentID,
			Amount:           payment.Amount,
			Currency:         payment.Currency,
			Method:           payment.Method,
		}
	}
	return req
}

// RetryFinalize is the operator "retry" action. It shares the finalize core.
func (s *BookingService) RetryFinalize(ctx context.Context, bookingID string, actor string) FinalizeResult {
	s.appendLog(ctx, models.NewBookingLog(bookingID, models.LogActionManualFinalize, models.BookingLogLevelInfo, map[string]any{
		"actor": actor,
	}, nil))
	return s.FinalizeFromWebhook(ctx, bookingID)
}

func (s *BookingService) Cancel(ctx context.Context, bookingID string, reason string) (*models.Booking, error) {
	return s.machine.Transition(ctx, bookingID, models.BookingStatusCancelled, TransitionOptions{Reason: reason})
}

func (s *BookingService) appendLog(ctx context.Context, entry *models.BookingLog) {
	if err := s.store.AppendLog(ctx, entry); err != nil {
		config.LogError(s.logger, "bookingService.go", "appendLog", entry.Action, entry, err)
	}
}

func (s *BookingService) publish(ctx context.Context, event events.BookingEvent) {
	event.OccurredAt = s.now()
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		event.CorrelationId = cid
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":      "events",
			"type":       event.Type,
			"booking_id": event.BookingID,
		}).Warn("failed to publish booking event: " + err.Error())
	}
}

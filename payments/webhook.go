// Package payments is the ingress for payment-gateway webhooks.
package payments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/workflow"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("reservations-payments")

const idempotencyHandlerName = "payment_webhook"

// Webhook bodies are small JSON documents.
const maxWebhookBody = 1 << 20

var ErrInvalidSignature = errors.New("invalid signature")

type Finalizer interface {
	FinalizeFromWebhook(ctx context.Context, bookingID string) workflow.FinalizeResult
}

// Outcome is the HTTP answer for one delivery.
type Outcome struct {
	Status int
	Body   gin.H
}

func received(extra gin.H) Outcome {
	body := gin.H{"received": true}
	for k, v := range extra {
		body[k] = v
	}
	return Outcome{Status: http.StatusOK, Body: body}
}

func rejected(status int, msg string) Outcome {
	return Outcome{Status: status, Body: gin.H{"error": msg}}
}

type WebhookHandler struct {
	store     models.Store
	machine   *workflow.StateMachine
	finalizer Finalizer
	cfg       config.PaymentConfig
	logger    *logrus.Logger
	now       func() time.Time
}

func NewWebhookHandler(store models.Store, machine *workflow.StateMachine, finalizer Finalizer, cfg config.PaymentConfig, logger *logrus.Logger) *WebhookHandler {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &WebhookHandler{
		store:     store,
		machine:   machine,
		finalizer: finalizer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Handler is the gin endpoint for POST /webhooks/payment.
func (h *WebhookHandler) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			config.LogError(h.logger, "payments/webhook.go", "Handler", "io.ReadAll", nil, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		out := h.Handle(c.Request.Context(), body, c.GetHeader(h.cfg.SignatureHeader), c.GetHeader(h.cfg.EventIDHeader))
		c.JSON(out.Status, out.Body)
	}
}

// Handle processes one raw delivery. Only a bad signature, an amount
// mismatch or a store failure before the payment is recorded produce a
// non-200 answer; everything after that is acknowledged and left to the watchdog.
func (h *WebhookHandler) Handle(ctx context.Context, body []byte, signature string, eventID string) Outcome {
	ctx, span := tracer.Start(ctx, "payments.Webhook")
	defer span.End()

	if h.cfg.WebhookSecret == "" {
		config.LogError(h.logger, "payments/webhook.go", "Handle", "PAYMENT_WEBHOOK_SECRET not set", nil, errors.New("webhook secret not configured"))
		return rejected(http.StatusInternalServerError, "webhook not configured")
	}
	if !VerifySignature(h.cfg.WebhookSecret, body, signature) {
		h.logger.WithFields(logrus.Fields{
			"field":    "payment_webhook",
			"event_id": eventID,
		}).Warn(ErrInvalidSignature.Error())
		return rejected(http.StatusBadRequest, ErrInvalidSignature.Error())
	}

	ev, err := parseEvent(body)
	if err != nil {
		// Signed but unparseable: ack/drop to avoid infinite redelivery.
		config.LogError(h.logger, "payments/webhook.go", "Handle", "Unmarshal body", string(body), err)
		return received(gin.H{"ignored": true})
	}
	span.SetAttributes(attribute.String("payment.event", ev.Event))
	if !isRelevant(ev.Event) {
		return received(gin.H{"ignored": true})
	}
	c := ev.toCapture()
	if c.OrderID == "" {
		config.LogError(h.logger, "payments/webhook.go", "Handle", "event without order id", ev.Event, errors.New("order_id required"))
		return received(gin.H{"ignored": true})
	}

	eventID = strings.TrimSpace(eventID)
	if eventID != "" {
		skip, err := h.store.BeginIdempotency(ctx, idempotencyHandlerName, eventID)
		if errors.Is(err, models.ErrIdempotencyInProgress) {
			return rejected(http.StatusInternalServerError, "delivery in progress")
		}
		if err != nil {
			config.LogError(h.logger, "payments/webhook.go", "Handle", "BeginIdempotency", eventID, err)
			return rejected(http.StatusInternalServerError, "internal error")
		}
		if skip {
			return received(gin.H{"duplicate": true})
		}
	}

	out := h.process(ctx, c, signature)

	if eventID != "" {
		var markErr error
		if out.Status == http.StatusOK {
			markErr = h.store.MarkIdempotencySucceeded(ctx, idempotencyHandlerName, eventID)
		} else {
			markErr = h.store.MarkIdempotencyFailed(ctx, idempotencyHandlerName, eventID, errors.New(httpErrorText(out)))
		}
		if markErr != nil {
			config.LogError(h.logger, "payments/webhook.go", "Handle", "mark idempotency", eventID, markErr)
		}
	}
	return out
}

func (h *WebhookHandler) process(ctx context.Context, c capture, signature string) Outcome {
	logger := h.logger.WithFields(logrus.Fields{
		"field":            "payment_webhook",
		"event":            c.Event,
		"gateway_order_id": c.OrderID,
	})

	payment, err := h.store.GetPaymentByOrderID(ctx, c.OrderID)
	if errors.Is(err, models.ErrRecordNotFound) {
		logger.Warn("payment for unknown order; dropping")
		return received(gin.H{"ignored": true})
	}
	if err != nil {
		config.LogError(h.logger, "payments/webhook.go", "process", "GetPaymentByOrderID", c.OrderID, err)
		return rejected(http.StatusInternalServerError, "internal error")
	}

	booking, err := h.store.GetBooking(ctx, payment.BookingID)
	if errors.Is(err, models.ErrRecordNotFound) {
		config.LogError(h.logger, "payments/webhook.go", "process", "payment without booking", payment.BookingID, err)
		return received(gin.H{"ignored": true})
	}
	if err != nil {
		config.LogError(h.logger, "payments/webhook.go", "process", "GetBooking", payment.BookingID, err)
		return rejected(http.StatusInternalServerError, "internal error")
	}

	currencyMismatch := c.Currency != "" && payment.Currency != "" && !strings.EqualFold(c.Currency, payment.Currency)
	if c.Amount != payment.Amount || payment.Amount != booking.TotalAmount || currencyMismatch {
		h.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionPaymentAmountMismatch, models.BookingLogLevelError, map[string]any{
			"gateway_order_id":   c.OrderID,
			"gateway_payment_id": c.PaymentID,
			"expected_amount":    payment.Amount,
			"booking_total":      booking.TotalAmount,
			"received_amount":    c.Amount,
			"expected_currency":  payment.Currency,
			"received_currency":  c.Currency,
		}, errors.New("amount mismatch")))
		logger.Error("payment amount mismatch")
		return rejected(http.StatusBadRequest, "amount mismatch")
	}

	if payment.Status != models.PaymentStatusSuccess {
		marked, err := h.store.MarkPaymentSuccess(ctx, c.OrderID, models.PaymentVerification{
			GatewayPaymentID: c.PaymentID,
			Signature:        signature,
			Method:           c.Method,
			VerifiedAt:       h.now(),
		})
		if err != nil {
			config.LogError(h.logger, "payments/webhook.go", "process", "MarkPaymentSuccess", c.OrderID, err)
			return rejected(http.StatusInternalServerError, "internal error")
		}
		if marked {
			h.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionPaymentVerified, models.BookingLogLevelInfo, map[string]any{
				"gateway_order_id":   c.OrderID,
				"gateway_payment_id": c.PaymentID,
				"amount":             c.Amount,
				"method":             c.Method,
				"event":              c.Event,
			}, nil))
		}
	}

	booking, err = h.advanceToPaid(ctx, booking, c)
	if err != nil {
		// The payment is recorded but the booking did not move; a 500 makes the gateway redeliver.
		config.LogError(h.logger, "payments/webhook.go", "process", "advanceToPaid", booking.ID, err)
		h.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionWebhookFinalizeError, models.BookingLogLevelError, map[string]any{
			"stage": "advance_to_paid",
		}, err))
		return rejected(http.StatusInternalServerError, "internal error")
	}
	if booking.Status == models.BookingStatusFailed || booking.Status == models.BookingStatusCancelled {
		h.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionPaymentForInactiveBooking, models.BookingLogLevelError, map[string]any{
			"gateway_order_id":   c.OrderID,
			"gateway_payment_id": c.PaymentID,
			"amount":             c.Amount,
			"booking_status":     booking.Status,
		}, errors.New("payment captured for inactive booking; refund required")))
		logger.Error("payment captured for inactive booking")
		return received(nil)
	}

	res := h.finalizer.FinalizeFromWebhook(ctx, booking.ID)
	if !res.Success {
		h.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionWebhookFinalizeError, models.BookingLogLevelWarn, map[string]any{
			"status":  res.Status,
			"message": res.Message,
		}, nil))
	}
	return received(gin.H{"status": res.Status})
}

// advanceToPaid walks initiated -> pending_payment -> payment_success,
// applying only the edges that are still needed.
func (h *WebhookHandler) advanceToPaid(ctx context.Context, booking *models.Booking, c capture) (*models.Booking, error) {
	opts := workflow.TransitionOptions{
		Reason:   c.Event,
		Metadata: map[string]any{"gateway_order_id": c.OrderID, "gateway_payment_id": c.PaymentID},
	}
	for attempt := 0; attempt < 3; attempt++ {
		var target models.BookingStatus
		switch booking.Status {
		case models.BookingStatusInitiated:
			target = models.BookingStatusPendingPayment
		case models.BookingStatusPendingPayment:
			target = models.BookingStatusPaymentSuccess
		default:
			return booking, nil
		}
		next, err := h.machine.Transition(ctx, booking.ID, target, opts)
		if errors.Is(err, workflow.ErrConcurrentTransition) {
			if next, err = h.store.GetBooking(ctx, booking.ID); err != nil {
				return booking, err
			}
		} else if err != nil {
			return booking, err
		}
		booking = next
	}
	return booking, nil
}

func (h *WebhookHandler) appendLog(ctx context.Context, entry *models.BookingLog) {
	if err := h.store.AppendLog(ctx, entry); err != nil {
		config.LogError(h.logger, "payments/webhook.go", "appendLog", entry.Action, entry, err)
	}
}

func httpErrorText(out Outcome) string {
	if msg, ok := out.Body["error"].(string); ok {
		return msg
	}
	return http.StatusText(out.Status)
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/events"
	"github.com/mmdatafocus/reservations_backend/models"
	"github.com/mmdatafocus/reservations_backend/utils"
	"github.com/sirupsen/logrus"
)

const sweepLockKey = "lock:watchdog-sweep"

type SweepResult struct {
	ID         string         `json:"id"`
	Status     FinalizeStatus `json:"status"`
	RetryCount int            `json:"retryCount"`
	Message    string         `json:"message"`
}

type SweepSummary struct {
	Success   bool          `json:"success"`
	Processed int           `json:"processed"`
	Skipped   bool          `json:"skipped,omitempty"`
	Message   string        `json:"message,omitempty"`
	Results   []SweepResult `json:"results"`
}

// Watchdog re-drives bookings stuck in payment_success/booking_requested.
// Retries are paced by the sweep cadence and the staleness threshold.
type Watchdog struct {
	store     models.Store
	service   *BookingService
	publisher events.Publisher
	lock      SweepLock
	logger    *logrus.Logger
	cfg       config.WatchdogConfig
	now       func() time.Time
}

func NewWatchdog(store models.Store, service *BookingService, publisher events.Publisher, lock SweepLock, logger *logrus.Logger, cfg config.WatchdogConfig) *Watchdog {
	if logger == nil {
		logger = config.GetLogger()
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Watchdog{
		store:     store,
		service:   service,
		publisher: publisher,
		lock:      lock,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Sweep processes one batch of stale bookings. It never returns an error:
// per-booking failures become watchdog_error logs and pending_retry results.
func (w *Watchdog) Sweep(ctx context.Context) SweepSummary {
	summary := SweepSummary{Success: true, Results: []SweepResult{}}
	triggeredBy, _ := utils.GetTriggeredByFromContext(ctx)

	if w.lock != nil {
		release, err := w.lock.Acquire(ctx, sweepLockKey, w.cfg.LockTTL)
		switch {
		case errors.Is(err, ErrSweepLocked):
			summary.Skipped = true
			summary.Message = "another sweep is running"
			return summary
		case err != nil:
			w.logger.WithFields(logrus.Fields{
				"field":        "watchdog",
				"triggered_by": triggeredBy,
			}).Warn("error obtaining sweep lock; proceeding without lock: " + err.Error())
		default:
			defer release(context.Background())
		}
	}

	stale, err := w.store.FindStaleBookings(ctx, models.RetryableBookingStatuses, w.now().Add(-w.cfg.StaleAfter), w.cfg.BatchSize)
	if err != nil {
		config.LogError(w.logger, "watchdog.go", "Sweep", "FindStaleBookings", nil, err)
		summary.Success = false
		summary.Message = "could not load stale bookings"
		return summary
	}

	for _, booking := range stale {
		summary.Results = append(summary.Results, w.process(ctx, booking))
	}
	summary.Processed = len(summary.Results)

	w.logger.WithFields(logrus.Fields{
		"field":        "watchdog",
		"processed":    summary.Processed,
		"triggered_by": triggeredBy,
	}).Info("watchdog sweep finished")
	return summary
}

func (w *Watchdog) process(ctx context.Context, booking models.Booking) (result SweepResult) {
	result = SweepResult{ID: booking.ID, RetryCount: booking.RetryCount}
	defer func() {
		if r := recover(); r != nil {
			result = w.fail(ctx, booking, result.RetryCount, fmt.Errorf("panic: %v", r))
		}
	}()

	if booking.RetryCount >= w.cfg.MaxRetries {
		return w.exhausted(ctx, booking)
	}

	retryCount, ok, err := w.store.IncrementRetry(ctx, booking.ID, models.RetryableBookingStatuses, w.now())
	if err != nil {
		return w.fail(ctx, booking, booking.RetryCount, err)
	}
	if !ok {
		// Moved on since selection, usually confirmed by a webhook.
		result.Status = FinalizeStatusNotEligible
		result.Message = "booking no longer awaiting confirmation"
		if current, getErr := w.store.GetBooking(ctx, booking.ID); getErr == nil && current.Status == models.BookingStatusConfirmed {
			result.Status = FinalizeStatusConfirmed
			result.Message = "booking already confirmed"
		}
		return result
	}
	result.RetryCount = retryCount

	fr := w.service.FinalizeFromWebhook(ctx, booking.ID)
	result.Status = fr.Status
	result.Message = fr.Message

	level := models.BookingLogLevelInfo
	if !fr.Success {
		level = models.BookingLogLevelWarn
	}
	w.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionWatchdogRetry, level, map[string]any{
		"retry_count": retryCount,
		"max_retries": w.cfg.MaxRetries,
		"status":      fr.Status,
		"message":     fr.Message,
	}, nil))
	return result
}

func (w *Watchdog) exhausted(ctx context.Context, booking models.Booking) SweepResult {
	if err := w.store.MarkManualReview(ctx, booking.ID, w.now()); err != nil {
		config.LogError(w.logger, "watchdog.go", "exhausted", "MarkManualReview", booking.ID, err)
	}
	w.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionMaxRetriesManualReview, models.BookingLogLevelError, map[string]any{
		"retry_count": booking.RetryCount,
		"max_retries": w.cfg.MaxRetries,
		"status":      booking.Status,
	}, nil))

	event := events.BookingEvent{
		Type:          events.TypeBookingManualReview,
		BookingID:     booking.ID,
		BookingNumber: booking.BookingNumber,
		Status:        string(booking.Status),
		RetryCount:    booking.RetryCount,
		Reason:        "max retries reached",
		OccurredAt:    w.now(),
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		event.CorrelationId = cid
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.WithFields(logrus.Fields{
			"field":      "events",
			"booking_id": booking.ID,
		}).Warn("failed to publish manual review event: " + err.Error())
	}

	return SweepResult{
		ID:         booking.ID,
		Status:     FinalizeStatusPendingManualReview,
		RetryCount: booking.RetryCount,
		Message:    fmt.Sprintf("retries exhausted (%d/%d); pending manual review", booking.RetryCount, w.cfg.MaxRetries),
	}
}

func (w *Watchdog) fail(ctx context.Context, booking models.Booking, retryCount int, err error) SweepResult {
	w.appendLog(ctx, models.NewBookingLog(booking.ID, models.LogActionWatchdogError, models.BookingLogLevelError, map[string]any{
		"retry_count": retryCount,
	}, err))
	return SweepResult{
		ID:         booking.ID,
		Status:     FinalizeStatusPendingRetry,
		RetryCount: retryCount,
		Message:    "watchdog error: " + err.Error(),
	}
}

func (w *Watchdog) appendLog(ctx context.Context, entry *models.BookingLog) {
	if err := w.store.AppendLog(ctx, entry); err != nil {
		config.LogError(w.logger, "watchdog.go", "appendLog", entry.Action, entry, err)
	}
}

// Run sweeps every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx = utils.SetTriggeredByInContext(ctx, "scheduler")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

package models

import (
	"context"
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}

func (s *GormStore) CreateBooking(ctx context.Context, booking *Booking) error {
	err := s.db.WithContext(ctx).Create(booking).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetBooking(ctx context.Context, id string) (*Booking, error) {
	var booking Booking
	err := s.db.WithContext(ctx).Preload("Rooms").Where("id = ?", id).Take(&booking).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &booking, nil
}

func (s *GormStore) UpdateBookingStatus(ctx context.Context, id string, from, to BookingStatus, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": at,
	}
	switch to {
	case BookingStatusConfirmed:
		updates["confirmed_at"] = at
	case BookingStatusCancelled:
		updates["cancelled_at"] = at
	}
	res := s.db.WithContext(ctx).Model(&Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) FindStaleBookings(ctx context.Context, statuses []BookingStatus, olderThan time.Time, limit int) ([]Booking, error) {
	var bookings []Booking
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ? AND manual_review_at IS NULL", statuses, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

func (s *GormStore) IncrementRetry(ctx context.Context, id string, statuses []BookingStatus, at time.Time) (int, bool, error) {
	var retryCount int
	var ok bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Booking{}).
			Where("id = ? AND status IN ?", id, statuses).
			Updates(map[string]interface{}{
				"retry_count": gorm.Expr("retry_count + 1"),
				"updated_at":  at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		ok = true
		return tx.Model(&Booking{}).Select("retry_count").Where("id = ?", id).Scan(&retryCount).Error
	})
	return retryCount, ok, err
}

func (s *GormStore) MarkManualReview(ctx context.Context, id string, at time.Time) error {
	// updated_at is left alone so operators can see when the booking last moved.
	return s.db.WithContext(ctx).Model(&Booking{}).
		Where("id = ? AND manual_review_at IS NULL", id).
		UpdateColumn("manual_review_at", at).Error
}

func (s *GormStore) ListManualReview(ctx context.Context, limit int) ([]Booking, error) {
	var bookings []Booking
	err := s.db.WithContext(ctx).
		Where("manual_review_at IS NOT NULL AND status IN ?", RetryableBookingStatuses).
		Order("manual_review_at ASC").
		Limit(limit).
		Find(&bookings).Error
	return bookings, err
}

func (s *GormStore) CreatePayment(ctx context.Context, payment *Payment) error {
	err := s.db.WithContext(ctx).Create(payment).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetPaymentByOrderID(ctx context.Context, gatewayOrderID string) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).Take(&payment).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &payment, nil
}

func (s *GormStore) GetSuccessfulPayment(ctx context.Context, bookingID string) (*Payment, error) {
	var payment Payment
	err := s.db.WithContext(ctx).
		Where("booking_id = ? AND status = ?", bookingID, PaymentStatusSuccess).
		Order("verified_at DESC").
		Take(&payment).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &payment, nil
}

func (s *GormStore) MarkPaymentSuccess(ctx context.Context, gatewayOrderID string, v PaymentVerification) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Payment{}).
		Where("gateway_order_id = ? AND status <> ?", gatewayOrderID, PaymentStatusSuccess).
		Updates(map[string]interface{}{
			"status":             PaymentStatusSuccess,
			"gateway_payment_id": v.GatewayPaymentID,
			"signature":          v.Signature,
			"method":             v.Method,
			"verified_at":        v.VerifiedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) CreateConfirmation(ctx context.Context, c *BookingConfirmation) error {
	err := s.db.WithContext(ctx).Create(c).Error
	if isDuplicateKeyErr(err) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetConfirmation(ctx context.Context, bookingID string) (*BookingConfirmation, error) {
	var c BookingConfirmation
	err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).Take(&c).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *GormStore) AppendLog(ctx context.Context, entry *BookingLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) ListLogs(ctx context.Context, bookingID string, limit int) ([]BookingLog, error) {
	var logs []BookingLog
	q := s.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}

func (s *GormStore) BeginIdempotency(ctx context.Context, handlerName, messageID string) (bool, error) {
	db := s.db.WithContext(ctx)
	key := IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageID,
		Status:      IdempotencyStatusStarted,
	}
	if err := db.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing IdempotencyKey
	if err := db.Where("handler_name = ? AND message_id = ?", handlerName, messageID).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, nil
	case IdempotencyStatusStarted:
		// Another delivery is being processed; the gateway will redeliver.
		if time.Since(existing.UpdatedAt) < IdempotencyStaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	// Take over a FAILED or stale STARTED row only if nobody else did since we read it.
	res := db.Model(&IdempotencyKey{}).
		Where("id = ? AND status = ? AND updated_at = ?", existing.ID, existing.Status, existing.UpdatedAt).
		Updates(map[string]interface{}{"status": IdempotencyStatusStarted, "last_error": nil, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, ErrIdempotencyInProgress
	}
	return false, nil
}

func (s *GormStore) MarkIdempotencySucceeded(ctx context.Context, handlerName, messageID string) error {
	return s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageID).
		Updates(map[string]interface{}{"status": IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func (s *GormStore) MarkIdempotencyFailed(ctx context.Context, handlerName, messageID string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageID).
		Updates(map[string]interface{}{"status": IdempotencyStatusFailed, "last_error": &msg}).Error
}

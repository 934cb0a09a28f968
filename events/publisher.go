// Package events fans booking lifecycle changes out to other services.
// Publishing is best effort: the booking row is the source of truth.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/sirupsen/logrus"
)

const (
	TypeBookingConfirmed    = "booking.confirmed"
	TypeBookingManualReview = "booking.manual_review"
)

type BookingEvent struct {
	Type               string    `json:"type"`
	BookingID          string    `json:"booking_id"`
	BookingNumber      string    `json:"booking_number"`
	Status             string    `json:"status"`
	ConfirmationNumber string    `json:"confirmation_number,omitempty"`
	RetryCount         int       `json:"retry_count"`
	Reason             string    `json:"reason,omitempty"`
	CorrelationId      string    `json:"correlation_id,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event BookingEvent) error
}

// PubSubPublisher publishes JSON events to a Google Pub/Sub topic.
type PubSubPublisher struct {
	topic string
}

func NewPubSubPublisher(topic string) *PubSubPublisher {
	return &PubSubPublisher{topic: topic}
}

func (p *PubSubPublisher) Publish(ctx context.Context, event BookingEvent) error {
	_, err := config.PublishJSON(ctx, p.topic, event, map[string]string{
		"type":       event.Type,
		"booking_id": event.BookingID,
	})
	return err
}

// LogPublisher writes events to the process logger; used when no topic is set.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event BookingEvent) error {
	if p.logger == nil {
		return nil
	}
	p.logger.WithFields(logrus.Fields{
		"field":      "events",
		"type":       event.Type,
		"booking_id": event.BookingID,
		"status":     event.Status,
	}).Info("booking event")
	return nil
}

// RecordingPublisher keeps events in memory for tests.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []BookingEvent
}

func (p *RecordingPublisher) Publish(_ context.Context, event BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Events() []BookingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BookingEvent(nil), p.events...)
}

func (p *RecordingPublisher) Count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// NewPublisherFromConfig picks Pub/Sub when BOOKING_EVENTS_TOPIC and a project id are set.
func NewPublisherFromConfig(logger *logrus.Logger) Publisher {
	topic := config.BookingEventsTopic()
	if topic != "" && config.PubSubConfigured() {
		return NewPubSubPublisher(topic)
	}
	return NewLogPublisher(logger)
}

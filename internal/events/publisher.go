// internal/events/publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"review-service/internal/domain"
	"review-service/internal/tenant"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	EventReviewCreated = "review.created"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type EventPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewEventPublisher returns a publisher; a nil writer disables publishing.
func NewEventPublisher(writer MessageWriter, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		writer: writer,
		logger: logger,
	}
}

// NewKafkaWriter builds the async, batched writer used in production.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
}

// ReviewCreatedEvent is emitted once per persisted review.
type ReviewCreatedEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Tenant    string    `json:"tenant"`
	ReviewID  string    `json:"review_id"`
	OrderID   int64     `json:"order_id"`
	UserID    string    `json:"user_id"`
	PartnerID string    `json:"partner_id"`
	Rating    int       `json:"rating"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Timestamp int64     `json:"timestamp"`
}

func NewReviewCreatedEvent(review *domain.Review, tenantKey string) *ReviewCreatedEvent {
	now := time.Now()
	return &ReviewCreatedEvent{
		EventID:   ulid.Make().String(),
		EventType: EventReviewCreated,
		Tenant:    tenant.Resolve(tenantKey),
		ReviewID:  review.ID,
		OrderID:   review.OrderID,
		UserID:    review.UserID,
		PartnerID: review.PartnerID,
		Rating:    review.Rating,
		Comment:   review.Comment,
		CreatedAt: review.CreatedAt,
		Timestamp: now.Unix(),
	}
}

// MessageKey partitions events by (tenant, order) so a review's events stay ordered.
func MessageKey(tenantKey string, orderID int64) []byte {
	return []byte(tenant.Resolve(tenantKey) + ":" + strconv.FormatInt(orderID, 10))
}

// PublishReviewCreated publishes a review created event
func (p *EventPublisher) PublishReviewCreated(ctx context.Context, review *domain.Review, tenantKey string) error {
	if p == nil || p.writer == nil {
		return nil
	}

	event := NewReviewCreatedEvent(review, tenantKey)
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal review created event",
			zap.String("review_id", review.ID),
			zap.Error(err))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   MessageKey(tenantKey, review.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: tenant.MetadataKey, Value: []byte(event.Tenant)},
			{Key: "event_type", Value: []byte(EventReviewCreated)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish review created event",
			zap.String("review_id", review.ID),
			zap.String("tenant", event.Tenant),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("review created event published",
		zap.String("event_id", event.EventID),
		zap.String("review_id", review.ID),
		zap.String("partner_id", review.PartnerID),
		zap.String("tenant", event.Tenant))

	return nil
}

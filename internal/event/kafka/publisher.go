package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Reazul-Islam-Fahim/Flash-Sale-Stock-Reservation-System/internal/service"
)

// ReservationEventPublisher реализует service.EventPublisher используя Kafka
type ReservationEventPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

// NewReservationEventPublisher создаёт новый Kafka publisher для событий резервации
func NewReservationEventPublisher(logger *zap.Logger, brokers []string, topic string) *ReservationEventPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &ReservationEventPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *ReservationEventPublisher) Close() error {
	return p.writer.Close()
}

// PublishReservationEvent публикует событие жизненного цикла резервации в Kafka
// Ключ сообщения - product_id, чтобы события одного товара шли в одну партицию
func (p *ReservationEventPublisher) PublishReservationEvent(ctx context.Context, event service.ReservationEvent) error {
	res := event.Reservation

	payload := map[string]interface{}{
		"event_id":       uuid.New().String(),
		"event_type":     event.Type,
		"event_version":  1,
		"occurred_at":    time.Now().UTC().Format(time.RFC3339),
		"reservation_id": res.ID,
		"product_id":     res.ProductID,
		"quantity":       res.Quantity,
		"status":         string(res.Status),
		"expires_at":     res.ExpiresAt.UTC().Format(time.RFC3339),
	}

	valueBytes, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("failed to marshal reservation event",
			zap.Error(err),
			zap.String("reservation_id", res.ID),
		)
		return err
	}

	message := kafka.Message{
		Key:   []byte(res.ProductID),
		Value: valueBytes,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.Error("failed to publish reservation event",
			zap.Error(err),
			zap.String("topic", p.topic),
			zap.String("event_type", event.Type),
			zap.String("reservation_id", res.ID),
		)
		return err
	}

	p.logger.Info("reservation event published",
		zap.String("topic", p.topic),
		zap.String("event_type", event.Type),
		zap.String("reservation_id", res.ID),
		zap.String("product_id", res.ProductID),
	)

	return nil
}

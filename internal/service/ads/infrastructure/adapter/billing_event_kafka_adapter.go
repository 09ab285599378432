package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"adengine/internal/pkg/mq"
	"adengine/internal/service/ads/domain"
)

// EventEnvelope 是写入 Kafka 的消息体
type EventEnvelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// BillingEventKafkaAdapter 把计费与状态事件发布到 Kafka，按卖家分区
type BillingEventKafkaAdapter struct {
	writer *kafka.Writer
}

func NewBillingEventKafkaAdapter(writer *kafka.Writer) *BillingEventKafkaAdapter {
	return &BillingEventKafkaAdapter{writer: writer}
}

func (a *BillingEventKafkaAdapter) Publish(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", ev.EventName(), err)
		}
		body, err := json.Marshal(EventEnvelope{
			ID:         uuid.NewString(),
			Type:       ev.EventName(),
			OccurredAt: time.Now().UTC(),
			Payload:    payload,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal event envelope: %w", err)
		}
		msg := kafka.Message{
			Key:     []byte(ev.PartitionKey()),
			Value:   body,
			Headers: []kafka.Header{{Key: "event-type", Value: []byte(ev.EventName())}},
		}
		mq.InjectTraceHeaders(ctx, &msg)
		msgs = append(msgs, msg)
	}
	if err := a.writer.WriteMessages(ctx, msgs...); err != nil {
		return domain.NewStoreError("kafka.publish", err)
	}
	return nil
}

func (a *BillingEventKafkaAdapter) Close() error {
	return a.writer.Close()
}

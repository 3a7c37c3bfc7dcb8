package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Event is the envelope every published message is wrapped in.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

const (
	eventSource  = "contract-service"
	eventVersion = "1.0"
)

func NewEvent(eventType string, data interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    eventSource,
		Version:   eventVersion,
		Timestamp: time.Now(),
		Data:      data,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *Event) error
	Close() error
}

// KafkaEventPublisher publishes events through watermill's kafka backend.
// The topics map rewrites the logical topic constants to deployment-specific
// names; unmapped topics publish under their logical name.
type KafkaEventPublisher struct {
	publisher message.Publisher
	topics    map[string]string
	logger    *slog.Logger
}

func NewKafkaEventPublisher(brokers []string, topics map[string]string, logger *slog.Logger) (*KafkaEventPublisher, error) {
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return &KafkaEventPublisher{publisher: publisher, topics: topics, logger: logger}, nil
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, topic string, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", event.Type)
	msg.Metadata.Set("source", event.Source)

	topic = p.resolveTopic(topic)
	if err := p.publisher.Publish(topic, msg); err != nil {
		p.logger.Error("failed to publish event",
			"topic", topic, "event_type", event.Type, "event_id", event.ID, "error", err)
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}

	p.logger.Debug("event published", "topic", topic, "event_type", event.Type, "event_id", event.ID)
	return nil
}

func (p *KafkaEventPublisher) resolveTopic(topic string) string {
	if mapped, ok := p.topics[topic]; ok && mapped != "" {
		return mapped
	}
	return topic
}

func (p *KafkaEventPublisher) Close() error {
	return p.publisher.Close()
}

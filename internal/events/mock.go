package events

import (
	"context"
	"log/slog"
	"sync"
)

// MockEventPublisher records events in memory for tests.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []*Event
	topics []string
	logger *slog.Logger
}

func NewMockEventPublisher(logger *slog.Logger) *MockEventPublisher {
	return &MockEventPublisher{logger: logger}
}

func (p *MockEventPublisher) Publish(ctx context.Context, topic string, event *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)
	p.topics = append(p.topics, topic)
	p.logger.Debug("mock event published", "topic", topic, "event_type", event.Type)
	return nil
}

func (p *MockEventPublisher) GetPublishedEvents() []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventsForTopic filters recorded events by the topic they were sent to.
func (p *MockEventPublisher) EventsForTopic(topic string) []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Event
	for i, t := range p.topics {
		if t == topic {
			out = append(out, p.events[i])
		}
	}
	return out
}

func (p *MockEventPublisher) ClearEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = nil
	p.topics = nil
}

func (p *MockEventPublisher) Close() error { return nil }

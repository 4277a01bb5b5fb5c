// Package memory keeps outcome events in process. It is the default when no Pub/Sub
// topic is configured, and backs the tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// DefaultCapacity bounds how many events are retained.
const DefaultCapacity = 1000

// Publisher retains the most recent published events for inspection.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	seq      int
	messages []PublishedMessage
	logger   *zap.Logger
}

var _ publish.Publisher = (*Publisher)(nil)

// PublishedMessage captures one publish call. Data is the JSON encoding of the payload.
type PublishedMessage struct {
	ID    string
	Topic string
	Data  json.RawMessage
}

// New returns a memory Publisher keeping at most capacity events.
func New(capacity int, logger *zap.Logger) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{capacity: capacity, logger: logger}
}

// Publish encodes the payload and records it under a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Data: data})
	if over := len(p.messages) - p.capacity; over > 0 {
		p.messages = append([]PublishedMessage(nil), p.messages[over:]...)
	}
	p.logger.Debug("outcome recorded", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Messages returns the retained events, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Outcomes decodes the retained events published on topic.
func (p *Publisher) Outcomes(topic string) ([]publish.Outcome, error) {
	var out []publish.Outcome
	for _, m := range p.Messages() {
		if m.Topic != topic {
			continue
		}
		var o publish.Outcome
		if err := json.Unmarshal(m.Data, &o); err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.ID, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// Package pubsub publishes outcome events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

// Config names the project and topic outcome events go to.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic topicPublisher
	stop  func()
}

var _ publish.Publisher = (*Publisher)(nil)

// New connects to Pub/Sub and returns a Publisher for cfg.Topic.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Topic)
	return &Publisher{
		topic: topicAdapter{topic},
		stop: func() {
			topic.Stop()
			_ = client.Close()
		},
	}, nil
}

// Publish marshals the payload to JSON and publishes it. The topic argument becomes a
// message attribute; routing is fixed by the configured topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	if topic != "" {
		attrs["event"] = topic
	}
	if o, ok := payload.(publish.Outcome); ok {
		attrs["listing_id"] = o.ListingID
		attrs["status"] = string(o.Status)
	}

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() {
	if p.stop != nil {
		p.stop()
	}
}

type topicAdapter struct{ t *pubsub.Topic }

func (a topicAdapter) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return a.t.Publish(ctx, msg)
}

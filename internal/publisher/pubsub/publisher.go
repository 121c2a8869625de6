// Package pubsub publishes run and gap summaries to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Publisher sends JSON-encoded payloads to Pub/Sub topics. Topic handles are
// cached per name so repeated summaries reuse the batching machinery.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New connects to the project's Pub/Sub endpoint.
func New(ctx context.Context, projectID string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client for project %s: %w", projectID, err)
	}
	return &Publisher{
		client: client,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
	}, nil
}

// Publish sends one payload and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, topic string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	id, err := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("summary published",
		zap.String("topic", topic),
		zap.String("message_id", id))
	return nil
}

// Close flushes pending publishes and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.mu.Unlock()
	return p.client.Close()
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Package memory provides an in-process publisher for tests and runs
// without a broker.
package memory

import (
	"context"
	"sync"
)

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload map[string]any
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	closed   bool
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message.
func (p *Publisher) Publish(_ context.Context, topic string, payload map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return nil
}

// Close marks the publisher closed. Kept for interface symmetry.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

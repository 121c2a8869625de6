package sinks

import (
	"context"
	"sync"

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/progress"
)

// MemorySink captures events in order for inspection. Intended for tests and
// for hosts that want to poll recent progress without a durable store.
type MemorySink struct {
	mu     sync.Mutex
	events []progress.Event
	closed bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Consume appends the batch in order.
func (s *MemorySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

// Close marks the sink closed; captured events remain readable.
func (s *MemorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a snapshot of everything captured so far.
func (s *MemorySink) Events() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

// Closed reports whether Close has been called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

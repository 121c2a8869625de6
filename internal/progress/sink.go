package progress

import "context"

// Sink consumes ordered batches of progress events. Implementations must be
// safe for use from the hub's single flushing goroutine and should treat
// Consume failures as non-fatal: the hub logs and moves on.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

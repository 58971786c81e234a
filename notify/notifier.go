// Package notify wakes stream-store subscribers when new data may be
// durable. A notifier emits coalesced ticks: a tick is a hint that work may
// exist, never a message delivery — subscribers drive the actual reads and
// decide themselves when they are caught up.
package notify

import "context"

// Notifier is a hint channel with a graceful close.
type Notifier interface {
	// C returns the tick channel. Ticks are coalesced (at most one pending)
	// and the channel is closed once Close completes.
	C() <-chan struct{}

	// Close stops emitting ticks and releases resources. ctx bounds the
	// shutdown wait.
	Close(ctx context.Context) error
}

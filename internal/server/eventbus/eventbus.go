// Package eventbus publishes upload lifecycle events to a durable,
// replayable stream. Delivery to consumers is at-least-once; publishing
// can fail independently of storage succeeding, which is exactly the
// partial failure the reconciliation subsystem heals.
package eventbus

import "context"

// Bus is the publish side of the event bus.
type Bus interface {
	// Publish appends payload to the stream named by subject. An error
	// means the event was not durably accepted.
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Package messaging publishes stage-outcome events to the message broker.
// Events are notification only: stages are time-driven and never trigger
// each other through the broker.
package messaging

import "context"

// Publisher publishes JSON-encoded events to subjects.
type Publisher interface {
	// Publish marshals payload as JSON and sends it to subject with
	// at-least-once delivery. Per-subject ordering is preserved.
	Publish(ctx context.Context, subject string, payload any) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Noop is a Publisher that discards every event. Used when the broker is
// disabled and in tests.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(ctx context.Context, subject string, payload any) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }

// Package notify publishes scan lifecycle events to a message broker.
package notify

import "context"

// Publisher publishes a JSON-encodable payload and returns the broker's
// message identifier.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
	Close() error
}

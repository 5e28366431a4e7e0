// Package memory provides an in-process Publisher for tests and
// single-node deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sitewarden/sitewarden/internal/notify"
)

var _ notify.Publisher = (*Publisher)(nil)

// Publisher records published payloads in memory.
type Publisher struct {
	mu       sync.Mutex
	messages [][]byte
	nextID   int
}

// NewPublisher creates an empty in-memory Publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish encodes the payload and appends it to the in-memory log.
func (p *Publisher) Publish(_ context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messages = append(p.messages, data)
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Messages returns a copy of every published payload in publish order.
func (p *Publisher) Messages() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close is a no-op for the in-memory publisher.
func (p *Publisher) Close() error { return nil }

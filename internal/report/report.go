// Package report defines the keyed store for completed scan reports.
package report

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an identifier is unknown or expired.
var ErrNotFound = errors.New("report not found")

// Stored is one report held by a store.
type Stored struct {
	ID        string    `json:"id"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	SourceURL string    `json:"sourceUrl,omitempty"`
}

// Store maps short identifiers to reports. Implementations own eviction.
type Store interface {
	Put(ctx context.Context, data any, sourceURL string) (string, error)
	Get(ctx context.Context, id string) (Stored, error)
	Len(ctx context.Context) (int, error)
}

// NewID returns a short identifier from a cryptographically strong random
// byte sequence.
func NewID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate report id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Delivery is the audit record of one request to a signature-protected route.
// Payload is only set for requests that passed verification and carried valid
// JSON; rejected requests keep the digest and size of what was sent but never
// the bytes themselves.
type Delivery struct {
	ID            string          `json:"id"`
	Outcome       string          `json:"outcome"`
	Path          string          `json:"path"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	PayloadSHA256 string          `json:"payload_sha256,omitempty"`
	PayloadSize   int             `json:"payload_size"`
	ContentType   string          `json:"content_type,omitempty"`
	RemoteAddr    string          `json:"remote_addr,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// QueryOptions contains options for querying deliveries
type QueryOptions struct {
	Outcomes   []string  // Outcomes to filter by
	Path       string    // Request path to filter by
	RemoteAddr string    // Client address to filter by
	Since      time.Time // Start time for deliveries
	Until      time.Time // End time for deliveries
	Limit      int       // Maximum number of deliveries to return
	Offset     int       // Offset for pagination
}

// OutcomeStat is the number of deliveries with one outcome.
type OutcomeStat struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// Storage defines the interface for delivery storage
type Storage interface {
	StoreDelivery(ctx context.Context, d *Delivery) error
	// GetDelivery returns ErrNotFound when no delivery has the given ID.
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	ListDeliveries(ctx context.Context, opts QueryOptions) ([]*Delivery, int, error)
	CountDeliveries(ctx context.Context, opts QueryOptions) (int, error)
	// GetStats counts deliveries per outcome created at or after since. A
	// zero since counts everything.
	GetStats(ctx context.Context, since time.Time) (map[string]int64, error)
	CreateSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

package idempotency

import (
	"context"
	"time"
)

// Store persists idempotency records. Create must be an atomic claim: when
// the key already exists it returns sentinel.ErrConflict, so storage — not
// application logic — rejects the loser of concurrent first uses.
type Store interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, key string) (*Record, error)
	Update(ctx context.Context, record Record) error

	// DeleteExpired removes records past their expiry and returns the count.
	// Safe to run repeatedly and concurrently. Backends with native TTL
	// (redis) may report zero because the server already swept them.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Package idempotency makes any request-handling function execute at most
// once per client-supplied key. The orchestrator wraps certificate creation
// with it; the wrapper itself is generic and reusable.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	dErrors "attesta/pkg/domain-errors"
	"attesta/pkg/platform/sentinel"
)

// DefaultTTL bounds how long a completed record keeps replaying.
const DefaultTTL = 24 * time.Hour

// Ledger coordinates the record store and the expiry policy.
type Ledger struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewLedger(store Store, ttl time.Duration, logger *slog.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{store: store, ttl: ttl, logger: logger}
}

// CleanupExpired deletes ledger records past their expiry and returns the
// count removed. Pure deletion, safe to run repeatedly and concurrently.
func (l *Ledger) CleanupExpired(ctx context.Context) (int, error) {
	return l.store.DeleteExpired(ctx, time.Now())
}

// RunSweeper deletes expired records on a fixed interval until ctx ends.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := l.CleanupExpired(ctx)
			if err != nil {
				l.logger.Error("sweep idempotency records", "error", err)
				continue
			}
			if removed > 0 {
				l.logger.Info("swept expired idempotency records", "removed", removed)
			}
		}
	}
}

// Process executes fn at most once per (key, requestHash) pair:
//   - first use claims the key atomically and runs fn
//   - a completed record replays the cached result without running fn
//   - a pending record means the same request is already in flight: conflict
//   - a failed record is reset to pending and fn runs again
//   - the same key with a different hash is always a conflict
//
// On fn failure the original error is returned, never a wrapper error.
func Process[T any](ctx context.Context, l *Ledger, key, requestHash string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	record, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		record, err = l.claim(ctx, key, requestHash)
		if err != nil {
			return zero, err
		}
	case err != nil:
		return zero, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency lookup failed")
	default:
		record, err = l.revisit(ctx, *record, requestHash)
		if err != nil {
			return zero, err
		}
		if record.Status == StatusCompleted {
			var cached T
			if err := json.Unmarshal(record.ResponseBody, &cached); err != nil {
				return zero, dErrors.Wrap(err, dErrors.CodeInternal, "decode cached idempotent response")
			}
			return cached, nil
		}
	}

	result, err := fn(ctx)
	if err != nil {
		record.Status = StatusFailed
		if updateErr := l.store.Update(ctx, *record); updateErr != nil {
			l.logger.Error("mark idempotency record failed", "key", key, "error", updateErr)
		}
		return zero, err
	}

	body, err := json.Marshal(result)
	if err != nil {
		// The execution happened; losing the cache only costs replay.
		l.logger.Error("encode idempotent response", "key", key, "error", err)
		return result, nil
	}
	record.Status = StatusCompleted
	record.ResponseBody = body
	if err := l.store.Update(ctx, *record); err != nil {
		l.logger.Error("mark idempotency record completed", "key", key, "error", err)
	}
	return result, nil
}

// claim inserts a fresh pending record. A storage conflict means another
// request won the race for this key between our lookup and insert.
func (l *Ledger) claim(ctx context.Context, key, requestHash string) (*Record, error) {
	now := time.Now()
	record := Record{
		Key:         key,
		RequestHash: requestHash,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.ttl),
	}
	if err := l.store.Create(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeIdempotencyConflict,
				"a request with this idempotency key is already in flight")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "claim idempotency key")
	}
	return &record, nil
}

// revisit applies the ledger rules to an existing record and returns it ready
// for execution (pending) or replay (completed).
func (l *Ledger) revisit(ctx context.Context, record Record, requestHash string) (*Record, error) {
	if record.ExpiresAt.Before(time.Now()) {
		// Expired but not yet swept: rebind to the current request.
		now := time.Now()
		record = Record{
			Key:         record.Key,
			RequestHash: requestHash,
			Status:      StatusPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(l.ttl),
		}
		if err := l.store.Update(ctx, record); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "rebind expired idempotency key")
		}
		return &record, nil
	}

	if record.RequestHash != requestHash {
		return nil, dErrors.New(dErrors.CodeIdempotencyConflict,
			"idempotency key was already used with a different request")
	}

	switch record.Status {
	case StatusCompleted:
		return &record, nil
	case StatusPending:
		return nil, dErrors.New(dErrors.CodeIdempotencyConflict,
			"a request with this idempotency key is already in flight")
	case StatusFailed:
		record.Status = StatusPending
		record.ResponseBody = nil
		if err := l.store.Update(ctx, record); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reset failed idempotency record")
		}
		return &record, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInternal, "idempotency record in unknown status %q", record.Status)
	}
}

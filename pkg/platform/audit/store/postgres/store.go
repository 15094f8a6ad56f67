package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	audit "attesta/pkg/platform/audit"
	txcontext "attesta/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by a relay;
// when the caller's context carries a transaction the audit row commits or
// rolls back together with the business write.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure relayed to Kafka. Field names match
// audit.Event so the consumer side deserializes without a mapping layer.
type outboxPayload struct {
	ID            string `json:"ID"`
	Category      string `json:"Category"`
	Timestamp     string `json:"Timestamp"`
	UserID        string `json:"UserID,omitempty"`
	Action        string `json:"Action"`
	CertificateID string `json:"CertificateID,omitempty"`
	Reference     string `json:"Reference,omitempty"`
	OldStatus     string `json:"OldStatus,omitempty"`
	NewStatus     string `json:"NewStatus,omitempty"`
	Reason        string `json:"Reason,omitempty"`
	RequestID     string `json:"RequestID,omitempty"`
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	payload := outboxPayload{
		ID:            eventID.String(),
		Category:      string(audit.Action(event.Action).Category()),
		Timestamp:     event.Timestamp.Format(time.RFC3339Nano),
		UserID:        event.UserID,
		Action:        event.Action,
		CertificateID: event.CertificateID,
		Reference:     event.Reference,
		OldStatus:     event.OldStatus,
		NewStatus:     event.NewStatus,
		Reason:        event.Reason,
		RequestID:     event.RequestID,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if event.CertificateID != "" {
		aggregateType = "certificate"
		aggregateID = event.CertificateID
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		eventID, aggregateType, aggregateID, event.Action, payloadBytes, time.Now()); err != nil {
		return fmt.Errorf("insert audit outbox row: %w", err)
	}
	return nil
}

package audit

import "time"

// EventCategory classifies audit events by their primary purpose. Categories
// drive retention and routing downstream; this service only tags them.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: every
	// certificate lifecycle change is proof-of-insurance evidence.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for debugging and operational
	// visibility. These can be sampled downstream.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp     time.Time
	UserID        string
	Action        string
	CertificateID string
	Reference     string
	OldStatus     string
	NewStatus     string
	Reason        string
	RequestID     string
}

// Action names the certificate lifecycle events this gateway records.
type Action string

const (
	EventCertificateCreated   Action = "certificate_created"
	EventStatusChanged        Action = "certificate_status_changed"
	EventCertificateCancelled Action = "certificate_cancelled"
	EventCertificateSuspended Action = "certificate_suspended"
	EventCertificateFetched   Action = "certificate_downloaded"
	EventBulkProcessed        Action = "certificate_bulk_processed"
)

var eventCategories = map[Action]EventCategory{
	EventCertificateCreated:   CategoryCompliance,
	EventStatusChanged:        CategoryCompliance,
	EventCertificateCancelled: CategoryCompliance,
	EventCertificateSuspended: CategoryCompliance,
	EventCertificateFetched:   CategoryOperations,
	EventBulkProcessed:        CategoryOperations,
}

// Category resolves an action's category, defaulting to operations for
// actions added without a mapping.
func (a Action) Category() EventCategory {
	if c, ok := eventCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

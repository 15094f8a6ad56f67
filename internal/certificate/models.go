package certificate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the local lifecycle state of a certificate.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusSuspended  Status = "suspended"
)

// ActiveStatuses are the states that block a second certificate for the same
// (policyNumber, registrationNumber, companyCode) triple.
var ActiveStatuses = []Status{StatusPending, StatusProcessing, StatusCompleted}

// IsActive reports whether this status occupies the business-key triple.
func (s Status) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// transitions is the authoritative state machine. Reconciliation against the
// provider is the only path allowed to cross these edges, and even it never
// overwrites cancelled or suspended (the provider's view can lag a revocation
// we initiated).
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusCancelled, StatusSuspended},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusSuspended:  {},
}

// CanTransitionTo reports whether the edge s -> next exists.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// CanReconcileTo reports whether reconciliation may overwrite s with next.
// Local revocations win over a lagging provider.
func (s Status) CanReconcileTo(next Status) bool {
	if s == StatusCancelled || s == StatusSuspended {
		return s == next
	}
	return true
}

// Valid reports whether s is one of the six known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Metadata is an open key/value bag attached to a certificate. It is merged
// on every update, never replaced wholesale, so recorded facts only grow.
type Metadata map[string]any

// Merge returns a copy of m with overlay applied. Nil receivers are fine.
func (m Metadata) Merge(overlay Metadata) Metadata {
	merged := make(Metadata, len(m)+len(overlay))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// Certificate is the persistent record of one attestation request and its
// lifecycle. Owned exclusively by the store; everything else references it
// by ID or reference number.
type Certificate struct {
	ID              string   `json:"id"`
	ReferenceNumber string   `json:"referenceNumber"`
	Status          Status   `json:"status"`
	PolicyID        string   `json:"policyId"`
	InsuredID       string   `json:"insuredId"`
	PolicyNumber    string   `json:"policyNumber"`
	RegistrationNum string   `json:"registrationNumber"`
	CompanyCode     string   `json:"companyCode"`
	AgentCode       string   `json:"agentCode,omitempty"`
	CreatedBy       string   `json:"createdBy"`
	ProviderReqNum  string   `json:"providerRequestNumber,omitempty"`
	CertificateNum  string   `json:"certificateNumber,omitempty"`
	DownloadURL     string   `json:"downloadUrl,omitempty"`
	DownloadExpires *time.Time `json:"downloadExpiresAt,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	Metadata        Metadata `json:"metadata,omitempty"`
	IdempotencyKey  string   `json:"idempotencyKey,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NewReferenceNumber builds a human-traceable reference: timestamp plus a
// random suffix.
func NewReferenceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ATT-%s-%s", now.Format("20060102150405"), suffix)
}

// CreateRequest is the input for certificate creation.
type CreateRequest struct {
	PolicyNumber    string   `json:"policyNumber" validate:"required"`
	RegistrationNum string   `json:"registrationNumber" validate:"required"`
	CompanyCode     string   `json:"companyCode" validate:"required"`
	AgentCode       string   `json:"agentCode,omitempty"`
	RequestedBy     string   `json:"requestedBy" validate:"required"`
	IdempotencyKey  string   `json:"idempotencyKey,omitempty"`
	Metadata        Metadata `json:"metadata,omitempty"`
}

// CreateResult is what the caller gets back immediately: a durably committed
// pending certificate. Submission to the provider continues in the background.
type CreateResult struct {
	CertificateID   string `json:"certificateId"`
	ReferenceNumber string `json:"referenceNumber"`
	Status          Status `json:"status"`
	Message         string `json:"message"`
}

// StatusCheckResult reports local status, possibly reconciled against the
// provider, plus a note when the answer is degraded or local-only.
type StatusCheckResult struct {
	ReferenceNumber string `json:"referenceNumber"`
	Status          Status `json:"status"`
	CertificateNum  string `json:"certificateNumber,omitempty"`
	Note            string `json:"note,omitempty"`
}

// BatchRequest names certificates for a cancel or suspend sweep.
type BatchRequest struct {
	CertificateIDs []string `json:"certificateIds" validate:"required,min=1"`
	RequestedBy    string   `json:"requestedBy" validate:"required"`
	Reason         string   `json:"reason,omitempty"`
}

// BatchItemError pairs a certificate id with the error that stopped it. One
// item's failure never aborts its siblings.
type BatchItemError struct {
	CertificateID string `json:"certificateId"`
	Error         string `json:"error"`
}

// BatchResult collects per-item outcomes of a cancel/suspend sweep.
type BatchResult struct {
	Succeeded []string         `json:"succeeded"`
	Failed    []BatchItemError `json:"failed"`
}

// DownloadInfo is a fetchable artifact link.
type DownloadInfo struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// BulkRequest carries independent creation requests processed sequentially,
// each in its own transaction.
type BulkRequest struct {
	Requests    []CreateRequest `json:"requests" validate:"required,min=1,dive"`
	RequestedBy string          `json:"requestedBy,omitempty"`
}

// BulkItemResult records one sub-request's outcome.
type BulkItemResult struct {
	Request CreateRequest `json:"request"`
	Result  *CreateResult `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// BulkResult is always returned, even when every item failed; only structural
// request errors raise.
type BulkResult struct {
	BatchID        string           `json:"batchId"`
	TotalRequests  int              `json:"totalRequests"`
	Successful     int              `json:"successful"`
	Failed         int              `json:"failed"`
	Results        []BulkItemResult `json:"results"`
	ProcessingTime time.Duration    `json:"processingTime"`
}

package certificate

import (
	"context"
)

// Store persists certificates. Implementations return sentinel errors
// (sentinel.ErrNotFound, sentinel.ErrConflict) and leave domain-error
// translation to the service.
//
// Create and FindActiveConflict participate in the caller's transaction when
// the context carries one (pkg/platform/tx), so duplicate detection and the
// pending insert stay in one atomic unit.
type Store interface {
	Create(ctx context.Context, cert *Certificate) error
	GetByID(ctx context.Context, id string) (*Certificate, error)
	GetByReference(ctx context.Context, referenceNumber string) (*Certificate, error)

	// FindActiveConflict returns the first certificate occupying the
	// business-key triple with an active status, or nil when the triple is
	// free.
	FindActiveConflict(ctx context.Context, policyNumber, registrationNum, companyCode string) (*Certificate, error)

	// Update writes the certificate's mutable fields and bumps updatedAt.
	// The service owns status-transition legality and metadata merging;
	// stores just persist what they are given.
	Update(ctx context.Context, cert *Certificate) error

	// List returns certificates matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Certificate, error)
}

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	PolicyNumber    string
	RegistrationNum string
	CompanyCode     string
	Status          Status
	Limit           int
}

// TxRunner runs fn inside one storage transaction. The SQL implementation
// opens a transaction and stores it in the context for participating stores;
// the noop implementation backs the memory store, which has no multi-statement
// atomicity to offer.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoopTxRunner satisfies TxRunner without transactional semantics.
type NoopTxRunner struct{}

func (NoopTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

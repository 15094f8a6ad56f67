package certificate

import (
	"context"
	"sort"
	"sync"
	"time"

	"attesta/pkg/platform/sentinel"
)

// InMemoryStore keeps certificates in a mutex-guarded map. It backs unit
// tests and local development; it intentionally favors clarity over
// performance.
type InMemoryStore struct {
	mu    sync.RWMutex
	certs map[string]*Certificate
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{certs: make(map[string]*Certificate)}
}

func (s *InMemoryStore) Create(_ context.Context, cert *Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certs[cert.ID]; exists {
		return sentinel.ErrConflict
	}
	// Mirror the postgres partial unique index on active triples.
	for _, existing := range s.certs {
		if existing.PolicyNumber == cert.PolicyNumber &&
			existing.RegistrationNum == cert.RegistrationNum &&
			existing.CompanyCode == cert.CompanyCode &&
			existing.Status.IsActive() {
			return sentinel.ErrConflict
		}
	}
	s.certs[cert.ID] = clone(cert)
	return nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cert, ok := s.certs[id]; ok {
		return clone(cert), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) GetByReference(_ context.Context, referenceNumber string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cert := range s.certs {
		if cert.ReferenceNumber == referenceNumber {
			return clone(cert), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindActiveConflict(_ context.Context, policyNumber, registrationNum, companyCode string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []*Certificate
	for _, cert := range s.certs {
		if cert.PolicyNumber == policyNumber &&
			cert.RegistrationNum == registrationNum &&
			cert.CompanyCode == companyCode &&
			cert.Status.IsActive() {
			matches = append(matches, cert)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return clone(matches[0]), nil
}

func (s *InMemoryStore) Update(_ context.Context, cert *Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[cert.ID]; !ok {
		return sentinel.ErrNotFound
	}
	updated := clone(cert)
	updated.UpdatedAt = time.Now()
	s.certs[cert.ID] = updated
	return nil
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Certificate
	for _, cert := range s.certs {
		if filter.PolicyNumber != "" && cert.PolicyNumber != filter.PolicyNumber {
			continue
		}
		if filter.RegistrationNum != "" && cert.RegistrationNum != filter.RegistrationNum {
			continue
		}
		if filter.CompanyCode != "" && cert.CompanyCode != filter.CompanyCode {
			continue
		}
		if filter.Status != "" && cert.Status != filter.Status {
			continue
		}
		result = append(result, clone(cert))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func clone(cert *Certificate) *Certificate {
	copied := *cert
	copied.Metadata = Metadata{}.Merge(cert.Metadata)
	if cert.DownloadExpires != nil {
		t := *cert.DownloadExpires
		copied.DownloadExpires = &t
	}
	return &copied
}

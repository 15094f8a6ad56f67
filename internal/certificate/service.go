package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"attesta/internal/certificate/metrics"
	"attesta/internal/provider"
	"attesta/internal/registry"
	dErrors "attesta/pkg/domain-errors"
	audit "attesta/pkg/platform/audit"
	"attesta/pkg/platform/sentinel"
	pstrings "attesta/pkg/platform/strings"
)

const downloadCacheTTL = 24 * time.Hour

// Service is the certificate orchestrator. It drives a certificate through
// its lifecycle: validated creation inside one transaction, asynchronous
// submission to the provider, status reconciliation, cancel/suspend sweeps,
// download-link caching, and bulk processing.
type Service struct {
	store    Store
	txRunner TxRunner
	registry registry.Gateway
	provider provider.Gateway
	auditor  audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	validate *validator.Validate

	tasks chan submission
}

// submission is one unit of async work: submit this certificate to the
// provider. Registry data rides along so the worker does not re-fetch it.
type submission struct {
	certificateID string
	data          *registry.PolicyData
}

// NewService wires the orchestrator. The task buffer absorbs bursts; when it
// fills, enqueueing falls back to a goroutine that blocks until a worker
// drains, so creations are never dropped while the process lives.
func NewService(
	store Store,
	txRunner TxRunner,
	reg registry.Gateway,
	prov provider.Gateway,
	auditor audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		txRunner: txRunner,
		registry: reg,
		provider: prov,
		auditor:  auditor,
		metrics:  m,
		logger:   logger,
		validate: validator.New(),
		tasks:    make(chan submission, 128),
	}
}

// Create validates the request, rejects duplicates, fetches registry data,
// and persists a pending certificate — all inside one transaction. After
// commit it enqueues the provider submission and returns immediately: the
// caller gets a durably committed pending certificate, or an error and no
// trace.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	var (
		cert *Certificate
		data *registry.PolicyData
	)
	err := s.txRunner.RunInTx(ctx, func(txCtx context.Context) error {
		conflict, err := s.store.FindActiveConflict(txCtx, req.PolicyNumber, req.RegistrationNum, req.CompanyCode)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "duplicate check failed")
		}
		if conflict != nil {
			s.metrics.DuplicatesRejected.Inc()
			return dErrors.Newf(dErrors.CodeValidation,
				"an active certificate already exists for this policy/vehicle: id=%s status=%s",
				conflict.ID, conflict.Status)
		}

		data, err = s.registry.FetchPolicyData(txCtx, req.PolicyNumber)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Newf(dErrors.CodeNotFound,
					"policy %s or its insured party not found in registry", req.PolicyNumber)
			}
			return dErrors.Wrap(err, dErrors.CodeExternalAPI, "registry lookup failed")
		}

		now := time.Now()
		cert = &Certificate{
			ID:              uuid.NewString(),
			ReferenceNumber: NewReferenceNumber(now),
			Status:          StatusPending,
			PolicyID:        data.Policy.ID,
			InsuredID:       data.Insured.ID,
			PolicyNumber:    req.PolicyNumber,
			RegistrationNum: req.RegistrationNum,
			CompanyCode:     req.CompanyCode,
			AgentCode:       req.AgentCode,
			CreatedBy:       req.RequestedBy,
			Metadata:        Metadata{}.Merge(req.Metadata),
			IdempotencyKey:  req.IdempotencyKey,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.store.Create(txCtx, cert); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				// The storage unique constraint caught a race our read missed.
				s.metrics.DuplicatesRejected.Inc()
				return dErrors.New(dErrors.CodeValidation,
					"an active certificate already exists for this policy/vehicle")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "persist certificate")
		}

		s.auditor.Emit(txCtx, audit.Event{
			UserID:        req.RequestedBy,
			Action:        string(audit.EventCertificateCreated),
			CertificateID: cert.ID,
			Reference:     cert.ReferenceNumber,
			NewStatus:     string(StatusPending),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CertificatesCreated.Inc()
	s.enqueue(submission{certificateID: cert.ID, data: data})

	return &CreateResult{
		CertificateID:   cert.ID,
		ReferenceNumber: cert.ReferenceNumber,
		Status:          StatusPending,
		Message:         "certificate creation accepted; submission to provider in progress",
	}, nil
}

func (s *Service) validateCreate(req CreateRequest) error {
	// Blank values must fail before any I/O; the validator only catches
	// empty strings, so trim explicitly.
	fields := map[string]string{
		"policyNumber":       req.PolicyNumber,
		"registrationNumber": req.RegistrationNum,
		"companyCode":        req.CompanyCode,
		"requestedBy":        req.RequestedBy,
	}
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return dErrors.Newf(dErrors.CodeValidation, "%s is required", name)
		}
	}
	if err := s.validate.Struct(req); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid creation request")
	}
	return nil
}

// enqueue hands a submission to the worker pool without ever dropping it.
func (s *Service) enqueue(task submission) {
	select {
	case s.tasks <- task:
	default:
		go func() { s.tasks <- task }()
	}
}

// RunSubmitter drains the submission queue until ctx ends. main runs one per
// configured worker.
func (s *Service) RunSubmitter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-s.tasks:
			s.submit(ctx, task)
		}
	}
}

// submit performs the async submission for one certificate. It never returns
// an error: any failure marks the certificate failed and is logged, because
// the client already holds a pending response and must poll.
func (s *Service) submit(ctx context.Context, task submission) {
	start := time.Now()
	defer func() {
		s.metrics.SubmissionDuration.Observe(time.Since(start).Seconds())
	}()

	cert, err := s.store.GetByID(ctx, task.certificateID)
	if err != nil {
		s.logger.Error("load certificate for submission", "certificate_id", task.certificateID, "error", err)
		return
	}
	if cert.Status != StatusPending {
		s.logger.Warn("skipping submission, certificate not pending",
			"certificate_id", cert.ID, "status", cert.Status)
		return
	}

	data := task.data
	if data == nil {
		data, err = s.registry.FetchPolicyData(ctx, cert.PolicyNumber)
		if err != nil {
			s.failSubmission(ctx, cert, fmt.Sprintf("registry lookup failed: %v", err))
			return
		}
	}

	cert.Status = StatusProcessing
	if err := s.store.Update(ctx, cert); err != nil {
		s.logger.Error("transition certificate to processing", "certificate_id", cert.ID, "error", err)
		return
	}

	resp, err := s.provider.CreateAttestation(ctx, provider.AttestationRequest{
		Reference:          cert.ReferenceNumber,
		PolicyNumber:       cert.PolicyNumber,
		RegistrationNumber: cert.RegistrationNum,
		CompanyCode:        cert.CompanyCode,
		AgentCode:          cert.AgentCode,
		InsuredName:        data.Insured.Name,
		InsuredEmail:       data.Insured.Email,
		InsuredPhone:       data.Insured.Phone,
		PolicyStart:        data.Policy.StartDate.Format("2006-01-02"),
		PolicyEnd:          data.Policy.EndDate.Format("2006-01-02"),
	})
	if err != nil {
		s.failSubmission(ctx, cert, fmt.Sprintf("provider call failed: %v", err))
		return
	}
	if !resp.Success {
		s.failSubmission(ctx, cert, fmt.Sprintf("provider rejected request: %s", resp.Message))
		return
	}

	cert.Status = StatusCompleted
	cert.ProviderReqNum = resp.RequestNumber
	cert.CertificateNum = resp.CertificateNumber
	cert.Metadata = cert.Metadata.Merge(Metadata{"providerMessage": resp.Message})
	if err := s.store.Update(ctx, cert); err != nil {
		s.logger.Error("transition certificate to completed", "certificate_id", cert.ID, "error", err)
		return
	}

	s.metrics.SubmissionsSucceeded.Inc()
	s.auditor.Emit(ctx, audit.Event{
		Action:        string(audit.EventStatusChanged),
		CertificateID: cert.ID,
		Reference:     cert.ReferenceNumber,
		OldStatus:     string(StatusProcessing),
		NewStatus:     string(StatusCompleted),
	})
}

func (s *Service) failSubmission(ctx context.Context, cert *Certificate, reason string) {
	oldStatus := cert.Status
	cert.Status = StatusFailed
	cert.ErrorMessage = reason
	if err := s.store.Update(ctx, cert); err != nil {
		s.logger.Error("transition certificate to failed", "certificate_id", cert.ID, "error", err)
		return
	}
	s.metrics.SubmissionsFailed.Inc()
	s.logger.Warn("certificate submission failed",
		"certificate_id", cert.ID, "reference", cert.ReferenceNumber, "reason", reason)
	s.auditor.Emit(ctx, audit.Event{
		Action:        string(audit.EventStatusChanged),
		CertificateID: cert.ID,
		Reference:     cert.ReferenceNumber,
		OldStatus:     string(oldStatus),
		NewStatus:     string(StatusFailed),
		Reason:        reason,
	})
}

// GetByID returns one certificate.
func (s *Service) GetByID(ctx context.Context, id string) (*Certificate, error) {
	cert, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "certificate %s not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load certificate")
	}
	return cert, nil
}

// List returns certificates matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Certificate, error) {
	certs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list certificates")
	}
	return certs, nil
}

// UpdateStatus transitions a certificate along a legal state-machine edge,
// merging metadata (never replacing). When userID is supplied the transition
// is audited with old and new status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, metadata Metadata, userID string) (*Certificate, error) {
	if !status.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown status %q", status)
	}
	cert, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cert.Status.CanTransitionTo(status) {
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"illegal status transition %s -> %s", cert.Status, status)
	}
	return s.writeStatus(ctx, cert, status, metadata, userID, "")
}

// writeStatus persists a transition that has already been ruled legal.
func (s *Service) writeStatus(ctx context.Context, cert *Certificate, status Status, metadata Metadata, userID, reason string) (*Certificate, error) {
	oldStatus := cert.Status
	cert.Status = status
	cert.Metadata = cert.Metadata.Merge(metadata)
	if err := s.store.Update(ctx, cert); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "certificate %s not found", cert.ID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update certificate status")
	}
	if userID != "" {
		s.auditor.Emit(ctx, audit.Event{
			UserID:        userID,
			Action:        string(audit.EventStatusChanged),
			CertificateID: cert.ID,
			Reference:     cert.ReferenceNumber,
			OldStatus:     string(oldStatus),
			NewStatus:     string(status),
			Reason:        reason,
		})
	}
	return cert, nil
}

// CheckStatus reports a certificate's status by reference number. When the
// certificate has been submitted, the provider is treated as authoritative
// and local status is reconciled to match — except that local cancellations
// and suspensions are never overwritten by a lagging provider. Provider
// failures degrade to the last known local status; polling clients never see
// this operation fail on upstream trouble.
func (s *Service) CheckStatus(ctx context.Context, referenceNumber string) (*StatusCheckResult, error) {
	cert, err := s.store.GetByReference(ctx, referenceNumber)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "certificate with reference %s not found", referenceNumber)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load certificate")
	}

	if cert.ProviderReqNum == "" {
		return &StatusCheckResult{
			ReferenceNumber: cert.ReferenceNumber,
			Status:          cert.Status,
			CertificateNum:  cert.CertificateNum,
			Note:            "not yet submitted to provider; local status",
		}, nil
	}

	resp, err := s.provider.CheckStatus(ctx, cert.ProviderReqNum)
	if err != nil {
		s.logger.Warn("provider status check failed, returning local status",
			"certificate_id", cert.ID, "error", err)
		return &StatusCheckResult{
			ReferenceNumber: cert.ReferenceNumber,
			Status:          cert.Status,
			CertificateNum:  cert.CertificateNum,
			Note:            fmt.Sprintf("provider unavailable, last known status: %v", err),
		}, nil
	}

	mapped := MapProviderStatus(resp.StatusCode)
	if mapped != cert.Status && cert.Status.CanReconcileTo(mapped) {
		updated, err := s.writeStatus(ctx, cert, mapped, Metadata{
			"reconciledAt":       time.Now().Format(time.RFC3339),
			"providerStatusCode": resp.StatusCode,
		}, "", "reconciled against provider status")
		if err != nil {
			return nil, err
		}
		s.metrics.ReconciliationsApplied.Inc()
		cert = updated
	}

	return &StatusCheckResult{
		ReferenceNumber: cert.ReferenceNumber,
		Status:          cert.Status,
		CertificateNum:  cert.CertificateNum,
	}, nil
}

// Cancel revokes issued certificates with the provider and transitions them
// locally. Items fail independently; the batch always reports per-item
// outcomes.
func (s *Service) Cancel(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	return s.batchUpdate(ctx, req, provider.OperationCancel, StatusCancelled, audit.EventCertificateCancelled)
}

// Suspend pauses issued certificates with the provider and transitions them
// locally, with the same per-item isolation as Cancel.
func (s *Service) Suspend(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	return s.batchUpdate(ctx, req, provider.OperationSuspend, StatusSuspended, audit.EventCertificateSuspended)
}

func (s *Service) batchUpdate(ctx context.Context, req BatchRequest, op provider.OperationCode, target Status, action audit.Action) (*BatchResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "invalid batch request")
	}

	result := &BatchResult{Succeeded: []string{}, Failed: []BatchItemError{}}
	for _, id := range pstrings.DedupeAndTrim(req.CertificateIDs) {
		if err := s.updateOne(ctx, id, req, op, target, action); err != nil {
			result.Failed = append(result.Failed, BatchItemError{CertificateID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result, nil
}

func (s *Service) updateOne(ctx context.Context, id string, req BatchRequest, op provider.OperationCode, target Status, action audit.Action) error {
	cert, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cert.Status != StatusCompleted {
		return dErrors.Newf(dErrors.CodeValidation,
			"certificate must be completed to %s, current status is %s", target, cert.Status)
	}
	if cert.CertificateNum == "" {
		return dErrors.New(dErrors.CodeValidation,
			"certificate has no provider certificate number")
	}

	resp, err := s.provider.UpdateAttestationStatus(ctx, []string{cert.CertificateNum}, op)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeExternalAPI, "provider status update failed")
	}
	if !resp.Success {
		return dErrors.Newf(dErrors.CodeExternalAPI, "provider rejected status update: %s", resp.Message)
	}

	oldStatus := cert.Status
	cert.Status = target
	cert.Metadata = cert.Metadata.Merge(Metadata{"statusChangeReason": req.Reason})
	if err := s.store.Update(ctx, cert); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "persist status change")
	}
	s.auditor.Emit(ctx, audit.Event{
		UserID:        req.RequestedBy,
		Action:        string(action),
		CertificateID: cert.ID,
		Reference:     cert.ReferenceNumber,
		OldStatus:     string(oldStatus),
		NewStatus:     string(target),
		Reason:        req.Reason,
	})
	return nil
}

// Download returns a fetchable link for a completed certificate, serving the
// cached link while it is fresh and fetching new links from the provider
// otherwise. Preference order: PDF, then whatever the provider offers first.
func (s *Service) Download(ctx context.Context, id string) (*DownloadInfo, error) {
	cert, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert.Status != StatusCompleted {
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"certificate must be completed to download, current status is %s", cert.Status)
	}

	now := time.Now()
	if cert.DownloadURL != "" && cert.DownloadExpires != nil && cert.DownloadExpires.After(now) {
		s.metrics.DownloadCacheHits.Inc()
		linkType, _ := cert.Metadata["downloadType"].(string)
		if linkType == "" {
			linkType = "PDF"
		}
		return &DownloadInfo{URL: cert.DownloadURL, Type: linkType}, nil
	}
	s.metrics.DownloadCacheMisses.Inc()

	links, err := s.provider.GetDownloadLinks(ctx, cert.CertificateNum)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalAPI, "fetch download links")
	}
	if len(links) == 0 {
		// The certificate exists; artifact generation is what failed.
		return nil, dErrors.New(dErrors.CodeExternalAPI, "provider returned no download links")
	}

	selected := links[0]
	for _, link := range links {
		if link.Type == "PDF" {
			selected = link
			break
		}
	}

	expires := now.Add(downloadCacheTTL)
	cert.DownloadURL = selected.URL
	cert.DownloadExpires = &expires
	cert.Metadata = cert.Metadata.Merge(Metadata{"downloadType": selected.Type})
	if err := s.store.Update(ctx, cert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "cache download link")
	}

	s.auditor.Emit(ctx, audit.Event{
		Action:        string(audit.EventCertificateFetched),
		CertificateID: cert.ID,
		Reference:     cert.ReferenceNumber,
	})
	return &DownloadInfo{URL: selected.URL, Type: selected.Type}, nil
}

// ProcessBulk runs Create for each sub-request sequentially. Each item opens
// its own transaction, so one failure neither aborts nor rolls back siblings.
// Only structurally invalid requests error; per-item failures land in the
// result.
func (s *Service) ProcessBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if len(req.Requests) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "bulk request must contain at least one item")
	}

	start := time.Now()
	result := &BulkResult{
		BatchID:       uuid.NewString(),
		TotalRequests: len(req.Requests),
		Results:       make([]BulkItemResult, 0, len(req.Requests)),
	}

	for _, item := range req.Requests {
		if item.RequestedBy == "" {
			item.RequestedBy = req.RequestedBy
		}
		created, err := s.Create(ctx, item)
		if err != nil {
			result.Failed++
			result.Results = append(result.Results, BulkItemResult{Request: item, Error: err.Error()})
			continue
		}
		result.Successful++
		result.Results = append(result.Results, BulkItemResult{Request: item, Result: created})
	}

	result.ProcessingTime = time.Since(start)
	s.auditor.Emit(ctx, audit.Event{
		UserID: req.RequestedBy,
		Action: string(audit.EventBulkProcessed),
		Reason: fmt.Sprintf("batch %s: %d ok, %d failed", result.BatchID, result.Successful, result.Failed),
	})
	return result, nil
}

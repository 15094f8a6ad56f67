package certificate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	certmetrics "attesta/internal/certificate/metrics"
	"attesta/internal/provider"
	"attesta/internal/registry"
	dErrors "attesta/pkg/domain-errors"
	audit "attesta/pkg/platform/audit"
	auditmemory "attesta/pkg/platform/audit/store/memory"
	"attesta/pkg/platform/sentinel"
)

type stubRegistry struct {
	calls int
	err   error
}

func (s *stubRegistry) FetchPolicyData(_ context.Context, policyNumber string) (*registry.PolicyData, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &registry.PolicyData{
		Policy: registry.Policy{
			ID:           "pol-" + policyNumber,
			PolicyNumber: policyNumber,
			InsuredID:    "ins-" + policyNumber,
			StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:      time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		Insured: registry.InsuredParty{ID: "ins-" + policyNumber, Name: "Test Insured"},
	}, nil
}

type stubProvider struct {
	createResp  *provider.AttestationResponse
	createErr   error
	createCalls int

	statusResp *provider.StatusResponse
	statusErr  error

	updateResp *provider.UpdateStatusResponse
	updateErr  error
	lastOp     provider.OperationCode
	lastNums   []string

	links      []provider.DownloadLink
	linksErr   error
	linksCalls int
}

func (s *stubProvider) CreateAttestation(context.Context, provider.AttestationRequest) (*provider.AttestationResponse, error) {
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.createResp != nil {
		return s.createResp, nil
	}
	return &provider.AttestationResponse{Success: true, RequestNumber: "REQ-1", CertificateNumber: "CERT-1"}, nil
}

func (s *stubProvider) CheckStatus(context.Context, string) (*provider.StatusResponse, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	if s.statusResp != nil {
		return s.statusResp, nil
	}
	return &provider.StatusResponse{StatusCode: 0}, nil
}

func (s *stubProvider) UpdateAttestationStatus(_ context.Context, nums []string, op provider.OperationCode) (*provider.UpdateStatusResponse, error) {
	s.lastNums = nums
	s.lastOp = op
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	if s.updateResp != nil {
		return s.updateResp, nil
	}
	return &provider.UpdateStatusResponse{Success: true}, nil
}

func (s *stubProvider) GetDownloadLinks(context.Context, string) ([]provider.DownloadLink, error) {
	s.linksCalls++
	if s.linksErr != nil {
		return nil, s.linksErr
	}
	return s.links, nil
}

func newTestService(t *testing.T) (*Service, *InMemoryStore, *stubRegistry, *stubProvider, *auditmemory.Store) {
	t.Helper()
	store := NewInMemoryStore()
	reg := &stubRegistry{}
	prov := &stubProvider{}
	auditStore := auditmemory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, NoopTxRunner{}, reg, prov,
		audit.NewStorePublisher(auditStore, log),
		certmetrics.New(prometheus.NewRegistry()), log)
	return svc, store, reg, prov, auditStore
}

func validRequest() CreateRequest {
	return CreateRequest{
		PolicyNumber:    "POL1",
		RegistrationNum: "REG1",
		CompanyCode:     "C1",
		RequestedBy:     "U1",
	}
}

func TestCreate_HappyPath(t *testing.T) {
	svc, _, _, _, auditStore := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)
	assert.NotEmpty(t, result.CertificateID)
	assert.NotEmpty(t, result.ReferenceNumber)

	// Async submission completes the certificate.
	svc.submit(ctx, submission{certificateID: result.CertificateID})

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, cert.Status)
	assert.Equal(t, "CERT-1", cert.CertificateNum)
	assert.Equal(t, "REQ-1", cert.ProviderReqNum)

	events := auditStore.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, string(audit.EventCertificateCreated), events[0].Action)
}

func TestCreate_ValidationBeforeAnyIO(t *testing.T) {
	svc, _, reg, _, _ := newTestService(t)

	for _, tc := range []struct {
		name  string
		mut   func(*CreateRequest)
		field string
	}{
		{"missing policy number", func(r *CreateRequest) { r.PolicyNumber = "" }, "policyNumber"},
		{"blank registration", func(r *CreateRequest) { r.RegistrationNum = "   " }, "registrationNumber"},
		{"missing company code", func(r *CreateRequest) { r.CompanyCode = "" }, "companyCode"},
		{"missing requester", func(r *CreateRequest) { r.RequestedBy = "" }, "requestedBy"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mut(&req)
			_, err := svc.Create(context.Background(), req)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
	assert.Zero(t, reg.calls, "validation failures must not reach the registry")
}

func TestCreate_DuplicateRejection(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	_, err = svc.Create(ctx, validRequest())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Contains(t, err.Error(), first.CertificateID)
	assert.Contains(t, err.Error(), string(StatusPending))
}

func TestCreate_AllowedAfterTerminalStatus(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	// Fail the first submission; the triple becomes free again.
	prov.createErr = errors.New("network down")
	svc.submit(ctx, submission{certificateID: first.CertificateID})
	cert, err := svc.GetByID(ctx, first.CertificateID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, cert.Status)

	prov.createErr = nil
	_, err = svc.Create(ctx, validRequest())
	require.NoError(t, err)
}

func TestCreate_RegistryNotFoundLeavesNoTrace(t *testing.T) {
	svc, store, reg, _, _ := newTestService(t)
	reg.err = sentinel.ErrNotFound

	_, err := svc.Create(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	certs, err := store.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, certs, "no certificate row may be written when the registry lookup fails")
}

func TestSubmit_ProviderReportedFailure(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()
	prov.createResp = &provider.AttestationResponse{Success: false, Message: "quota exceeded"}

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	svc.submit(ctx, submission{certificateID: result.CertificateID})

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cert.Status)
	assert.Contains(t, cert.ErrorMessage, "quota exceeded")
}

func TestSubmit_ThrownErrorNeverPropagates(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()
	prov.createErr = sentinel.ErrCircuitOpen

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	// Must not panic or error; it only marks the certificate failed.
	svc.submit(ctx, submission{certificateID: result.CertificateID})

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cert.Status)
	assert.Contains(t, cert.ErrorMessage, "circuit open")
}

func TestUpdateStatus_RejectsIllegalEdge(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, result.CertificateID, StatusCancelled, nil, "U1")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cert.Status)
}

func TestUpdateStatus_MergesMetadataAndAudits(t *testing.T) {
	svc, _, _, _, auditStore := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(ctx, result.CertificateID, StatusProcessing, Metadata{"note": "manual"}, "U2")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, updated.Status)
	assert.Equal(t, "manual", updated.Metadata["note"])

	events := auditStore.Events()
	last := events[len(events)-1]
	assert.Equal(t, "U2", last.UserID)
	assert.Equal(t, string(StatusPending), last.OldStatus)
	assert.Equal(t, string(StatusProcessing), last.NewStatus)
}

func TestCheckStatus_LocalOnlyBeforeSubmission(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	check, err := svc.CheckStatus(ctx, result.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, check.Status)
	assert.Contains(t, check.Note, "not yet submitted")
}

func TestCheckStatus_DegradesOnProviderFailure(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	svc.submit(ctx, submission{certificateID: result.CertificateID})

	prov.statusErr = errors.New("timeout")
	check, err := svc.CheckStatus(ctx, result.ReferenceNumber)
	require.NoError(t, err, "status checks must never break polling clients")
	assert.Equal(t, StatusCompleted, check.Status)
	assert.Contains(t, check.Note, "provider unavailable")
}

func TestCheckStatus_ReconcilesMismatch(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	svc.submit(ctx, submission{certificateID: result.CertificateID})

	// Provider says the request is back in processing.
	prov.statusResp = &provider.StatusResponse{StatusCode: 121}
	check, err := svc.CheckStatus(ctx, result.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, check.Status)

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, cert.Status)
	assert.NotEmpty(t, cert.Metadata["reconciledAt"])
}

func TestCheckStatus_NeverOverwritesLocalRevocation(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	svc.submit(ctx, submission{certificateID: result.CertificateID})

	_, err = svc.Cancel(ctx, BatchRequest{CertificateIDs: []string{result.CertificateID}, RequestedBy: "U1"})
	require.NoError(t, err)

	// Provider still reports success; the local cancellation must win.
	prov.statusResp = &provider.StatusResponse{StatusCode: 0}
	check, err := svc.CheckStatus(ctx, result.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, check.Status)
}

func completedCertificate(t *testing.T, svc *Service) *CreateResult {
	t.Helper()
	ctx := context.Background()
	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)
	svc.submit(ctx, submission{certificateID: result.CertificateID})
	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, cert.Status)
	return result
}

func TestCancel_PreconditionNamesBlockingStatus(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	batch, err := svc.Cancel(ctx, BatchRequest{CertificateIDs: []string{result.CertificateID}, RequestedBy: "U1"})
	require.NoError(t, err)
	require.Len(t, batch.Failed, 1)
	assert.Contains(t, batch.Failed[0].Error, "pending")
	assert.Empty(t, prov.lastNums, "provider must not be called for an ineligible certificate")

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cert.Status)
}

func TestCancel_HappyPathUsesOperation109(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()
	result := completedCertificate(t, svc)

	batch, err := svc.Cancel(ctx, BatchRequest{CertificateIDs: []string{result.CertificateID}, RequestedBy: "U1"})
	require.NoError(t, err)
	assert.Equal(t, []string{result.CertificateID}, batch.Succeeded)
	assert.Equal(t, provider.OperationCancel, prov.lastOp)
	assert.Equal(t, []string{"CERT-1"}, prov.lastNums)

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cert.Status)
}

func TestSuspend_UsesOperation120(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()
	result := completedCertificate(t, svc)

	batch, err := svc.Suspend(ctx, BatchRequest{CertificateIDs: []string{result.CertificateID}, RequestedBy: "U1"})
	require.NoError(t, err)
	assert.Len(t, batch.Succeeded, 1)
	assert.Equal(t, provider.OperationSuspend, prov.lastOp)

	cert, err := svc.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, cert.Status)
}

func TestBatch_OneFailureDoesNotAbortSiblings(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()
	good := completedCertificate(t, svc)

	batch, err := svc.Cancel(ctx, BatchRequest{
		CertificateIDs: []string{"missing-id", good.CertificateID},
		RequestedBy:    "U1",
	})
	require.NoError(t, err)
	assert.Len(t, batch.Failed, 1)
	assert.Equal(t, "missing-id", batch.Failed[0].CertificateID)
	assert.Equal(t, []string{good.CertificateID}, batch.Succeeded)
}

func TestDownload_RequiresCompleted(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	_, err = svc.Download(ctx, result.CertificateID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Contains(t, err.Error(), "pending")
}

func TestDownload_CachesLinkWithin24h(t *testing.T) {
	svc, store, _, prov, _ := newTestService(t)
	ctx := context.Background()
	result := completedCertificate(t, svc)
	prov.links = []provider.DownloadLink{
		{URL: "https://provider/qr.png", Type: "QRCODE"},
		{URL: "https://provider/cert.pdf", Type: "PDF"},
	}

	first, err := svc.Download(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, "https://provider/cert.pdf", first.URL, "PDF variant preferred")
	assert.Equal(t, 1, prov.linksCalls)

	second, err := svc.Download(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, 1, prov.linksCalls, "fresh cache must not trigger a provider call")

	// Force expiry; the next call fetches fresh links.
	cert, err := store.GetByID(ctx, result.CertificateID)
	require.NoError(t, err)
	expired := time.Now().Add(-time.Minute)
	cert.DownloadExpires = &expired
	require.NoError(t, store.Update(ctx, cert))

	_, err = svc.Download(ctx, result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, 2, prov.linksCalls)
}

func TestDownload_NoLinksIsExternalAPIError(t *testing.T) {
	svc, _, _, prov, _ := newTestService(t)
	ctx := context.Background()
	result := completedCertificate(t, svc)
	prov.links = nil

	_, err := svc.Download(ctx, result.CertificateID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExternalAPI))
	assert.False(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestProcessBulk_IsolatesItemFailures(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	bad := validRequest()
	bad.PolicyNumber = ""
	other := validRequest()
	other.PolicyNumber = "POL2"
	other.RegistrationNum = "REG2"

	result, err := svc.ProcessBulk(ctx, BulkRequest{
		Requests:    []CreateRequest{validRequest(), bad, other},
		RequestedBy: "U1",
	})
	require.NoError(t, err, "per-item failures never fail the bulk call")
	assert.Equal(t, 3, result.TotalRequests)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.NotEmpty(t, result.BatchID)
	require.Len(t, result.Results, 3)
	assert.NotEmpty(t, result.Results[1].Error)
	assert.Nil(t, result.Results[1].Result)
}

func TestProcessBulk_EmptyRequestIsStructuralError(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.ProcessBulk(context.Background(), BulkRequest{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestRunSubmitter_DrainsQueue(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.RunSubmitter(ctx)
	}()

	result, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cert, err := svc.GetByID(context.Background(), result.CertificateID)
		return err == nil && cert.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

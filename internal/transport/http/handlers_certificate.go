package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attesta/internal/certificate"
	"attesta/internal/idempotency"
	dErrors "attesta/pkg/domain-errors"
	"attesta/pkg/platform/httputil"
)

// idempotencyKeyHeader carries the client-supplied key. An absent key means
// single-shot execution with no replay.
const idempotencyKeyHeader = "Idempotency-Key"

// Handler adapts HTTP to the certificate orchestrator.
type Handler struct {
	certs  *certificate.Service
	ledger *idempotency.Ledger
	logger *slog.Logger
}

func NewHandler(certs *certificate.Service, ledger *idempotency.Ledger, logger *slog.Logger) *Handler {
	return &Handler{certs: certs, ledger: ledger, logger: logger}
}

// Create handles POST /api/v1/certificates. With an Idempotency-Key header
// the call is wrapped so client retries replay the first outcome instead of
// creating twice.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req certificate.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		key = req.IdempotencyKey
	}
	if key == "" {
		result, err := h.certs.Create(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, result)
		return
	}

	req.IdempotencyKey = key
	hash, err := idempotency.HashRequest(req)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint request"))
		return
	}
	result, err := idempotency.Process(r.Context(), h.ledger, key, hash,
		func(ctx context.Context) (*certificate.CreateResult, error) {
			return h.certs.Create(ctx, req)
		})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, result)
}

// GetByID handles GET /api/v1/certificates/{id}.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	cert, err := h.certs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}

// CheckStatus handles GET /api/v1/certificates/reference/{reference}/status.
func (h *Handler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.certs.CheckStatus(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// Cancel handles POST /api/v1/certificates/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, h.certs.Cancel)
}

// Suspend handles POST /api/v1/certificates/suspend.
func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, h.certs.Suspend)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, req certificate.BatchRequest) (*certificate.BatchResult, error)) {
	var req certificate.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	result, err := op(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// Download handles GET /api/v1/certificates/{id}/download.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	info, err := h.certs.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

// ProcessBulk handles POST /api/v1/certificates/bulk.
func (h *Handler) ProcessBulk(w http.ResponseWriter, r *http.Request) {
	var req certificate.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	result, err := h.certs.ProcessBulk(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attesta/pkg/requestcontext"
)

// NewRouter exposes the certificate API. Authentication middleware is a
// collaborator boundary: deployments mount their own in front; here only the
// request-scoped plumbing lives.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withRequestContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/certificates", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Post("/bulk", h.ProcessBulk)
		r.Post("/cancel", h.Cancel)
		r.Post("/suspend", h.Suspend)
		r.Get("/{id}", h.GetByID)
		r.Get("/{id}/download", h.Download)
		r.Get("/reference/{reference}/status", h.CheckStatus)
	})
	return r
}

// withRequestContext copies transport identities into the HTTP-independent
// request context services read from, and pins one request time so every
// timestamp taken while handling the request agrees.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = requestcontext.WithRequestID(ctx, reqID)
		}
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			ctx = requestcontext.WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

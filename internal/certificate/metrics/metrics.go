package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the certificate pipeline's Prometheus metrics.
type Metrics struct {
	CertificatesCreated    prometheus.Counter
	DuplicatesRejected     prometheus.Counter
	SubmissionsSucceeded   prometheus.Counter
	SubmissionsFailed      prometheus.Counter
	ReconciliationsApplied prometheus.Counter
	DownloadCacheHits      prometheus.Counter
	DownloadCacheMisses    prometheus.Counter
	SubmissionDuration     prometheus.Histogram
}

// New registers the certificate metrics with the given registerer. Tests pass
// a fresh registry so repeated service construction cannot double-register.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CertificatesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "attesta_certificates_created_total",
			Help: "Certificates durably created in pending state",
		}),
		DuplicatesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "attesta_certificates_duplicates_rejected_total",
			Help: "Creation attempts rejected by the active-triple invariant",
		}),
		SubmissionsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "attesta_submissions_succeeded_total",
			Help: "Async provider submissions that completed a certificate",
		}),
		SubmissionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "attesta_submissions_failed_total",
			Help: "Async provider submissions that failed a certificate",
		}),
		ReconciliationsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "attesta_reconciliations_applied_total",
			Help: "Status checks that overwrote local status with the provider's",
		}),
		DownloadCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "attesta_download_cache_hits_total",
			Help: "Download requests served from the cached link",
		}),
		DownloadCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "attesta_download_cache_misses_total",
			Help: "Download requests that fetched fresh links from the provider",
		}),
		SubmissionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attesta_submission_duration_seconds",
			Help:    "Latency of async provider submissions",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Package metrics exposes the gateway's Prometheus collectors. Everything
// is registered on a caller-supplied registry so tests can use isolated
// registries without cross-test collisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission outcome label values.
const (
	OutcomeAdmitted     = "admitted"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeConcurrency  = "concurrency_exceeded"
	OutcomeError        = "error"
)

// Metrics bundles the gateway's collectors.
type Metrics struct {
	IssuedTotal     prometheus.Counter
	AdmissionsTotal *prometheus.CounterVec
	ReleasesTotal   prometheus.Counter
	ProxiedTotal    *prometheus.CounterVec
	UpstreamSeconds *prometheus.HistogramVec
}

// New registers all collectors on reg and returns the bundle. Passing
// prometheus.DefaultRegisterer gives the usual process-global behavior.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IssuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "frond_credentials_issued_total",
			Help: "Credentials minted by the issuance endpoint.",
		}),
		AdmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "frond_admissions_total",
			Help: "Admission attempts by outcome.",
		}, []string{"outcome"}),
		ReleasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "frond_releases_total",
			Help: "Concurrency slots released after admitted requests.",
		}),
		ProxiedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "frond_proxied_requests_total",
			Help: "Requests relayed to upstreams by upstream name and status class.",
		}, []string{"upstream", "status"}),
		UpstreamSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frond_upstream_duration_seconds",
			Help:    "Wall time spent relaying a request to an upstream.",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
	}
}

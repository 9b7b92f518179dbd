package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the ledger's collectors. Each Registry owns its own
// prometheus registry so several can coexist in one process (tests).
type Registry struct {
	reg *prometheus.Registry

	Charges         *prometheus.CounterVec // result=authorized|declined|lock_unavailable|error
	LockAcquire     *prometheus.CounterVec // result=acquired|contended|error
	LockRelease     *prometheus.CounterVec // result=released|lost|error
	LockAttempts    prometheus.Histogram
	CriticalSection prometheus.Histogram
	Resets          prometheus.Counter
}

func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_charges_total",
			Help: "Charge requests by outcome",
		}, []string{"result"}),
		LockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_lock_acquire_total",
			Help: "Lock acquisitions by outcome",
		}, []string{"result"}),
		LockRelease: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_lock_release_total",
			Help: "Lock releases by outcome; lost means the lock was no longer ours",
		}, []string{"result"}),
		LockAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_lock_attempts",
			Help:    "Set-if-absent attempts per acquisition",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		CriticalSection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_critical_section_seconds",
			Help:    "Time spent holding an account lock",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		Resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_resets_total",
			Help: "Account balance resets",
		}),
	}
	r.reg.MustRegister(r.Charges, r.LockAcquire, r.LockRelease, r.LockAttempts, r.CriticalSection, r.Resets)
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Package metrics keeps the prometheus counters of the market and worker services. They are registered in the
// default registry once, on first use, and served by promhttp.Handler.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service counters.
type Metrics struct {
	lockRetries    *prometheus.CounterVec
	lockContention *prometheus.CounterVec
	transactions   *prometheus.CounterVec
	workerEvents   *prometheus.CounterVec
	ipfsUploads    *prometheus.CounterVec
	cacheRequests  *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *Metrics
)

// Get returns the process wide counters.
func Get() *Metrics {
	once.Do(func() {
		registry = &Metrics{
			lockRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftmarket_lock_retries_total",
				Help: "Lock acquisition attempts that found the document locked, by lock type.",
			}, []string{"type"}),
			lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftmarket_lock_contention_total",
				Help: "Lock acquisitions abandoned after exhausting the retries, by lock type.",
			}, []string{"type"}),
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftmarket_transactions_total",
				Help: "Business transactions processed, by type and result.",
			}, []string{"type", "result"}),
			workerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftmarket_worker_events_total",
				Help: "Blockchain events handled by the worker, by event and result.",
			}, []string{"event", "result"}),
			ipfsUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftmarket_ipfs_uploads_total",
				Help: "IPFS uploads, by provider and result.",
			}, []string{"provider", "result"}),
			cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "nftmarket_cache_requests_total",
				Help: "Cache lookups, by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			registry.lockRetries,
			registry.lockContention,
			registry.transactions,
			registry.workerEvents,
			registry.ipfsUploads,
			registry.cacheRequests,
		)
	})

	return registry
}

func label(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}

func result(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

// LockRetry counts a lock found taken.
func (m *Metrics) LockRetry(lockType string) {
	m.lockRetries.WithLabelValues(label(lockType)).Inc()
}

// LockContention counts a lock given up.
func (m *Metrics) LockContention(lockType string) {
	m.lockContention.WithLabelValues(label(lockType)).Inc()
}

// Transaction counts a processed business transaction.
func (m *Metrics) Transaction(txType string, err error) {
	m.transactions.WithLabelValues(label(txType), result(err)).Inc()
}

// WorkerEvent counts a handled blockchain event. Dropped events are counted with result "ignored".
func (m *Metrics) WorkerEvent(event string, res string) {
	m.workerEvents.WithLabelValues(label(event), label(res)).Inc()
}

// WorkerEventResult counts a handled blockchain event by its error.
func (m *Metrics) WorkerEventResult(event string, err error) {
	m.WorkerEvent(event, result(err))
}

// IpfsUpload counts an upload attempt.
func (m *Metrics) IpfsUpload(provider string, err error) {
	m.ipfsUploads.WithLabelValues(label(provider), result(err)).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.cacheRequests.WithLabelValues("hit").Inc()
	} else {
		m.cacheRequests.WithLabelValues("miss").Inc()
	}
}

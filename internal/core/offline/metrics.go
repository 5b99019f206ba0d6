package offline

import "github.com/prometheus/client_golang/prometheus"

// Fetch strategies and outcomes used as metric labels.
const (
	StrategyPassthrough  = "passthrough"
	StrategyCacheFirst   = "cache_first"
	StrategyNetworkFirst = "network_first"

	OutcomeCacheHit      = "cache_hit"
	OutcomeNetwork       = "network"
	OutcomeCacheFallback = "cache_fallback"
	OutcomeOfflinePage   = "offline_page"
	OutcomeError         = "error"
)

// Metrics counts what the manager did with each request. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	fetches  *prometheus.CounterVec
	manifest *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "offline",
			Name:      "fetches_total",
			Help:      "Fetches handled by the offline cache manager by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		manifest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Subsystem: "offline",
			Name:      "manifest_entries_total",
			Help:      "Shell manifest entries processed during install by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.manifest)
	}
	return m
}

func (m *Metrics) observeFetch(strategy, outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) observeManifest(result string) {
	if m == nil {
		return
	}
	m.manifest.WithLabelValues(result).Inc()
}

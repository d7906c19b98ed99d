package machine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics is the Driver's production-monitoring surface,
// namespaced "statekit":
//
//   - transitions_total (counter): Step outcomes, labeled by result: "ok"
//     after a successful commit, "error" when the STF returns an error.
//     A Step that fails to open, read, write or commit its frame is not
//     counted.
//   - transition_latency_ms (histogram): wall time spent in a single Step,
//     from frame open through commit/rollback.
//   - tracked_pending (gauge): Tracked actions dispatched but not yet
//     reported complete, per run.
//   - restore_actions_emitted_total (counter): actions queued by Restore,
//     a signal for how much in-flight work survives a crash.
//   - capacity_exceeded_total (counter): Actions.Add calls that hit
//     ErrCapacityExceeded.
type PrometheusMetrics struct {
	transitions    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	trackedPending *prometheus.GaugeVec
	restoreActions *prometheus.CounterVec
	capacityHits   *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the statekit_* metric family with
// registry. Pass prometheus.DefaultRegisterer for the global registry, or
// a fresh prometheus.NewRegistry() to isolate a test or a single driver.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statekit",
			Name:      "transitions_total",
			Help:      "Total Step invocations, labeled by result (ok, error)",
		}, []string{"run_id", "result"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statekit",
			Name:      "transition_latency_ms",
			Help:      "Time spent in a single Step call, in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}, []string{"run_id", "result"}),
		trackedPending: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statekit",
			Name:      "tracked_pending",
			Help:      "Tracked actions dispatched but not yet reported complete",
		}, []string{"run_id"}),
		restoreActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statekit",
			Name:      "restore_actions_emitted_total",
			Help:      "Actions re-queued by Restore after a crash or restart",
		}, []string{"run_id"}),
		capacityHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statekit",
			Name:      "capacity_exceeded_total",
			Help:      "Actions.Add calls that failed with ErrCapacityExceeded",
		}, []string{"run_id"}),
	}
}

func (pm *PrometheusMetrics) observeTransition(runID, result string, latency time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.transitions.WithLabelValues(runID, result).Inc()
	pm.latency.WithLabelValues(runID, result).Observe(float64(latency.Milliseconds()))
}

func (pm *PrometheusMetrics) setTrackedPending(runID string, n int) {
	if !pm.isEnabled() {
		return
	}
	pm.trackedPending.WithLabelValues(runID).Set(float64(n))
}

func (pm *PrometheusMetrics) addRestoreActions(runID string, n int) {
	if !pm.isEnabled() || n == 0 {
		return
	}
	pm.restoreActions.WithLabelValues(runID).Add(float64(n))
}

func (pm *PrometheusMetrics) incCapacityExceeded(runID string) {
	if !pm.isEnabled() {
		return
	}
	pm.capacityHits.WithLabelValues(runID).Inc()
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// Disable stops metric recording without unregistering collectors, useful
// when a test wants a quiet driver without tearing down the registry.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

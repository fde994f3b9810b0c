package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	dispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simctl",
			Subsystem: "coordinator",
			Name:      "dispatch_outcomes_total",
			Help:      "Per-recipient outcomes of coordinator dispatches.",
		},
		[]string{"operation", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simctl",
			Subsystem: "coordinator",
			Name:      "dispatch_duration_seconds",
			Help:      "Coordinator dispatch round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "target_level"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simctl",
			Subsystem: "coordinator",
			Name:      "worker_probes_total",
			Help:      "Worker liveness probes by result.",
		},
		[]string{"result"},
	)
	workerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simctl",
			Subsystem: "worker",
			Name:      "operations_total",
			Help:      "Operations handled by worker and agent processors.",
		},
		[]string{"processor", "operation", "outcome"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simctl",
			Subsystem: "worker",
			Name:      "phase_duration_seconds",
			Help:      "Test phase hook duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"phase", "success"},
	)
	httpRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Metrics server request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Probe results.
const (
	ProbeOK          = "ok"
	ProbeError       = "error"
	ProbeInterrupted = "interrupted"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dispatchOutcomes, dispatchDuration, probes, workerOperations, phaseDuration, httpRequests)
	})
}

func RecordDispatch(operation, targetLevel string, outcomes map[string]int, duration time.Duration) {
	RegisterMetrics()
	for outcome, n := range outcomes {
		dispatchOutcomes.WithLabelValues(operation, outcome).Add(float64(n))
	}
	dispatchDuration.WithLabelValues(operation, targetLevel).Observe(duration.Seconds())
}

func RecordProbe(result string) {
	RegisterMetrics()
	probes.WithLabelValues(result).Inc()
}

func RecordWorkerOperation(processor, operation, outcome string) {
	RegisterMetrics()
	workerOperations.WithLabelValues(processor, operation, outcome).Inc()
}

func RecordPhase(phase string, duration time.Duration, success bool) {
	RegisterMetrics()
	label := "false"
	if success {
		label = "true"
	}
	phaseDuration.WithLabelValues(phase, label).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

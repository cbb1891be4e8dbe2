package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the weight governor
// ⭐ SSOT: 메트릭 정의는 여기서만
//
// A nil *Registry is valid; every recording method is a no-op on nil,
// so components can run without metrics in tests and CLI one-shots.
type Registry struct {
	reg *prometheus.Registry

	RegimeSwitches       *prometheus.CounterVec
	RegimeConfidence     prometheus.Gauge
	ActiveRegime         *prometheus.GaugeVec
	DeferredTransitions  *prometheus.CounterVec
	TransitionProgress   prometheus.Gauge
	FactorWeight         *prometheus.GaugeVec
	WeightUpdates        *prometheus.CounterVec
	IntegrityFailures    prometheus.Counter
	PersistenceFailures  *prometheus.CounterVec
	PersistQueueDepth    prometheus.Gauge
	NotificationFailures *prometheus.CounterVec
	JobDuration          *prometheus.HistogramVec
}

// New creates a registry with all governor metrics registered
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weightgov_regime_switches_total",
				Help: "Total number of detected regime switches by from/to regime",
			},
			[]string{"from_regime", "to_regime"},
		),
		RegimeConfidence: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "weightgov_regime_confidence",
				Help: "Confidence of the latest regime detection (0.0 to 1.0)",
			},
		),
		ActiveRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weightgov_active_regime",
				Help: "1 for the currently detected regime, 0 otherwise",
			},
			[]string{"regime"},
		),
		DeferredTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weightgov_transitions_deferred_total",
				Help: "Regime transitions deferred by the mapper, by cause",
			},
			[]string{"cause"},
		),
		TransitionProgress: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "weightgov_transition_progress",
				Help: "Progress of the in-flight preset transition (0.0 to 1.0)",
			},
		),
		FactorWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "weightgov_factor_weight",
				Help: "Currently published weight per factor",
			},
			[]string{"factor"},
		),
		WeightUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weightgov_weight_updates_total",
				Help: "Committed weight changes by kind",
			},
			[]string{"kind"},
		),
		IntegrityFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "weightgov_integrity_failures_total",
				Help: "Weight versions whose checksum did not verify",
			},
		),
		PersistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weightgov_persistence_failures_total",
				Help: "Failed or dropped persistence writes by target",
			},
			[]string{"target"},
		),
		PersistQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "weightgov_persist_queue_depth",
				Help: "Pending writes in the async persistence queue",
			},
		),
		NotificationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "weightgov_notification_failures_total",
				Help: "Failed regime change notifications by channel",
			},
			[]string{"channel"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "weightgov_job_duration_seconds",
				Help:    "Duration of scheduled jobs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"job", "result"},
		),
	}

	r.reg.MustRegister(
		r.RegimeSwitches,
		r.RegimeConfidence,
		r.ActiveRegime,
		r.DeferredTransitions,
		r.TransitionProgress,
		r.FactorWeight,
		r.WeightUpdates,
		r.IntegrityFailures,
		r.PersistenceFailures,
		r.PersistQueueDepth,
		r.NotificationFailures,
		r.JobDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Handler returns the /metrics HTTP handler
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry (tests)
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordRegime records a detection result
func (r *Registry) RecordRegime(from, to string, confidence float64, changed bool, all []string) {
	if r == nil {
		return
	}
	r.RegimeConfidence.Set(confidence)
	for _, name := range all {
		v := 0.0
		if name == to {
			v = 1
		}
		r.ActiveRegime.WithLabelValues(name).Set(v)
	}
	if changed {
		r.RegimeSwitches.WithLabelValues(from, to).Inc()
	}
}

// RecordDeferred counts a deferred preset transition
func (r *Registry) RecordDeferred(cause string) {
	if r == nil {
		return
	}
	r.DeferredTransitions.WithLabelValues(cause).Inc()
}

// SetTransitionProgress publishes the mapper progress
func (r *Registry) SetTransitionProgress(p float64) {
	if r == nil {
		return
	}
	r.TransitionProgress.Set(p)
}

// SetWeights publishes the effective weights per factor
func (r *Registry) SetWeights(weights map[string]float64) {
	if r == nil {
		return
	}
	for f, w := range weights {
		r.FactorWeight.WithLabelValues(f).Set(w)
	}
}

// RecordWeightUpdate counts a committed change of the given kind
func (r *Registry) RecordWeightUpdate(kind string) {
	if r == nil {
		return
	}
	r.WeightUpdates.WithLabelValues(kind).Inc()
}

// RecordIntegrityFailure counts a checksum mismatch
func (r *Registry) RecordIntegrityFailure() {
	if r == nil {
		return
	}
	r.IntegrityFailures.Inc()
}

// RecordPersistenceFailure counts a failed or dropped write
func (r *Registry) RecordPersistenceFailure(target string) {
	if r == nil {
		return
	}
	r.PersistenceFailures.WithLabelValues(target).Inc()
}

// SetQueueDepth publishes the async writer backlog
func (r *Registry) SetQueueDepth(n int) {
	if r == nil {
		return
	}
	r.PersistQueueDepth.Set(float64(n))
}

// RecordNotificationFailure counts a failed delivery
func (r *Registry) RecordNotificationFailure(channel string) {
	if r == nil {
		return
	}
	r.NotificationFailures.WithLabelValues(channel).Inc()
}

// ObserveJob records a scheduled job run
func (r *Registry) ObserveJob(job string, seconds float64, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.JobDuration.WithLabelValues(job, result).Observe(seconds)
}

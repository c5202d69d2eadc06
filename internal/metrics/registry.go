// Package metrics exposes pipeline, regime, cache, provider and EOD activity as Prometheus
// collectors on a dedicated registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/signalgate/internal/domain/regime"
	"github.com/sawpanic/signalgate/internal/eod"
	"github.com/sawpanic/signalgate/internal/gates"
)

const namespace = "signalgate"

// Verdict labels
const (
	VerdictPass     = "pass"
	VerdictFail     = "fail"
	VerdictDegraded = "degraded"
)

// Registry holds every signalgate collector
type Registry struct {
	registry *prometheus.Registry

	StageVerdicts      *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	EvaluationDuration prometheus.Histogram
	Evaluations        *prometheus.CounterVec
	FusedConfidence    prometheus.Histogram
	AlphaAggregate     prometheus.Histogram

	RegimeSwitches *prometheus.CounterVec
	RegimeVersion  prometheus.Gauge
	ActiveRegime   *prometheus.GaugeVec

	CacheLookups *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec

	EODActions  *prometheus.CounterVec
	EODExposure prometheus.Gauge
}

// NewRegistry creates and registers all collectors, plus the Go and process collectors
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		StageVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_verdicts_total",
				Help:      "Filter stage verdicts by stage and outcome",
			},
			[]string{"stage", "verdict"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each filter stage in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
			},
			[]string{"stage"},
		),

		EvaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "End-to-end duration of one candidate evaluation",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),

		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Candidate evaluations by outcome and rejection level",
			},
			[]string{"outcome", "level"},
		),

		FusedConfidence: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fused_confidence",
				Help:      "Fused confidence of candidates reaching the aggregator",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),

		AlphaAggregate: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "alpha_aggregate",
				Help:      "Regime-weighted alpha aggregate score",
				Buckets:   prometheus.LinearBuckets(-0.5, 0.1, 11),
			},
		),

		RegimeSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regime_switches_total",
				Help:      "Published regime changes by from/to regime",
			},
			[]string{"from_regime", "to_regime"},
		),

		RegimeVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "regime_state_version",
				Help:      "Version of the published regime state",
			},
		),

		ActiveRegime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_regime",
				Help:      "1 for the active regime, 0 otherwise",
			},
			[]string{"regime"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_breaker_state",
				Help:      "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		EODActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "eod_actions_total",
				Help:      "EOD verdicts by action",
			},
			[]string{"action"},
		),

		EODExposure: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "eod_exposure_ratio",
				Help:      "Admitted overnight exposure as a fraction of the cap",
			},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.StageVerdicts,
		r.StageDuration,
		r.EvaluationDuration,
		r.Evaluations,
		r.FusedConfidence,
		r.AlphaAggregate,
		r.RegimeSwitches,
		r.RegimeVersion,
		r.ActiveRegime,
		r.CacheLookups,
		r.BreakerState,
		r.EODActions,
		r.EODExposure,
	)
	return r
}

// Gatherer returns the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordStage counts one stage verdict
func (r *Registry) RecordStage(stage gates.Stage, res gates.FilterResult, took time.Duration) {
	verdict := VerdictFail
	switch {
	case res.Passed && res.Degraded:
		verdict = VerdictDegraded
	case res.Passed:
		verdict = VerdictPass
	}
	r.StageVerdicts.WithLabelValues(string(stage), verdict).Inc()
	r.StageDuration.WithLabelValues(string(stage)).Observe(took.Seconds())
}

// RecordEvaluation counts a finished evaluation; level is empty when allowed
func (r *Registry) RecordEvaluation(allowed bool, level gates.Stage, took time.Duration) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	r.Evaluations.WithLabelValues(outcome, string(level)).Inc()
	r.EvaluationDuration.Observe(took.Seconds())
}

// RecordConfidence observes a fused confidence
func (r *Registry) RecordConfidence(c float64) { r.FusedConfidence.Observe(c) }

// RecordAlpha observes an alpha aggregate
func (r *Registry) RecordAlpha(aggregate float64) { r.AlphaAggregate.Observe(aggregate) }

// SetRegime publishes the active regime and state version without counting a switch
func (r *Registry) SetRegime(state regime.State) {
	for _, rt := range regime.AllRegimes {
		v := 0.0
		if rt == state.Regime {
			v = 1
		}
		r.ActiveRegime.WithLabelValues(string(rt)).Set(v)
	}
	r.RegimeVersion.Set(float64(state.Version))
}

// RegimeChanged matches regime.ChangeFunc
func (r *Registry) RegimeChanged(previous, current regime.State) {
	if previous.Regime != current.Regime {
		r.RegimeSwitches.WithLabelValues(string(previous.Regime), string(current.Regime)).Inc()
	}
	r.SetRegime(current)
}

// CacheLookup matches cache.Observer
func (r *Registry) CacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(cache, result).Inc()
}

// BreakerChanged matches providers.StateFunc
func (r *Registry) BreakerChanged(name string, from, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	r.BreakerState.WithLabelValues(name).Set(v)
	log.Debug().Str("provider", name).Str("from", from.String()).Str("to", to.String()).Msg("Breaker state recorded")
}

// RecordEOD counts the actions of a fresh EOD decision
func (r *Registry) RecordEOD(d eod.Decision) {
	r.EODActions.WithLabelValues("hold").Add(float64(len(d.Hold)))
	r.EODActions.WithLabelValues("close").Add(float64(len(d.Close)))
	r.EODActions.WithLabelValues("watchlist").Add(float64(len(d.Watchlist)))
	if d.ExposureCap.IsPositive() {
		ratio, _ := d.Exposure.Div(d.ExposureCap).Float64()
		r.EODExposure.Set(ratio)
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cleanloop/pkg/logging"
)

const namespace = "cleanloop"

// Recorder exposes run metrics as prometheus collectors. All methods are
// safe on a nil *Recorder, so components can be built without metrics.
type Recorder struct {
	iterations     prometheus.Counter
	majorCycles    prometheus.Counter
	minorCycles    prometheus.Counter
	peakResidual   prometheus.Gauge
	cycleThreshold prometheus.Gauge
	modelFlux      prometheus.Gauge
	syncDuration   *prometheus.HistogramVec
	syncFailures   *prometheus.CounterVec
	stateChanges   *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Minor-cycle iterations performed.",
		}),
		majorCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "major_cycles_total",
			Help:      "Completed major cycles.",
		}),
		minorCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "minor_cycles_total",
			Help:      "Completed minor cycles.",
		}),
		peakResidual: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peak_residual",
			Help:      "Latest global peak residual.",
		}),
		cycleThreshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_threshold",
			Help:      "Residual level targeted by the current minor cycle.",
		}),
		modelFlux: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_flux",
			Help:      "Total model flux over all mappers.",
		}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of gather and scatter collectives.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		syncFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Failed gather or scatter collectives.",
		}, []string{"phase"}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Iteration controller state transitions by target state.",
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{
		r.iterations, r.majorCycles, r.minorCycles, r.peakResidual, r.cycleThreshold,
		r.modelFlux, r.syncDuration, r.syncFailures, r.stateChanges,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	logging.Debug("Metrics", "Registered cleanloop collectors")
	return r, nil
}

func (r *Recorder) AddIterations(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.iterations.Add(float64(n))
}

func (r *Recorder) MajorCycleDone() {
	if r == nil {
		return
	}
	r.majorCycles.Inc()
}

func (r *Recorder) MinorCycleDone() {
	if r == nil {
		return
	}
	r.minorCycles.Inc()
}

func (r *Recorder) SetPeakResidual(v float64) {
	if r == nil {
		return
	}
	r.peakResidual.Set(v)
}

func (r *Recorder) SetCycleThreshold(v float64) {
	if r == nil {
		return
	}
	r.cycleThreshold.Set(v)
}

func (r *Recorder) SetModelFlux(v float64) {
	if r == nil {
		return
	}
	r.modelFlux.Set(v)
}

// ObserveSync records one collective. phase is "gather" or "scatter".
func (r *Recorder) ObserveSync(phase string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.syncDuration.WithLabelValues(phase).Observe(d.Seconds())
	if err != nil {
		r.syncFailures.WithLabelValues(phase).Inc()
	}
}

func (r *Recorder) StateChanged(state string) {
	if r == nil {
		return
	}
	r.stateChanges.WithLabelValues(state).Inc()
}

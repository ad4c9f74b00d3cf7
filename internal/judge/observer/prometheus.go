package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records judge metrics into a prometheus registry.
type Prometheus struct {
	submissions     *prometheus.CounterVec
	compileDuration *prometheus.HistogramVec
	runDuration     *prometheus.HistogramVec
	sessionsActive  prometheus.Gauge
	cleanupFailures prometheus.Counter
}

// NewPrometheus creates the judge collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "judge",
			Name:      "submissions_total",
			Help:      "Total number of judged submissions.",
		}, []string{"language", "status"}),
		compileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "judge",
			Name:      "compile_duration_seconds",
			Help:      "Duration of build steps in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"language", "ok"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "judge",
			Name:      "run_duration_seconds",
			Help:      "Duration of single test case runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"language", "outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "judge",
			Name:      "sandbox_sessions_active",
			Help:      "Current number of open sandbox sessions.",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "judge",
			Name:      "cleanup_failures_total",
			Help:      "Total number of sandbox sessions whose cleanup reported an error.",
		}),
	}
	for _, c := range []prometheus.Collector{
		p.submissions,
		p.compileDuration,
		p.runDuration,
		p.sessionsActive,
		p.cleanupFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ObserveSubmission(_ context.Context, language string, status string) {
	p.submissions.WithLabelValues(language, status).Inc()
}

func (p *Prometheus) ObserveCompile(_ context.Context, language string, ok bool, elapsed time.Duration) {
	p.compileDuration.WithLabelValues(language, strconv.FormatBool(ok)).Observe(elapsed.Seconds())
}

func (p *Prometheus) ObserveRun(_ context.Context, language string, outcome string, elapsed time.Duration) {
	p.runDuration.WithLabelValues(language, outcome).Observe(elapsed.Seconds())
}

func (p *Prometheus) SessionOpened() {
	p.sessionsActive.Inc()
}

func (p *Prometheus) SessionClosed(cleanupErr error) {
	p.sessionsActive.Dec()
	if cleanupErr != nil {
		p.cleanupFailures.Inc()
	}
}

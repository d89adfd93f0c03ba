// Package metrics records run outcomes as Prometheus metrics. A sync is a
// short-lived CLI process, so metrics are written to a node-exporter
// textfile rather than served.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/steveyegge/issuesync/internal/reconcile"
)

const namespace = "issuesync"

// Recorder holds the run metrics in a private registry
type Recorder struct {
	registry *prometheus.Registry

	actions  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	findings *prometheus.GaugeVec
	duration prometheus.Gauge
	lastRun  prometheus.Gauge
	failures prometheus.Counter
}

// New creates a Recorder with its metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issue_actions_total",
			Help:      "Tracker issue actions taken, by action.",
		}, []string{"repository", "action"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_skipped_total",
			Help:      "Findings that produced no issue action, by reason.",
		}, []string{"repository", "reason"}),
		findings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "findings",
			Help:      "Findings in the last run, by stage.",
		}, []string{"repository", "stage"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_failures_total",
			Help:      "Runs that ended with an error.",
		}),
	}
	r.registry.MustRegister(r.actions, r.skipped, r.findings, r.duration, r.lastRun, r.failures)
	return r
}

// Registry exposes the registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records a finished run.
func (r *Recorder) Observe(repository string, res *reconcile.Result, finished time.Time) {
	s := res.Stats
	for action, n := range map[string]int{
		"created":           s.Created,
		"updated":           s.Updated,
		"reopened":          s.Reopened,
		"unchanged":         s.Unchanged,
		"closed_resolved":   s.ClosedResolved,
		"closed_superseded": s.ClosedSuperseded,
		"closed_duplicate":  s.ClosedDuplicate,
		"miss_recorded":     s.MissesRecorded,
	} {
		r.actions.WithLabelValues(repository, action).Add(float64(n))
	}
	for reason, n := range map[string]int{
		"below_threshold": s.SkippedBelowThreshold,
		"duplicate":       s.SkippedDuplicate,
		"max_reached":     s.SkippedMaxReached,
		"ignored":         s.SkippedIgnored,
	} {
		r.skipped.WithLabelValues(repository, reason).Add(float64(n))
	}
	r.findings.WithLabelValues(repository, "in").Set(float64(s.FindingsIn))
	r.findings.WithLabelValues(repository, "actionable").Set(float64(s.Actionable))
	r.duration.Set(res.Duration.Seconds())
	r.lastRun.Set(float64(finished.Unix()))
}

// ObserveFailure counts a failed run.
func (r *Recorder) ObserveFailure() {
	r.failures.Inc()
}

// WriteTextfile writes every metric in text exposition format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

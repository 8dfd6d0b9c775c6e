// Package metrics exports engine, sweep and HTTP metrics to prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/change-approval/internal/application/workflow"
)

const namespace = "change_approval"

// Recorder implements workflow.Metrics on a prometheus registry
type Recorder struct {
	gatherer prometheus.Gatherer

	decisions            *prometheus.CounterVec
	workflowsInitiated   *prometheus.CounterVec
	workflowsFinished    *prometheus.CounterVec
	escalations          *prometheus.CounterVec
	reminders            prometheus.Counter
	sweepRuns            *prometheus.CounterVec
	sweepItems           *prometheus.CounterVec
	sweepDuration        *prometheus.HistogramVec
	collaboratorFailures *prometheus.CounterVec
	breakerState         *prometheus.GaugeVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewRecorder registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,

		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions recorded on approval steps",
		}, []string{"decision"}),

		workflowsInitiated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_initiated_total",
			Help:      "Workflows initiated by archetype",
		}, []string{"archetype"}),

		workflowsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Workflows reaching a terminal status",
		}, []string{"status"}),

		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation attempts by outcome",
		}, []string{"outcome"}),

		reminders: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Deadline reminders sent",
		}),

		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed sweep passes",
		}, []string{"sweep"}),

		sweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Items handled by sweeps by result",
		}, []string{"sweep", "result"}),

		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Sweep pass duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"sweep"}),

		collaboratorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Failed calls to the status, audit and notification sinks",
		}, []string{"collaborator"}),

		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		}, []string{"name"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),

		httpRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

func (r *Recorder) DecisionRecorded(decision string) {
	r.decisions.WithLabelValues(decision).Inc()
}

func (r *Recorder) WorkflowInitiated(archetype string) {
	r.workflowsInitiated.WithLabelValues(archetype).Inc()
}

func (r *Recorder) WorkflowFinished(status string) {
	r.workflowsFinished.WithLabelValues(status).Inc()
}

func (r *Recorder) EscalationRecorded(outcome string) {
	r.escalations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ReminderSent() {
	r.reminders.Inc()
}

// SweepCompleted records one pass. processed counts every item looked at, failed those that errored.
func (r *Recorder) SweepCompleted(sweep string, processed, failed int, elapsed time.Duration) {
	r.sweepRuns.WithLabelValues(sweep).Inc()
	r.sweepItems.WithLabelValues(sweep, "ok").Add(float64(processed - failed))
	r.sweepItems.WithLabelValues(sweep, "failed").Add(float64(failed))
	r.sweepDuration.WithLabelValues(sweep).Observe(elapsed.Seconds())
}

func (r *Recorder) CollaboratorFailure(collaborator string) {
	r.collaboratorFailures.WithLabelValues(collaborator).Inc()
}

// BreakerStateChanged sets the breaker gauge; state follows gobreaker's numbering
func (r *Recorder) BreakerStateChanged(name string, state int) {
	r.breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTP records one served request
func (r *Recorder) ObserveHTTP(method, endpoint string, status int, elapsed time.Duration) {
	r.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// Handler serves the registry in the prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

var _ workflow.Metrics = (*Recorder)(nil)

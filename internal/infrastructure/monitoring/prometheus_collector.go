package monitoring

import (
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	activeViews   prometheus.Gauge
	sessionsState *prometheus.GaugeVec

	// Counters
	sessionTransitions *prometheus.CounterVec
	initAttempts       *prometheus.CounterVec
	permissionDialogs  prometheus.Counter
	permissionOutcomes *prometheus.CounterVec
	startResults       *prometheus.CounterVec
	connectionEvents   *prometheus.CounterVec
	lookupRetries      prometheus.Counter
	commandsTotal      *prometheus.CounterVec

	// Histograms
	commandDuration *prometheus.HistogramVec
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collector on reg. A nil reg uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		activeViews: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camstream_views_active",
			Help: "Number of registered views",
		}),

		sessionsState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camstream_sessions",
			Help: "Number of sessions in each state",
		}, []string{"state"}),

		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_session_transitions_total",
			Help: "Session state transitions",
		}, []string{"from", "to"}),

		initAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_session_init_attempts_total",
			Help: "Resource initialization attempts by outcome",
		}, []string{"outcome"}),

		permissionDialogs: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_permission_dialogs_total",
			Help: "Permission dialogs shown",
		}),

		permissionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_permission_outcomes_total",
			Help: "Resolved permission requests by outcome",
		}, []string{"outcome"}),

		startResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_start_results_total",
			Help: "startStreaming results by outcome",
		}, []string{"outcome"}),

		connectionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_connection_events_total",
			Help: "Ingest connection events",
		}, []string{"event"}),

		lookupRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "camstream_view_lookup_retries_total",
			Help: "Retried view lookups for commands addressed to unregistered views",
		}),

		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camstream_commands_total",
			Help: "Host commands by name and outcome",
		}, []string{"command", "outcome"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camstream_command_duration_seconds",
			Help:    "Time from dispatch until a command reached its view or was dropped",
			Buckets: []float64{0.0005, 0.001, 0.01, 0.1, 0.5, 1, 2},
		}, []string{"command"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (p *PrometheusCollector) SessionTransition(from, to domain.SessionState) {
	p.sessionTransitions.WithLabelValues(from.String(), to.String()).Inc()
	if from != domain.StateUninitialized {
		p.sessionsState.WithLabelValues(from.String()).Dec()
	}
	if to != domain.StateUninitialized {
		p.sessionsState.WithLabelValues(to.String()).Inc()
	}
}

func (p *PrometheusCollector) InitAttempt(success bool) {
	p.initAttempts.WithLabelValues(outcome(success)).Inc()
}

func (p *PrometheusCollector) PermissionDialog() {
	p.permissionDialogs.Inc()
}

func (p *PrometheusCollector) PermissionOutcome(result string) {
	p.permissionOutcomes.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) StartResult(success bool) {
	p.startResults.WithLabelValues(outcome(success)).Inc()
}

func (p *PrometheusCollector) ConnectionEvent(kind domain.EventType) {
	p.connectionEvents.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) LookupRetry() {
	p.lookupRetries.Inc()
}

func (p *PrometheusCollector) CommandHandled(command domain.CommandName, d time.Duration, err error) {
	label := "delivered"
	if err != nil {
		label = "dropped"
	}
	p.commandsTotal.WithLabelValues(string(command), label).Inc()
	p.commandDuration.WithLabelValues(string(command)).Observe(d.Seconds())
}

func (p *PrometheusCollector) ActiveViews(n int) {
	p.activeViews.Set(float64(n))
}

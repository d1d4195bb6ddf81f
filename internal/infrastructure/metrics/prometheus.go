// Package metrics exposes the Prometheus metrics the platform's trust and
// capability-authorization core emits, grounded on the teacher's
// promauto-registered metric set and Fiber instrumentation middleware,
// trimmed and renamed to this domain's operations.
package metrics

import (
	"bytes"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trust_core_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Trust score metrics (C2/C3)
	trustScoreGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trust_core_trust_score",
			Help: "Current trust score of an agent",
		},
		[]string{"agent_id", "tier"},
	)

	trustScoreHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trust_core_trust_score_distribution",
			Help:    "Distribution of trust scores across all agents",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	tierTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_tier_transitions_total",
			Help: "Total number of agent tier transitions",
		},
		[]string{"from_tier", "to_tier"},
	)

	// Event ingestion metrics (C4)
	eventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_events_recorded_total",
			Help: "Total number of trust-relevant events recorded",
		},
		[]string{"event_type"},
	)

	// Circuit breaker metrics (C5)
	circuitBreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_circuit_breaker_trips_total",
			Help: "Total number of circuit-breaker trips (agent freezes)",
		},
		[]string{"reason"},
	)

	circuitBreakerStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trust_core_circuit_breaker_state",
			Help: "Current circuit-breaker state per agent (0=closed, 1=half_open, 2=open)",
		},
		[]string{"agent_id"},
	)

	// Decay scheduler metrics (C5)
	decayRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_decay_runs_total",
			Help: "Total number of decay sweep runs",
		},
		[]string{"status"},
	)

	decayAgentsAffectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trust_core_decay_agents_affected_total",
			Help: "Total number of agent profiles decayed across all runs",
		},
	)

	// Authorization metrics (C6)
	authorizeDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_authorize_decisions_total",
			Help: "Total number of authorize decisions by outcome",
		},
		[]string{"decision", "bundle"},
	)

	capabilitiesGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_capabilities_granted_total",
			Help: "Total number of capabilities granted",
		},
		[]string{"source"},
	)

	capabilitiesRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_capabilities_revoked_total",
			Help: "Total number of capabilities revoked",
		},
		[]string{"reason"},
	)

	bundleGraduationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trust_core_bundle_graduations_total",
			Help: "Total number of (agent, bundle) graduations from gated to auto",
		},
		[]string{"bundle"},
	)

	activeAgentsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trust_core_active_agents",
			Help: "Number of agent profiles presently tracked",
		},
	)

	// Database metrics
	databaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trust_core_database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trust_core_database_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)
)

// PrometheusMiddleware collects HTTP metrics for all requests.
func PrometheusMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		method := c.Method()
		path := c.Path()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}

// UpdateTrustScore records an agent's current trust score and tier.
func UpdateTrustScore(agentID, tier string, score float64) {
	trustScoreGauge.WithLabelValues(agentID, tier).Set(score)
	trustScoreHistogram.Observe(score)
}

// RecordTierTransition records an agent moving from one tier to another.
func RecordTierTransition(fromTier, toTier string) {
	tierTransitionsTotal.WithLabelValues(fromTier, toTier).Inc()
}

// RecordEvent records an ingested trust-relevant event by type.
func RecordEvent(eventType string) {
	eventsRecordedTotal.WithLabelValues(eventType).Inc()
}

// RecordCircuitBreakerTrip records a circuit-breaker trip (agent freeze).
func RecordCircuitBreakerTrip(reason string) {
	circuitBreakerTripsTotal.WithLabelValues(reason).Inc()
}

// UpdateCircuitBreakerState records an agent's current circuit-breaker state.
func UpdateCircuitBreakerState(agentID string, state int) {
	circuitBreakerStateGauge.WithLabelValues(agentID).Set(float64(state))
}

// RecordDecayRun records a completed decay sweep and how many profiles it touched.
func RecordDecayRun(status string, agentsAffected int) {
	decayRunsTotal.WithLabelValues(status).Inc()
	decayAgentsAffectedTotal.Add(float64(agentsAffected))
}

// RecordAuthorizeDecision records an authorize call's outcome.
func RecordAuthorizeDecision(decision, bundle string) {
	authorizeDecisionsTotal.WithLabelValues(decision, bundle).Inc()
}

// RecordCapabilitiesGranted records capability grants by source.
func RecordCapabilitiesGranted(source string, count int) {
	capabilitiesGrantedTotal.WithLabelValues(source).Add(float64(count))
}

// RecordCapabilitiesRevoked records capability revocations by reason.
func RecordCapabilitiesRevoked(reason string, count int) {
	capabilitiesRevokedTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordBundleGraduation records a (agent, bundle) graduation to auto mode.
func RecordBundleGraduation(bundle string) {
	bundleGraduationsTotal.WithLabelValues(bundle).Inc()
}

// UpdateActiveAgents updates the count of tracked agent profiles.
func UpdateActiveAgents(count float64) {
	activeAgentsGauge.Set(count)
}

// UpdateDatabaseConnections updates the count of active database connections.
func UpdateDatabaseConnections(count float64) {
	databaseConnectionsActive.Set(count)
}

// ObserveDatabaseQueryDuration observes the duration of a database query.
func ObserveDatabaseQueryDuration(queryType string, duration float64) {
	databaseQueryDuration.WithLabelValues(queryType).Observe(duration)
}

// PrometheusHandler returns a Fiber handler that exposes Prometheus metrics.
func PrometheusHandler() fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		metricFamilies, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("Error gathering metrics: " + err.Error())
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))

		for _, mf := range metricFamilies {
			if err := encoder.Encode(mf); err != nil {
				return c.Status(fiber.StatusInternalServerError).SendString("Error encoding metrics: " + err.Error())
			}
		}

		return c.SendString(buf.String())
	}
}

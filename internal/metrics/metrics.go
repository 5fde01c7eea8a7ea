// Package metrics registers the Prometheus collectors shared by the executor,
// the secret store and the migration coordinator.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomeTerminal  = "terminal"
)

var (
	providerAttemptsTotal  *prometheus.CounterVec
	providerExhaustedTotal *prometheus.CounterVec
	providerDuration       *prometheus.HistogramVec

	migrationsTotal       *prometheus.CounterVec
	secretOperationsTotal *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers every collector with the default registry. Calling it
// more than once is safe.
func InitMetrics() {
	metricsOnce.Do(func() {
		providerAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_provider_attempts_total",
				Help: "Provider call attempts by outcome",
			},
			[]string{"provider", "operation", "outcome"},
		)

		providerExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_provider_retries_exhausted_total",
				Help: "Provider calls that failed after the whole retry budget",
			},
			[]string{"provider", "operation"},
		)

		providerDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "secretops_provider_duration_seconds",
				Help:    "Duration of a single provider call attempt in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"provider", "operation"},
		)

		migrationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_migrations_total",
				Help: "Migration tasks by final state",
			},
			[]string{"from", "to", "state"},
		)

		secretOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secretops_secret_operations_total",
				Help: "Secret store operations by kind and result",
			},
			[]string{"operation", "status"},
		)

		metricsRegistered = true
	})
}

// ObserveAttempt records one provider call attempt.
func ObserveAttempt(provider, operation, outcome string, elapsed time.Duration) {
	if !metricsRegistered {
		return
	}
	providerAttemptsTotal.WithLabelValues(provider, operation, outcome).Inc()
	providerDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// ObserveExhausted records a call that ran out of attempts.
func ObserveExhausted(provider, operation string) {
	if !metricsRegistered {
		return
	}
	providerExhaustedTotal.WithLabelValues(provider, operation).Inc()
}

// ObserveMigration records a migration reaching a final state.
func ObserveMigration(from, to, state string) {
	if !metricsRegistered {
		return
	}
	migrationsTotal.WithLabelValues(from, to, state).Inc()
}

// ObserveSecretOperation records a secret store operation.
func ObserveSecretOperation(operation string, err error) {
	if !metricsRegistered {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	secretOperationsTotal.WithLabelValues(operation, status).Inc()
}

// IsMetricsRegistered returns whether InitMetrics has run.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

// ProviderAttempts returns the attempt counter for tests.
func ProviderAttempts() *prometheus.CounterVec {
	return providerAttemptsTotal
}

// Migrations returns the migration counter for tests.
func Migrations() *prometheus.CounterVec {
	return migrationsTotal
}

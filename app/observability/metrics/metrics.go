package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	AuthRequestsTotal   metric.Int64Counter
	AuthDurationSeconds metric.Float64Histogram
	TokensIssuedTotal   metric.Int64Counter
	TokensRevokedTotal  metric.Int64Counter
	DBQueryErrorsTotal  metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments exactly once. The
// meter comes from the globally configured MeterProvider, so the tracer setup
// must run first.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("auth-api")
		var err error
		m := &AppMetrics{}

		m.AuthRequestsTotal, err = meter.Int64Counter(
			"auth_requests_total",
			metric.WithDescription("Total number of auth operations completed, by operation and outcome"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create auth_requests_total: %v", err)
		}

		m.AuthDurationSeconds, err = meter.Float64Histogram(
			"auth_duration_seconds",
			metric.WithDescription("Duration of auth operations in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create auth_duration_seconds: %v", err)
		}

		m.TokensIssuedTotal, err = meter.Int64Counter(
			"refresh_tokens_issued_total",
			metric.WithDescription("Total number of refresh tokens issued"),
			metric.WithUnit("{token}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create refresh_tokens_issued_total: %v", err)
		}

		m.TokensRevokedTotal, err = meter.Int64Counter(
			"refresh_tokens_revoked_total",
			metric.WithDescription("Total number of refresh tokens deleted by logout, rotation or cleanup"),
			metric.WithUnit("{token}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create refresh_tokens_revoked_total: %v", err)
		}

		m.DBQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance. InitAppMetrics
// must have been called at startup.
func Get() *AppMetrics {
	if appMetrics == nil {
		log.Fatal("Metrics: Get called before InitAppMetrics")
	}
	return appMetrics
}

package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Path    string `mapstructure:"path"`
}

// Metrics provides Prometheus metrics for the router. All record methods
// are safe to call on a nil *Metrics.
type Metrics struct {
	config   MetricsConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	// HTTP metrics
	requestsTotal    *prometheus.CounterVec
	requestsDuration *prometheus.HistogramVec

	// Completion metrics
	completionsTotal *prometheus.CounterVec
	completionErrors *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	fallbacksTotal   *prometheus.CounterVec
	budgetRejections prometheus.Counter
	spendTotal       prometheus.Gauge

	// Provider metrics
	providerHealth     *prometheus.GaugeVec
	providerErrorCount *prometheus.GaugeVec
	providerLatency    *prometheus.HistogramVec

	// Routing metrics
	routingDecisions *prometheus.CounterVec

	tokensUsed otelmetric.Int64Counter
}

// NewMetrics creates a new metrics instance backed by its own registry.
func NewMetrics(config MetricsConfig, logger *zap.Logger) (*Metrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	m := &Metrics{
		config:   config,
		logger:   logger,
		registry: registry,
		provider: provider,
	}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() error {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaroute_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status_code"},
	)

	m.requestsDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semaroute_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaroute_completions_total",
			Help: "Completion requests by final provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	m.completionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaroute_completion_errors_total",
			Help: "Provider call failures by error kind",
		},
		[]string{"provider", "kind"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaroute_retries_total",
			Help: "Retried provider calls",
		},
		[]string{"provider"},
	)

	m.fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaroute_fallbacks_total",
			Help: "Fallback hops from a failed provider",
		},
		[]string{"from", "to"},
	)

	m.budgetRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "semaroute_budget_rejections_total",
		Help: "Requests rejected by the cost governor",
	})

	m.spendTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "semaroute_spend_total",
		Help: "Running spend total seen by the cost governor",
	})

	m.providerHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "semaroute_provider_available",
			Help: "Provider availability (1 = available, 0 = unavailable)",
		},
		[]string{"provider"},
	)

	m.providerErrorCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "semaroute_provider_error_count",
			Help: "Accumulated provider error count used for health scoring",
		},
		[]string{"provider"},
	)

	m.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semaroute_provider_latency_seconds",
			Help:    "Provider response latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	m.routingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semaroute_routing_decisions_total",
			Help: "Total number of routing decisions made",
		},
		[]string{"policy", "provider", "reason"},
	)

	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.requestsDuration,
		m.completionsTotal,
		m.completionErrors,
		m.retriesTotal,
		m.fallbacksTotal,
		m.budgetRejections,
		m.spendTotal,
		m.providerHealth,
		m.providerErrorCount,
		m.providerLatency,
		m.routingDecisions,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	tokens, err := m.provider.Meter("semaroute").Int64Counter(
		"semaroute.tokens.used",
		otelmetric.WithDescription("Tokens consumed by successful completions"),
	)
	if err != nil {
		return err
	}
	m.tokensUsed = tokens
	return nil
}

// RecordRequest records metrics for an HTTP request.
func (m *Metrics) RecordRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestsDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCompletion records the final outcome of a completion request.
func (m *Metrics) RecordCompletion(ctx context.Context, provider, model, outcome string, tokens int, latency time.Duration) {
	if m == nil {
		return
	}
	m.completionsTotal.WithLabelValues(provider, outcome).Inc()
	if outcome != "success" {
		return
	}
	m.providerLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
	m.tokensUsed.Add(ctx, int64(tokens), otelmetric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	))
}

// RecordProviderError records a failed provider call.
func (m *Metrics) RecordProviderError(provider, kind string) {
	if m == nil {
		return
	}
	m.completionErrors.WithLabelValues(provider, kind).Inc()
}

// RecordRetry records a retried provider call.
func (m *Metrics) RecordRetry(provider string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(provider).Inc()
}

// RecordFallback records a fallback hop.
func (m *Metrics) RecordFallback(from, to string) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordBudgetRejection records a request refused by the cost governor.
func (m *Metrics) RecordBudgetRejection() {
	if m == nil {
		return
	}
	m.budgetRejections.Inc()
}

// RecordSpend publishes the governor's running total.
func (m *Metrics) RecordSpend(total float64) {
	if m == nil {
		return
	}
	m.spendTotal.Set(total)
}

// RecordProviderHealth updates the health gauges of a provider.
func (m *Metrics) RecordProviderHealth(provider string, available bool, errorCount int) {
	if m == nil {
		return
	}
	value := 0.0
	if available {
		value = 1.0
	}
	m.providerHealth.WithLabelValues(provider).Set(value)
	m.providerErrorCount.WithLabelValues(provider).Set(float64(errorCount))
}

// RecordRoutingDecision records a routing decision made by a policy.
func (m *Metrics) RecordRoutingDecision(policy, provider, reason string) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(policy, provider, reason).Inc()
}

// GetRegistry returns the Prometheus registry.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the OpenTelemetry meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// StartMetricsServer serves the metrics endpoint until ctx is cancelled.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(m.config.Port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	m.logger.Info("Metrics server started",
		zap.Int("port", m.config.Port),
		zap.String("path", m.config.Path))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("Error shutting down metrics server", zap.Error(err))
	}
	return nil
}

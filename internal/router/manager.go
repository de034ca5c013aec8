// Package router owns the provider registry and drives selection, retry,
// fallback, budget enforcement and health tracking for every request.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/semantrix/semaroute-router/internal/billing"
	"github.com/semantrix/semaroute-router/internal/budget"
	"github.com/semantrix/semaroute-router/internal/models"
	"github.com/semantrix/semaroute-router/internal/observability"
	"github.com/semantrix/semaroute-router/internal/providers"
	"github.com/semantrix/semaroute-router/internal/router/health"
	"github.com/semantrix/semaroute-router/internal/router/policies"
)

var (
	// ErrProviderAlreadyRegistered is returned when a provider name is reused.
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
	// ErrProviderNotFound is returned for an unknown provider name.
	ErrProviderNotFound = errors.New("provider not found")
)

// Probe parameters used by PerformHealthCheck.
const (
	probePrompt    = "ping"
	probeMaxTokens = 5
)

// Config holds the routing behaviour.
type Config struct {
	EnableFallback  bool          `mapstructure:"enable_fallback"`
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	CostLimit       float64       `mapstructure:"cost_limit" validate:"gte=0"`
	DefaultProvider string        `mapstructure:"default_provider"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	RoutingPolicy   string        `mapstructure:"routing_policy" validate:"omitempty,oneof=health_score cost_based failover"`
	FailoverOrder   []string      `mapstructure:"failover_order"`
	ErrorThreshold  int           `mapstructure:"error_threshold" validate:"gte=0"`
}

// DefaultConfig returns the default routing behaviour.
func DefaultConfig() Config {
	return Config{
		EnableFallback: true,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		CostLimit:      100,
		RoutingPolicy:  policies.HealthScore,
		ErrorThreshold: health.DefaultErrorThreshold,
	}
}

// Manager routes completion requests across the registered providers.
type Manager struct {
	config   Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	tracker  *health.Tracker
	governor *budget.Governor
	policy   policies.RoutingPolicy
	usage    billing.Store

	mu        sync.RWMutex
	providers map[string]providers.Provider
	order     []string

	statsMu sync.Mutex
	stats   models.ManagerStats
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer sets the tracer used for request and attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithGovernor replaces the cost governor built from Config.CostLimit.
func WithGovernor(g *budget.Governor) Option {
	return func(m *Manager) { m.governor = g }
}

// WithTracker replaces the health tracker built from Config.ErrorThreshold.
func WithTracker(t *health.Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// WithPolicy replaces the policy named by Config.RoutingPolicy.
func WithPolicy(p policies.RoutingPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithUsageStore logs every completed request to store.
func WithUsageStore(store billing.Store) Option {
	return func(m *Manager) { m.usage = store }
}

// NewManager creates a manager with no providers.
func NewManager(config Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		config:    config,
		providers: make(map[string]providers.Provider),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("semaroute/router")
	}
	if m.tracker == nil {
		m.tracker = health.NewTracker(config.ErrorThreshold)
	}
	if m.governor == nil {
		m.governor = budget.NewGovernor(config.CostLimit, budget.WithLogger(m.logger))
	}
	if m.policy == nil {
		policy, err := policies.New(config.RoutingPolicy, config.FailoverOrder)
		if err != nil {
			return nil, err
		}
		m.policy = policy
	}
	return m, nil
}

// RegisterProvider adds a provider. Names must be unique.
func (m *Manager) RegisterProvider(p providers.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}
	m.providers[name] = p
	m.order = append(m.order, name)

	h := m.tracker.Get(name)
	m.metrics.RecordProviderHealth(name, h.Available, h.ErrorCount)
	m.logger.Info("Provider registered",
		zap.String("provider", name),
		zap.Bool("available", p.IsAvailable()),
		zap.Int("models", len(p.Models())))
	return nil
}

// Provider returns the provider registered under name.
func (m *Manager) Provider(name string) (providers.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// Providers returns the registered providers in registration order.
func (m *Manager) Providers() []providers.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]providers.Provider, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.providers[name])
	}
	return out
}

// Policy returns the active routing policy.
func (m *Manager) Policy() policies.RoutingPolicy {
	return m.policy
}

// Close closes every registered provider.
func (m *Manager) Close() error {
	var errs []error
	for _, p := range m.Providers() {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// GenerateResponse routes the request to a provider, retrying and falling
// back as configured.
func (m *Manager) GenerateResponse(ctx context.Context, req models.CompletionRequest) (result *models.CompletionResult, err error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if m.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.RequestTimeout)
		defer cancel()
	}

	ctx, span := m.tracer.Start(ctx, "router.GenerateResponse", trace.WithAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("requested_provider", req.Provider),
		attribute.String("requested_model", req.Model),
	))
	defer func() { observability.EndSpan(span, err) }()

	m.statsMu.Lock()
	m.stats.TotalRequests++
	m.statsMu.Unlock()

	if verr := providers.ValidateRequest(req); verr != nil {
		m.countFailure()
		return nil, verr
	}

	primary, reason, err := m.selectProvider(&req, "")
	if err != nil {
		m.countFailure()
		return nil, err
	}
	releasePrimary, err := m.admit(primary, req)
	if err != nil {
		m.countFailure()
		return nil, err
	}
	defer releasePrimary()
	m.metrics.RecordRoutingDecision(m.policy.Name(), primary.Name(), reason)
	span.SetAttributes(attribute.String("provider", primary.Name()), attribute.String("reason", reason))

	result, attempts, err := m.callWithRetry(ctx, primary, req)
	if err == nil {
		m.succeed(ctx, primary, req, result, attempts, false)
		return result, nil
	}
	m.recordFailure(ctx, primary, err)
	releasePrimary()

	if !m.shouldFallback(ctx, err) {
		m.fail(ctx, primary, req, err, false)
		return nil, err
	}

	fallback, _, ferr := m.selectProvider(&req, primary.Name())
	if ferr != nil {
		m.logger.Warn("No fallback provider available",
			zap.String("request_id", req.RequestID),
			zap.String("failed_provider", primary.Name()))
		m.fail(ctx, primary, req, err, false)
		return nil, err
	}
	releaseFallback, aerr := m.admit(fallback, req)
	if aerr != nil {
		m.logger.Warn("Fallback provider rejected",
			zap.String("request_id", req.RequestID),
			zap.String("fallback_provider", fallback.Name()),
			zap.Error(aerr))
		m.fail(ctx, primary, req, err, false)
		return nil, err
	}
	defer releaseFallback()

	m.logger.Info("Falling back to another provider",
		zap.String("request_id", req.RequestID),
		zap.String("failed_provider", primary.Name()),
		zap.String("fallback_provider", fallback.Name()),
		zap.Error(err))
	m.metrics.RecordFallback(primary.Name(), fallback.Name())
	m.metrics.RecordRoutingDecision(m.policy.Name(), fallback.Name(), "fallback")
	span.AddEvent("fallback", trace.WithAttributes(attribute.String("provider", fallback.Name())))

	result, fallbackAttempts, err := m.callWithRetry(ctx, fallback, req)
	if err == nil {
		m.succeed(ctx, fallback, req, result, attempts+fallbackAttempts, true)
		return result, nil
	}
	m.recordFailure(ctx, fallback, err)
	m.fail(ctx, fallback, req, err, true)
	return nil, err
}

// admit estimates the request against p and reserves the estimate with the
// governor. The returned func releases the reservation once the call's
// actual cost has been recorded.
func (m *Manager) admit(p providers.Provider, req models.CompletionRequest) (func(), error) {
	estimate, err := p.CostEstimate(req)
	if err != nil {
		return nil, err
	}
	release, ok := m.governor.Reserve(estimate)
	if !ok {
		m.metrics.RecordBudgetRejection()
		m.logger.Warn("Request rejected by cost limit",
			zap.String("request_id", req.RequestID),
			zap.String("provider", p.Name()),
			zap.Float64("estimate", estimate),
			zap.Float64("spent", m.governor.Total()),
			zap.Float64("pending", m.governor.Pending()),
			zap.Float64("limit", m.governor.Limit()))
		cerr := models.NewCompletionError(models.KindQuotaExceeded,
			fmt.Sprintf("estimated cost %.6f exceeds remaining budget", estimate), false, nil)
		cerr.Provider = p.Name()
		return nil, cerr
	}
	return release, nil
}

func (m *Manager) shouldFallback(ctx context.Context, err error) bool {
	return m.config.EnableFallback && models.IsRetryable(err) && ctx.Err() == nil
}

// callWithRetry runs the call sequence against one provider. The total
// number of attempts is MaxRetries, and at least one.
func (m *Manager) callWithRetry(ctx context.Context, p providers.Provider, req models.CompletionRequest) (*models.CompletionResult, int, error) {
	attempts := m.config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := m.config.RetryDelay
	if delay <= 0 {
		delay = time.Nanosecond
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))

	var (
		result *models.CompletionResult
		calls  int
	)
	start := time.Now()
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		calls++
		if calls > 1 {
			m.metrics.RecordRetry(p.Name())
		}

		attemptCtx, span := m.tracer.Start(ctx, "provider.GenerateResponse", trace.WithAttributes(
			attribute.String("provider", p.Name()),
			attribute.Int("attempt", calls),
		))
		res, err := p.GenerateResponse(attemptCtx, req)
		observability.EndSpan(span, err)

		if err != nil {
			cerr := models.AsCompletionError(err)
			m.metrics.RecordProviderError(p.Name(), cerr.Kind.String())
			m.logger.Debug("Provider attempt failed",
				zap.String("request_id", req.RequestID),
				zap.String("provider", p.Name()),
				zap.Int("attempt", calls),
				zap.String("kind", cerr.Kind.String()),
				zap.Bool("retryable", cerr.Retryable),
				zap.Error(err))
			if cerr.Retryable {
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		err = m.completionError(ctx, p, err)
		if !errors.Is(err, context.Canceled) {
			m.tracker.RecordLatency(p.Name(), time.Since(start))
		}
		return nil, calls, err
	}
	return result, calls, nil
}

// completionError makes sure the terminal error of a call sequence is a
// CompletionError. A context error from the retry wait is reported as a
// non-retryable cancellation.
func (m *Manager) completionError(ctx context.Context, p providers.Provider, err error) error {
	var cerr *models.CompletionError
	if errors.As(err, &cerr) {
		return err
	}
	if ctx.Err() != nil {
		cerr = models.NewCompletionError(models.KindNetworkError, "request cancelled", false, err)
	} else {
		cerr = models.AsCompletionError(err)
	}
	cerr.Provider = p.Name()
	return cerr
}

// recordFailure updates health and spend for a failed call sequence.
func (m *Manager) recordFailure(ctx context.Context, p providers.Provider, err error) {
	cerr := models.AsCompletionError(err)
	if cerr.Cost > 0 {
		m.governor.Record(context.WithoutCancel(ctx), cerr.Cost)
		m.metrics.RecordSpend(m.governor.Total())
		m.statsMu.Lock()
		m.stats.TotalCost += cerr.Cost
		m.statsMu.Unlock()
	}

	// The caller going away says nothing about the provider.
	if errors.Is(err, context.Canceled) {
		return
	}

	h := m.tracker.RecordFailure(p.Name())
	m.metrics.RecordProviderHealth(p.Name(), h.Available, h.ErrorCount)
	if !h.Available {
		m.logger.Warn("Provider marked unavailable",
			zap.String("provider", p.Name()),
			zap.Int("error_count", h.ErrorCount))
	}
}

func (m *Manager) succeed(ctx context.Context, p providers.Provider, req models.CompletionRequest, result *models.CompletionResult, attempts int, fallback bool) {
	result.Attempts = attempts
	result.Fallback = fallback

	m.tracker.RecordLatency(p.Name(), result.Latency)
	m.governor.Record(context.WithoutCancel(ctx), result.Cost)

	m.statsMu.Lock()
	m.stats.SuccessfulRequests++
	m.stats.TotalTokens += int64(result.TokensUsed)
	m.stats.TotalCost += result.Cost
	if m.stats.AverageLatency == 0 {
		m.stats.AverageLatency = result.Latency
	} else {
		m.stats.AverageLatency += (result.Latency - m.stats.AverageLatency) / time.Duration(m.stats.SuccessfulRequests)
	}
	if fallback {
		m.stats.Fallbacks++
	}
	m.statsMu.Unlock()

	h := m.tracker.Get(p.Name())
	m.metrics.RecordProviderHealth(p.Name(), h.Available, h.ErrorCount)
	m.metrics.RecordCompletion(ctx, p.Name(), result.Model, "success", result.TokensUsed, result.Latency)
	m.metrics.RecordSpend(m.governor.Total())

	m.logger.Info("Completion succeeded",
		zap.String("request_id", req.RequestID),
		zap.String("provider", p.Name()),
		zap.String("model", result.Model),
		zap.Int("tokens", result.TokensUsed),
		zap.Float64("cost", result.Cost),
		zap.Duration("latency", result.Latency),
		zap.Int("attempts", attempts),
		zap.Bool("fallback", fallback))

	m.logUsage(ctx, &billing.UsageRecord{
		RequestID:  req.RequestID,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Provider:   p.Name(),
		Model:      result.Model,
		TokensUsed: result.TokensUsed,
		CostUSD:    result.Cost,
		LatencyMs:  result.Latency.Milliseconds(),
		Fallback:   fallback,
	})
}

func (m *Manager) fail(ctx context.Context, p providers.Provider, req models.CompletionRequest, err error, fallback bool) {
	m.countFailure()

	cerr := models.AsCompletionError(err)
	m.metrics.RecordCompletion(ctx, p.Name(), req.Model, cerr.Kind.String(), 0, 0)
	m.logger.Error("Completion failed",
		zap.String("request_id", req.RequestID),
		zap.String("provider", p.Name()),
		zap.String("kind", cerr.Kind.String()),
		zap.Bool("retryable", cerr.Retryable),
		zap.Error(err))

	m.logUsage(ctx, &billing.UsageRecord{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Provider:  p.Name(),
		Model:     req.Model,
		CostUSD:   cerr.Cost,
		Fallback:  fallback,
		ErrorKind: cerr.Kind.String(),
	})
}

func (m *Manager) countFailure() {
	m.statsMu.Lock()
	m.stats.Errors++
	m.statsMu.Unlock()
}

func (m *Manager) logUsage(ctx context.Context, record *billing.UsageRecord) {
	if m.usage == nil {
		return
	}
	if err := m.usage.LogUsage(context.WithoutCancel(ctx), record); err != nil {
		m.logger.Warn("Failed to log usage",
			zap.String("request_id", record.RequestID),
			zap.Error(err))
	}
}

// PerformHealthCheck probes every provider concurrently with a minimal
// request. Failures are logged and recorded, never returned.
func (m *Manager) PerformHealthCheck(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range m.Providers() {
		wg.Add(1)
		go func(p providers.Provider) {
			defer wg.Done()
			m.probe(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (m *Manager) probe(ctx context.Context, p providers.Provider) {
	name := p.Name()
	if !p.IsAvailable() {
		h := m.tracker.RecordFailure(name)
		m.metrics.RecordProviderHealth(name, h.Available, h.ErrorCount)
		m.logger.Warn("Health probe skipped, provider not configured", zap.String("provider", name))
		return
	}

	maxTokens := probeMaxTokens
	req := models.CompletionRequest{
		Prompt:    probePrompt,
		MaxTokens: &maxTokens,
		RequestID: "health-" + uuid.NewString(),
	}

	start := time.Now()
	result, err := p.GenerateResponse(ctx, req)
	latency := time.Since(start)

	var h models.ProviderHealth
	if err != nil {
		if cost := models.AsCompletionError(err).Cost; cost > 0 {
			m.governor.Record(context.WithoutCancel(ctx), cost)
		}
		h = m.tracker.RecordProbeFailure(name, latency)
		m.logger.Warn("Health probe failed",
			zap.String("provider", name),
			zap.Duration("latency", latency),
			zap.Int("error_count", h.ErrorCount),
			zap.Bool("available", h.Available),
			zap.Error(err))
	} else {
		m.governor.Record(context.WithoutCancel(ctx), result.Cost)
		h = m.tracker.RecordProbeSuccess(name, latency)
		m.logger.Debug("Health probe succeeded",
			zap.String("provider", name),
			zap.Duration("latency", latency),
			zap.Int("error_count", h.ErrorCount))
	}
	m.metrics.RecordProviderHealth(name, h.Available, h.ErrorCount)
	m.metrics.RecordSpend(m.governor.Total())
}

// Stats returns a snapshot of the aggregated statistics.
func (m *Manager) Stats() models.ManagerStats {
	m.statsMu.Lock()
	stats := m.stats
	m.statsMu.Unlock()

	stats.Providers = make(map[string]models.ProviderStats)
	for _, p := range m.Providers() {
		stats.Providers[p.Name()] = p.Stats()
	}
	return stats
}

// ResetStats clears the manager and provider counters. Health state and the
// governor's running total are kept.
func (m *Manager) ResetStats() {
	m.statsMu.Lock()
	m.stats = models.ManagerStats{}
	m.statsMu.Unlock()

	for _, p := range m.Providers() {
		p.ResetStats()
	}
}

// Health returns the health of every registered provider.
func (m *Manager) Health() map[string]models.ProviderHealth {
	recorded := m.tracker.All()
	out := make(map[string]models.ProviderHealth)
	for _, p := range m.Providers() {
		h, ok := recorded[p.Name()]
		if !ok {
			h = m.tracker.Get(p.Name())
		}
		out[p.Name()] = h
	}
	return out
}

// ProviderHealth returns the health of one registered provider.
func (m *Manager) ProviderHealth(name string) (models.ProviderHealth, error) {
	if _, err := m.Provider(name); err != nil {
		return models.ProviderHealth{}, err
	}
	return m.tracker.Get(name), nil
}

// CostEstimate estimates the request against the provider it would be
// routed to. It has no side effects.
func (m *Manager) CostEstimate(req models.CompletionRequest) (models.Estimate, error) {
	if verr := providers.ValidateRequest(req); verr != nil {
		return models.Estimate{}, verr
	}
	p, _, err := m.selectProvider(&req, "")
	if err != nil {
		return models.Estimate{}, err
	}
	cost, err := p.CostEstimate(req)
	if err != nil {
		return models.Estimate{}, err
	}
	return models.Estimate{
		Provider:     p.Name(),
		Cost:         cost,
		WithinBudget: m.governor.CheckBudget(cost),
	}, nil
}

// SpentTotal returns the governor's running total.
func (m *Manager) SpentTotal() float64 {
	return m.governor.Total()
}

// Governor returns the cost governor.
func (m *Manager) Governor() *budget.Governor {
	return m.governor
}

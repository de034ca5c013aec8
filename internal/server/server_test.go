package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/semantrix/semaroute-router/internal/config"
	"github.com/semantrix/semaroute-router/internal/models"
	"github.com/semantrix/semaroute-router/internal/providers"
	"github.com/semantrix/semaroute-router/internal/router"
	v1 "github.com/semantrix/semaroute-router/pkg/api/v1"
)

const upstreamResponse = `{"id":"cmpl-1","model":"tiny","choices":[{"message":{"role":"assistant","content":"hey"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`

type upstream struct {
	*httptest.Server
	status atomic.Int32
	calls  atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.status.Store(http.StatusOK)
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		if code := int(u.status.Load()); code != http.StatusOK {
			http.Error(w, `{"error":{"message":"upstream failure"}}`, code)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, upstreamResponse)
	}))
	t.Cleanup(u.Server.Close)
	return u
}

func testConfig(baseURL string) *config.Config {
	rc := router.DefaultConfig()
	rc.RetryDelay = time.Millisecond
	rc.MaxRetries = 1

	cfg := &config.Config{Router: rc}
	cfg.Server.ShutdownTimeout = time.Second
	cfg.HealthCheck.Timeout = time.Second
	cfg.Providers = map[string]providers.ProviderConfig{}
	if baseURL != "" {
		cfg.Providers["local"] = providers.ProviderConfig{
			Name:    "local",
			Type:    "compatible",
			BaseURL: baseURL,
			Enabled: true,
			Models:  []models.ModelSpec{{Name: "tiny", MaxTokens: 32, CostPerToken: 0.000001}},
		}
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	rt, err := BootstrapWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(context.Background()) })
	return newServer(cfg, rt, "test")
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_Completion(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	rec := do(t, s, http.MethodPost, "/v1/completions", `{"prompt":"Hello","max_tokens":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[v1.CompletionResponse](t, rec)
	assert.Equal(t, "hey", resp.Text)
	assert.Equal(t, "local", resp.Provider)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.Usage.FinishReason)
	assert.InDelta(t, 7e-6, resp.Cost, 1e-12)
	assert.Equal(t, 1, resp.Attempts)
	assert.False(t, resp.Fallback)
	assert.NotEmpty(t, resp.RequestID)
	assert.EqualValues(t, 1, up.calls.Load())
}

func TestServer_CompletionKeepsRequestID(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(`{"prompt":"Hello"}`))
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", decode[v1.CompletionResponse](t, rec).RequestID)
}

func TestServer_CompletionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		upstream   int
		costLimit  float64
		wantStatus int
		wantType   string
		wantCalls  int32
	}{
		{
			name:       "malformed body",
			body:       `{"prompt":`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request",
		},
		{
			name:       "empty prompt",
			body:       `{"prompt":""}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request",
		},
		{
			name:       "unknown model",
			body:       `{"prompt":"Hello","model":"huge"}`,
			wantStatus: http.StatusServiceUnavailable,
			wantType:   "model_unavailable",
		},
		{
			name:       "over budget",
			body:       `{"prompt":"Hello","max_tokens":10}`,
			costLimit:  0.000001,
			wantStatus: http.StatusPaymentRequired,
			wantType:   "quota_exceeded",
		},
		{
			name:       "upstream rejects key",
			body:       `{"prompt":"Hello"}`,
			upstream:   http.StatusUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantType:   "authentication",
			wantCalls:  1,
		},
		{
			name:       "upstream rate limits",
			body:       `{"prompt":"Hello"}`,
			upstream:   http.StatusTooManyRequests,
			wantStatus: http.StatusTooManyRequests,
			wantType:   "rate_limit",
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newUpstream(t)
			if tt.upstream != 0 {
				up.status.Store(int32(tt.upstream))
			}
			cfg := testConfig(up.URL)
			if tt.costLimit != 0 {
				cfg.Router.CostLimit = tt.costLimit
			}
			s := newTestServer(t, cfg)

			rec := do(t, s, http.MethodPost, "/v1/completions", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			resp := decode[v1.ErrorResponse](t, rec)
			assert.Equal(t, tt.wantType, resp.Error.Type)
			assert.NotEmpty(t, resp.Error.Message)
			assert.NotEmpty(t, resp.RequestID)
			assert.Equal(t, tt.wantCalls, up.calls.Load())
		})
	}
}

func TestServer_Estimate(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	rec := do(t, s, http.MethodPost, "/v1/completions/estimate", `{"prompt":"Hello","max_tokens":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[v1.EstimateResponse](t, rec)
	assert.Equal(t, "local", resp.Provider)
	assert.InDelta(t, 12e-6, resp.Cost, 1e-12)
	assert.True(t, resp.WithinBudget)
	assert.Zero(t, resp.Spent)
	assert.InDelta(t, 100.0, resp.Remaining, 1e-9)
	assert.Zero(t, up.calls.Load(), "estimating never contacts the provider")
}

func TestServer_Models(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	rec := do(t, s, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[v1.ModelsResponse](t, rec)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, []string{"local"}, resp.Providers)
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "tiny", resp.Models[0].ID)
	assert.Equal(t, 32, resp.Models[0].MaxTokens)
}

func TestServer_StatsAndReset(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/completions", `{"prompt":"Hello"}`).Code)

	stats := decode[v1.StatsResponse](t, do(t, s, http.MethodGet, "/v1/stats", ""))
	assert.EqualValues(t, 1, stats.TotalRequests)
	assert.EqualValues(t, 1, stats.SuccessfulRequests)
	assert.EqualValues(t, 7, stats.TotalTokens)
	assert.InDelta(t, 7e-6, stats.Spent, 1e-12)
	assert.Equal(t, 100.0, stats.CostLimit)
	assert.EqualValues(t, 1, stats.Providers["local"].Requests)

	rec := do(t, s, http.MethodPost, "/v1/stats/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[v1.StatsResponse](t, rec)
	assert.Zero(t, reset.TotalRequests)
	assert.Zero(t, reset.Providers["local"].Requests)
	assert.InDelta(t, 7e-6, reset.Spent, 1e-12, "resetting stats keeps the spend total")
}

func TestServer_Health(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[v1.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	require.Contains(t, resp.Providers, "local")
	assert.Equal(t, "healthy", resp.Providers["local"].Status)
	assert.True(t, resp.Providers["local"].Configured)
}

func TestServer_HealthDegradedWithoutProviders(t *testing.T) {
	s := newTestServer(t, testConfig(""))

	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[v1.HealthResponse](t, rec).Status)
}

func TestServer_AdminProviders(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	resp := decode[v1.ProvidersResponse](t, do(t, s, http.MethodGet, "/admin/providers", ""))
	assert.Equal(t, "health_score", resp.RoutingPolicy)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "local", resp.Providers[0].Name)
	assert.Equal(t, []string{"tiny"}, resp.Providers[0].Models)

	rec := do(t, s, http.MethodGet, "/admin/providers/local/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[v1.ProviderHealth](t, rec).Status)

	rec = do(t, s, http.MethodGet, "/admin/providers/nobody/health", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[v1.ErrorResponse](t, rec).Error.Type)
}

func TestServer_AdminProvidersFailoverOrder(t *testing.T) {
	up := newUpstream(t)
	cfg := testConfig(up.URL)
	cfg.Router.RoutingPolicy = "failover"
	cfg.Router.FailoverOrder = []string{"local", "backup", "local"}
	s := newTestServer(t, cfg)

	resp := decode[v1.ProvidersResponse](t, do(t, s, http.MethodGet, "/admin/providers", ""))
	assert.Equal(t, "failover", resp.RoutingPolicy)
	assert.Equal(t, "local", resp.PrimaryProvider)
	assert.Equal(t, []string{"backup"}, resp.BackupProviders)

	plain := newTestServer(t, testConfig(up.URL))
	rec := do(t, plain, http.MethodGet, "/admin/providers", "")
	assert.NotContains(t, rec.Body.String(), "primary_provider")
}

func TestServer_ForceHealthCheck(t *testing.T) {
	up := newUpstream(t)
	up.status.Store(http.StatusInternalServerError)
	s := newTestServer(t, testConfig(up.URL))

	rec := do(t, s, http.MethodPost, "/admin/health-check", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, up.calls.Load())

	resp := decode[map[string]v1.ProviderHealth](t, rec)
	assert.Equal(t, 1, resp["local"].ErrorCount)

	rounds, _ := s.healthChecker.Rounds()
	assert.EqualValues(t, 1, rounds)
}

func TestServer_Metrics(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, testConfig(up.URL))

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/completions", `{"prompt":"Hello"}`).Code)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `semaroute_http_requests_total{method="POST",route="/v1/completions",status_code="200"} 1`)
	assert.Contains(t, body, "semaroute_completions_total")
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForKind(models.KindInvalidRequest))
	assert.Equal(t, http.StatusUnauthorized, statusForKind(models.KindAuthentication))
	assert.Equal(t, http.StatusPaymentRequired, statusForKind(models.KindQuotaExceeded))
	assert.Equal(t, http.StatusTooManyRequests, statusForKind(models.KindRateLimit))
	assert.Equal(t, http.StatusServiceUnavailable, statusForKind(models.KindModelUnavailable))
	assert.Equal(t, http.StatusBadGateway, statusForKind(models.KindNetworkError))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(models.KindUnknown))
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/semantrix/semaroute-router/internal/models"
	"github.com/semantrix/semaroute-router/internal/providers"
	"github.com/semantrix/semaroute-router/internal/router"
	"github.com/semantrix/semaroute-router/internal/router/policies"
	v1 "github.com/semantrix/semaroute-router/pkg/api/v1"
)

const (
	statusHealthy      = "healthy"
	statusUnhealthy    = "unhealthy"
	statusUnconfigured = "unconfigured"
	statusDegraded     = "degraded"
)

// handleHealthCheck reports the service status and the health of every
// provider. It answers 503 when no provider can serve traffic.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := s.manager.Health()
	apiProviderHealth := make(map[string]v1.ProviderHealth)
	serving := 0
	for _, p := range s.manager.Providers() {
		ph := s.providerHealth(p, health[p.Name()])
		if ph.Status == statusHealthy {
			serving++
		}
		apiProviderHealth[p.Name()] = ph
	}

	response := v1.HealthResponse{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Version:   s.version,
		Providers: apiProviderHealth,
	}

	status := http.StatusOK
	if serving == 0 {
		response.Status = statusDegraded
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, response)
}

// handleCompletion routes a completion request through the manager.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCompletionRequest(w, r)
	if !ok {
		return
	}

	result, err := s.manager.GenerateResponse(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, v1.CompletionResponse{
		ID:       result.ID,
		Text:     result.Text,
		Model:    result.Model,
		Provider: result.Provider,
		Usage: v1.Usage{
			PromptTokens:     result.Metadata.PromptTokens,
			CompletionTokens: result.Metadata.CompletionTokens,
			TotalTokens:      result.TokensUsed,
			FinishReason:     result.Metadata.FinishReason,
		},
		Cost:      result.Cost,
		LatencyMs: result.Latency.Milliseconds(),
		Fallback:  result.Fallback,
		Attempts:  result.Attempts,
		Created:   result.Timestamp,
		RequestID: req.RequestID,
	})
}

// handleEstimate returns the cost of a request against the provider it
// would be routed to, without dispatching it.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCompletionRequest(w, r)
	if !ok {
		return
	}

	estimate, err := s.manager.CostEstimate(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	governor := s.manager.Governor()
	s.writeJSON(w, http.StatusOK, v1.EstimateResponse{
		Provider:     estimate.Provider,
		Cost:         estimate.Cost,
		WithinBudget: estimate.WithinBudget,
		Spent:        governor.Total(),
		Remaining:    governor.Remaining(),
	})
}

// handleGetModels lists the models of every registered provider.
func (s *Server) handleGetModels(w http.ResponseWriter, r *http.Request) {
	response := v1.ModelsResponse{Models: []v1.ModelInfo{}, Providers: []string{}}
	for _, p := range s.manager.Providers() {
		response.Providers = append(response.Providers, p.Name())
		for _, spec := range p.Models() {
			response.Models = append(response.Models, v1.ModelInfo{
				ID:           spec.Name,
				Provider:     p.Name(),
				MaxTokens:    spec.MaxTokens,
				Temperature:  spec.Temperature,
				CostPerToken: spec.CostPerToken,
			})
		}
	}
	response.Total = len(response.Models)
	s.writeJSON(w, http.StatusOK, response)
}

// handleGetStats returns the aggregated request statistics.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.statsResponse())
}

// handleResetStats clears the counters and returns the fresh snapshot.
func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.manager.ResetStats()
	s.logger.Info("Statistics reset", zap.String("request_id", middleware.GetReqID(r.Context())))
	s.writeJSON(w, http.StatusOK, s.statsResponse())
}

// handleGetProviders lists the registered providers with their health.
func (s *Server) handleGetProviders(w http.ResponseWriter, r *http.Request) {
	health := s.manager.Health()
	response := v1.ProvidersResponse{
		Providers:     []v1.ProviderInfo{},
		RoutingPolicy: s.manager.Policy().Name(),
	}
	if failover, ok := s.manager.Policy().(*policies.FailoverPolicy); ok {
		response.PrimaryProvider = failover.PrimaryProvider()
		response.BackupProviders = failover.BackupProviders()
	}
	for _, p := range s.manager.Providers() {
		info := v1.ProviderInfo{
			Name:   p.Name(),
			Health: s.providerHealth(p, health[p.Name()]),
			Models: []string{},
		}
		for _, spec := range p.Models() {
			info.Models = append(info.Models, spec.Name)
		}
		response.Providers = append(response.Providers, info)
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleGetProviderHealth returns the health of a single provider.
func (s *Server) handleGetProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	p, err := s.manager.Provider(name)
	if errors.Is(err, router.ErrProviderNotFound) {
		s.writeErrorDetails(w, r, http.StatusNotFound, v1.ErrorDetails{
			Type:    "not_found",
			Message: err.Error(),
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h, err := s.manager.ProviderHealth(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.providerHealth(p, h))
}

// handleForceHealthCheck runs a probe round immediately and returns the
// resulting provider health.
func (s *Server) handleForceHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.healthChecker.ForceHealthCheck()

	response := make(map[string]v1.ProviderHealth)
	health := s.manager.Health()
	for _, p := range s.manager.Providers() {
		response[p.Name()] = s.providerHealth(p, health[p.Name()])
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) decodeCompletionRequest(w http.ResponseWriter, r *http.Request) (models.CompletionRequest, bool) {
	var apiReq v1.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&apiReq); err != nil {
		s.logger.Debug("Failed to decode request", zap.Error(err))
		s.writeErrorDetails(w, r, http.StatusBadRequest, v1.ErrorDetails{
			Type:    models.KindInvalidRequest.String(),
			Message: "invalid request body: " + err.Error(),
		})
		return models.CompletionRequest{}, false
	}

	requestID := apiReq.RequestID
	if requestID == "" {
		requestID = middleware.GetReqID(r.Context())
	}

	return models.CompletionRequest{
		Prompt:       apiReq.Prompt,
		Provider:     apiReq.Provider,
		Model:        apiReq.Model,
		MaxTokens:    apiReq.MaxTokens,
		Temperature:  apiReq.Temperature,
		SystemPrompt: apiReq.SystemPrompt,
		Context:      apiReq.Context,
		UserID:       apiReq.User,
		SessionID:    apiReq.SessionID,
		RequestID:    requestID,
	}, true
}

func (s *Server) statsResponse() v1.StatsResponse {
	stats := s.manager.Stats()
	governor := s.manager.Governor()

	response := v1.StatsResponse{
		TotalRequests:      stats.TotalRequests,
		SuccessfulRequests: stats.SuccessfulRequests,
		Errors:             stats.Errors,
		TotalTokens:        stats.TotalTokens,
		TotalCost:          stats.TotalCost,
		AverageLatencyMs:   stats.AverageLatency.Milliseconds(),
		Fallbacks:          stats.Fallbacks,
		Spent:              governor.Total(),
		CostLimit:          governor.Limit(),
		Providers:          make(map[string]v1.ProviderStats, len(stats.Providers)),
		Timestamp:          time.Now(),
	}
	if stats.TotalRequests > 0 {
		response.ErrorRate = float64(stats.Errors) / float64(stats.TotalRequests)
	}
	for name, ps := range stats.Providers {
		response.Providers[name] = v1.ProviderStats{
			Requests:         ps.Requests,
			Tokens:           ps.Tokens,
			Cost:             ps.Cost,
			Errors:           ps.Errors,
			AverageLatencyMs: ps.AverageLatency.Milliseconds(),
			LastUsed:         ps.LastUsed,
		}
	}
	return response
}

func (s *Server) providerHealth(p providers.Provider, h models.ProviderHealth) v1.ProviderHealth {
	status := statusHealthy
	switch {
	case !p.IsAvailable():
		status = statusUnconfigured
	case !h.Available:
		status = statusUnhealthy
	}
	return v1.ProviderHealth{
		Status:     status,
		Configured: p.IsAvailable(),
		ErrorCount: h.ErrorCount,
		LatencyMs:  h.AverageLatency.Milliseconds(),
		LastCheck:  h.LastCheck,
	}
}

// statusForKind maps an error kind onto the HTTP status returned to clients.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidRequest:
		return http.StatusBadRequest
	case models.KindAuthentication:
		return http.StatusUnauthorized
	case models.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case models.KindRateLimit:
		return http.StatusTooManyRequests
	case models.KindModelUnavailable:
		return http.StatusServiceUnavailable
	case models.KindNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	cerr := models.AsCompletionError(err)
	status := statusForKind(cerr.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
	}
	s.writeErrorDetails(w, r, status, v1.ErrorDetails{
		Type:       cerr.Kind.String(),
		Message:    cerr.Message,
		Provider:   cerr.Provider,
		StatusCode: cerr.StatusCode,
		Retryable:  cerr.Retryable,
	})
}

func (s *Server) writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, details v1.ErrorDetails) {
	if details.StatusCode == 0 {
		details.StatusCode = status
	}
	s.writeJSON(w, status, v1.ErrorResponse{
		Error:     details,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

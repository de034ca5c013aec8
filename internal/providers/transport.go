package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/semantrix/semaroute-router/internal/models"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 2048

// wireResult is the provider-independent view of a decoded response.
type wireResult struct {
	ID               string
	Text             string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type wireCall func(ctx context.Context, spec models.ModelSpec) (*wireResult, error)

// execute runs the request lifecycle shared by every adapter: validation,
// model resolution, the wire call, normalization and stats.
func (p *BaseProvider) execute(ctx context.Context, req models.CompletionRequest, call wireCall) (*models.CompletionResult, error) {
	if err := p.ValidateRequest(req); err != nil {
		return nil, err
	}
	spec, err := p.ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	wire, err := call(ctx, spec)
	latency := time.Since(start)
	if err != nil {
		p.RecordOutcome(nil, latency, err)
		return nil, err
	}

	result := p.normalize(req, spec, wire, latency)
	p.RecordOutcome(result, latency, nil)
	return result, nil
}

// normalize converts a wire result into a CompletionResult. When the usage
// block is missing the token count falls back to the chars/4 estimate.
func (p *BaseProvider) normalize(req models.CompletionRequest, spec models.ModelSpec, wire *wireResult, latency time.Duration) *models.CompletionResult {
	promptTokens := wire.PromptTokens
	completionTokens := wire.CompletionTokens
	total := wire.TotalTokens
	if total == 0 {
		total = promptTokens + completionTokens
	}
	if total == 0 {
		promptTokens = EstimateTokens(req.SystemText()) + EstimateTokens(req.Prompt)
		completionTokens = EstimateTokens(wire.Text)
		total = promptTokens + completionTokens
	}

	id := wire.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &models.CompletionResult{
		ID:         id,
		Text:       wire.Text,
		Model:      spec.Name,
		Provider:   p.Name(),
		TokensUsed: total,
		Cost:       float64(total) * spec.CostPerToken,
		Latency:    latency,
		Timestamp:  time.Now(),
		Metadata: models.ResultMetadata{
			FinishReason:     wire.FinishReason,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
		},
	}
}

// postJSON sends body to url and decodes a 2xx response into out. Non-2xx
// statuses are mapped through models.KindForStatus.
func (p *BaseProvider) postJSON(ctx context.Context, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return p.newError(models.KindInvalidRequest, "failed to encode request", false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return p.newError(models.KindInvalidRequest, "failed to build request", false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return p.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.NewStatusError(p.Name(), resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return p.transportError(ctx, err)
		}
		return p.newError(models.KindUnknown, fmt.Sprintf("failed to decode %s response", p.Name()), false, err)
	}
	return nil
}

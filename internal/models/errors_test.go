package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{401, KindAuthentication, false},
		{429, KindRateLimit, true},
		{400, KindInvalidRequest, false},
		{402, KindQuotaExceeded, false},
		{503, KindModelUnavailable, true},
		{500, KindNetworkError, true},
		{502, KindNetworkError, true},
		{504, KindNetworkError, true},
		{403, KindNetworkError, false},
		{404, KindNetworkError, false},
		{302, KindNetworkError, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			kind, retryable := KindForStatus(tt.status)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestCompletionError_ErrorsAs(t *testing.T) {
	base := NewStatusError("openai", 429, "slow down")
	wrapped := fmt.Errorf("calling provider: %w", base)

	var cerr *CompletionError
	require.True(t, errors.As(wrapped, &cerr))
	assert.Equal(t, KindRateLimit, cerr.Kind)
	assert.True(t, IsRetryable(wrapped))
	assert.Contains(t, cerr.Error(), "openai: rate_limit")
}

func TestAsCompletionError_Plain(t *testing.T) {
	cerr := AsCompletionError(errors.New("boom"))
	assert.Equal(t, KindUnknown, cerr.Kind)
	assert.False(t, cerr.Retryable)
	assert.Nil(t, AsCompletionError(nil))
}

func TestCompletionRequest_Messages(t *testing.T) {
	req := CompletionRequest{Prompt: "Hello", SystemPrompt: "Be brief", Context: "docs"}
	msgs := req.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Be brief\n\nContext:\ndocs", msgs[0].Content)
	assert.Equal(t, Message{Role: "user", Content: "Hello"}, msgs[1])

	plain := CompletionRequest{Prompt: "Hi"}.Messages()
	require.Len(t, plain, 1)
	assert.Equal(t, "user", plain[0].Role)
}

package infra

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	maindomain "github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionJSON(text string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": text},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
	})
	return string(b)
}

func newLLM(t *testing.T, h http.HandlerFunc) *LLMClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewLLMClient(LLMOptions{
		APIKey:      "sk-test",
		BaseURL:     srv.URL + "/v1",
		Model:       "gpt-4o",
		MaxParallel: 2,
		Resilience:  resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, CallTimeout: 2 * time.Second},
	}, observability.NewMetrics(), zap.NewNop())
}

func TestLLMClient_CompleteBuildsConversation(t *testing.T) {
	var got capturedRequest
	c := newLLM(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON("  Claro, tenemos mochilas.  ")))
	})

	out, err := c.Complete(context.Background(), &maindomain.CompletionRequest{
		SystemPrompt: "Eres un asistente de ventas.",
		History: []maindomain.HistoryEntry{
			{Role: maindomain.RoleUser, Content: "hola"},
			{Role: maindomain.RoleAssistant, Content: "¡Hola!"},
		},
		UserText:  "¿tienen mochilas?",
		MaxTokens: 150,
	})
	require.NoError(t, err)
	assert.Equal(t, "Claro, tenemos mochilas.", out)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 150, got.MaxTokens)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "¿tienen mochilas?", got.Messages[3].Content)
}

func TestLLMClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newLLM(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionJSON("ok")))
	})

	out, err := c.Complete(context.Background(), &maindomain.CompletionRequest{UserText: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLLMClient_BadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := newLLM(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
	})

	_, err := c.Complete(context.Background(), &maindomain.CompletionRequest{UserText: "x"})
	var ext *maindomain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "llm", ext.Service)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLLMClient_NoChoicesIsError(t *testing.T) {
	c := newLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[],"usage":{}}`))
	})

	_, err := c.Complete(context.Background(), &maindomain.CompletionRequest{UserText: "x"})
	assert.Error(t, err)
}

package infra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	maindomain "github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// tracer is the OpenTelemetry tracer for chat/infra.
var tracer = otel.Tracer("chat/infra")

// ============================================================
// LLMClient: chat completions over an OpenAI-compatible API
// ============================================================
//
// Every free-form answer, the product-name extraction and the optional
// selection fallback go through Complete. The request is assembled as:
//
//	system prompt → history window (oldest first) → current user text
//
// The client owns a breaker and a bulkhead so a slow provider cannot pile
// up goroutines behind the per-sender lanes.

// LLMOptions configures NewLLMClient.
type LLMOptions struct {
	APIKey      string
	BaseURL     string // empty → api.openai.com
	Model       string
	MaxParallel int
	HTTPClient  *http.Client
	Resilience  resilience.Config
}

// LLMClient implements port.LLMGateway with go-openai.
type LLMClient struct {
	api      *openai.Client
	model    string
	cb       *gobreaker.CircuitBreaker
	cfg      resilience.Config
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
}

var _ port.LLMGateway = (*LLMClient)(nil)

// NewLLMClient builds the gateway. Model defaults to gpt-4o.
func NewLLMClient(opts LLMOptions, metrics *observability.Metrics, logger *zap.Logger) *LLMClient {
	conf := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		conf.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		conf.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4o
	}
	return &LLMClient{
		api:      openai.NewClientWithConfig(conf),
		model:    model,
		cb:       resilience.NewCircuitBreaker("llm", logger),
		cfg:      opts.Resilience,
		bulkhead: resilience.NewBulkhead(opts.MaxParallel),
		metrics:  metrics,
		logger:   logger,
	}
}

// Complete sends one chat completion and returns the first choice's text.
//
// Flow:
//  1. Acquire a bulkhead slot (respects ctx)
//  2. Build the message list from the request
//  3. Call the provider behind breaker + retry, bounded by CallTimeout
//  4. Record token usage
//
// 4xx answers other than 429 are not retried.
func (c *LLMClient) Complete(ctx context.Context, req *maindomain.CompletionRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "LLMClient.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.history", len(req.History)),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	)

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return "", &maindomain.ErrTimeout{Operation: "llm/bulkhead"}
	}
	defer c.bulkhead.Release()

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	resp, err := resilience.Call(ctx, c.cb, c.cfg, "llm", func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		resp, err := c.api.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 &&
				apiErr.HTTPStatusCode != http.StatusTooManyRequests {
				return resp, resilience.Permanent(err)
			}
			return resp, err
		}
		if len(resp.Choices) == 0 {
			return resp, fmt.Errorf("llm returned no choices")
		}
		return resp, nil
	})
	if err != nil {
		c.metrics.IncrExternalError("llm")
		span.RecordError(err)
		c.logger.Warn("llm completion failed", zap.Error(err))
		return "", err
	}

	c.metrics.RecordTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	span.SetAttributes(attribute.Int("llm.tokens_total", resp.Usage.TotalTokens))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildMessages(req *maindomain.CompletionRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, h := range req.History {
		role := openai.ChatMessageRoleUser
		if h.Role == maindomain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: h.Content})
	}
	if req.UserText != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserText,
		})
	}
	return msgs
}

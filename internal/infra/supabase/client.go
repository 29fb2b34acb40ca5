// Package supabase is a SessionStore driver over the Supabase PostgREST
// API. It expects the tables created by the Postgres driver's migration.
package supabase

import (
	"context"
	"fmt"

	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

const (
	tableUsers    = "wabot_users"
	tableMessages = "wabot_messages"
	tableResults  = "wabot_search_results"
	tableOrders   = "wabot_orders"
)

// Config holds Supabase connection configuration.
type Config struct {
	URL        string
	APIKey     string
	Resilience resilience.Config
}

// Client wraps the Supabase client with a circuit breaker and retries.
type Client struct {
	client *supabase.Client
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
	logger *zap.Logger
}

// New creates a Supabase-backed session store.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client: client,
		cb:     resilience.NewCircuitBreaker("supabase", logger),
		cfg:    cfg.Resilience,
		logger: logger,
	}, nil
}

// run executes fn behind the breaker inside a span named after op. fn is
// retried, so it must be safe to repeat: reads, deletes, updates and upserts.
func (c *Client) run(ctx context.Context, op, senderID string, fn func() error) error {
	return c.call(ctx, op, senderID, fn)
}

// runOnce is run for writes a retry could duplicate or turn into a conflict.
func (c *Client) runOnce(ctx context.Context, op, senderID string, fn func() error) error {
	return c.call(ctx, op, senderID, func() error {
		return resilience.Permanent(fn())
	})
}

func (c *Client) call(ctx context.Context, op, senderID string, fn func() error) error {
	ctx, span := tracer.Start(ctx, "Supabase."+op, trace.WithAttributes(attribute.String("table.op", op)))
	defer span.End()

	_, err := resilience.Call(ctx, c.cb, c.cfg, "supabase/"+op, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("supabase: request failed",
			zap.String("op", op),
			zap.String("sender", senderID),
			zap.Error(err),
		)
	}
	return err
}

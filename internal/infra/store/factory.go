package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/supabase"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind names a SessionStore driver.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
	KindSupabase Kind = "supabase"
)

var (
	ErrUnknownKind   = errors.New("store: unknown driver")
	ErrInvalidConfig = errors.New("store: invalid driver configuration")
)

// Option configures NewStore.
type Option func(*options)

type options struct {
	redisClient *redis.Client
	redisURL    string
	ttl         time.Duration
	dsn         string
	supabaseURL string
	supabaseKey string
	resilience  resilience.Config
	logger      *zap.Logger
}

// WithRedisClient hands the Redis driver an existing client.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) { o.redisClient = client }
}

// WithRedisURL makes the Redis driver dial url.
func WithRedisURL(url string) Option {
	return func(o *options) { o.redisURL = url }
}

// WithTTL sets the idle expiry of Redis keys.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithDSN sets the Postgres connection string.
func WithDSN(dsn string) Option {
	return func(o *options) { o.dsn = dsn }
}

// WithSupabase sets the Supabase project URL and service role key.
func WithSupabase(url, key string) Option {
	return func(o *options) {
		o.supabaseURL = url
		o.supabaseKey = key
	}
}

// WithResilience sets retry parameters for remote drivers.
func WithResilience(cfg resilience.Config) Option {
	return func(o *options) { o.resilience = cfg }
}

// WithLogger sets the logger handed to drivers that log.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewStore builds the SessionStore named by kind.
func NewStore(kind Kind, opts ...Option) (port.SessionStore, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	switch kind {
	case KindMemory:
		return NewMemory(), nil

	case KindRedis:
		client := o.redisClient
		if client == nil {
			if o.redisURL == "" {
				return nil, fmt.Errorf("%w: redis needs a client or URL", ErrInvalidConfig)
			}
			ro, err := redis.ParseURL(o.redisURL)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			client = redis.NewClient(ro)
		}
		return NewRedis(client, o.ttl), nil

	case KindPostgres:
		if o.dsn == "" {
			return nil, fmt.Errorf("%w: postgres needs a DSN", ErrInvalidConfig)
		}
		return OpenPostgres(o.dsn)

	case KindSupabase:
		if o.supabaseURL == "" || o.supabaseKey == "" {
			return nil, fmt.Errorf("%w: supabase needs URL and key", ErrInvalidConfig)
		}
		return supabase.New(supabase.Config{
			URL:        o.supabaseURL,
			APIKey:     o.supabaseKey,
			Resilience: o.resilience,
		}, o.logger)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

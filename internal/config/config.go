package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Deployment profile: business, guided or personal
	Profile       string `env:"PROFILE" envDefault:"business"`
	BusinessName  string `env:"BUSINESS_NAME" envDefault:"la tienda"`
	OwnerNumber   string `env:"OWNER_NUMBER"`
	SupportLine   string `env:"SUPPORT_LINE" envDefault:"+51 999 999 999"`
	OrderPrefix   string `env:"ORDER_PREFIX" envDefault:"PED"`
	SelectionMode string `env:"SELECTION_MODE" envDefault:"pattern"` // pattern | llm

	// Session store
	StoreDriver string        `env:"STORE_DRIVER" envDefault:"memory"` // memory | redis | postgres | supabase
	RedisURL    string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DatabaseURL string        `env:"DATABASE_URL"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	SupabaseURL string        `env:"SUPABASE_URL"`
	SupabaseKey string        `env:"SUPABASE_SERVICE_ROLE_KEY"`

	// Catalog service
	CatalogAPIURL       string        `env:"CATALOG_API_URL" envDefault:"http://localhost:3000"`
	CatalogDocumentCode string        `env:"CATALOG_DOCUMENT_CODE" envDefault:"CT0001"`
	GuidedProductCode   string        `env:"GUIDED_PRODUCT_CODE" envDefault:"TOL001"`
	CatalogPageSize     int           `env:"CATALOG_PAGE_SIZE" envDefault:"10"`
	GuidedRefreshEvery  time.Duration `env:"GUIDED_REFRESH_EVERY" envDefault:"30m"`

	// LLM
	OpenAIAPIKey   string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string        `env:"OPENAI_BASE_URL"`
	OpenAIModel    string        `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	LLMMaxParallel int           `env:"LLM_MAX_PARALLEL" envDefault:"8"`

	// HTTP client
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`

	// Resilience
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"2"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"200ms"`
	MaxConcurrency int           `env:"MAX_CONCURRENCY" envDefault:"50"`

	// Cache
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	// Twilio WhatsApp transport
	TwilioAccountSID     string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `env:"TWILIO_AUTH_TOKEN"`
	TwilioWhatsAppNumber string `env:"TWILIO_WHATSAPP_NUMBER"`
	TwilioWebhookURL     string `env:"TWILIO_WEBHOOK_URL"`

	// Shared secret for POST /webhook/events; empty leaves it unmounted
	BridgeSecret string `env:"BRIDGE_SECRET"`

	// Deferred follow-ups
	OffTopicMenuDelay time.Duration `env:"OFF_TOPIC_MENU_DELAY" envDefault:"1s"`
	LongChatMenuDelay time.Duration `env:"LONG_CHAT_MENU_DELAY" envDefault:"2s"`
	GuidedMenuDelay   time.Duration `env:"GUIDED_MENU_DELAY" envDefault:"5s"`
	GuidedCloserDelay time.Duration `env:"GUIDED_CLOSER_DELAY" envDefault:"5s"`
	GuidedIdleCloser  time.Duration `env:"GUIDED_IDLE_CLOSER" envDefault:"90s"`
	LongChatThreshold int           `env:"LONG_CHAT_THRESHOLD" envDefault:"10"`
	HistoryWindow     int           `env:"HISTORY_WINDOW" envDefault:"6"`

	// Observability
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Admin API
	AdminPasswordHash  string        `env:"ADMIN_PASSWORD_HASH"`
	JWTSecret          string        `env:"JWT_SECRET" envDefault:"wabot-default-dev-secret-change-me"`
	JWTAccessTTL       time.Duration `env:"JWT_ACCESS_TTL" envDefault:"1h"`
	DefaultCountryCode string        `env:"DEFAULT_COUNTRY_CODE" envDefault:"51"`
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot express.
func (c *Config) Validate() error {
	switch c.Profile {
	case "business", "guided", "personal":
	default:
		return fmt.Errorf("config: unknown PROFILE %q", c.Profile)
	}
	switch c.StoreDriver {
	case "memory", "redis", "postgres", "supabase":
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
	}
	if c.StoreDriver == "supabase" && (c.SupabaseURL == "" || c.SupabaseKey == "") {
		return fmt.Errorf("config: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY are required for the supabase store")
	}
	switch c.SelectionMode {
	case "pattern", "llm":
	default:
		return fmt.Errorf("config: unknown SELECTION_MODE %q", c.SelectionMode)
	}
	if c.HTTPTimeout <= 0 || c.LLMTimeout <= 0 {
		return fmt.Errorf("config: HTTP_TIMEOUT and LLM_TIMEOUT must be positive")
	}
	return nil
}

// OperatorAddress is the WhatsApp address that receives internal
// notifications. Empty when OWNER_NUMBER is not set.
func (c *Config) OperatorAddress() string {
	n := strings.TrimSpace(c.OwnerNumber)
	if n == "" {
		return ""
	}
	if strings.Contains(n, "@") || strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return n + "@c.us"
}

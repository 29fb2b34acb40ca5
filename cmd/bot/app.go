package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	chatinfra "github.com/boddenberg/wa-commerce-bot/internal/chat/infra"
	chatservice "github.com/boddenberg/wa-commerce-bot/internal/chat/service"
	"github.com/boddenberg/wa-commerce-bot/internal/config"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/client"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/deferred"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/lanes"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/store"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"go.uber.org/zap"
)

// loadConfig reads the dotenv file and the environment.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return config.Load()
}

// app is the conversation core shared by serve and console.
type app struct {
	store     port.SessionStore
	catalog   *client.CatalogClient
	lanes     *lanes.Dispatcher
	scheduler *deferred.Scheduler
	router    *chatservice.Router
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// buildApp wires store, catalog, LLM, lanes and the chat router around the
// given transport.
func buildApp(ctx context.Context, cfg *config.Config, st port.SessionStore, tr port.Transport,
	metrics *observability.Metrics, logger *zap.Logger) (*app, error) {

	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	var catalog port.CatalogGateway
	var catalogClient *client.CatalogClient
	if cfg.Profile != chatservice.ProfilePersonal {
		catalogClient = client.NewCatalogClient(client.CatalogOptions{
			BaseURL:      cfg.CatalogAPIURL,
			DocumentCode: cfg.CatalogDocumentCode,
			Timeout:      cfg.HTTPTimeout,
			CacheTTL:     cfg.CacheTTL,
			Resilience:   resilienceCfg,
		}, metrics, logger)
		catalog = catalogClient
	}

	llmCfg := resilienceCfg
	llmCfg.CallTimeout = cfg.LLMTimeout
	llm := chatinfra.NewLLMClient(chatinfra.LLMOptions{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		MaxParallel: cfg.LLMMaxParallel,
		HTTPClient:  &http.Client{Timeout: cfg.LLMTimeout},
		Resilience:  llmCfg,
	}, metrics, logger)

	dispatcher := lanes.New(ctx, int64(cfg.MaxConcurrency), logger)
	scheduler := deferred.New(dispatcher, metrics, logger)

	router, err := chatservice.NewRouter(chatservice.Deps{
		Store:     st,
		Catalog:   catalog,
		LLM:       llm,
		Transport: tr,
		Lanes:     dispatcher,
		Scheduler: scheduler,
	}, chatservice.SettingsFromConfig(cfg), metrics, logger)
	if err != nil {
		dispatcher.Stop()
		if catalogClient != nil {
			catalogClient.Close()
		}
		return nil, err
	}

	// The guided profile keeps its fallback product when this fails.
	if err := router.Refresh(ctx); err != nil {
		logger.Warn("initial catalog refresh failed", zap.Error(err))
	}

	return &app{
		store:     st,
		catalog:   catalogClient,
		lanes:     dispatcher,
		scheduler: scheduler,
		router:    router,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// openStore builds the configured session store.
func openStore(cfg *config.Config, logger *zap.Logger) (port.SessionStore, error) {
	return store.NewStore(store.Kind(cfg.StoreDriver),
		store.WithRedisURL(cfg.RedisURL),
		store.WithTTL(cfg.SessionTTL),
		store.WithDSN(cfg.DatabaseURL),
		store.WithSupabase(cfg.SupabaseURL, cfg.SupabaseKey),
		store.WithResilience(resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
		}),
		store.WithLogger(logger),
	)
}

// shutdown drops pending follow-ups, gives queued turns up to drain to
// finish and releases the store.
func (a *app) shutdown(drain time.Duration) {
	a.scheduler.Stop()
	if !a.lanes.WaitIdle(drain) {
		a.logger.Warn("lanes still busy at shutdown", zap.Int64("pending", a.lanes.Pending()))
	}
	a.lanes.Stop()
	if a.catalog != nil {
		a.catalog.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	chathandler "github.com/boddenberg/wa-commerce-bot/internal/chat/handler"
	"github.com/boddenberg/wa-commerce-bot/internal/handler"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/jobs"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/transport"
	"github.com/boddenberg/wa-commerce-bot/internal/port"
	"github.com/boddenberg/wa-commerce-bot/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the Twilio webhook",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("profile", cfg.Profile),
		zap.String("store", cfg.StoreDriver),
		zap.String("selection_mode", cfg.SelectionMode),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("llm_timeout", cfg.LLMTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Bool("operator_notifications", cfg.OperatorAddress() != ""),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "wabot")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Session store ---
	st, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	// --- Transport ---
	var tr port.Transport
	if cfg.TwilioAccountSID != "" {
		tr, err = transport.NewTwilio(transport.TwilioOptions{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioWhatsAppNumber,
			Timeout:    cfg.HTTPTimeout,
			Resilience: resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
			},
		}, metrics, logger)
		if err != nil {
			st.Close()
			return err
		}
	} else {
		logger.Warn("TWILIO_ACCOUNT_SID not set: outbound messages go to stdout")
		tr = transport.NewConsole(os.Stdout)
	}

	// --- Conversation core ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := buildApp(ctx, cfg, st, tr, metrics, logger)
	if err != nil {
		st.Close()
		return err
	}

	// --- Periodic jobs ---
	runner := jobs.New(cfg.HTTPTimeout, logger)
	if cfg.Profile == "guided" {
		if err := jobs.ScheduleRefresh(runner, "guided-product", cfg.GuidedRefreshEvery, core.router); err != nil {
			logger.Warn("guided product refresh not scheduled", zap.Error(err))
		}
	}
	runner.Start()

	// --- Admin ---
	auth := service.NewAdminAuth(cfg.AdminPasswordHash, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set: admin tokens cannot be issued")
	}
	messenger := service.NewMessenger(tr, st, cfg.DefaultCountryCode, logger)

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Events:    core.router,
		Profile:   cfg.Profile,
		Store:     st,
		Transport: tr,
		Auth:      auth,
		Messenger: messenger,
		Twilio: chathandler.TwilioOptions{
			AuthToken: cfg.TwilioAuthToken,
			PublicURL: cfg.TwilioWebhookURL,
		},
		BridgeSecret: cfg.BridgeSecret,
		Metrics:      metrics,
		Logger:       logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("profile", core.router.ProfileName()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err = <-serverErr:
		logger.Error("server failed", zap.Error(err))
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server forced shutdown", zap.Error(serr))
	}
	runner.Stop()
	core.shutdown(10 * time.Second)

	logger.Info("server stopped")
	return err
}

// Package handler wires the HTTP surface of the bot: operational endpoints,
// the inbound webhooks and the admin API.
package handler

import (
	"context"
	"net/http"
	"time"

	chathandler "github.com/boddenberg/wa-commerce-bot/internal/chat/handler"
	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/port"
	"github.com/boddenberg/wa-commerce-bot/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Deps are the collaborators the HTTP layer needs. Auth and Messenger are
// optional; without Auth the admin API is not mounted. The JSON events
// webhook is mounted only when BridgeSecret is set.
type Deps struct {
	Events       chathandler.EventRouter
	Profile      string
	Store        port.SessionStore
	Transport    port.Transport
	Auth         *service.AdminAuth
	Messenger    *service.Messenger
	Twilio       chathandler.TwilioOptions
	BridgeSecret string
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d))
	r.Get("/readyz", readyzHandler(d.Store))
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// --- Inbound webhooks ---
	if d.Events != nil {
		r.Post("/webhook/twilio", chathandler.TwilioWebhook(d.Events, d.Twilio, logger))
		if d.BridgeSecret != "" {
			r.Post("/webhook/events", chathandler.EventsWebhook(d.Events, d.BridgeSecret, logger))
		} else {
			logger.Info("events webhook disabled: no bridge secret configured")
		}
	}

	// --- Admin API ---
	if d.Auth != nil {
		r.Route("/api", func(r chi.Router) {
			// POST /api/auth/token
			r.Post("/auth/token", tokenHandler(d.Auth, logger))

			r.Group(func(r chi.Router) {
				r.Use(JWTAuthMiddleware(d.Auth, logger))

				// GET /api/auth/status
				r.Get("/auth/status", statusHandler(d.Transport, d.Profile))

				// POST /api/messages/send
				if d.Messenger != nil {
					r.Post("/messages/send", sendMessageHandler(d.Messenger, logger))
				}
			})
		})
	} else {
		logger.Warn("admin API disabled: no authenticator configured")
	}

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "wabot", Status: "healthy", LastChecked: now},
		}

		if d.Store != nil {
			start := time.Now()
			err := d.Store.Ping(ctx)
			svc := domain.ServiceHealth{
				Name: "store", Status: "healthy",
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			}
			if err != nil {
				svc.Status = "unhealthy"
				svc.Error = err.Error()
			}
			services = append(services, svc)
		}

		if d.Transport != nil {
			start := time.Now()
			st := d.Transport.Status(ctx)
			svc := domain.ServiceHealth{
				Name: "transport:" + st.Transport, Status: "healthy",
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			}
			if !st.Connected {
				svc.Status = "degraded"
			}
			services = append(services, svc)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Profile:  d.Profile,
			Services: services,
		})
	}
}

func readyzHandler(store port.SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/port"
	"github.com/boddenberg/wa-commerce-bot/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// POST /api/auth/token
// ============================================================

func tokenHandler(auth *service.AdminAuth, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/auth/token")
		defer span.End()

		var req domain.TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := auth.IssueToken(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// GET /api/auth/status
// ============================================================

type statusResponse struct {
	Subject   string                 `json:"subject"`
	Profile   string                 `json:"profile,omitempty"`
	Transport domain.TransportStatus `json:"transport"`
}

func statusHandler(transport port.Transport, profile string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/auth/status")
		defer span.End()

		resp := statusResponse{Subject: SubjectFromContext(ctx), Profile: profile}
		if transport != nil {
			resp.Transport = transport.Status(ctx)
		}
		span.SetAttributes(attribute.Bool("transport.connected", resp.Transport.Connected))
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// POST /api/messages/send
// ============================================================

func sendMessageHandler(m *service.Messenger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/messages/send")
		defer span.End()

		var req domain.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: expected {\"to\", \"text\"}")
			return
		}

		resp, err := m.Send(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("to", observability.MaskSender(resp.To)))
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// Package handler exposes the inbound side of the bot over HTTP.
//
// ============================================================
// WEBHOOKS
// ============================================================
//
// POST /webhook/twilio   → Twilio WhatsApp callback (form encoded)
//   - Signature checked with X-Twilio-Signature when an auth token is set
//   - One message per callback, mapped onto an InboundEvent
//   - Answers an empty TwiML document; replies go out through the REST API
//
// POST /webhook/events   → bridge transports posting the JSON event shape
//   - X-Bridge-Secret must carry the shared bridge secret
//   - Body: {"type": "notify", "messages": [...]}
//   - Answers 202 with the number of queued messages
//
// Both handlers only normalize and enqueue. The conversation runs on the
// sender's lane after the HTTP response is written.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/boddenberg/wa-commerce-bot/internal/chat/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/transport"

	"github.com/twilio/twilio-go/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("chat/handler")

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// EventRouter is the part of the router the webhooks need.
type EventRouter interface {
	HandleEvent(ctx context.Context, ev *domain.InboundEvent) int
}

// TwilioOptions configures the Twilio webhook.
type TwilioOptions struct {
	// AuthToken enables signature validation when set.
	AuthToken string
	// PublicURL is the URL Twilio calls, used to verify signatures behind
	// proxies. Empty means rebuild it from the request.
	PublicURL string
}

// TwilioWebhook handles POST /webhook/twilio.
func TwilioWebhook(router EventRouter, opts TwilioOptions, logger *zap.Logger) http.HandlerFunc {
	var validator *client.RequestValidator
	if opts.AuthToken != "" {
		v := client.NewRequestValidator(opts.AuthToken)
		validator = &v
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /webhook/twilio")
		defer span.End()

		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}

		if validator != nil {
			url := opts.PublicURL
			if url == "" {
				url = requestURL(r)
			}
			if !validator.Validate(url, params, r.Header.Get("X-Twilio-Signature")) {
				logger.Warn("twilio signature rejected", zap.String("url", url))
				writeError(w, http.StatusForbidden, "invalid signature")
				return
			}
		}

		msg := twilioMessage(params)
		span.SetAttributes(
			attribute.String("message.kind", string(msg.Kind)),
			attribute.String("message.sid", msg.ID),
		)

		// Handling continues on the sender's lane; the request context ends
		// with this response.
		router.HandleEvent(context.WithoutCancel(ctx), &domain.InboundEvent{
			Type:     domain.EventNotify,
			Messages: []domain.InboundMessage{msg},
		})

		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(emptyTwiML))
	}
}

// twilioMessage maps Twilio's callback parameters onto an inbound message.
func twilioMessage(p map[string]string) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:       p["MessageSid"],
		RemoteID: transport.SenderID(p["From"]),
		PushName: p["ProfileName"],
		Kind:     domain.KindText,
		Text:     p["Body"],
	}
	if p["From"] == "" {
		msg.RemoteID = ""
	}

	numMedia, _ := strconv.Atoi(p["NumMedia"])
	if numMedia == 0 {
		return msg
	}

	msg.MediaRef = p["MediaUrl0"]
	msg.MediaType = p["MediaContentType0"]
	caption := msg.Text
	msg.Text = ""

	switch mt := strings.ToLower(msg.MediaType); {
	case mt == "image/webp":
		msg.Kind = domain.KindSticker
	case strings.HasPrefix(mt, "image/"):
		msg.Kind = domain.KindImage
		msg.ImageCaption = caption
	case strings.HasPrefix(mt, "video/"):
		msg.Kind = domain.KindVideo
		msg.VideoCaption = caption
	case strings.HasPrefix(mt, "audio/"):
		msg.Kind = domain.KindAudio
	default:
		msg.Kind = domain.KindDocument
		msg.Text = caption
	}
	return msg
}

// requestURL rebuilds the absolute URL of r, honoring proxy headers.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
		host = fh
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// BridgeSecretHeader carries the shared secret of the JSON events webhook.
const BridgeSecretHeader = "X-Bridge-Secret"

// EventsWebhook handles POST /webhook/events. Requests without the shared
// secret are rejected before the body is read; an empty secret rejects
// everything.
func EventsWebhook(router EventRouter, secret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /webhook/events")
		defer span.End()

		if !validSecret(secret, r.Header.Get(BridgeSecretHeader)) {
			logger.Warn("events webhook: missing or invalid bridge secret",
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "invalid bridge secret")
			return
		}

		var ev domain.InboundEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: expected {\"type\": \"notify\", \"messages\": [...]}")
			return
		}
		if ev.Type == "" {
			writeError(w, http.StatusBadRequest, "type is required")
			return
		}

		queued := router.HandleEvent(context.WithoutCancel(ctx), &ev)
		span.SetAttributes(attribute.Int("messages.queued", queued))
		logger.Debug("inbound event accepted",
			zap.String("type", ev.Type),
			zap.Int("messages", len(ev.Messages)),
			zap.Int("queued", queued),
		)
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": queued})
	}
}

func validSecret(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

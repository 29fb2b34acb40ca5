package service

import (
	"context"
	"strings"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/transport"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var messengerTracer = otel.Tracer("service/messenger")

// Messenger sends operator-typed messages to customers. When the customer
// already has a session the text joins its history, so the model sees it
// on the next turn.
type Messenger struct {
	transport   port.Transport
	store       port.SessionStore
	countryCode string
	logger      *zap.Logger
}

// NewMessenger creates a messenger. countryCode is prefixed to local
// numbers (nine digits or fewer).
func NewMessenger(t port.Transport, store port.SessionStore, countryCode string, logger *zap.Logger) *Messenger {
	return &Messenger{transport: t, store: store, countryCode: countryCode, logger: logger}
}

// ============================================================
// Send: POST /api/messages/send
// ============================================================

func (m *Messenger) Send(ctx context.Context, req *domain.SendMessageRequest) (*domain.SendMessageResponse, error) {
	ctx, span := messengerTracer.Start(ctx, "Messenger.Send")
	defer span.End()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, &domain.ErrValidation{Field: "text", Message: "is required"}
	}
	sender, err := m.senderID(req.To)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("to", observability.MaskSender(sender)))

	if err := m.transport.SendText(ctx, sender, text, ""); err != nil {
		return nil, err
	}

	recorded := false
	if u, err := m.store.GetUser(ctx, sender); err != nil {
		m.logger.Warn("operator message not recorded", observability.Sender(sender), zap.Error(err))
	} else if u != nil {
		if err := m.store.AppendHistory(ctx, sender, domain.RoleAssistant, text); err != nil {
			m.logger.Warn("operator message not recorded", observability.Sender(sender), zap.Error(err))
		} else {
			recorded = true
		}
	}

	m.logger.Info("operator message sent", observability.Sender(sender), zap.Bool("recorded", recorded))
	return &domain.SendMessageResponse{To: sender, Recorded: recorded}, nil
}

// senderID turns "+51 987 654 321", "987654321" or "51987654321@c.us" into
// the bot's sender id.
func (m *Messenger) senderID(to string) (string, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		return to, nil
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, to)
	if len(digits) < 7 {
		return "", &domain.ErrValidation{Field: "to", Message: "must be a phone number"}
	}
	if len(digits) <= 9 && m.countryCode != "" {
		digits = m.countryCode + digits
	}
	return transport.SenderID(digits), nil
}

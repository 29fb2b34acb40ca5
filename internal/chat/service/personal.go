package service

import (
	"context"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
)

const (
	personalMaxTokens   = 500
	personalTemperature = 0.7
)

// personal answers questions about one professional. No menus, no catalog:
// every message goes to the model with the whole conversation.
type personal struct {
	*kit
}

func newPersonal(k *kit) *personal {
	return &personal{kit: k}
}

func (p *personal) Name() string { return ProfilePersonal }

func (p *personal) Handle(ctx context.Context, t *Turn) error {
	t.mark("ai_reply")
	history, err := p.priorHistory(ctx, t, 0)
	if err != nil {
		return err
	}
	answer, err := p.complete(ctx, &domain.CompletionRequest{
		SystemPrompt: personalSystemPrompt,
		History:      history,
		UserText:     t.Text,
		MaxTokens:    personalMaxTokens,
		Temperature:  personalTemperature,
	})
	if err != nil {
		return err
	}
	if t.User.Stage != domain.StageConversing {
		if err := p.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StageConversing)}); err != nil {
			return err
		}
	}
	return p.reply(ctx, t, answer)
}

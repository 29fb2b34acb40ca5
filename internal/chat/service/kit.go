package service

import (
	"context"
	"errors"
	"strings"
	"time"

	chatport "github.com/boddenberg/wa-commerce-bot/internal/chat/port"
	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"go.uber.org/zap"
)

// Deps are the collaborators the router talks to.
type Deps struct {
	Store     port.SessionStore
	Catalog   port.CatalogGateway
	LLM       port.LLMGateway
	Transport port.Transport
	Lanes     chatport.Lanes
	Scheduler chatport.Scheduler
}

func (d Deps) validate() error {
	switch {
	case d.Store == nil:
		return errors.New("service: store is required")
	case d.Transport == nil:
		return errors.New("service: transport is required")
	case d.LLM == nil:
		return errors.New("service: llm gateway is required")
	case d.Lanes == nil:
		return errors.New("service: lanes are required")
	case d.Scheduler == nil:
		return errors.New("service: scheduler is required")
	}
	return nil
}

// Turn is one inbound message being handled, plus the user record as it
// was loaded at the start of the turn.
type Turn struct {
	Sender    string
	MessageID string
	Name      string
	Text      string
	MediaRef  string
	User      *domain.User

	branch string
}

// Branch names the decision taken for the turn, for logs and metrics.
func (t *Turn) Branch() string { return t.branch }

func (t *Turn) mark(branch string) { t.branch = branch }

// kit bundles the collaborators and the small helpers every profile uses.
type kit struct {
	store     port.SessionStore
	catalog   port.CatalogGateway
	llm       port.LLMGateway
	transport port.Transport
	scheduler chatport.Scheduler

	settings Settings
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// failure is a branch error carrying the text the customer should see
// instead of the generic apology.
type failure struct {
	reply string
	err   error
}

func (f *failure) Error() string { return f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

func failWith(reply string, err error) error {
	return &failure{reply: reply, err: err}
}

// say sends text without recording it. Send errors are logged only.
func (k *kit) say(ctx context.Context, to, text string) bool {
	if err := k.transport.SendText(ctx, to, text, ""); err != nil {
		k.logger.Warn("send text failed", observability.Sender(to), zap.Error(err))
		return false
	}
	return true
}

// reply sends text to the customer and records it as an assistant turn.
func (k *kit) reply(ctx context.Context, t *Turn, text string) error {
	if !k.say(ctx, t.Sender, text) {
		return nil
	}
	return k.store.AppendHistory(ctx, t.Sender, domain.RoleAssistant, text)
}

// sendImage sends url as an image, degrading to a plain link on failure.
func (k *kit) sendImage(ctx context.Context, to, url string) bool {
	if err := k.transport.SendImage(ctx, to, url, ""); err != nil {
		k.logger.Warn("send image failed, falling back to link", observability.Sender(to), zap.Error(err))
		k.say(ctx, to, "🖼️ "+url)
		return false
	}
	return true
}

func (k *kit) update(ctx context.Context, sender string, patch domain.UserPatch) error {
	if patch.Empty() {
		return nil
	}
	return k.store.UpdateUser(ctx, sender, patch)
}

// notifyOperator is best effort: a failed notice never fails the turn.
func (k *kit) notifyOperator(ctx context.Context, text string) {
	if k.settings.OperatorAddr == "" {
		return
	}
	if err := k.transport.SendText(ctx, k.settings.OperatorAddr, text, ""); err != nil {
		k.logger.Warn("operator notification failed", zap.Error(err))
	}
}

// later schedules fn for the sender. Any newer inbound message cancels it.
func (k *kit) later(sender string, delay time.Duration, fn func(ctx context.Context) error) {
	k.scheduler.Schedule(sender, delay, func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			k.logger.Warn("deferred follow-up failed", observability.Sender(sender), zap.Error(err))
		}
	})
}

// wipe removes everything stored for the sender.
func (k *kit) wipe(ctx context.Context, sender string) error {
	if err := k.store.DeleteHistory(ctx, sender); err != nil {
		return err
	}
	if err := k.store.DeleteOrder(ctx, sender); err != nil {
		return err
	}
	if err := k.store.ReplaceSearchResults(ctx, sender, nil); err != nil {
		return err
	}
	return k.store.DeleteUser(ctx, sender)
}

// priorHistory returns up to limit entries before the current message.
// limit <= 0 returns the whole history.
func (k *kit) priorHistory(ctx context.Context, t *Turn, limit int) ([]domain.HistoryEntry, error) {
	fetch := limit
	if fetch > 0 {
		fetch++
	}
	entries, err := k.store.GetHistory(ctx, t.Sender, fetch)
	if err != nil {
		return nil, err
	}
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if last.Role == domain.RoleUser && last.Content == t.Text {
			entries = entries[:n-1]
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (k *kit) complete(ctx context.Context, req *domain.CompletionRequest) (string, error) {
	out, err := k.llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func customerName(t *Turn) string {
	if t.Name != "" {
		return t.Name
	}
	if t.User != nil && t.User.Name != "" {
		return t.User.Name
	}
	return "Cliente"
}

// displayNumber is the sender id without the transport suffix.
func displayNumber(sender string) string {
	n := strings.TrimPrefix(sender, "whatsapp:")
	if i := strings.IndexByte(n, '@'); i >= 0 {
		n = n[:i]
	}
	return n
}

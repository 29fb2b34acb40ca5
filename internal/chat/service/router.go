// Package service holds the conversation core: the inbound normalizer, the
// per-sender router and the deployment profiles it delegates to.
//
// ============================================================
// Routing: one state machine, pluggable profiles
// ============================================================
//
// For every inbound event:
//  1. Routable drops non-notify events and the bot's own messages.
//  2. Normalize decides route, fixed reply, payment image or drop.
//  3. The message is queued on the sender's lane, so one sender's turns
//     never interleave.
//  4. Inside the lane the router bumps the sender's generation (pending
//     follow-ups go stale), loads or creates the user, records the
//     inbound text and hands the turn to the active profile.
//  5. A profile error is answered with a fixed apology and no state change.
//
// Profiles (business, guided, personal) share the same kit of helpers and
// differ only in their decision order, texts and prompts.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	chatdomain "github.com/boddenberg/wa-commerce-bot/internal/chat/domain"
	chatport "github.com/boddenberg/wa-commerce-bot/internal/chat/port"
	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("chat/service")

// Profile is one deployment's conversation rules.
type Profile interface {
	Name() string
	Handle(ctx context.Context, t *Turn) error
}

// PaymentHandler is implemented by profiles that take payment receipts.
// Only those profiles get uncaptioned images routed as payments.
type PaymentHandler interface {
	HandlePaymentImage(ctx context.Context, t *Turn) error
}

// Refresher is implemented by profiles that preload catalog data.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Router dispatches inbound messages to the active profile.
type Router struct {
	kit     *kit
	lanes   chatport.Lanes
	profile Profile
}

// Option customizes a Router.
type Option func(*Router)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.kit.now = now }
}

// WithProfile installs a custom profile instead of the one named in
// Settings.Profile.
func WithProfile(p Profile) Option {
	return func(r *Router) { r.profile = p }
}

// NewRouter wires the router and the profile named in settings.
func NewRouter(deps Deps, settings Settings, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) (*Router, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	k := &kit{
		store:     deps.Store,
		catalog:   deps.Catalog,
		llm:       deps.LLM,
		transport: deps.Transport,
		scheduler: deps.Scheduler,
		settings:  settings,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
	r := &Router{kit: k, lanes: deps.Lanes}
	for _, opt := range opts {
		opt(r)
	}
	if r.profile != nil {
		return r, nil
	}

	if settings.Profile != ProfilePersonal && deps.Catalog == nil {
		return nil, fmt.Errorf("service: profile %q needs a catalog gateway", settings.Profile)
	}
	switch settings.Profile {
	case ProfileBusiness, "":
		r.profile = newBusiness(k, newSelector(settings.SelectionMode, k))
	case ProfileGuided:
		r.profile = newGuided(k)
	case ProfilePersonal:
		r.profile = newPersonal(k)
	default:
		return nil, fmt.Errorf("service: unknown profile %q", settings.Profile)
	}
	return r, nil
}

// ProfileName reports the active profile.
func (r *Router) ProfileName() string { return r.profile.Name() }

// AcceptsPayments reports whether uncaptioned images are payment receipts.
func (r *Router) AcceptsPayments() bool {
	_, ok := r.profile.(PaymentHandler)
	return ok
}

// Refresh reloads profile data such as the guided product. Profiles with
// nothing to load return nil.
func (r *Router) Refresh(ctx context.Context) error {
	if rf, ok := r.profile.(Refresher); ok {
		return rf.Refresh(ctx)
	}
	return nil
}

// HandleEvent normalizes ev and queues every actionable message on its
// sender's lane. It returns how many messages were queued.
func (r *Router) HandleEvent(ctx context.Context, ev *chatdomain.InboundEvent) int {
	queued := 0
	payments := r.AcceptsPayments()
	for _, msg := range Routable(ev) {
		n := Normalize(msg, payments)
		r.kit.metrics.IncrInbound(string(msg.Kind), n.Action.String())
		if n.Action == chatdomain.ActionDrop {
			r.kit.logger.Debug("inbound message dropped",
				observability.Sender(msg.RemoteID),
				zap.String("reason", n.Reason),
			)
			continue
		}

		err := r.lanes.Submit(ctx, msg.RemoteID, func(ctx context.Context) {
			r.Handle(ctx, msg, n)
		})
		if err != nil {
			r.kit.logger.Warn("inbound message not queued", observability.Sender(msg.RemoteID), zap.Error(err))
			continue
		}
		queued++
	}
	return queued
}

// Handle runs one normalized message to completion. Callers must make sure
// turns of the same sender do not overlap; HandleEvent does so via lanes.
func (r *Router) Handle(ctx context.Context, msg chatdomain.InboundMessage, n chatdomain.Normalized) {
	ctx, span := tracer.Start(ctx, "Router.Handle")
	defer span.End()

	start := time.Now()
	k := r.kit
	sender := msg.RemoteID
	profile := r.profile.Name()
	span.SetAttributes(
		attribute.String("profile", profile),
		attribute.String("action", n.Action.String()),
	)
	defer func() { k.metrics.RecordHandleDuration(profile, time.Since(start)) }()

	k.scheduler.Bump(sender)

	if n.Action == chatdomain.ActionReply {
		k.say(ctx, sender, n.Reply)
		k.metrics.IncrBranch(profile, "media_reply")
		return
	}

	t, err := r.begin(ctx, msg, n)
	if err != nil {
		r.fail(ctx, span, sender, "begin", err)
		return
	}
	stage := t.User.Stage

	if n.Action == chatdomain.ActionPaymentImage {
		ph, ok := r.profile.(PaymentHandler)
		if !ok {
			return
		}
		err = ph.HandlePaymentImage(ctx, t)
	} else {
		err = r.profile.Handle(ctx, t)
	}
	if err != nil {
		r.fail(ctx, span, sender, t.branch, err)
		return
	}

	span.SetAttributes(attribute.String("branch", t.branch))
	k.metrics.IncrBranch(profile, t.branch)
	k.logger.Info("message handled",
		observability.Sender(sender),
		zap.String("stage", string(stage)),
		zap.String("branch", t.branch),
	)
}

// begin loads the user, stamps the interaction and records the inbound text.
func (r *Router) begin(ctx context.Context, msg chatdomain.InboundMessage, n chatdomain.Normalized) (*Turn, error) {
	k := r.kit
	user, err := k.store.GetOrCreateUser(ctx, msg.RemoteID)
	if err != nil {
		return nil, err
	}

	now := k.now()
	patch := domain.UserPatch{LastInteraction: &now}
	if msg.PushName != "" && msg.PushName != user.Name {
		patch.Name = domain.Ptr(msg.PushName)
	}
	if err := k.update(ctx, msg.RemoteID, patch); err != nil {
		return nil, err
	}
	patch.Apply(user)

	content := n.Text
	if n.Action == chatdomain.ActionPaymentImage {
		content = "[imagen: comprobante de pago]"
	}
	if err := k.store.AppendHistory(ctx, msg.RemoteID, domain.RoleUser, content); err != nil {
		return nil, err
	}

	return &Turn{
		Sender:    msg.RemoteID,
		MessageID: msg.ID,
		Name:      msg.PushName,
		Text:      n.Text,
		MediaRef:  msg.MediaRef,
		User:      user,
	}, nil
}

func (r *Router) fail(ctx context.Context, span trace.Span, sender, branch string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.kit.metrics.IncrBranch(r.profile.Name(), "error")
	r.kit.logger.Error("message handling failed",
		observability.Sender(sender),
		zap.String("branch", branch),
		zap.Error(err),
	)
	r.kit.say(ctx, sender, r.apology(err))
}

// apology picks the text sent when a branch fails.
func (r *Router) apology(err error) string {
	var f *failure
	if errors.As(err, &f) {
		return f.reply
	}
	if isLLMError(err) && r.kit.settings.SupportLine != "" {
		return textApology + " Si el problema continúa, contáctanos al " + r.kit.settings.SupportLine + "."
	}
	return textApology
}

func isLLMError(err error) bool {
	var ext *domain.ErrExternalService
	if errors.As(err, &ext) && ext.Service == "llm" {
		return true
	}
	var open *domain.ErrCircuitOpen
	return errors.As(err, &open) && open.Service == "llm"
}

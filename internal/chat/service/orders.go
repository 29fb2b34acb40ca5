package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"

	"go.uber.org/zap"
)

// orderFor loads the sender's order, or starts one, and fills the gaps with
// the guided product and the fields captured on the user record.
func (g *guided) orderFor(ctx context.Context, t *Turn) (*domain.Order, error) {
	o, err := g.store.GetOrder(ctx, t.Sender)
	if err != nil {
		return nil, err
	}
	if o == nil {
		o = &domain.Order{SenderID: t.Sender, Status: domain.OrderPending}
	}
	if o.ProductName == "" {
		p := g.product()
		o.ProductID = productKey(p)
		o.ProductName = p.Name
		o.Price = p.Price
	}
	if u := t.User; u != nil {
		if o.Color == "" {
			o.Color = u.SelectedColor
		}
		if o.ShippingType == "" {
			o.ShippingType = u.ShippingType
		}
		if o.Address == "" {
			o.Address = u.Address
		}
	}
	return o, nil
}

// confirmOrder finishes the order when color, shipping type and address are
// known, and otherwise asks for exactly the missing ones.
func (g *guided) confirmOrder(ctx context.Context, t *Turn) error {
	o, err := g.orderFor(ctx, t)
	if err != nil {
		return err
	}
	return g.finishOrder(ctx, t, o)
}

func (g *guided) finishOrder(ctx context.Context, t *Turn, o *domain.Order) error {
	if missing := o.MissingFields(); len(missing) > 0 {
		t.mark("order_missing_fields")
		if err := g.store.SaveOrder(ctx, o); err != nil {
			return err
		}
		return g.reply(ctx, t, textMissingFields(missing))
	}

	t.mark("order_confirmed")
	now := g.now()
	o.OrderNumber = domain.OrderNumber(g.settings.OrderPrefix, t.Sender, now)
	confirmation := textOrderConfirmed(o)
	notice := noticeOrderConfirmed(customerName(t), displayNumber(t.Sender), o, now)

	// The session ends with the order; the next message starts over.
	if err := g.wipe(ctx, t.Sender); err != nil {
		return err
	}
	g.say(ctx, t.Sender, confirmation)
	g.notifyOperator(ctx, notice)
	g.metrics.IncrOrderConfirmed()
	g.logger.Info("order confirmed",
		observability.Sender(t.Sender),
		zap.String("order_number", o.OrderNumber),
	)
	return nil
}

// HandlePaymentImage takes an uncaptioned image as the advance-payment
// receipt of the sender's order.
func (g *guided) HandlePaymentImage(ctx context.Context, t *Turn) error {
	existing, err := g.store.GetOrder(ctx, t.Sender)
	if err != nil {
		return err
	}
	if existing == nil && !t.User.Stage.CapturingOrder() {
		t.mark("image_without_order")
		return g.reply(ctx, t, textImageReceived)
	}

	t.mark("payment_image")
	o, err := g.orderFor(ctx, t)
	if err != nil {
		return err
	}
	o.AdvancePaymentProof = t.MediaRef
	if o.AdvancePaymentProof == "" {
		o.AdvancePaymentProof = t.MessageID
	}
	if data, err := g.transport.DownloadMedia(ctx, t.MediaRef); err != nil {
		g.logger.Warn("payment receipt not downloaded, keeping reference", observability.Sender(t.Sender), zap.Error(err))
	} else {
		sum := sha256.Sum256(data)
		o.ProofDigest = hex.EncodeToString(sum[:])
	}
	o.Status = domain.OrderPaymentReceived
	if err := g.store.SaveOrder(ctx, o); err != nil {
		return err
	}

	if err := g.reply(ctx, t, textPaymentReceived); err != nil {
		return err
	}
	g.notifyOperator(ctx, noticePaymentReceived(customerName(t), displayNumber(t.Sender), o, g.now()))

	if o.Complete() {
		return g.finishOrder(ctx, t, o)
	}
	t.mark("payment_missing_fields")
	if err := g.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StagePaymentConfirm)}); err != nil {
		return err
	}
	return g.reply(ctx, t, textMissingFields(o.MissingFields()))
}

func productKey(p *domain.Product) string {
	if p.ID != "" {
		return p.ID
	}
	return p.Code
}

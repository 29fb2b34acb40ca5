package service

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync/atomic"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/intent"

	"go.uber.org/zap"
)

const (
	guidedMaxTokens   = 250
	guidedTemperature = 0.7
	guidedMaxImages   = 3
)

// guided sells a single product: intro with a five-option menu, color and
// shipping capture, payment receipts and an LLM seller that reports order
// fields through markers.
type guided struct {
	*kit
	current atomic.Pointer[domain.Product]
	units   func() int
}

func newGuided(k *kit) *guided {
	g := &guided{
		kit:   k,
		units: func() int { return rand.IntN(5) + 2 },
	}
	g.current.Store(fallbackProduct())
	return g
}

func (g *guided) Name() string { return ProfileGuided }

// fallbackProduct keeps the flow usable when the catalog is unreachable.
func fallbackProduct() *domain.Product {
	return &domain.Product{
		Code:        "TOL001",
		Name:        "Toldo Plegable 3x3",
		Price:       210,
		Description: "Toldo plegable de 3x3 metros con estructura metálica y tela resistente.",
		Colors: []domain.ProductColor{
			{Name: "Rojo", Hex: "#f00f0f"},
			{Name: "Azul", Hex: "#0e4295"},
		},
		Details: map[string]string{"Ancho": "3m", "Alto": "3m", "Largo": "3m"},
	}
}

// withDefaults fills the fields the catalog left empty.
func withDefaults(p *domain.Product) *domain.Product {
	fb := fallbackProduct()
	out := *p
	if out.Name == "" {
		out.Name = fb.Name
	}
	if out.Price == 0 {
		out.Price = fb.Price
	}
	if len(out.Colors) == 0 {
		out.Colors = fb.Colors
	}
	if len(out.Details) == 0 {
		out.Details = fb.Details
	}
	if out.Description == "" {
		out.Description = fb.Description
	}
	if out.Code == "" {
		out.Code = fb.Code
	}
	return &out
}

// Refresh reloads the product. On failure the last good copy stays.
func (g *guided) Refresh(ctx context.Context) error {
	code := g.settings.GuidedProductCode
	p, err := g.catalog.GetProductByCode(ctx, code)
	if err != nil {
		return err
	}
	if p == nil {
		return &domain.ErrNotFound{Resource: "product", ID: code}
	}
	g.current.Store(withDefaults(p))
	g.logger.Info("guided product loaded", zap.String("code", code), zap.String("name", p.Name))
	return nil
}

func (g *guided) product() *domain.Product {
	return g.current.Load()
}

// Handle applies the guided decision list; capture stages read free text as
// order data and skip the topic guardrail.
func (g *guided) Handle(ctx context.Context, t *Turn) error {
	stage := t.User.Stage
	text := t.Text
	capturing := stage.CapturingOrder()

	if stage == domain.StageInitial || (!capturing && intent.IsGreeting(text)) {
		return g.intro(ctx, t)
	}

	if stage == domain.StageGuidedMenu {
		if n, ok := intent.DetectNumericSelection(text); ok {
			return g.option(ctx, t, n)
		}
	}

	switch stage {
	case domain.StageColorCapture:
		return g.captureColor(ctx, t)
	case domain.StageShippingCapture:
		if st := ShippingType(text); st != "" {
			return g.captureShipping(ctx, t, st)
		}
	}

	if !capturing {
		if n, ok := shortcut(text); ok {
			if n == 0 {
				return g.intro(ctx, t)
			}
			return g.option(ctx, t, n)
		}
		// The intro and the closer both end with a yes/no question.
		answer := yesNo(text)
		if answer == "yes" && stage == domain.StageGuidedMenu {
			return g.option(ctx, t, 2)
		}
		if answer == "" && !intent.IsOnTopic(text) && !mentionsProduct(text, g.product()) {
			return g.offTopic(ctx, t)
		}
	}
	return g.converse(ctx, t)
}

func (g *guided) intro(ctx context.Context, t *Turn) error {
	t.mark("guided_intro")
	p := g.product()
	patch := domain.UserPatch{
		Stage:                    domain.Ptr(domain.StageGuidedMenu),
		OfferedCatalog:           domain.Ptr(true),
		AwaitingCatalogResponse:  domain.Ptr(false),
		AwaitingProductSelection: domain.Ptr(false),
		CurrentProductID:         domain.Ptr(productKey(p)),
	}
	if err := g.update(ctx, t.Sender, patch); err != nil {
		return err
	}
	if err := g.reply(ctx, t, textGuidedIntro(p)); err != nil {
		return err
	}
	g.later(t.Sender, g.settings.GuidedIdleCloser, g.closer(t.Sender))
	return nil
}

func (g *guided) option(ctx context.Context, t *Turn, n int) error {
	p := g.product()
	switch n {
	case 1:
		t.mark("guided_details")
		if err := g.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StageGuidedMenu)}); err != nil {
			return err
		}
		if err := g.reply(ctx, t, textGuidedDetails(p)); err != nil {
			return err
		}
		if len(p.Images) == 0 {
			return nil
		}
		for _, img := range limit(p.Images, guidedMaxImages) {
			if err := g.transport.SendImage(ctx, t.Sender, img, ""); err != nil {
				g.logger.Warn("product image not sent", zap.Error(err))
				return g.reply(ctx, t, textGuidedImagesError)
			}
		}
		return g.reply(ctx, t, textGuidedAfterImages)
	case 2:
		t.mark("guided_order_start")
		o, err := g.orderFor(ctx, t)
		if err != nil {
			return err
		}
		if err := g.store.SaveOrder(ctx, o); err != nil {
			return err
		}
		if err := g.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StageColorCapture)}); err != nil {
			return err
		}
		return g.reply(ctx, t, textGuidedOrderStart(p))
	case 3:
		t.mark("guided_payment")
		if err := g.reply(ctx, t, textGuidedPayment); err != nil {
			return err
		}
		g.later(t.Sender, g.settings.GuidedCloserDelay, g.closer(t.Sender))
		return nil
	case 4:
		t.mark("guided_shipping")
		if err := g.reply(ctx, t, textGuidedShipping); err != nil {
			return err
		}
		g.later(t.Sender, g.settings.GuidedCloserDelay, g.closer(t.Sender))
		return nil
	case 5:
		t.mark("guided_question")
		if err := g.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StageConversing)}); err != nil {
			return err
		}
		return g.reply(ctx, t, textGuidedFreeQuestion)
	default:
		return g.intro(ctx, t)
	}
}

// closer is the limited-time offer sent to a sender idling on the menu.
func (g *guided) closer(sender string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		u, err := g.store.GetUser(ctx, sender)
		if err != nil || u == nil || u.Stage != domain.StageGuidedMenu {
			return err
		}
		p := g.product()
		text := textCloser(p, g.units())
		if !g.say(ctx, sender, text) {
			return nil
		}
		if err := g.store.AppendHistory(ctx, sender, domain.RoleAssistant, text); err != nil {
			return err
		}
		if len(p.Images) > 0 {
			g.sendImage(ctx, sender, p.Images[0])
		}
		return nil
	}
}

// introFollowUp re-shows the intro if the sender is still where they were.
func (g *guided) introFollowUp(sender string, expect domain.Stage) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		u, err := g.store.GetUser(ctx, sender)
		if err != nil || u == nil || u.Stage != expect {
			return err
		}
		if err := g.update(ctx, sender, domain.UserPatch{Stage: domain.Ptr(domain.StageGuidedMenu)}); err != nil {
			return err
		}
		text := textGuidedIntro(g.product())
		if !g.say(ctx, sender, text) {
			return nil
		}
		return g.store.AppendHistory(ctx, sender, domain.RoleAssistant, text)
	}
}

func (g *guided) captureColor(ctx context.Context, t *Turn) error {
	p := g.product()
	name, ok := p.MatchColor(t.Text)
	if !ok {
		if isQuestion(t.Text) {
			return g.converse(ctx, t)
		}
		t.mark("color_reprompt")
		return g.reply(ctx, t, textChooseColor(p))
	}
	return g.chooseColor(ctx, t, name)
}

// chooseColor records the color and moves the sender on to the shipping
// question.
func (g *guided) chooseColor(ctx context.Context, t *Turn, name string) error {
	t.mark("color_chosen")
	p := g.product()
	color := colorByName(p, name)

	o, err := g.orderFor(ctx, t)
	if err != nil {
		return err
	}
	o.Color = color.Name
	if err := g.store.SaveOrder(ctx, o); err != nil {
		return err
	}
	patch := domain.UserPatch{
		Stage:         domain.Ptr(domain.StageShippingCapture),
		SelectedColor: domain.Ptr(color.Name),
	}
	if err := g.update(ctx, t.Sender, patch); err != nil {
		return err
	}

	if img := colorImage(p, color.Name); img != "" {
		g.sendImage(ctx, t.Sender, img)
	}
	return g.reply(ctx, t, textColorChosen(color))
}

func (g *guided) captureShipping(ctx context.Context, t *Turn, shipping string) error {
	t.mark("shipping_chosen")
	p := g.product()
	o, err := g.orderFor(ctx, t)
	if err != nil {
		return err
	}
	o.ShippingType = shipping
	if err := g.store.SaveOrder(ctx, o); err != nil {
		return err
	}
	patch := domain.UserPatch{
		Stage:        domain.Ptr(domain.StageOrderConfirm),
		ShippingType: domain.Ptr(shipping),
	}
	if err := g.update(ctx, t.Sender, patch); err != nil {
		return err
	}

	color := t.User.SelectedColor
	if err := g.reply(ctx, t, textOrderSummary(p, color, shipping)); err != nil {
		return err
	}
	g.notifyOperator(ctx, noticeGuidedOrder(customerName(t), displayNumber(t.Sender), p, color, shipping, g.now()))
	return nil
}

func (g *guided) offTopic(ctx context.Context, t *Turn) error {
	t.mark("off_topic")
	if err := g.reply(ctx, t, textOffTopic); err != nil {
		return err
	}
	g.later(t.Sender, g.settings.OffTopicMenuDelay, g.introFollowUp(t.Sender, t.User.Stage))
	return nil
}

// converse asks the seller prompt and applies the markers in its answer.
func (g *guided) converse(ctx context.Context, t *Turn) error {
	t.mark("ai_reply")
	p := g.product()
	stage := t.User.Stage

	history, err := g.priorHistory(ctx, t, g.settings.HistoryWindow)
	if err != nil {
		return err
	}
	answer, err := g.complete(ctx, &domain.CompletionRequest{
		SystemPrompt: guidedSystemPrompt(p, stage),
		History:      history,
		UserText:     t.Text,
		MaxTokens:    guidedMaxTokens,
		Temperature:  guidedTemperature,
	})
	if err != nil {
		return err
	}

	text, m := ParseMarkers(answer)
	if err := g.applyMarkers(ctx, t, m); err != nil {
		return err
	}
	if m.Complete {
		return g.confirmOrder(ctx, t)
	}

	if text != "" {
		if err := g.reply(ctx, t, text); err != nil {
			return err
		}
	}
	if m.SendImages {
		for _, img := range limit(p.Images, guidedMaxImages) {
			g.sendImage(ctx, t.Sender, img)
		}
	}

	// A marker can answer the capture question; otherwise ask it again. A
	// color chosen before the order started starts it at the shipping step.
	switch {
	case stage == domain.StageColorCapture || !stage.CapturingOrder():
		if name, ok := p.MatchColor(m.Color); ok {
			return g.chooseColor(ctx, t, name)
		}
		if stage == domain.StageColorCapture {
			return g.reply(ctx, t, textChooseColor(p))
		}
	case stage == domain.StageShippingCapture:
		if m.Shipping != "" {
			return g.captureShipping(ctx, t, t.User.ShippingType)
		}
		if t.User.ShippingType == "" {
			return g.reply(ctx, t, textAskShippingType)
		}
	}
	if !stage.CapturingOrder() {
		g.later(t.Sender, g.settings.GuidedMenuDelay, g.introFollowUp(t.Sender, stage))
	}
	return nil
}

// applyMarkers persists the order fields the model reported, on both the
// user record and the order.
func (g *guided) applyMarkers(ctx context.Context, t *Turn, m Markers) error {
	var patch domain.UserPatch
	if m.Color != "" {
		if name, ok := g.product().MatchColor(m.Color); ok {
			patch.SelectedColor = domain.Ptr(name)
		}
	}
	if m.Shipping != "" {
		patch.ShippingType = domain.Ptr(m.Shipping)
	}
	if m.Address != "" {
		patch.Address = domain.Ptr(m.Address)
	}
	if patch.Empty() {
		return nil
	}
	if err := g.update(ctx, t.Sender, patch); err != nil {
		return err
	}
	patch.Apply(t.User)

	o, err := g.orderFor(ctx, t)
	if err != nil {
		return err
	}
	if patch.SelectedColor != nil {
		o.Color = *patch.SelectedColor
	}
	if patch.ShippingType != nil {
		o.ShippingType = *patch.ShippingType
	}
	if patch.Address != nil {
		o.Address = *patch.Address
	}
	return g.store.SaveOrder(ctx, o)
}

// ============================================================
// Keyword shortcuts
// ============================================================

// productWords mark a message as being about the product even when the
// generic topic guardrail does not recognize it.
var productWords = []string{
	"toldo", "plegable", "3x3", "precio", "color", "pedido", "comprar", "pago",
	"contra entrega", "envio", "provincia", "lima", "fotos", "videos",
	"caracteristicas", "estructura", "tela", "oxford", "metalica", "reforzada",
	"armar", "impermeable", "agua",
}

// shortcutRules map keywords to menu options, checked in order. Option 0
// means the intro.
var shortcutRules = []struct {
	option int
	words  []string
}{
	{0, []string{"precio", "costo", "vale"}},
	{1, []string{"caracteristica", "detalle", "material"}},
	{2, []string{"pedido", "comprar", "adquirir"}},
	{3, []string{"pago", "pagar", "transferencia"}},
	{4, []string{"envio", "provincia", "despacho"}},
}

// shortcut finds the menu option a product question maps to.
func shortcut(text string) (int, bool) {
	folded := intent.Fold(text)
	for _, r := range shortcutRules {
		if containsAny(folded, r.words) {
			return r.option, true
		}
	}
	return 0, false
}

func mentionsProduct(text string, p *domain.Product) bool {
	folded := intent.Fold(text)
	if containsAny(folded, productWords) {
		return true
	}
	_, ok := p.MatchColor(text)
	return ok
}

var (
	yesAnswers = []string{"si", "si quiero", "si por favor", "claro", "dale", "ok", "okay", "de acuerdo", "lo quiero", "yes"}
	noAnswers  = []string{"no", "no gracias", "todavia no", "aun no", "por ahora no"}
)

// yesNo classifies short replies: "yes", "no" or "".
func yesNo(text string) string {
	folded := strings.Trim(intent.Fold(text), " .!¡")
	for _, a := range yesAnswers {
		if folded == a {
			return "yes"
		}
	}
	for _, a := range noAnswers {
		if folded == a {
			return "no"
		}
	}
	return ""
}

func isQuestion(text string) bool {
	return strings.ContainsAny(text, "?¿")
}

func containsAny(folded string, words []string) bool {
	for _, w := range words {
		if strings.Contains(folded, w) {
			return true
		}
	}
	return false
}

func colorByName(p *domain.Product, name string) domain.ProductColor {
	for _, c := range p.Colors {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return domain.ProductColor{Name: name}
}

// colorImage finds a product image whose URL names the color.
func colorImage(p *domain.Product, color string) string {
	c := strings.ToLower(color)
	for _, img := range p.Images {
		if strings.Contains(strings.ToLower(img), c) {
			return img
		}
	}
	return ""
}

func limit[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

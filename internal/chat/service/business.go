package service

import (
	"context"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/intent"

	"go.uber.org/zap"
)

const (
	businessMaxTokens   = 250
	businessTemperature = 0.7
)

// business is the catalog store profile: menu, search, product detail,
// catalog document and a guarded AI fallback.
type business struct {
	*kit
	selector Selector
}

func newBusiness(k *kit, sel Selector) *business {
	return &business{kit: k, selector: sel}
}

func (b *business) Name() string { return ProfileBusiness }

// Handle applies the decision list in order; the first match wins.
func (b *business) Handle(ctx context.Context, t *Turn) error {
	if t.User.Stage == domain.StageAwaitingAgent {
		if err := b.restart(ctx, t); err != nil {
			return err
		}
	}
	u := t.User
	text := t.Text

	if u.AwaitingProductSelection {
		items, err := b.store.GetSearchResults(ctx, t.Sender)
		if err != nil {
			return err
		}
		if n, ok := b.selector.Select(ctx, text, len(items)); ok {
			return b.selectResult(ctx, t, items, n)
		}
	}

	if u.Stage == domain.StageInitial || intent.IsGreeting(text) {
		return b.mainMenu(ctx, t)
	}

	num, hasNum := intent.DetectNumericSelection(text)
	if u.Stage == domain.StageMainMenu && hasNum {
		return b.menuOption(ctx, t, num)
	}
	if u.Stage == domain.StageShowingProduct && hasNum {
		return b.productOption(ctx, t, num)
	}

	if intent.WantsCatalog(text) || (u.AwaitingCatalogResponse && intent.AcceptsCatalog(text)) {
		return b.sendCatalog(ctx, t)
	}

	if u.Stage == domain.StageAwaitingSearch || intent.WantsPurchase(text) {
		return b.search(ctx, t)
	}

	if intent.WantsNewSearch(text) {
		t.mark("new_search")
		return b.askTerm(ctx, t, textNewSearch)
	}

	if intent.WantsMenu(text) {
		return b.mainMenu(ctx, t)
	}

	if !intent.IsOnTopic(text) {
		return b.offTopic(ctx, t)
	}
	return b.converse(ctx, t)
}

// restart wipes a session that was handed to a human seller, so the next
// message starts over as a first contact.
func (b *business) restart(ctx context.Context, t *Turn) error {
	if err := b.wipe(ctx, t.Sender); err != nil {
		return err
	}
	user, err := b.store.GetOrCreateUser(ctx, t.Sender)
	if err != nil {
		return err
	}
	now := b.now()
	patch := domain.UserPatch{LastInteraction: &now}
	if t.Name != "" {
		patch.Name = domain.Ptr(t.Name)
	}
	if err := b.update(ctx, t.Sender, patch); err != nil {
		return err
	}
	patch.Apply(user)
	if err := b.store.AppendHistory(ctx, t.Sender, domain.RoleUser, t.Text); err != nil {
		return err
	}
	t.User = user
	return nil
}

func (b *business) mainMenu(ctx context.Context, t *Turn) error {
	t.mark("main_menu")
	if err := b.update(ctx, t.Sender, menuPatch()); err != nil {
		return err
	}
	return b.reply(ctx, t, textMainMenu)
}

// menuPatch moves the sender to the main menu. A numbered result list is no
// longer the last prompt, so digits stop addressing it.
func menuPatch() domain.UserPatch {
	return domain.UserPatch{
		Stage:                    domain.Ptr(domain.StageMainMenu),
		AwaitingProductSelection: domain.Ptr(false),
	}
}

// menuFollowUp is the deferred menu re-prompt. It runs outside a turn, so it
// records the text itself.
func (b *business) menuFollowUp(sender string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := b.update(ctx, sender, menuPatch()); err != nil {
			return err
		}
		if !b.say(ctx, sender, textMainMenu) {
			return nil
		}
		return b.store.AppendHistory(ctx, sender, domain.RoleAssistant, textMainMenu)
	}
}

func (b *business) askTerm(ctx context.Context, t *Turn, text string) error {
	patch := domain.UserPatch{
		Stage:                    domain.Ptr(domain.StageAwaitingSearch),
		AwaitingProductSelection: domain.Ptr(false),
	}
	if err := b.update(ctx, t.Sender, patch); err != nil {
		return err
	}
	return b.reply(ctx, t, text)
}

func (b *business) menuOption(ctx context.Context, t *Turn, n int) error {
	switch n {
	case 1:
		return b.sendCatalog(ctx, t)
	case 2:
		t.mark("menu_search")
		return b.askTerm(ctx, t, textAskSearchTerm)
	case 3:
		t.mark("menu_availability")
		return b.askTerm(ctx, t, textAskAvailability)
	case 4:
		t.mark("menu_shipping")
		if err := b.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StageShippingInfo)}); err != nil {
			return err
		}
		return b.reply(ctx, t, textShippingPolicy)
	case 5:
		t.mark("menu_agent")
		if err := b.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StageAwaitingAgent)}); err != nil {
			return err
		}
		if err := b.reply(ctx, t, textAgentContact); err != nil {
			return err
		}
		b.notifyOperator(ctx, noticeAgentRequested(customerName(t), displayNumber(t.Sender), b.now()))
		return nil
	default:
		return b.mainMenu(ctx, t)
	}
}

func (b *business) productOption(ctx context.Context, t *Turn, n int) error {
	switch n {
	case 1:
		t.mark("product_details")
		id := t.User.CurrentProductID
		if id == "" {
			return b.askTerm(ctx, t, textNoCurrentProduct)
		}
		p, err := b.productFor(ctx, t, id)
		if err != nil {
			return err
		}
		if p == nil {
			return b.askTerm(ctx, t, textNoCurrentProduct)
		}
		return b.showProduct(ctx, t, id, p)
	case 2:
		t.mark("product_new_search")
		return b.askTerm(ctx, t, textAskOtherProduct)
	case 3:
		return b.sendCatalog(ctx, t)
	case 4:
		t.mark("product_purchase")
		id := t.User.CurrentProductID
		name := "producto consultado"
		if item, ok := b.snapshotItem(ctx, t.Sender, id); ok {
			name = item.Name
		}
		if err := b.update(ctx, t.Sender, domain.UserPatch{Stage: domain.Ptr(domain.StageAwaitingAgent)}); err != nil {
			return err
		}
		if err := b.reply(ctx, t, textPurchaseContact); err != nil {
			return err
		}
		b.notifyOperator(ctx, noticePurchaseInterest(customerName(t), displayNumber(t.Sender), name, id, b.now()))
		return nil
	default:
		t.mark("product_options")
		return b.reply(ctx, t, textPostProductOptions)
	}
}

// selectResult resolves a 1-based pick against the snapshot.
func (b *business) selectResult(ctx context.Context, t *Turn, items []domain.SearchItem, n int) error {
	if len(items) == 0 {
		t.mark("selection_stale")
		patch := domain.UserPatch{
			AwaitingProductSelection: domain.Ptr(false),
			Stage:                    domain.Ptr(domain.StageAwaitingSearch),
		}
		if err := b.update(ctx, t.Sender, patch); err != nil {
			return err
		}
		return b.reply(ctx, t, textSelectionGone)
	}
	if n < 1 || n > len(items) {
		t.mark("selection_invalid")
		return b.reply(ctx, t, textInvalidSelection(len(items)))
	}

	t.mark("selection")
	item := items[n-1]
	p, err := b.catalog.GetProductByID(ctx, item.ProductID)
	if err != nil {
		return failWith(textDetailFailed, err)
	}
	if p == nil {
		p = item.AsProduct()
	}
	return b.showProduct(ctx, t, item.ProductID, p)
}

// productFor fetches the product, falling back to the snapshot entry when
// the catalog no longer has it.
func (b *business) productFor(ctx context.Context, t *Turn, id string) (*domain.Product, error) {
	p, err := b.catalog.GetProductByID(ctx, id)
	if err != nil {
		return nil, failWith(textDetailFailed, err)
	}
	if p != nil {
		return p, nil
	}
	if item, ok := b.snapshotItem(ctx, t.Sender, id); ok {
		return item.AsProduct(), nil
	}
	return nil, nil
}

func (b *business) snapshotItem(ctx context.Context, sender, id string) (domain.SearchItem, bool) {
	if id == "" {
		return domain.SearchItem{}, false
	}
	items, err := b.store.GetSearchResults(ctx, sender)
	if err != nil {
		b.logger.Warn("search snapshot unavailable", zap.Error(err))
		return domain.SearchItem{}, false
	}
	for _, it := range items {
		if it.ProductID == id {
			return it, true
		}
	}
	return domain.SearchItem{}, false
}

func (b *business) showProduct(ctx context.Context, t *Turn, id string, p *domain.Product) error {
	now := b.now()
	patch := domain.UserPatch{
		Stage:                    domain.Ptr(domain.StageShowingProduct),
		AwaitingProductSelection: domain.Ptr(false),
		CurrentProductID:         domain.Ptr(id),
		AppendConsulted:          &domain.ConsultedProduct{ProductID: id, Name: p.Name, Timestamp: now},
	}
	if err := b.update(ctx, t.Sender, patch); err != nil {
		return err
	}

	if err := b.reply(ctx, t, textProductDetail(p)); err != nil {
		return err
	}
	if p.ImageURL != "" {
		b.sendImage(ctx, t.Sender, p.ImageURL)
	}
	if err := b.reply(ctx, t, textPostProductOptions); err != nil {
		return err
	}
	b.notifyOperator(ctx, noticeProductViewed(customerName(t), displayNumber(t.Sender), p))
	return nil
}

func (b *business) sendCatalog(ctx context.Context, t *Turn) error {
	t.mark("catalog")
	patch := domain.UserPatch{
		OfferedCatalog:           domain.Ptr(true),
		AwaitingCatalogResponse:  domain.Ptr(false),
		AwaitingProductSelection: domain.Ptr(false),
	}
	if err := b.update(ctx, t.Sender, patch); err != nil {
		return err
	}
	if err := b.reply(ctx, t, textCatalogIntro); err != nil {
		return err
	}

	url := b.catalog.CatalogDocumentURL()
	if err := b.transport.SendDocument(ctx, t.Sender, url, catalogFilename, catalogCaption, ""); err != nil {
		b.logger.Warn("catalog document not sent, falling back to link", zap.Error(err))
		return b.reply(ctx, t, textCatalogFailed+url)
	}
	return nil
}

func (b *business) search(ctx context.Context, t *Turn) error {
	term, err := b.extractProductName(ctx, t.Text)
	if err != nil {
		return err
	}
	if term == "" {
		t.mark("search_unclear")
		patch := domain.UserPatch{
			Stage:                    domain.Ptr(domain.StageAwaitingSearch),
			AwaitingCatalogResponse:  domain.Ptr(true),
			AwaitingProductSelection: domain.Ptr(false),
		}
		if err := b.update(ctx, t.Sender, patch); err != nil {
			return err
		}
		return b.reply(ctx, t, textNoProductFound)
	}

	items, err := b.catalog.SearchProducts(ctx, term, 0, b.settings.CatalogPageSize)
	if err != nil {
		return failWith(textSearchFailed, err)
	}

	now := b.now()
	patch := domain.UserPatch{LastSearchTerm: domain.Ptr(term), LastSearchAt: &now}
	if err := b.store.ReplaceSearchResults(ctx, t.Sender, items); err != nil {
		return err
	}

	if len(items) == 0 {
		t.mark("search_empty")
		patch.Stage = domain.Ptr(domain.StageAwaitingSearch)
		patch.AwaitingProductSelection = domain.Ptr(false)
		patch.AwaitingCatalogResponse = domain.Ptr(true)
		if err := b.update(ctx, t.Sender, patch); err != nil {
			return err
		}
		return b.reply(ctx, t, textNotFound(term))
	}

	t.mark("search_results")
	patch.Stage = domain.Ptr(domain.StageShowingResults)
	patch.AwaitingProductSelection = domain.Ptr(true)
	if err := b.update(ctx, t.Sender, patch); err != nil {
		return err
	}
	return b.reply(ctx, t, textResultList(items))
}

func (b *business) offTopic(ctx context.Context, t *Turn) error {
	t.mark("off_topic")
	if err := b.reply(ctx, t, textOffTopic); err != nil {
		return err
	}
	b.later(t.Sender, b.settings.OffTopicMenuDelay, b.menuFollowUp(t.Sender))
	return nil
}

func (b *business) converse(ctx context.Context, t *Turn) error {
	t.mark("ai_reply")
	history, err := b.priorHistory(ctx, t, b.settings.HistoryWindow)
	if err != nil {
		return err
	}
	answer, err := b.complete(ctx, &domain.CompletionRequest{
		SystemPrompt: businessSystemPrompt,
		History:      history,
		UserText:     t.Text,
		MaxTokens:    businessMaxTokens,
		Temperature:  businessTemperature,
	})
	if err != nil {
		return err
	}

	previous := t.User.Stage
	patch := domain.UserPatch{
		Stage:                    domain.Ptr(domain.StageConversing),
		AwaitingProductSelection: domain.Ptr(false),
	}
	if err := b.update(ctx, t.Sender, patch); err != nil {
		return err
	}
	if err := b.reply(ctx, t, answer); err != nil {
		return err
	}

	if previous != domain.StageConversing {
		return nil
	}
	all, err := b.store.GetHistory(ctx, t.Sender, 0)
	if err != nil {
		return err
	}
	if len(all) > b.settings.LongChatThreshold {
		b.later(t.Sender, b.settings.LongChatMenuDelay, b.menuFollowUp(t.Sender))
	}
	return nil
}

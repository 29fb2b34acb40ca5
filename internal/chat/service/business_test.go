package service

import (
	"context"
	"errors"
	"testing"

	chatdomain "github.com/boddenberg/wa-commerce-bot/internal/chat/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusiness_SearchAndSelectScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.catalog.items = threeToldos()
	h.catalog.products["p2"] = &domain.Product{
		ID: "p2", Code: "TOL001", Name: "Toldo Plegable 3x3", Price: 210,
		Description: "Estructura metálica reforzada.",
		ImageURL:    "https://cdn.example.com/tol001.jpg",
	}
	h.llm.extract = "Toldo Plegable"

	// Hola → main menu
	assert.Equal(t, 1, h.send("Hola"))
	assert.Equal(t, domain.StageMainMenu, h.user(t).Stage)
	assert.Equal(t, textMainMenu, h.transport.lastText(t, testSender))

	// 2 → ask for a term
	h.send("2")
	assert.Equal(t, domain.StageAwaitingSearch, h.user(t).Stage)
	assert.Equal(t, textAskSearchTerm, h.transport.lastText(t, testSender))

	// term → numbered results
	h.send("toldo plegable")
	u := h.user(t)
	assert.Equal(t, domain.StageShowingResults, u.Stage)
	assert.True(t, u.AwaitingProductSelection)
	assert.Equal(t, "Toldo Plegable", u.LastSearchTerm)
	require.NotNil(t, u.LastSearchAt)
	assert.Equal(t, []string{"Toldo Plegable"}, h.catalog.searches)
	assert.Equal(t, [2]int{0, 10}, h.catalog.pages[0])
	assert.Equal(t, textResultList(threeToldos()), h.transport.lastText(t, testSender))

	snapshot, err := h.store.GetSearchResults(context.Background(), testSender)
	require.NoError(t, err)
	assert.Len(t, snapshot, 3)

	// 2 → product detail of the second item
	h.transport.reset()
	h.send("2")
	u = h.user(t)
	assert.Equal(t, domain.StageShowingProduct, u.Stage)
	assert.False(t, u.AwaitingProductSelection)
	assert.Equal(t, "p2", u.CurrentProductID)
	require.Len(t, u.ConsultedProducts, 1)
	assert.Equal(t, "Toldo Plegable 3x3", u.ConsultedProducts[0].Name)
	assert.Equal(t, testNow, u.ConsultedProducts[0].Timestamp)

	texts := h.transport.texts(testSender)
	require.Len(t, texts, 2)
	assert.Equal(t, textProductDetail(h.catalog.products["p2"]), texts[0])
	assert.Equal(t, textPostProductOptions, texts[1])
	assert.Equal(t, []string{"https://cdn.example.com/tol001.jpg"}, h.transport.bodies("image", testSender))
	assert.Len(t, h.transport.texts(testOperator), 1, "operator is told about the viewed product")

	assert.Equal(t, 1.0, h.metrics.BranchCount(ProfileBusiness, "selection"))
}

func TestBusiness_HistoryRecordsBothSides(t *testing.T) {
	h := newHarness(t, nil)
	h.send("Hola")

	entries := h.history(t)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.RoleUser, entries[0].Role)
	assert.Equal(t, "Hola", entries[0].Content)
	assert.Equal(t, domain.RoleAssistant, entries[1].Role)
	assert.Equal(t, textMainMenu, entries[1].Content)
	assert.Equal(t, "Ana", h.user(t).Name)
}

func TestBusiness_Selection(t *testing.T) {
	setup := func(t *testing.T) *harness {
		h := newHarness(t, nil)
		h.catalog.items = threeToldos()
		h.llm.extract = "toldo"
		h.send("Hola")
		h.send("2")
		h.send("toldo")
		require.Equal(t, domain.StageShowingResults, h.user(t).Stage)
		return h
	}

	t.Run("out of range names the valid range", func(t *testing.T) {
		h := setup(t)
		h.send("7")
		assert.Equal(t, textInvalidSelection(3), h.transport.lastText(t, testSender))
		u := h.user(t)
		assert.Equal(t, domain.StageShowingResults, u.Stage)
		assert.True(t, u.AwaitingProductSelection)
	})

	t.Run("spelled ordinal", func(t *testing.T) {
		h := setup(t)
		h.send("quiero la tercera")
		assert.Equal(t, "p3", h.user(t).CurrentProductID)
	})

	t.Run("unknown product falls back to the snapshot", func(t *testing.T) {
		h := setup(t)
		h.send("1")
		assert.Equal(t, "p1", h.user(t).CurrentProductID)
		assert.Contains(t, h.transport.texts(testSender), textProductDetail(threeToldos()[0].AsProduct()))
	})

	t.Run("detail failure keeps state", func(t *testing.T) {
		h := setup(t)
		h.catalog.detailErr = &domain.ErrExternalService{Service: "catalog", Err: errors.New("503")}
		h.send("1")
		assert.Equal(t, textDetailFailed, h.transport.lastText(t, testSender))
		u := h.user(t)
		assert.Equal(t, domain.StageShowingResults, u.Stage)
		assert.True(t, u.AwaitingProductSelection)
		assert.Empty(t, u.CurrentProductID)
	})

	t.Run("stale snapshot", func(t *testing.T) {
		h := setup(t)
		require.NoError(t, h.store.ReplaceSearchResults(context.Background(), testSender, nil))
		h.send("1")
		assert.Equal(t, textSelectionGone, h.transport.lastText(t, testSender))
		u := h.user(t)
		assert.False(t, u.AwaitingProductSelection)
		assert.Equal(t, domain.StageAwaitingSearch, u.Stage)
	})
}

func TestBusiness_LLMSelector(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.SelectionMode = SelectionLLM })
	h.catalog.items = threeToldos()
	h.llm.extract = "toldo"
	h.send("Hola")
	h.send("2")
	h.send("toldo")

	h.llm.selector = "3"
	h.send("el más grande de todos")
	assert.Equal(t, "p3", h.user(t).CurrentProductID)

	var asked bool
	for _, r := range h.llm.requests {
		if r.SystemPrompt == selectorSystemPrompt {
			asked = true
			assert.Equal(t, selectionPrompt("el más grande de todos", 3), r.UserText)
		}
	}
	assert.True(t, asked)
}

func TestParseSelectionAnswer(t *testing.T) {
	tests := map[string]struct {
		n  int
		ok bool
	}{
		"2":          {2, true},
		" 3.":        {3, true},
		"1) el rojo": {1, true},
		"ninguno":    {0, false},
		"0":          {0, false},
		"":           {0, false},
	}
	for in, want := range tests {
		n, ok := parseSelectionAnswer(in)
		assert.Equal(t, want.ok, ok, in)
		assert.Equal(t, want.n, n, in)
	}
}

func TestBusiness_SearchOutcomes(t *testing.T) {
	t.Run("no products found offers the catalog", func(t *testing.T) {
		h := newHarness(t, nil)
		h.llm.extract = "carpa gigante"
		h.send("Hola")
		h.send("2")
		h.send("una carpa gigante")

		assert.Equal(t, textNotFound("carpa gigante"), h.transport.lastText(t, testSender))
		u := h.user(t)
		assert.Equal(t, domain.StageAwaitingSearch, u.Stage)
		assert.True(t, u.AwaitingCatalogResponse)
		assert.False(t, u.AwaitingProductSelection)

		h.send("si")
		assert.Equal(t, []string{"https://cdn.example.com/catalogo.pdf"}, h.transport.bodies("document", testSender))
		u = h.user(t)
		assert.False(t, u.AwaitingCatalogResponse)
		assert.True(t, u.OfferedCatalog)
	})

	t.Run("no product named", func(t *testing.T) {
		h := newHarness(t, nil)
		h.llm.extract = "Ninguno."
		h.send("Hola")
		h.send("quiero comprar algo")

		assert.Equal(t, textNoProductFound, h.transport.lastText(t, testSender))
		assert.Empty(t, h.catalog.searches)
		assert.Equal(t, domain.StageAwaitingSearch, h.user(t).Stage)
	})

	t.Run("catalog failure apologizes without state change", func(t *testing.T) {
		h := newHarness(t, nil)
		h.llm.extract = "toldo"
		h.catalog.searchErr = &domain.ErrExternalService{Service: "catalog", Err: errors.New("timeout")}
		h.send("Hola")
		h.send("2")
		h.send("toldo")

		assert.Equal(t, textSearchFailed, h.transport.lastText(t, testSender))
		u := h.user(t)
		assert.Equal(t, domain.StageAwaitingSearch, u.Stage)
		assert.Empty(t, u.LastSearchTerm)
		assert.Equal(t, 1.0, h.metrics.BranchCount(ProfileBusiness, "error"))
	})
}

func TestBusiness_Catalog(t *testing.T) {
	t.Run("menu option 1 sends the document", func(t *testing.T) {
		h := newHarness(t, nil)
		h.send("Hola")
		h.send("1")
		assert.Equal(t, textCatalogIntro, h.transport.lastText(t, testSender))
		assert.Len(t, h.transport.bodies("document", testSender), 1)
	})

	t.Run("document failure falls back to the link", func(t *testing.T) {
		h := newHarness(t, nil)
		h.transport.docErr = errors.New("media rejected")
		h.send("Hola")
		h.send("muéstrame el catálogo")
		assert.Equal(t, textCatalogFailed+"https://cdn.example.com/catalogo.pdf", h.transport.lastText(t, testSender))
	})
}

func TestBusiness_CatalogRequestIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.send("Hola")

	for i := 1; i <= 2; i++ {
		h.send("muéstrame el catálogo")
		assert.Len(t, h.transport.bodies("document", testSender), i)
		u := h.user(t)
		assert.True(t, u.OfferedCatalog)
		assert.False(t, u.AwaitingCatalogResponse)
	}
}

func TestBusiness_NewSearchReplacesSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	mesa := domain.SearchItem{ProductID: "m1", Name: "Mesa Plegable 1.8m", Price: 180, Code: "MES001"}
	h.catalog.byTerm = map[string][]domain.SearchItem{
		"toldo": threeToldos(),
		"mesa":  {mesa},
	}

	h.llm.extract = "toldo"
	h.send("Hola")
	h.send("2")
	h.send("toldo")
	snapshot, err := h.store.GetSearchResults(context.Background(), testSender)
	require.NoError(t, err)
	require.Len(t, snapshot, 3)

	h.llm.extract = "mesa"
	h.send("quiero comprar una mesa")
	snapshot, err = h.store.GetSearchResults(context.Background(), testSender)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "m1", snapshot[0].ProductID)
	assert.Equal(t, []string{"toldo", "mesa"}, h.catalog.searches)

	// "1" now addresses the mesa, not the first toldo.
	h.catalog.products = map[string]*domain.Product{"m1": mesa.AsProduct()}
	h.send("1")
	assert.Equal(t, "m1", h.user(t).CurrentProductID)
}

func TestBusiness_LaterPromptsEndTheResultList(t *testing.T) {
	setup := func(t *testing.T) *harness {
		h := newHarness(t, nil)
		h.catalog.items = threeToldos()
		h.llm.extract = "toldo"
		h.send("Hola")
		h.send("2")
		h.send("toldo")
		require.True(t, h.user(t).AwaitingProductSelection)
		return h
	}

	t.Run("greeting then menu option 4", func(t *testing.T) {
		h := setup(t)
		h.send("hola")
		assert.False(t, h.user(t).AwaitingProductSelection)

		h.send("4")
		assert.Equal(t, domain.StageShippingInfo, h.user(t).Stage)
		assert.Equal(t, textShippingPolicy, h.transport.lastText(t, testSender))
	})

	t.Run("greeting then menu option 2", func(t *testing.T) {
		h := setup(t)
		h.send("hola")
		h.send("2")
		u := h.user(t)
		assert.Equal(t, domain.StageAwaitingSearch, u.Stage)
		assert.Empty(t, u.CurrentProductID)
		assert.Equal(t, textAskSearchTerm, h.transport.lastText(t, testSender))
	})

	t.Run("catalog request", func(t *testing.T) {
		h := setup(t)
		h.send("muéstrame el catálogo")
		assert.False(t, h.user(t).AwaitingProductSelection)
	})

	t.Run("new search prompt", func(t *testing.T) {
		h := setup(t)
		h.send("nueva búsqueda")
		u := h.user(t)
		assert.Equal(t, domain.StageAwaitingSearch, u.Stage)
		assert.False(t, u.AwaitingProductSelection)
	})

	t.Run("deferred menu", func(t *testing.T) {
		h := setup(t)
		h.send("cuéntame un chiste")
		require.NotEmpty(t, h.scheduler.pending())
		h.scheduler.fireLast(t)
		u := h.user(t)
		assert.Equal(t, domain.StageMainMenu, u.Stage)
		assert.False(t, u.AwaitingProductSelection)
	})
}

func TestBusiness_MenuOptions(t *testing.T) {
	t.Run("shipping info", func(t *testing.T) {
		h := newHarness(t, nil)
		h.send("Hola")
		h.send("4")
		assert.Equal(t, domain.StageShippingInfo, h.user(t).Stage)
		assert.Equal(t, textShippingPolicy, h.transport.lastText(t, testSender))
	})

	t.Run("availability", func(t *testing.T) {
		h := newHarness(t, nil)
		h.send("Hola")
		h.send("opción 3")
		assert.Equal(t, domain.StageAwaitingSearch, h.user(t).Stage)
		assert.Equal(t, textAskAvailability, h.transport.lastText(t, testSender))
	})

	t.Run("seller handoff and restart", func(t *testing.T) {
		h := newHarness(t, nil)
		h.send("Hola")
		h.send("5")
		assert.Equal(t, domain.StageAwaitingAgent, h.user(t).Stage)
		assert.Equal(t, textAgentContact, h.transport.lastText(t, testSender))
		assert.Len(t, h.transport.texts(testOperator), 1)

		// Anything after the handoff starts a fresh session.
		h.send("ya me contactaron, gracias")
		assert.Equal(t, domain.StageMainMenu, h.user(t).Stage)
		assert.Equal(t, textMainMenu, h.transport.lastText(t, testSender))
		entries := h.history(t)
		require.Len(t, entries, 2)
		assert.Equal(t, "ya me contactaron, gracias", entries[0].Content)
	})
}

func TestBusiness_ProductOptions(t *testing.T) {
	setup := func(t *testing.T) *harness {
		h := newHarness(t, nil)
		h.catalog.items = threeToldos()
		h.llm.extract = "toldo"
		h.send("Hola")
		h.send("2")
		h.send("toldo")
		h.send("2")
		require.Equal(t, domain.StageShowingProduct, h.user(t).Stage)
		return h
	}

	t.Run("search another", func(t *testing.T) {
		h := setup(t)
		h.send("2")
		assert.Equal(t, domain.StageAwaitingSearch, h.user(t).Stage)
		assert.Equal(t, textAskOtherProduct, h.transport.lastText(t, testSender))
	})

	t.Run("buy notifies the operator", func(t *testing.T) {
		h := setup(t)
		before := len(h.transport.texts(testOperator))
		h.send("4")
		assert.Equal(t, domain.StageAwaitingAgent, h.user(t).Stage)
		assert.Equal(t, textPurchaseContact, h.transport.lastText(t, testSender))
		notices := h.transport.texts(testOperator)
		require.Len(t, notices, before+1)
		assert.Contains(t, notices[len(notices)-1], "Toldo Plegable 3x3")
	})

	t.Run("details again", func(t *testing.T) {
		h := setup(t)
		h.send("1")
		assert.Len(t, h.user(t).ConsultedProducts, 2)
		assert.Equal(t, textPostProductOptions, h.transport.lastText(t, testSender))
	})

	t.Run("unknown option repeats the options", func(t *testing.T) {
		h := setup(t)
		h.send("9")
		assert.Equal(t, textPostProductOptions, h.transport.lastText(t, testSender))
		assert.Equal(t, domain.StageShowingProduct, h.user(t).Stage)
	})
}

func TestBusiness_OffTopicSchedulesMenu(t *testing.T) {
	h := newHarness(t, nil)
	h.send("Hola")
	h.send("cuéntame un chiste")

	assert.Equal(t, textOffTopic, h.transport.lastText(t, testSender))
	assert.Empty(t, h.llm.requests, "the guardrail answers without the model")

	task := h.scheduler.fireLast(t)
	assert.Equal(t, testSender, task.sender)
	assert.Equal(t, DefaultSettings().OffTopicMenuDelay, task.delay)
	assert.Equal(t, textMainMenu, h.transport.lastText(t, testSender))
	assert.Equal(t, domain.StageMainMenu, h.user(t).Stage)
}

func TestBusiness_Converse(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.LongChatThreshold = 4 })
	h.llm.chat = []string{"  Sí, enviamos a todo el Perú.  ", "El envío tarda 3 días."}
	h.send("Hola")
	h.send("¿hacen envíos a Cusco?")

	assert.Equal(t, "Sí, enviamos a todo el Perú.", h.transport.lastText(t, testSender))
	assert.Equal(t, domain.StageConversing, h.user(t).Stage)

	req := h.llm.lastChat(t)
	assert.Equal(t, businessSystemPrompt, req.SystemPrompt)
	assert.Equal(t, "¿hacen envíos a Cusco?", req.UserText)
	require.Len(t, req.History, 2, "history holds the earlier turns only")
	assert.Equal(t, "Hola", req.History[0].Content)
	assert.Empty(t, h.scheduler.pending(), "first AI reply schedules nothing")

	// A second AI turn in a long chat brings the menu back later.
	h.send("¿y cuánto demora la entrega?")
	tasks := h.scheduler.pending()
	require.Len(t, tasks, 1)
	assert.Equal(t, DefaultSettings().LongChatMenuDelay, tasks[0].delay)
}

func TestBusiness_LLMFailureApologizes(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.SupportLine = "+51 999 888 777" })
	h.send("Hola")
	h.llm.err = &domain.ErrExternalService{Service: "llm", Err: errors.New("429")}
	h.send("¿tienen garantía?")

	assert.Equal(t,
		textApology+" Si el problema continúa, contáctanos al +51 999 888 777.",
		h.transport.lastText(t, testSender))
	assert.Equal(t, domain.StageMainMenu, h.user(t).Stage)

	entries := h.history(t)
	assert.Equal(t, domain.RoleUser, entries[len(entries)-1].Role, "apologies are not recorded")
}

func TestRouter_MediaRepliesTouchNoState(t *testing.T) {
	h := newHarness(t, nil)
	h.deliver(chatdomain.InboundMessage{ID: "s1", RemoteID: testSender, Kind: chatdomain.KindSticker})
	h.deliver(chatdomain.InboundMessage{ID: "i1", RemoteID: testSender, Kind: chatdomain.KindImage, MediaRef: "x"})

	assert.Equal(t, []string{textSticker, textImageReceived}, h.transport.texts(testSender))
	assert.Nil(t, h.user(t))
	assert.Equal(t, 2.0, h.metrics.BranchCount(ProfileBusiness, "media_reply"))
}

func TestRouter_HandleEvent(t *testing.T) {
	h := newHarness(t, nil)
	queued := h.router.HandleEvent(context.Background(), &chatdomain.InboundEvent{
		Type: chatdomain.EventNotify,
		Messages: []chatdomain.InboundMessage{
			{ID: "1", RemoteID: testSender, Kind: chatdomain.KindText, Text: "Hola"},
			{ID: "2", RemoteID: testSender, FromSelf: true, Kind: chatdomain.KindText, Text: "eco"},
			{ID: "3", RemoteID: testSender, Kind: chatdomain.KindText, Text: "   "},
		},
	})
	assert.Equal(t, 1, queued)
	assert.Equal(t, uint64(1), h.scheduler.bumps[testSender])
	assert.Len(t, h.transport.texts(testSender), 1)
}

func TestRouter_LanesRejection(t *testing.T) {
	h := newHarness(t, nil)
	r, err := NewRouter(Deps{
		Store: h.store, Catalog: h.catalog, LLM: h.llm, Transport: h.transport,
		Lanes: rejectingLanes{}, Scheduler: h.scheduler,
	}, DefaultSettings(), h.metrics, h.router.kit.logger)
	require.NoError(t, err)

	n := r.HandleEvent(context.Background(), &chatdomain.InboundEvent{
		Type:     chatdomain.EventNotify,
		Messages: []chatdomain.InboundMessage{{RemoteID: testSender, Kind: chatdomain.KindText, Text: "Hola"}},
	})
	assert.Zero(t, n)
	assert.Empty(t, h.transport.texts(testSender))
}

func TestNewRouter_Validation(t *testing.T) {
	h := newHarness(t, nil)
	deps := Deps{Store: h.store, LLM: h.llm, Transport: h.transport, Lanes: inlineLanes{}, Scheduler: h.scheduler}

	_, err := NewRouter(deps, DefaultSettings(), h.metrics, h.router.kit.logger)
	assert.Error(t, err, "business needs a catalog")

	personal := DefaultSettings()
	personal.Profile = ProfilePersonal
	r, err := NewRouter(deps, personal, h.metrics, h.router.kit.logger)
	require.NoError(t, err)
	assert.Equal(t, ProfilePersonal, r.ProfileName())
	assert.False(t, r.AcceptsPayments())

	deps.Catalog = h.catalog
	unknown := DefaultSettings()
	unknown.Profile = "wholesale"
	_, err = NewRouter(deps, unknown, h.metrics, h.router.kit.logger)
	assert.Error(t, err)

	deps.Store = nil
	_, err = NewRouter(deps, DefaultSettings(), h.metrics, h.router.kit.logger)
	assert.Error(t, err)
}

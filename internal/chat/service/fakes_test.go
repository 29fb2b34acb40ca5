package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	chatdomain "github.com/boddenberg/wa-commerce-bot/internal/chat/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/observability"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSender   = "51987654321@c.us"
	testOperator = "51900000000@c.us"
)

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

// ============================================================
// Catalog
// ============================================================

type fakeCatalog struct {
	mu        sync.Mutex
	items     []domain.SearchItem
	byTerm    map[string][]domain.SearchItem
	products  map[string]*domain.Product
	byCode    *domain.Product
	searchErr error
	detailErr error
	codeErr   error
	searches  []string
	pages     [][2]int
}

func (c *fakeCatalog) SearchProducts(_ context.Context, term string, page, pageSize int) ([]domain.SearchItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches = append(c.searches, term)
	c.pages = append(c.pages, [2]int{page, pageSize})
	if c.searchErr != nil {
		return nil, c.searchErr
	}
	if items, ok := c.byTerm[term]; ok {
		return items, nil
	}
	return c.items, nil
}

func (c *fakeCatalog) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	if c.detailErr != nil {
		return nil, c.detailErr
	}
	return c.products[id], nil
}

func (c *fakeCatalog) GetProductByCode(_ context.Context, _ string) (*domain.Product, error) {
	if c.codeErr != nil {
		return nil, c.codeErr
	}
	return c.byCode, nil
}

func (c *fakeCatalog) CatalogDocumentURL() string {
	return "https://cdn.example.com/catalogo.pdf"
}

// ============================================================
// LLM
// ============================================================

// fakeLLM answers per system prompt; unknown prompts get chat.
type fakeLLM struct {
	mu       sync.Mutex
	extract  string
	selector string
	chat     []string
	err      error
	requests []domain.CompletionRequest
}

func (l *fakeLLM) Complete(_ context.Context, req *domain.CompletionRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, *req)
	if l.err != nil {
		return "", l.err
	}
	switch req.SystemPrompt {
	case extractorSystemPrompt:
		return l.extract, nil
	case selectorSystemPrompt:
		return l.selector, nil
	}
	if len(l.chat) == 0 {
		return "respuesta", nil
	}
	out := l.chat[0]
	if len(l.chat) > 1 {
		l.chat = l.chat[1:]
	}
	return out, nil
}

func (l *fakeLLM) lastChat(t *testing.T) domain.CompletionRequest {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.requests) - 1; i >= 0; i-- {
		r := l.requests[i]
		if r.SystemPrompt != extractorSystemPrompt && r.SystemPrompt != selectorSystemPrompt {
			return r
		}
	}
	t.Fatal("no chat completion recorded")
	return domain.CompletionRequest{}
}

// ============================================================
// Transport
// ============================================================

type sent struct {
	kind string // text, image, document
	to   string
	body string // text or url
}

type fakeTransport struct {
	mu       sync.Mutex
	out      []sent
	textErr  error
	imageErr error
	docErr   error
	media    []byte
	mediaErr error
}

func (f *fakeTransport) SendText(_ context.Context, to, text, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return f.textErr
	}
	f.out = append(f.out, sent{"text", to, text})
	return nil
}

func (f *fakeTransport) SendImage(_ context.Context, to, url, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageErr != nil {
		return f.imageErr
	}
	f.out = append(f.out, sent{"image", to, url})
	return nil
}

func (f *fakeTransport) SendDocument(_ context.Context, to, url, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docErr != nil {
		return f.docErr
	}
	f.out = append(f.out, sent{"document", to, url})
	return nil
}

func (f *fakeTransport) DownloadMedia(context.Context, string) ([]byte, error) {
	return f.media, f.mediaErr
}

func (f *fakeTransport) Status(context.Context) domain.TransportStatus {
	return domain.TransportStatus{}
}

// texts returns the texts sent to one address, oldest first.
func (f *fakeTransport) texts(to string) []string {
	return f.bodies("text", to)
}

func (f *fakeTransport) bodies(kind, to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.out {
		if s.kind == kind && s.to == to {
			out = append(out, s.body)
		}
	}
	return out
}

func (f *fakeTransport) lastText(t *testing.T, to string) string {
	t.Helper()
	texts := f.texts(to)
	require.NotEmpty(t, texts, "no text sent to %s", to)
	return texts[len(texts)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = nil
}

// ============================================================
// Lanes and scheduler
// ============================================================

// inlineLanes runs each job synchronously on the caller.
type inlineLanes struct{}

func (inlineLanes) Submit(ctx context.Context, _ string, job func(ctx context.Context)) error {
	job(context.WithoutCancel(ctx))
	return nil
}

type rejectingLanes struct{}

func (rejectingLanes) Submit(context.Context, string, func(ctx context.Context)) error {
	return errors.New("lanes closed")
}

type scheduledTask struct {
	sender string
	delay  time.Duration
	fn     func(ctx context.Context)
}

// recordingScheduler keeps tasks until the test fires them.
type recordingScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
	bumps map[string]uint64
}

func (s *recordingScheduler) Schedule(sender string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{sender, delay, fn})
}

func (s *recordingScheduler) Bump(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bumps == nil {
		s.bumps = make(map[string]uint64)
	}
	s.bumps[sender]++
}

func (s *recordingScheduler) pending() []scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledTask(nil), s.tasks...)
}

// fireLast runs the most recent task and removes it.
func (s *recordingScheduler) fireLast(t *testing.T) scheduledTask {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.tasks, "no deferred task scheduled")
	task := s.tasks[len(s.tasks)-1]
	s.tasks = s.tasks[:len(s.tasks)-1]
	s.mu.Unlock()
	task.fn(context.Background())
	return task
}

// ============================================================
// Harness
// ============================================================

type harness struct {
	router    *Router
	store     *store.Memory
	catalog   *fakeCatalog
	llm       *fakeLLM
	transport *fakeTransport
	scheduler *recordingScheduler
	metrics   *observability.Metrics
}

func newHarness(t *testing.T, configure func(*Settings)) *harness {
	t.Helper()
	settings := DefaultSettings()
	settings.OperatorAddr = testOperator
	if configure != nil {
		configure(&settings)
	}

	h := &harness{
		store:     store.NewMemory(),
		catalog:   &fakeCatalog{products: map[string]*domain.Product{}},
		llm:       &fakeLLM{},
		transport: &fakeTransport{},
		scheduler: &recordingScheduler{},
		metrics:   observability.NewMetrics(),
	}
	r, err := NewRouter(Deps{
		Store:     h.store,
		Catalog:   h.catalog,
		LLM:       h.llm,
		Transport: h.transport,
		Lanes:     inlineLanes{},
		Scheduler: h.scheduler,
	}, settings, h.metrics, zap.NewNop(), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	h.router = r
	return h
}

func (h *harness) send(text string) int {
	return h.deliver(chatdomain.InboundMessage{
		ID:       "msg-" + text,
		RemoteID: testSender,
		PushName: "Ana",
		Kind:     chatdomain.KindText,
		Text:     text,
	})
}

func (h *harness) deliver(msg chatdomain.InboundMessage) int {
	return h.router.HandleEvent(context.Background(), &chatdomain.InboundEvent{
		Type:     chatdomain.EventNotify,
		Messages: []chatdomain.InboundMessage{msg},
	})
}

func (h *harness) user(t *testing.T) *domain.User {
	t.Helper()
	u, err := h.store.GetUser(context.Background(), testSender)
	require.NoError(t, err)
	return u
}

func (h *harness) history(t *testing.T) []domain.HistoryEntry {
	t.Helper()
	entries, err := h.store.GetHistory(context.Background(), testSender, 0)
	require.NoError(t, err)
	return entries
}

// seedUser creates the sender's record and applies patch.
func (h *harness) seedUser(t *testing.T, patch domain.UserPatch) {
	t.Helper()
	ctx := context.Background()
	_, err := h.store.GetOrCreateUser(ctx, testSender)
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateUser(ctx, testSender, patch))
}

func threeToldos() []domain.SearchItem {
	return []domain.SearchItem{
		{ProductID: "p1", Name: "Toldo Plegable 2x2", Price: 150, Code: "TOL002"},
		{ProductID: "p2", Name: "Toldo Plegable 3x3", Price: 210, Code: "TOL001", ImageURL: "https://cdn.example.com/tol001.jpg"},
		{ProductID: "p3", Name: "Toldo Plegable 3x6", Price: 390, Code: "TOL003"},
	}
}

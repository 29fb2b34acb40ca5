package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePostgREST keeps wabot_users rows keyed by sender_id and records the
// methods it saw per table.
type fakePostgREST struct {
	mu    sync.Mutex
	users map[string]json.RawMessage
	calls []string
	// fail answers 503 to the next n requests matching "METHOD table".
	fail   map[string]int
	writes []recordedWrite
}

type recordedWrite struct {
	table      string
	prefer     string
	onConflict string
	body       string
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	key := r.Method + " " + table
	f.calls = append(f.calls, key)
	sender := strings.TrimPrefix(r.URL.Query().Get("sender_id"), "eq.")

	if r.Method == http.MethodPost {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		f.writes = append(f.writes, recordedWrite{
			table:      table,
			prefer:     r.Header.Get("Prefer"),
			onConflict: r.URL.Query().Get("on_conflict"),
			body:       string(body),
		})
	}
	if f.fail[key] > 0 {
		f.fail[key]--
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"upstream unavailable"}`))
		return
	}

	if table != tableUsers {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		if row, ok := f.users[sender]; ok {
			_, _ = w.Write([]byte("[" + string(row) + "]"))
			return
		}
		_, _ = w.Write([]byte("[]"))
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var row userRow
		if err := json.Unmarshal(body, &row); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.users[row.SenderID] = body
		w.WriteHeader(http.StatusCreated)
	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		f.users[sender] = body
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		delete(f.users, sender)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newTestClient(t *testing.T) (*Client, *fakePostgREST) {
	t.Helper()
	return newRetryingClient(t, 0)
}

func newRetryingClient(t *testing.T, retries int) (*Client, *fakePostgREST) {
	t.Helper()
	fake := &fakePostgREST{users: map[string]json.RawMessage{}, fail: map[string]int{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		URL:        srv.URL,
		APIKey:     "service-role",
		Resilience: resilience.Config{MaxRetries: retries, InitialBackoff: time.Millisecond, CallTimeout: 2 * time.Second},
	}, zap.NewNop())
	require.NoError(t, err)
	return c, fake
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(Config{APIKey: "k"}, nil)
	assert.Error(t, err)
	_, err = New(Config{URL: "http://x"}, nil)
	assert.Error(t, err)
}

func TestClient_UserLifecycle(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	u, err := c.GetOrCreateUser(ctx, "51999@c.us")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, domain.StageInitial, u.Stage)

	require.NoError(t, c.UpdateUser(ctx, "51999@c.us", domain.UserPatch{
		Stage:           domain.Ptr(domain.StageAwaitingSearch),
		AppendConsulted: &domain.ConsultedProduct{ProductID: "7", Name: "Carpa"},
	}))

	got, err := c.GetUser(ctx, "51999@c.us")
	require.NoError(t, err)
	assert.Equal(t, domain.StageAwaitingSearch, got.Stage)
	require.Len(t, got.ConsultedProducts, 1)

	require.NoError(t, c.DeleteUser(ctx, "51999@c.us"))
	gone, err := c.GetUser(ctx, "51999@c.us")
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Contains(t, fake.calls, "POST "+tableUsers)
	assert.Contains(t, fake.calls, "PATCH "+tableUsers)
	assert.Contains(t, fake.calls, "DELETE "+tableUsers)
}

func TestClient_UpdateMissingUser(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.UpdateUser(context.Background(), "nobody", domain.UserPatch{Name: domain.Ptr("x")})
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestClient_ReplaceSearchResultsClearsFirst(t *testing.T) {
	c, fake := newTestClient(t)

	err := c.ReplaceSearchResults(context.Background(), "51999@c.us", []domain.SearchItem{{ProductID: "1", Name: "Mochila"}})
	require.NoError(t, err)

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "DELETE "+tableResults, fake.calls[0])
	assert.Equal(t, "POST "+tableResults, fake.calls[1])
}

func TestClient_RetriedWritesAreUpserts(t *testing.T) {
	c, fake := newRetryingClient(t, 2)
	ctx := context.Background()

	fake.fail["POST "+tableMessages] = 1
	require.NoError(t, c.AppendHistory(ctx, "51999@c.us", domain.RoleUser, "hola"))

	fake.fail["POST "+tableResults] = 1
	require.NoError(t, c.ReplaceSearchResults(ctx, "51999@c.us", []domain.SearchItem{{ProductID: "1", Name: "Mochila"}}))

	require.NoError(t, c.SaveOrder(ctx, &domain.Order{SenderID: "51999@c.us", ProductName: "Mochila"}))

	byTable := map[string][]recordedWrite{}
	for _, w := range fake.writes {
		byTable[w.table] = append(byTable[w.table], w)
	}

	history := byTable[tableMessages]
	require.Len(t, history, 2)
	assert.Equal(t, history[0].body, history[1].body, "a retry must resend the same entry")
	assert.Equal(t, "entry_id", history[0].onConflict)
	assert.Contains(t, history[0].prefer, "resolution=merge-duplicates")

	results := byTable[tableResults]
	require.Len(t, results, 2)
	assert.Equal(t, "sender_id,position", results[0].onConflict)
	assert.Contains(t, results[0].prefer, "resolution=merge-duplicates")

	orders := byTable[tableOrders]
	require.Len(t, orders, 1)
	assert.Equal(t, "sender_id", orders[0].onConflict)
	assert.Contains(t, orders[0].prefer, "resolution=merge-duplicates")
}

func TestClient_CreateUserIsNotRetried(t *testing.T) {
	c, fake := newRetryingClient(t, 2)
	fake.fail["POST "+tableUsers] = 1

	_, err := c.GetOrCreateUser(context.Background(), "51999@c.us")
	require.Error(t, err)

	posts := 0
	for _, call := range fake.calls {
		if call == "POST "+tableUsers {
			posts++
		}
	}
	assert.Equal(t, 1, posts)
	assert.Empty(t, fake.users)
}

func TestUserRow_RoundTripKeepsConsultedNonNil(t *testing.T) {
	row := userToRow(domain.NewUser("a", time.Now()))
	assert.NotNil(t, row.ConsultedProducts)

	b, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"consulted_products":[]`)
}

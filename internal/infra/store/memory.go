// Package store holds the SessionStore drivers: an in-process map store,
// Redis, and Postgres through gorm. The Supabase driver lives in its own
// package.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"github.com/google/uuid"
)

// Memory is a process-local SessionStore. It backs the console mode and the
// tests; state is lost on restart.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]*domain.User
	history map[string][]domain.HistoryEntry
	results map[string][]domain.SearchItem
	orders  map[string]*domain.Order
	now     func() time.Time
}

var _ port.SessionStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]*domain.User),
		history: make(map[string][]domain.HistoryEntry),
		results: make(map[string][]domain.SearchItem),
		orders:  make(map[string]*domain.Order),
		now:     time.Now,
	}
}

func (m *Memory) GetOrCreateUser(_ context.Context, senderID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[senderID]; ok {
		return cloneUser(u), nil
	}
	u := domain.NewUser(senderID, m.now())
	m.users[senderID] = u
	return cloneUser(u), nil
}

func (m *Memory) GetUser(_ context.Context, senderID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.users[senderID]; ok {
		return cloneUser(u), nil
	}
	return nil, nil
}

func (m *Memory) UpdateUser(_ context.Context, senderID string, patch domain.UserPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[senderID]
	if !ok {
		return &domain.ErrNotFound{Resource: "user", ID: senderID}
	}
	patch.Apply(u)
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, senderID)
	return nil
}

func (m *Memory) AppendHistory(_ context.Context, senderID string, role domain.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[senderID] = append(m.history[senderID], domain.HistoryEntry{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
	})
	return nil
}

func (m *Memory) GetHistory(_ context.Context, senderID string, limit int) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return tail(m.history[senderID], limit), nil
}

func (m *Memory) DeleteHistory(_ context.Context, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.history, senderID)
	return nil
}

func (m *Memory) ReplaceSearchResults(_ context.Context, senderID string, items []domain.SearchItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(items) == 0 {
		delete(m.results, senderID)
		return nil
	}
	m.results[senderID] = append([]domain.SearchItem(nil), items...)
	return nil
}

func (m *Memory) GetSearchResults(_ context.Context, senderID string) ([]domain.SearchItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]domain.SearchItem(nil), m.results[senderID]...), nil
}

func (m *Memory) GetOrder(_ context.Context, senderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if o, ok := m.orders[senderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) SaveOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *order
	now := m.now()
	if prev, ok := m.orders[order.SenderID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.Status == "" {
		cp.Status = domain.OrderPending
	}
	cp.UpdatedAt = now
	m.orders[order.SenderID] = &cp
	return nil
}

func (m *Memory) DeleteOrder(_ context.Context, senderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.orders, senderID)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// cloneUser copies u so callers cannot mutate stored state.
func cloneUser(u *domain.User) *domain.User {
	cp := *u
	cp.ConsultedProducts = append([]domain.ConsultedProduct(nil), u.ConsultedProducts...)
	if u.LastSearchAt != nil {
		t := *u.LastSearchAt
		cp.LastSearchAt = &t
	}
	return &cp
}

// tail returns a copy of the last limit entries; limit <= 0 means all.
func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return append([]T(nil), items...)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "wabot:"
	defaultTTL = 30 * 24 * time.Hour
	// watchRetries bounds optimistic-lock retries on concurrent writers.
	watchRetries = 5
)

// Redis stores each sender's state under four keys: a JSON user record,
// a history list, a JSON search snapshot and a JSON order. Every write
// refreshes the key's TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ port.SessionStore = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl, now: time.Now}
}

func userKey(id string) string    { return keyPrefix + "user:" + id }
func historyKey(id string) string { return keyPrefix + "history:" + id }
func resultsKey(id string) string { return keyPrefix + "results:" + id }
func orderKey(id string) string   { return keyPrefix + "order:" + id }

func (s *Redis) GetOrCreateUser(ctx context.Context, senderID string) (*domain.User, error) {
	fresh, err := json.Marshal(domain.NewUser(senderID, s.now()))
	if err != nil {
		return nil, err
	}
	key := userKey(senderID)
	// SetNX makes concurrent first contacts converge on one record.
	if err := s.client.SetNX(ctx, key, fresh, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis: create user: %w", err)
	}
	u, err := s.GetUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("redis: user %s vanished after create", senderID)
	}
	return u, nil
}

func (s *Redis) GetUser(ctx context.Context, senderID string) (*domain.User, error) {
	var u domain.User
	ok, err := s.getJSON(ctx, userKey(senderID), &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

func (s *Redis) UpdateUser(ctx context.Context, senderID string, patch domain.UserPatch) error {
	key := userKey(senderID)
	update := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return &domain.ErrNotFound{Resource: "user", ID: senderID}
		}
		if err != nil {
			return err
		}
		var u domain.User
		if err := json.Unmarshal(val, &u); err != nil {
			return fmt.Errorf("redis: decode user: %w", err)
		}
		patch.Apply(&u)
		next, err := json.Marshal(&u)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < watchRetries; i++ {
		err := s.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: update user %s: too much contention", senderID)
}

func (s *Redis) DeleteUser(ctx context.Context, senderID string) error {
	return s.client.Del(ctx, userKey(senderID)).Err()
}

func (s *Redis) AppendHistory(ctx context.Context, senderID string, role domain.Role, content string) error {
	entry, err := json.Marshal(domain.HistoryEntry{
		ID:        uuid.NewString(),
		SenderID:  senderID,
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	if err != nil {
		return err
	}
	key := historyKey(senderID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, entry)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

func (s *Redis) GetHistory(ctx context.Context, senderID string, limit int) ([]domain.HistoryEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, historyKey(senderID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]domain.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e domain.HistoryEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("redis: decode history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Redis) DeleteHistory(ctx context.Context, senderID string) error {
	return s.client.Del(ctx, historyKey(senderID)).Err()
}

func (s *Redis) ReplaceSearchResults(ctx context.Context, senderID string, items []domain.SearchItem) error {
	if len(items) == 0 {
		return s.client.Del(ctx, resultsKey(senderID)).Err()
	}
	return s.setJSON(ctx, resultsKey(senderID), items)
}

func (s *Redis) GetSearchResults(ctx context.Context, senderID string) ([]domain.SearchItem, error) {
	var items []domain.SearchItem
	if _, err := s.getJSON(ctx, resultsKey(senderID), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Redis) GetOrder(ctx context.Context, senderID string) (*domain.Order, error) {
	var o domain.Order
	ok, err := s.getJSON(ctx, orderKey(senderID), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

func (s *Redis) SaveOrder(ctx context.Context, order *domain.Order) error {
	prev, err := s.GetOrder(ctx, order.SenderID)
	if err != nil {
		return err
	}
	cp := *order
	now := s.now()
	switch {
	case prev != nil:
		cp.CreatedAt = prev.CreatedAt
	case cp.CreatedAt.IsZero():
		cp.CreatedAt = now
	}
	if cp.Status == "" {
		cp.Status = domain.OrderPending
	}
	cp.UpdatedAt = now
	return s.setJSON(ctx, orderKey(order.SenderID), &cp)
}

func (s *Redis) DeleteOrder(ctx context.Context, senderID string) error {
	return s.client.Del(ctx, orderKey(senderID)).Err()
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func (s *Redis) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, b, s.ttl).Err()
}

// getJSON decodes key into v. It reports false when the key is absent.
func (s *Redis) getJSON(ctx context.Context, key string, v any) (bool, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return true, nil
}

// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the conversation
// core from the concrete store, catalog, LLM and messaging adapters.
package port

import (
	"context"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
)

// SessionStore owns every piece of per-sender state: the user record,
// message history, the search-result snapshot and the order in progress.
// Lookups of absent records return nil without an error.
type SessionStore interface {
	GetOrCreateUser(ctx context.Context, senderID string) (*domain.User, error)
	GetUser(ctx context.Context, senderID string) (*domain.User, error)
	UpdateUser(ctx context.Context, senderID string, patch domain.UserPatch) error
	DeleteUser(ctx context.Context, senderID string) error

	AppendHistory(ctx context.Context, senderID string, role domain.Role, content string) error
	// GetHistory returns at most limit entries, the most recent ones, oldest
	// first. limit <= 0 returns everything.
	GetHistory(ctx context.Context, senderID string, limit int) ([]domain.HistoryEntry, error)
	DeleteHistory(ctx context.Context, senderID string) error

	// ReplaceSearchResults drops the previous snapshot and stores items.
	ReplaceSearchResults(ctx context.Context, senderID string, items []domain.SearchItem) error
	GetSearchResults(ctx context.Context, senderID string) ([]domain.SearchItem, error)

	GetOrder(ctx context.Context, senderID string) (*domain.Order, error)
	SaveOrder(ctx context.Context, order *domain.Order) error
	DeleteOrder(ctx context.Context, senderID string) error

	Ping(ctx context.Context) error
	Close() error
}

// CatalogGateway reads the external product catalog.
type CatalogGateway interface {
	SearchProducts(ctx context.Context, term string, page, pageSize int) ([]domain.SearchItem, error)
	// GetProductByID returns nil when the catalog has no such product.
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	CatalogDocumentURL() string
}

// LLMGateway produces chat completions.
type LLMGateway interface {
	Complete(ctx context.Context, req *domain.CompletionRequest) (string, error)
}

// Transport sends WhatsApp messages and fetches inbound media.
type Transport interface {
	SendText(ctx context.Context, to, text, replyTo string) error
	SendImage(ctx context.Context, to, url, replyTo string) error
	SendDocument(ctx context.Context, to, url, filename, caption, replyTo string) error
	DownloadMedia(ctx context.Context, ref string) ([]byte, error)
	Status(ctx context.Context) domain.TransportStatus
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

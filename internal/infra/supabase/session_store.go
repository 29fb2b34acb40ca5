package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"github.com/google/uuid"
	"github.com/supabase-community/postgrest-go"
)

var _ port.SessionStore = (*Client)(nil)

// userRow maps wabot_users columns.
type userRow struct {
	SenderID                 string                    `json:"sender_id"`
	Name                     string                    `json:"name"`
	Stage                    string                    `json:"stage"`
	AwaitingCatalogResponse  bool                      `json:"awaiting_catalog_response"`
	AwaitingProductSelection bool                      `json:"awaiting_product_selection"`
	OfferedCatalog           bool                      `json:"offered_catalog"`
	CurrentProductID         string                    `json:"current_product_id"`
	SelectedColor            string                    `json:"selected_color"`
	ShippingType             string                    `json:"shipping_type"`
	Address                  string                    `json:"address"`
	LastSearchTerm           string                    `json:"last_search_term"`
	LastSearchAt             *time.Time                `json:"last_search_at"`
	ConsultedProducts        []domain.ConsultedProduct `json:"consulted_products"`
	LastInteraction          time.Time                 `json:"last_interaction"`
	CreatedAt                time.Time                 `json:"created_at"`
}

type messageRow struct {
	Seq       uint64    `json:"seq,omitempty"`
	EntryID   string    `json:"entry_id"`
	SenderID  string    `json:"sender_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type searchResultRow struct {
	SenderID  string          `json:"sender_id"`
	Position  int             `json:"position"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     float64         `json:"price"`
	Code      string          `json:"code"`
	ImageURL  string          `json:"image_url"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type orderRow struct {
	SenderID            string    `json:"sender_id"`
	ProductID           string    `json:"product_id"`
	ProductName         string    `json:"product_name"`
	Price               float64   `json:"price"`
	Color               string    `json:"color"`
	ShippingType        string    `json:"shipping_type"`
	Address             string    `json:"address"`
	AdvancePaymentProof string    `json:"advance_payment_proof"`
	ProofDigest         string    `json:"proof_digest"`
	Status              string    `json:"status"`
	OrderNumber         string    `json:"order_number"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (c *Client) GetOrCreateUser(ctx context.Context, senderID string) (*domain.User, error) {
	u, err := c.GetUser(ctx, senderID)
	if err != nil || u != nil {
		return u, err
	}

	row := userToRow(domain.NewUser(senderID, time.Now()))
	err = c.runOnce(ctx, "CreateUser", senderID, func() error {
		_, _, err := c.client.From(tableUsers).Insert(row, false, "", "minimal", "").Execute()
		return err
	})
	if err != nil {
		// A concurrent insert may have won; the record is what matters.
		if u, getErr := c.GetUser(ctx, senderID); getErr == nil && u != nil {
			return u, nil
		}
		return nil, err
	}
	return c.GetUser(ctx, senderID)
}

func (c *Client) GetUser(ctx context.Context, senderID string) (*domain.User, error) {
	var rows []userRow
	err := c.run(ctx, "GetUser", senderID, func() error {
		_, err := c.client.From(tableUsers).
			Select("*", "", false).
			Eq("sender_id", senderID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

// UpdateUser reads, patches and writes back the record. The per-sender
// lane is the only writer, so there is no row lock.
func (c *Client) UpdateUser(ctx context.Context, senderID string, patch domain.UserPatch) error {
	u, err := c.GetUser(ctx, senderID)
	if err != nil {
		return err
	}
	if u == nil {
		return &domain.ErrNotFound{Resource: "user", ID: senderID}
	}
	patch.Apply(u)
	row := userToRow(u)
	return c.run(ctx, "UpdateUser", senderID, func() error {
		_, _, err := c.client.From(tableUsers).
			Update(row, "minimal", "").
			Eq("sender_id", senderID).
			Execute()
		return err
	})
}

func (c *Client) DeleteUser(ctx context.Context, senderID string) error {
	return c.deleteBySender(ctx, "DeleteUser", tableUsers, senderID)
}

func (c *Client) AppendHistory(ctx context.Context, senderID string, role domain.Role, content string) error {
	row := messageRow{
		EntryID:   uuid.NewString(),
		SenderID:  senderID,
		Role:      string(role),
		Content:   content,
		Timestamp: time.Now(),
	}
	// entry_id is fixed before the first attempt, so a retry after a lost
	// response merges into the row already written.
	return c.run(ctx, "AppendHistory", senderID, func() error {
		_, _, err := c.client.From(tableMessages).Insert(row, true, "entry_id", "minimal", "").Execute()
		return err
	})
}

func (c *Client) GetHistory(ctx context.Context, senderID string, limit int) ([]domain.HistoryEntry, error) {
	var rows []messageRow
	err := c.run(ctx, "GetHistory", senderID, func() error {
		q := c.client.From(tableMessages).
			Select("*", "", false).
			Eq("sender_id", senderID).
			Order("seq", &postgrest.OrderOpts{Ascending: false})
		if limit > 0 {
			q = q.Limit(limit, "")
		}
		_, err := q.ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.HistoryEntry, len(rows))
	for i, r := range rows {
		entries[len(rows)-1-i] = domain.HistoryEntry{
			ID:        r.EntryID,
			SenderID:  r.SenderID,
			Role:      domain.Role(r.Role),
			Content:   r.Content,
			Timestamp: r.Timestamp,
		}
	}
	return entries, nil
}

func (c *Client) DeleteHistory(ctx context.Context, senderID string) error {
	return c.deleteBySender(ctx, "DeleteHistory", tableMessages, senderID)
}

func (c *Client) ReplaceSearchResults(ctx context.Context, senderID string, items []domain.SearchItem) error {
	if err := c.deleteBySender(ctx, "ClearSearchResults", tableResults, senderID); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	rows := make([]searchResultRow, len(items))
	for i, it := range items {
		rows[i] = searchResultRow{
			SenderID:  senderID,
			Position:  i,
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price,
			Code:      it.Code,
			ImageURL:  it.ImageURL,
			Raw:       it.Raw,
		}
	}
	return c.run(ctx, "InsertSearchResults", senderID, func() error {
		_, _, err := c.client.From(tableResults).Insert(rows, true, "sender_id,position", "minimal", "").Execute()
		return err
	})
}

func (c *Client) GetSearchResults(ctx context.Context, senderID string) ([]domain.SearchItem, error) {
	var rows []searchResultRow
	err := c.run(ctx, "GetSearchResults", senderID, func() error {
		_, err := c.client.From(tableResults).
			Select("*", "", false).
			Eq("sender_id", senderID).
			Order("position", &postgrest.OrderOpts{Ascending: true}).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.SearchItem, len(rows))
	for i, r := range rows {
		items[i] = domain.SearchItem{
			ProductID: r.ProductID,
			Name:      r.Name,
			Price:     r.Price,
			Code:      r.Code,
			ImageURL:  r.ImageURL,
			Raw:       r.Raw,
		}
	}
	return items, nil
}

func (c *Client) GetOrder(ctx context.Context, senderID string) (*domain.Order, error) {
	var rows []orderRow
	err := c.run(ctx, "GetOrder", senderID, func() error {
		_, err := c.client.From(tableOrders).
			Select("*", "", false).
			Eq("sender_id", senderID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

func (c *Client) SaveOrder(ctx context.Context, order *domain.Order) error {
	prev, err := c.GetOrder(ctx, order.SenderID)
	if err != nil {
		return err
	}
	row := orderToRow(order)
	now := time.Now()
	switch {
	case prev != nil:
		row.CreatedAt = prev.CreatedAt
	case row.CreatedAt.IsZero():
		row.CreatedAt = now
	}
	if row.Status == "" {
		row.Status = string(domain.OrderPending)
	}
	row.UpdatedAt = now

	return c.run(ctx, "SaveOrder", order.SenderID, func() error {
		_, _, err := c.client.From(tableOrders).Insert(row, true, "sender_id", "minimal", "").Execute()
		return err
	})
}

func (c *Client) DeleteOrder(ctx context.Context, senderID string) error {
	return c.deleteBySender(ctx, "DeleteOrder", tableOrders, senderID)
}

// Ping issues a cheap HEAD-style count against the users table.
func (c *Client) Ping(ctx context.Context) error {
	return c.run(ctx, "Ping", "", func() error {
		_, _, err := c.client.From(tableUsers).Select("sender_id", "exact", true).Execute()
		return err
	})
}

// Close is a no-op; the Supabase client holds no connections.
func (c *Client) Close() error {
	return nil
}

func (c *Client) deleteBySender(ctx context.Context, op, table, senderID string) error {
	return c.run(ctx, op, senderID, func() error {
		_, _, err := c.client.From(table).Delete("minimal", "").Eq("sender_id", senderID).Execute()
		if err != nil {
			return fmt.Errorf("%s: %w", table, err)
		}
		return nil
	})
}

func userToRow(u *domain.User) userRow {
	consulted := u.ConsultedProducts
	if consulted == nil {
		consulted = []domain.ConsultedProduct{}
	}
	return userRow{
		SenderID:                 u.SenderID,
		Name:                     u.Name,
		Stage:                    string(u.Stage),
		AwaitingCatalogResponse:  u.AwaitingCatalogResponse,
		AwaitingProductSelection: u.AwaitingProductSelection,
		OfferedCatalog:           u.OfferedCatalog,
		CurrentProductID:         u.CurrentProductID,
		SelectedColor:            u.SelectedColor,
		ShippingType:             u.ShippingType,
		Address:                  u.Address,
		LastSearchTerm:           u.LastSearchTerm,
		LastSearchAt:             u.LastSearchAt,
		ConsultedProducts:        consulted,
		LastInteraction:          u.LastInteraction,
		CreatedAt:                u.CreatedAt,
	}
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		SenderID:                 r.SenderID,
		Name:                     r.Name,
		Stage:                    domain.Stage(r.Stage),
		AwaitingCatalogResponse:  r.AwaitingCatalogResponse,
		AwaitingProductSelection: r.AwaitingProductSelection,
		OfferedCatalog:           r.OfferedCatalog,
		CurrentProductID:         r.CurrentProductID,
		SelectedColor:            r.SelectedColor,
		ShippingType:             r.ShippingType,
		Address:                  r.Address,
		LastSearchTerm:           r.LastSearchTerm,
		LastSearchAt:             r.LastSearchAt,
		ConsultedProducts:        r.ConsultedProducts,
		LastInteraction:          r.LastInteraction,
		CreatedAt:                r.CreatedAt,
	}
}

func orderToRow(o *domain.Order) orderRow {
	return orderRow{
		SenderID:            o.SenderID,
		ProductID:           o.ProductID,
		ProductName:         o.ProductName,
		Price:               o.Price,
		Color:               o.Color,
		ShippingType:        o.ShippingType,
		Address:             o.Address,
		AdvancePaymentProof: o.AdvancePaymentProof,
		ProofDigest:         o.ProofDigest,
		Status:              string(o.Status),
		OrderNumber:         o.OrderNumber,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func (r orderRow) toDomain() *domain.Order {
	return &domain.Order{
		SenderID:            r.SenderID,
		ProductID:           r.ProductID,
		ProductName:         r.ProductName,
		Price:               r.Price,
		Color:               r.Color,
		ShippingType:        r.ShippingType,
		Address:             r.Address,
		AdvancePaymentProof: r.AdvancePaymentProof,
		ProofDigest:         r.ProofDigest,
		Status:              domain.OrderStatus(r.Status),
		OrderNumber:         r.OrderNumber,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

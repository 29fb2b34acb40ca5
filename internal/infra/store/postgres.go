package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/wa-commerce-bot/internal/domain"
	"github.com/boddenberg/wa-commerce-bot/internal/port"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRow struct {
	SenderID                 string `gorm:"primaryKey"`
	Name                     string
	Stage                    string `gorm:"not null;default:initial"`
	AwaitingCatalogResponse  bool
	AwaitingProductSelection bool
	OfferedCatalog           bool
	CurrentProductID         string
	SelectedColor            string
	ShippingType             string
	Address                  string
	LastSearchTerm           string
	LastSearchAt             *time.Time
	ConsultedProducts        []domain.ConsultedProduct `gorm:"serializer:json;type:jsonb"`
	LastInteraction          time.Time
	CreatedAt                time.Time
}

func (userRow) TableName() string { return "wabot_users" }

type messageRow struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	EntryID   string `gorm:"uniqueIndex"`
	SenderID  string `gorm:"index"`
	Role      string
	Content   string
	Timestamp time.Time
}

func (messageRow) TableName() string { return "wabot_messages" }

type searchResultRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SenderID  string `gorm:"uniqueIndex:idx_wabot_result_slot"`
	Position  int    `gorm:"uniqueIndex:idx_wabot_result_slot"`
	ProductID string
	Name      string
	Price     float64
	Code      string
	ImageURL  string
	Raw       []byte `gorm:"type:jsonb"`
}

func (searchResultRow) TableName() string { return "wabot_search_results" }

type orderRow struct {
	SenderID            string `gorm:"primaryKey"`
	ProductID           string
	ProductName         string
	Price               float64
	Color               string
	ShippingType        string
	Address             string
	AdvancePaymentProof string
	ProofDigest         string
	Status              string
	OrderNumber         string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (orderRow) TableName() string { return "wabot_orders" }

// Postgres is the gorm-backed SessionStore.
type Postgres struct {
	db  *gorm.DB
	now func() time.Time
}

var _ port.SessionStore = (*Postgres)(nil)

// OpenPostgres connects to dsn and migrates the session tables.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return NewPostgres(db)
}

// NewPostgres wraps an open gorm handle and migrates the session tables.
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&userRow{}, &messageRow{}, &searchResultRow{}, &orderRow{}); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Postgres{db: db, now: time.Now}, nil
}

func (s *Postgres) GetOrCreateUser(ctx context.Context, senderID string) (*domain.User, error) {
	row := userFromDomain(domain.NewUser(senderID, s.now()))
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: create user: %w", err)
	}
	u, err := s.GetUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("postgres: user %s vanished after create", senderID)
	}
	return u, nil
}

func (s *Postgres) GetUser(ctx context.Context, senderID string) (*domain.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("sender_id = ?", senderID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Postgres) UpdateUser(ctx context.Context, senderID string, patch domain.UserPatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row userRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("sender_id = ?", senderID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.ErrNotFound{Resource: "user", ID: senderID}
		}
		if err != nil {
			return err
		}
		u := row.toDomain()
		patch.Apply(u)
		next := userFromDomain(u)
		return tx.Save(&next).Error
	})
}

func (s *Postgres) DeleteUser(ctx context.Context, senderID string) error {
	return s.db.WithContext(ctx).Where("sender_id = ?", senderID).Delete(&userRow{}).Error
}

func (s *Postgres) AppendHistory(ctx context.Context, senderID string, role domain.Role, content string) error {
	return s.db.WithContext(ctx).Create(&messageRow{
		EntryID:   uuid.NewString(),
		SenderID:  senderID,
		Role:      string(role),
		Content:   content,
		Timestamp: s.now(),
	}).Error
}

func (s *Postgres) GetHistory(ctx context.Context, senderID string, limit int) ([]domain.HistoryEntry, error) {
	var rows []messageRow
	q := s.db.WithContext(ctx).Where("sender_id = ?", senderID).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
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

func (s *Postgres) DeleteHistory(ctx context.Context, senderID string) error {
	return s.db.WithContext(ctx).Where("sender_id = ?", senderID).Delete(&messageRow{}).Error
}

func (s *Postgres) ReplaceSearchResults(ctx context.Context, senderID string, items []domain.SearchItem) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sender_id = ?", senderID).Delete(&searchResultRow{}).Error; err != nil {
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
		return tx.Create(&rows).Error
	})
}

func (s *Postgres) GetSearchResults(ctx context.Context, senderID string) ([]domain.SearchItem, error) {
	var rows []searchResultRow
	err := s.db.WithContext(ctx).Where("sender_id = ?", senderID).Order("position").Find(&rows).Error
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

func (s *Postgres) GetOrder(ctx context.Context, senderID string) (*domain.Order, error) {
	var row orderRow
	err := s.db.WithContext(ctx).Where("sender_id = ?", senderID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *Postgres) SaveOrder(ctx context.Context, order *domain.Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := orderFromDomain(order)
		now := s.now()
		var prev orderRow
		err := tx.Where("sender_id = ?", order.SenderID).Take(&prev).Error
		switch {
		case err == nil:
			row.CreatedAt = prev.CreatedAt
		case errors.Is(err, gorm.ErrRecordNotFound):
			if row.CreatedAt.IsZero() {
				row.CreatedAt = now
			}
		default:
			return err
		}
		if row.Status == "" {
			row.Status = string(domain.OrderPending)
		}
		row.UpdatedAt = now
		return tx.Save(&row).Error
	})
}

func (s *Postgres) DeleteOrder(ctx context.Context, senderID string) error {
	return s.db.WithContext(ctx).Where("sender_id = ?", senderID).Delete(&orderRow{}).Error
}

func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func userFromDomain(u *domain.User) userRow {
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
		ConsultedProducts:        u.ConsultedProducts,
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

func orderFromDomain(o *domain.Order) orderRow {
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

package domain

import "time"

// ============================================================
// Conversation stages
// ============================================================

// Stage is where a sender currently sits in the conversation flow.
type Stage string

const (
	StageInitial         Stage = "initial"
	StageMainMenu        Stage = "menu_inicial"
	StageAwaitingSearch  Stage = "esperando_busqueda"
	StageShowingResults  Stage = "mostrando_resultados"
	StageShowingProduct  Stage = "mostrando_producto"
	StageShippingInfo    Stage = "informacion_envios"
	StageAwaitingAgent   Stage = "esperando_vendedor"
	StageConversing      Stage = "conversando"
	StageGuidedMenu      Stage = "menu_toldo"
	StageColorCapture    Stage = "consulta_color"
	StageShippingCapture Stage = "consulta_envio"
	StageOrderConfirm    Stage = "confirmacion_pedido"
	StagePaymentConfirm  Stage = "confirmacion_pago"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageInitial, StageMainMenu, StageAwaitingSearch, StageShowingResults,
		StageShowingProduct, StageShippingInfo, StageAwaitingAgent, StageConversing,
		StageGuidedMenu, StageColorCapture, StageShippingCapture, StageOrderConfirm,
		StagePaymentConfirm:
		return true
	}
	return false
}

// CapturingOrder reports whether the stage belongs to the guided order
// capture, where free text is data and not a question.
func (s Stage) CapturingOrder() bool {
	switch s {
	case StageColorCapture, StageShippingCapture, StageOrderConfirm, StagePaymentConfirm:
		return true
	}
	return false
}

// ============================================================
// User record
// ============================================================

// ConsultedProduct is one entry of the append-only audit trail of products
// a sender looked at.
type ConsultedProduct struct {
	ProductID string    `json:"productId"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

// User is the per-sender conversation record. Empty strings stand for
// "not set" on the optional fields.
type User struct {
	SenderID                 string             `json:"senderId"`
	Name                     string             `json:"name,omitempty"`
	Stage                    Stage              `json:"stage"`
	AwaitingCatalogResponse  bool               `json:"awaitingCatalogResponse"`
	AwaitingProductSelection bool               `json:"awaitingProductSelection"`
	OfferedCatalog           bool               `json:"offeredCatalog"`
	CurrentProductID         string             `json:"currentProductId,omitempty"`
	SelectedColor            string             `json:"selectedColor,omitempty"`
	ShippingType             string             `json:"shippingType,omitempty"`
	Address                  string             `json:"address,omitempty"`
	LastSearchTerm           string             `json:"lastSearchTerm,omitempty"`
	LastSearchAt             *time.Time         `json:"lastSearchAt,omitempty"`
	ConsultedProducts        []ConsultedProduct `json:"consultedProducts"`
	LastInteraction          time.Time          `json:"lastInteraction"`
	CreatedAt                time.Time          `json:"createdAt"`
}

// NewUser returns a fresh record in the initial stage.
func NewUser(senderID string, now time.Time) *User {
	return &User{
		SenderID:        senderID,
		Stage:           StageInitial,
		LastInteraction: now,
		CreatedAt:       now,
	}
}

// UserPatch is a partial update. Nil fields are left untouched; a non-nil
// empty string clears an optional field.
type UserPatch struct {
	Name                     *string
	Stage                    *Stage
	AwaitingCatalogResponse  *bool
	AwaitingProductSelection *bool
	OfferedCatalog           *bool
	CurrentProductID         *string
	SelectedColor            *string
	ShippingType             *string
	Address                  *string
	LastSearchTerm           *string
	LastSearchAt             *time.Time
	LastInteraction          *time.Time
	// AppendConsulted is added to ConsultedProducts; the list is never rewritten.
	AppendConsulted *ConsultedProduct
}

// Apply merges the patch into u.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Stage != nil {
		u.Stage = *p.Stage
	}
	if p.AwaitingCatalogResponse != nil {
		u.AwaitingCatalogResponse = *p.AwaitingCatalogResponse
	}
	if p.AwaitingProductSelection != nil {
		u.AwaitingProductSelection = *p.AwaitingProductSelection
	}
	if p.OfferedCatalog != nil {
		u.OfferedCatalog = *p.OfferedCatalog
	}
	if p.CurrentProductID != nil {
		u.CurrentProductID = *p.CurrentProductID
	}
	if p.SelectedColor != nil {
		u.SelectedColor = *p.SelectedColor
	}
	if p.ShippingType != nil {
		u.ShippingType = *p.ShippingType
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
	if p.LastSearchTerm != nil {
		u.LastSearchTerm = *p.LastSearchTerm
	}
	if p.LastSearchAt != nil {
		t := *p.LastSearchAt
		u.LastSearchAt = &t
	}
	if p.LastInteraction != nil {
		u.LastInteraction = *p.LastInteraction
	}
	if p.AppendConsulted != nil {
		u.ConsultedProducts = append(u.ConsultedProducts, *p.AppendConsulted)
	}
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p == UserPatch{}
}

// Ptr returns a pointer to v. Handy when building patches.
func Ptr[T any](v T) *T {
	return &v
}

// ============================================================
// Message history
// ============================================================

// Role identifies who authored a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one inbound or outbound text. Entries are never mutated.
type HistoryEntry struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

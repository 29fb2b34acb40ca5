package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus tracks the payment side of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPaid            OrderStatus = "paid"
	OrderPaymentReceived OrderStatus = "payment_received"
)

// Order is the per-sender order in progress, upserted as fields arrive.
type Order struct {
	SenderID            string      `json:"senderId"`
	ProductID           string      `json:"productId,omitempty"`
	ProductName         string      `json:"productName,omitempty"`
	Price               float64     `json:"price,omitempty"`
	Color               string      `json:"color,omitempty"`
	ShippingType        string      `json:"shippingType,omitempty"`
	Address             string      `json:"address,omitempty"`
	AdvancePaymentProof string      `json:"advancePaymentProof,omitempty"`
	ProofDigest         string      `json:"proofDigest,omitempty"`
	Status              OrderStatus `json:"status"`
	OrderNumber         string      `json:"orderNumber,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// Required order fields, named the way the customer reads them.
const (
	FieldColor        = "color"
	FieldShippingType = "tipo de envío"
	FieldAddress      = "dirección"
)

// MissingFields lists the required fields still empty, in a fixed order.
func (o *Order) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(o.Color) == "" {
		missing = append(missing, FieldColor)
	}
	if strings.TrimSpace(o.ShippingType) == "" {
		missing = append(missing, FieldShippingType)
	}
	if strings.TrimSpace(o.Address) == "" {
		missing = append(missing, FieldAddress)
	}
	return missing
}

// Complete reports whether the order can be confirmed.
func (o *Order) Complete() bool {
	return len(o.MissingFields()) == 0
}

// OrderNumber builds PREFIX-YYYYMMDD-NNNN from the date and the last four
// digits of the sender id. Non-digit characters in the sender id are ignored;
// ids with fewer than four digits are left-padded with zeros.
func OrderNumber(prefix, senderID string, at time.Time) string {
	var digits strings.Builder
	for _, r := range senderID {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) > 4 {
		d = d[len(d)-4:]
	}
	d = strings.Repeat("0", 4-len(d)) + d
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), d)
}

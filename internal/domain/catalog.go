package domain

import (
	"encoding/json"
	"strings"
)

// Product is a catalog item as returned by the catalog service.
type Product struct {
	ID          string            `json:"id"`
	Code        string            `json:"code"`
	SKU         string            `json:"sku,omitempty"`
	Name        string            `json:"name"`
	Price       float64           `json:"price"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Size        string            `json:"size,omitempty"`
	ImageURL    string            `json:"imageUrl,omitempty"`
	Images      []string          `json:"images,omitempty"`
	Colors      []ProductColor    `json:"colors,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
}

// ProductColor is a named color variant.
type ProductColor struct {
	Name string `json:"name"`
	Hex  string `json:"hex,omitempty"`
}

// ColorNames lists the product's color names in catalog order.
func (p *Product) ColorNames() []string {
	names := make([]string, 0, len(p.Colors))
	for _, c := range p.Colors {
		names = append(names, c.Name)
	}
	return names
}

// MatchColor returns the known color mentioned in text, case-insensitively.
func (p *Product) MatchColor(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, c := range p.Colors {
		if c.Name != "" && strings.Contains(lower, strings.ToLower(c.Name)) {
			return c.Name, true
		}
	}
	return "", false
}

// SearchItem is one entry of a sender's search-result snapshot. Raw keeps
// the catalog payload untouched.
type SearchItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     float64         `json:"price"`
	Code      string          `json:"code"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// AsProduct builds a minimal product from the snapshot entry.
func (s SearchItem) AsProduct() *Product {
	return &Product{
		ID:       s.ProductID,
		Code:     s.Code,
		Name:     s.Name,
		Price:    s.Price,
		ImageURL: s.ImageURL,
	}
}

// Package model holds the domain types and error taxonomy shared across
// the module: grocery requests, resolved products, cart line items, and
// the cart run report.
package model

import (
	"fmt"
	"strings"
)

// Modality is how the user receives the order.
type Modality string

const (
	ModalityDelivery Modality = "DELIVERY"
	ModalityPickup   Modality = "PICKUP"
)

// ParseModality normalizes user input to a Modality.
func ParseModality(s string) (Modality, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DELIVERY":
		return ModalityDelivery, nil
	case "PICKUP":
		return ModalityPickup, nil
	default:
		return "", NewValidationError("modality", fmt.Sprintf("%q is not DELIVERY or PICKUP", s))
	}
}

// GroceryRequest is one item the user wants: either a free-text search
// query or an exact UPC, never both.
type GroceryRequest struct {
	Query    string `json:"query,omitempty"`
	UPC      string `json:"upc,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// Validate checks the exactly-one-of constraint and the quantity sign.
func (r GroceryRequest) Validate() error {
	if r.Query == "" && r.UPC == "" {
		return NewValidationError("query", "either query or upc is required")
	}
	if r.Query != "" && r.UPC != "" {
		return NewValidationError("query", "query and upc are mutually exclusive")
	}
	if r.Quantity < 0 {
		return NewValidationError("quantity", "must not be negative")
	}
	return nil
}

// Term is the human-readable identifier for reports and logs.
func (r GroceryRequest) Term() string {
	if r.Query != "" {
		return r.Query
	}
	return r.UPC
}

// EffectiveQuantity applies the default of one.
func (r GroceryRequest) EffectiveQuantity() int {
	if r.Quantity <= 0 {
		return 1
	}
	return r.Quantity
}

// ResolvedProduct is a catalog match for a grocery request. Pointer
// fields are absent when the store did not report them.
type ResolvedProduct struct {
	UPC        string   `json:"upc"`
	Name       string   `json:"name"`
	Price      *float64 `json:"price,omitempty"`
	PromoPrice *float64 `json:"promo_price,omitempty"`
	InStock    *bool    `json:"in_stock,omitempty"`
}

// CartLineItem is one entry in the batched cart-add call.
type CartLineItem struct {
	UPC      string   `json:"upc"`
	Quantity int      `json:"quantity"`
	Modality Modality `json:"modality"`
}

// AddedItem records one successfully carted request for the report.
// Query holds whatever identified the request, a search term or a UPC.
type AddedItem struct {
	Query      string   `json:"query"`
	UPC        string   `json:"upc"`
	Name       string   `json:"name"`
	Quantity   int      `json:"quantity"`
	Price      *float64 `json:"price,omitempty"`
	PromoPrice *float64 `json:"promo_price,omitempty"`
	InStock    *bool    `json:"in_stock,omitempty"`
}

// Location is a resolved store.
type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// CartReport summarizes one cart run.
type CartReport struct {
	Success       bool        `json:"success"`
	DryRun        bool        `json:"dry_run,omitempty"`
	Added         []AddedItem `json:"added"`
	NotFound      []string    `json:"not_found"`
	AddedCount    int         `json:"added_count"`
	NotFoundCount int         `json:"not_found_count"`
	CartURL       string      `json:"cart_url,omitempty"`
	Modality      Modality    `json:"modality"`
}

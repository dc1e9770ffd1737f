package receipt

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Receipt is a normalized, storage-ready receipt
type Receipt struct {
	ID              string              `json:"id"`
	StoreName       *string             `json:"store_name"`
	StoreAddress    *string             `json:"store_address"`
	StoreTaxID      *string             `json:"store_tax_id"`
	PaymentMethod   *string             `json:"payment_method"`
	Date            *civil.Date         `json:"date"`
	Category        string              `json:"category"`
	SubtotalAmount  decimal.NullDecimal `json:"subtotal_amount"`
	TotalAmount     decimal.NullDecimal `json:"total_amount"`
	TaxAmount       decimal.Decimal     `json:"tax_amount"`
	Currency        Currency            `json:"currency"`
	ConfidenceScore *float64            `json:"confidence_score"`
	Items           []*LineItem         `json:"items"`
	Filename        string              `json:"filename,omitempty"`     // storage path of the uploaded image
	ContentType     string              `json:"content_type,omitempty"` // MIME type of the uploaded image
	FileURL         string              `json:"file_url,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// LineItem is one purchased product or service. It belongs to exactly one receipt.
type LineItem struct {
	ID          string          `json:"id"`
	ReceiptID   string          `json:"receipt_id"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Nullable is an edit field that tells an absent key apart from an explicit null
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// NullableOf returns a field set to v
func NullableOf[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null returns a field explicitly set to null
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// UnmarshalJSON is only called for keys present in the body, null included
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// ReceiptUpdate is a corrective edit. Unset fields are left alone.
// Nullable fields can be cleared with an explicit null. Category, tax
// and currency always carry a value, so a null there is ignored.
type ReceiptUpdate struct {
	StoreName     Nullable[string]          `json:"store_name"`
	PaymentMethod Nullable[string]          `json:"payment_method"`
	Date          Nullable[civil.Date]      `json:"date"`
	Category      *string                   `json:"category"`
	TotalAmount   Nullable[decimal.Decimal] `json:"total_amount"`
	TaxAmount     *decimal.Decimal          `json:"tax_amount"`
	Currency      *string                   `json:"currency"`
}

// LineItemUpdate is a corrective edit of a line item. Nil fields are left alone.
type LineItemUpdate struct {
	Description *string          `json:"description"`
	Quantity    *decimal.Decimal `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	LineTotal   *decimal.Decimal `json:"line_total"`
}

package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrEmptyImage is returned when an extractor is handed no image bytes
var ErrEmptyImage = errors.New("empty image data")

// RawExtraction is the untrusted payload returned by a vision model for one receipt.
// Every field may be absent; nothing here has been validated beyond its JSON shape.
type RawExtraction struct {
	StoreName       *string    `json:"store_name"`
	StoreAddress    *string    `json:"store_address"`
	StoreTaxID      *string    `json:"store_tax_id"`
	Date            *string    `json:"date"`
	PaymentMethod   *string    `json:"payment_method"`
	SubtotalAmount  Number     `json:"subtotal_amount"`
	TaxAmount       Number     `json:"tax_amount"`
	TotalAmount     Number     `json:"total_amount"`
	Currency        *string    `json:"currency"`
	Category        *string    `json:"category"`
	Items           []*RawItem `json:"items"`
	ConfidenceScore *float64   `json:"confidence_score"`
}

// RawItem is a single line item as reported by the model
type RawItem struct {
	Description *string `json:"description"`
	Quantity    Number  `json:"quantity"`
	UnitPrice   Number  `json:"unit_price"`
	LineTotal   Number  `json:"line_total"`
}

// Number is a nullable decimal that decodes leniently. JSON numbers and numeric
// strings are accepted; null and anything unparseable decode as absent.
type Number decimal.NullDecimal

// NewNumber returns a present Number holding d
func NewNumber(d decimal.Decimal) Number {
	return Number{Decimal: d, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	text := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		text = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil
	}
	n.Decimal = d
	n.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler
func (n Number) MarshalJSON() ([]byte, error) {
	return decimal.NullDecimal(n).MarshalJSON()
}

// Extractor turns a receipt image into a RawExtraction using an external vision model
type Extractor interface {
	// Extract sends one image to the model and returns its structured reading.
	// Any failure is reported as an *ExtractionError.
	Extract(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error)
	// Close releases the underlying client
	Close() error
}

// ExtractionError reports that the external model could not produce a usable payload
type ExtractionError struct {
	Provider string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %v", e.Provider, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func extractionFailed(provider string, err error) error {
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		return err
	}
	return &ExtractionError{Provider: provider, Err: err}
}

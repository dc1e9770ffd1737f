package receipt

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/zombor/snapspend/internal/scanning"
)

// amountPlaces is the fixed precision of stored amounts and quantities
const amountPlaces = 2

// dateTimeLayouts are the ISO 8601 date-time forms accepted before falling back to a plain date
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalize maps a raw model extraction onto a canonical receipt. It never fails:
// anything missing or unusable becomes its default. IDs, file references and
// timestamps are left for the caller to assign.
func Normalize(raw *scanning.RawExtraction) *Receipt {
	if raw == nil {
		raw = &scanning.RawExtraction{}
	}

	r := &Receipt{
		StoreName:       cloneString(raw.StoreName),
		StoreAddress:    cloneString(raw.StoreAddress),
		StoreTaxID:      cloneString(raw.StoreTaxID),
		PaymentMethod:   cloneString(raw.PaymentMethod),
		Date:            parseReceiptDate(raw.Date),
		SubtotalAmount:  nullAmount(raw.SubtotalAmount),
		TotalAmount:     nullAmount(raw.TotalAmount),
		TaxAmount:       amountOr(raw.TaxAmount, decimal.Zero),
		Currency:        NormalizeCurrency(raw.Currency),
		ConfidenceScore: cloneFloat(raw.ConfidenceScore),
		Items:           normalizeItems(raw.Items),
	}
	if raw.Category != nil {
		r.Category = *raw.Category
	}

	return r
}

// parseReceiptDate tries a full ISO 8601 date-time, then a strict YYYY-MM-DD.
// Anything else leaves the date unset.
func parseReceiptDate(raw *string) *civil.Date {
	if raw == nil || *raw == "" {
		return nil
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, *raw); err == nil {
			d := civil.DateOf(t)
			return &d
		}
	}

	if d, err := civil.ParseDate(*raw); err == nil {
		return &d
	}

	return nil
}

func normalizeItems(raw []*scanning.RawItem) []*LineItem {
	items := make([]*LineItem, 0, len(raw))
	for _, ri := range raw {
		if ri == nil || ri.Description == nil || strings.TrimSpace(*ri.Description) == "" {
			continue
		}
		items = append(items, &LineItem{
			Position:    len(items),
			Description: *ri.Description,
			Quantity:    amountOr(ri.Quantity, decimal.NewFromInt(1)),
			UnitPrice:   amountOr(ri.UnitPrice, decimal.Zero),
			LineTotal:   amountOr(ri.LineTotal, decimal.Zero),
		})
	}
	return items
}

func amountOr(n scanning.Number, fallback decimal.Decimal) decimal.Decimal {
	if !n.Valid {
		return fallback
	}
	return n.Decimal.Round(amountPlaces)
}

func nullAmount(n scanning.Number) decimal.NullDecimal {
	if !n.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(n.Decimal.Round(amountPlaces))
}

// raw extractions may be cached and shared, so nothing in a receipt aliases them
func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

package receipt

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 code from the supported set
type Currency string

const (
	PHP Currency = "PHP"
	USD Currency = "USD"
	EUR Currency = "EUR"
	JPY Currency = "JPY"
	GBP Currency = "GBP"

	// HomeCurrency is assumed whenever the currency cannot be determined
	HomeCurrency = PHP
)

// Currencies lists the supported codes
var Currencies = []Currency{PHP, USD, EUR, JPY, GBP}

// homeCurrencyVariants are near-miss spellings of the home currency seen in model output
var homeCurrencyVariants = map[string]struct{}{
	"PESO":  {},
	"PESOS": {},
	"PH":    {},
	"PHP.":  {},
	"PHPH":  {},
	"NV":    {},
	"PHP$":  {},
	"₱":     {},
}

// NormalizeCurrency maps any raw currency reading onto a supported code,
// falling back to the home currency for anything it does not recognize.
func NormalizeCurrency(raw *string) Currency {
	if raw == nil {
		return HomeCurrency
	}

	cur := strings.ToUpper(strings.TrimSpace(*raw))
	if cur == "" {
		return HomeCurrency
	}
	if _, ok := homeCurrencyVariants[cur]; ok {
		return HomeCurrency
	}
	if c, ok := lookupCurrency(cur); ok {
		return c
	}
	return HomeCurrency
}

// ParseCurrency accepts only a supported code (any case, surrounding space ignored)
func ParseCurrency(s string) (Currency, error) {
	if c, ok := lookupCurrency(strings.ToUpper(strings.TrimSpace(s))); ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: unsupported currency %q", ErrInvalidInput, s)
}

func lookupCurrency(code string) (Currency, bool) {
	for _, c := range Currencies {
		if string(c) == code {
			return c, true
		}
	}
	return "", false
}

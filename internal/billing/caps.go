package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"excisepos/backend/internal/domain"
)

// CapProvider supplies the per-bill volume ceiling (ml) of a category. Zero
// means uncapped.
type CapProvider interface {
	CapFor(category string) decimal.Decimal
}

// CapTable is a case-insensitive category to cap lookup.
type CapTable map[string]decimal.Decimal

func (t CapTable) CapFor(category string) decimal.Decimal {
	if limit, ok := t[normalizeCategory(category)]; ok {
		return limit
	}
	return decimal.Zero
}

// NewCapTable builds a table from config values such as {"beer": "7800"}.
func NewCapTable(raw map[string]string) (CapTable, error) {
	table := make(CapTable, len(raw))
	for category, value := range raw {
		key := normalizeCategory(category)
		if key == "" {
			return nil, fmt.Errorf("%w: empty excise category", domain.ErrInvalidInput)
		}
		limit, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%w: excise cap for %s: %v", domain.ErrInvalidInput, category, err)
		}
		if limit.IsNegative() {
			return nil, fmt.Errorf("%w: excise cap for %s is negative", domain.ErrInvalidInput, category)
		}
		table[key] = limit
	}
	return table, nil
}

// ParseCapList reads "BEER=7800,SPIRIT=4500".
func ParseCapList(list string) (CapTable, error) {
	raw := map[string]string{}
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		category, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%w: excise cap %q is not CATEGORY=ML", domain.ErrInvalidInput, pair)
		}
		raw[category] = value
	}
	return NewCapTable(raw)
}

func normalizeCategory(category string) string {
	return strings.ToUpper(strings.TrimSpace(category))
}

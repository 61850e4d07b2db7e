package billing

import (
	"fmt"
	"strings"

	"excisepos/backend/internal/domain"
)

// Aggregate merges a cart's lines into one entry per item code, keeping the
// order in which codes were first scanned. Lines for the same code must agree
// on category, unit price and unit volume.
func Aggregate(lines []domain.LineItem) ([]domain.AggregatedItem, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	index := make(map[string]int, len(lines))
	aggregated := make([]domain.AggregatedItem, 0, len(lines))
	for _, line := range lines {
		code := strings.TrimSpace(line.ItemCode)
		if code == "" || line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %q quantity %d", domain.ErrInvalidInput, line.ItemCode, line.Quantity)
		}

		pos, seen := index[code]
		if !seen {
			index[code] = len(aggregated)
			aggregated = append(aggregated, domain.AggregatedItem{
				ItemCode:    code,
				Category:    line.Category,
				DisplayName: line.DisplayName,
				SizeLabel:   line.SizeLabel,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				UnitVolume:  line.UnitVolume,
			})
			continue
		}

		current := &aggregated[pos]
		if !strings.EqualFold(current.Category, line.Category) ||
			!current.UnitPrice.Equal(line.UnitPrice) ||
			!current.UnitVolume.Equal(line.UnitVolume) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLineMismatch, code)
		}
		current.Quantity += line.Quantity
	}

	return aggregated, nil
}

package stockguard

import (
	"github.com/namandisafari-sketch/tech-biz-flow/internal/domain"
)

type Deduction struct {
	ItemID   string
	Quantity int
}

// Reserve checks a batch of deductions against stock and returns the
// quantities to write. Repeated deductions of one item are summed before the
// check. Either every deduction fits or an error is returned and nothing
// should be written.
func Reserve(stock map[string]domain.InventoryItem, deductions []Deduction) ([]domain.StockChange, error) {
	order := make([]string, 0, len(deductions))
	requested := make(map[string]int, len(deductions))
	for _, ded := range deductions {
		if ded.Quantity <= 0 {
			return nil, domain.Invalid("quantity", "must be positive for item %s", ded.ItemID)
		}
		if _, seen := requested[ded.ItemID]; !seen {
			order = append(order, ded.ItemID)
		}
		requested[ded.ItemID] += ded.Quantity
	}

	changes := make([]domain.StockChange, 0, len(order))
	for _, id := range order {
		item, ok := stock[id]
		if !ok {
			return nil, domain.NotFound("inventory item", id)
		}
		want := requested[id]
		if item.Quantity < want {
			return nil, &domain.InsufficientStockError{
				ItemID:    item.ID,
				ItemName:  item.Name,
				Available: item.Quantity,
				Requested: want,
			}
		}
		changes = append(changes, domain.StockChange{
			ItemID:          id,
			Quantity:        item.Quantity - want,
			ExpectedVersion: item.Version,
		})
	}
	return changes, nil
}

// ItemIDs lists the distinct items touched by deductions, in first-seen order.
func ItemIDs(deductions []Deduction) []string {
	seen := make(map[string]struct{}, len(deductions))
	ids := make([]string, 0, len(deductions))
	for _, ded := range deductions {
		if _, ok := seen[ded.ItemID]; ok {
			continue
		}
		seen[ded.ItemID] = struct{}{}
		ids = append(ids, ded.ItemID)
	}
	return ids
}

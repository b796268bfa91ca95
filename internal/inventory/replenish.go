// Package inventory replenishes a buyer's product stock once a shipment's
// drop milestone settles (spec §4.8).
package inventory

import (
	"context"
	"fmt"

	"github.com/podx/oracle/internal/domain"
)

// Replenisher increments a buyer's on-hand stock for each line item of an
// order once its drop settlement commits.
type Replenisher struct {
	products domain.ProductStore
}

// NewReplenisher constructs a Replenisher over a (possibly transaction-
// scoped) ProductStore.
func NewReplenisher(products domain.ProductStore) *Replenisher {
	return &Replenisher{products: products}
}

// Replenish increments owner's stock for every line item. It is not
// transactional on its own — callers running it as part of a settlement
// commit pass a ProductStore scoped to that commit's transaction.
func (r *Replenisher) Replenish(ctx context.Context, owner string, items []domain.LineItem) error {
	for _, li := range items {
		if li.Qty <= 0 {
			continue
		}
		if err := r.products.IncrementStock(ctx, owner, li.SKU, li.Qty); err != nil {
			return fmt.Errorf("inventory: replenish %s x%d for %s: %w", li.SKU, li.Qty, owner, err)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
)

// ProductStore implements domain.ProductStore using PostgreSQL.
type ProductStore struct {
	db dbExecutor
}

// NewProductStore creates a new ProductStore.
func NewProductStore(db dbExecutor) *ProductStore {
	return &ProductStore{db: db}
}

// IncrementStock upserts a buyer's product row, incrementing targetStock by
// qty. A missing row is created with minThreshold=0, unit="unit",
// name=sku, active=true (spec §4.8).
func (s *ProductStore) IncrementStock(ctx context.Context, owner, sku string, qty int64) error {
	const query = `
		INSERT INTO products (owner, sku, name, unit, target_stock, min_threshold, active)
		VALUES ($1, $2, $2, 'unit', $3, 0, TRUE)
		ON CONFLICT (owner, sku) DO UPDATE SET
			target_stock = products.target_stock + EXCLUDED.target_stock,
			active = TRUE`

	_, err := s.db.Exec(ctx, query, owner, sku, qty)
	if err != nil {
		return fmt.Errorf("postgres: increment stock for %s/%s: %w", owner, sku, err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/podx/oracle/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	db dbExecutor
}

// NewOrderStore creates a new OrderStore backed by the given executor (a
// connection pool, or a transaction when scoped to a settlement commit).
func NewOrderStore(db dbExecutor) *OrderStore {
	return &OrderStore{db: db}
}

// Create inserts a new order into the database.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	lineItems, err := marshalLineItems(o.LineItems)
	if err != nil {
		return err
	}
	metadata, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO orders (
			id, buyer, supplier, total_amount, currency, chain_order_id,
			status, line_items, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, NOW()
		)`

	_, err = s.db.Exec(ctx, query,
		o.ID, o.Buyer, o.Supplier, o.AmountString(), o.Currency, o.ChainOrderID,
		string(o.Status), lineItems, metadata,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, buyer, supplier, total_amount, currency, chain_order_id,
	status, line_items, metadata, created_at, completed_at`

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var status, totalAmountStr string
	var lineItemsRaw, metadataRaw []byte

	err := scanner.Scan(
		&o.ID, &o.Buyer, &o.Supplier, &totalAmountStr, &o.Currency, &o.ChainOrderID,
		&status, &lineItemsRaw, &metadataRaw, &o.CreatedAt, &o.CompletedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Status = domain.OrderStatus(status)
	o.TotalAmount = new(big.Int)
	if _, ok := o.TotalAmount.SetString(totalAmountStr, 10); !ok {
		return domain.Order{}, fmt.Errorf("postgres: order %s has malformed total_amount %q", o.ID, totalAmountStr)
	}

	if o.LineItems, err = unmarshalLineItems(lineItemsRaw); err != nil {
		return domain.Order{}, err
	}
	if o.Metadata, err = unmarshalMetadata(metadataRaw); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByChainOrderID retrieves an order by its canonical decimal
// chainOrderId string.
func (s *OrderStore) GetByChainOrderID(ctx context.Context, chainOrderID string) (domain.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE chain_order_id = $1`, chainOrderID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order by chain_order_id %s: %w", chainOrderID, err)
	}
	return o, nil
}

// UpdateStatus transitions an order's status and merges the supplied
// metadata fragment into its stored metadata.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, metadata domain.Metadata) error {
	var completedAtClause string
	if status == domain.OrderStatusDelivered {
		completedAtClause = ", completed_at = NOW()"
	}

	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`UPDATE orders SET status = $1, metadata = metadata || $2::jsonb%s WHERE id = $3`,
		completedAtClause,
	)

	tag, err := s.db.Exec(ctx, query, string(status), metadataJSON, id)
	if err != nil {
		return fmt.Errorf("postgres: update order status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns orders ordered by creation time, newest first.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	return orders, nil
}

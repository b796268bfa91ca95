package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"

	"github.com/podx/oracle/internal/domain"
)

// PaymentStore implements domain.PaymentStore using PostgreSQL. At most one
// row exists per orderId, enforced by the table's primary key.
type PaymentStore struct {
	db dbExecutor
}

// NewPaymentStore creates a new PaymentStore.
func NewPaymentStore(db dbExecutor) *PaymentStore {
	return &PaymentStore{db: db}
}

// Upsert inserts or updates the payment row for an order.
func (s *PaymentStore) Upsert(ctx context.Context, p domain.Payment) error {
	const query = `
		INSERT INTO payments (order_id, payer, payee, amount, status, escrow_tx, release_tx)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO UPDATE SET
			payer = EXCLUDED.payer,
			payee = EXCLUDED.payee,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			escrow_tx = EXCLUDED.escrow_tx,
			release_tx = EXCLUDED.release_tx`

	_, err := s.db.Exec(ctx, query,
		p.OrderID, p.Payer, p.Payee, p.Amount.String(), string(p.Status),
		nullableString(p.EscrowTx), nullableString(p.ReleaseTx),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert payment for order %s: %w", p.OrderID, err)
	}
	return nil
}

// GetByOrder retrieves the payment row for an order.
func (s *PaymentStore) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT order_id, payer, payee, amount, status, escrow_tx, release_tx
		 FROM payments WHERE order_id = $1`, orderID)

	var p domain.Payment
	var amountStr, status string
	var escrowTx, releaseTx *string

	err := row.Scan(&p.OrderID, &p.Payer, &p.Payee, &amountStr, &status, &escrowTx, &releaseTx)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Payment{}, domain.ErrNotFound
		}
		return domain.Payment{}, fmt.Errorf("postgres: get payment for order %s: %w", orderID, err)
	}

	p.Status = domain.PaymentStatus(status)
	p.Amount = new(big.Int)
	if _, ok := p.Amount.SetString(amountStr, 10); !ok {
		return domain.Payment{}, fmt.Errorf("postgres: payment %s has malformed amount %q", orderID, amountStr)
	}
	if escrowTx != nil {
		p.EscrowTx = *escrowTx
	}
	if releaseTx != nil {
		p.ReleaseTx = *releaseTx
	}
	return p, nil
}

// Release transitions a payment to Released, recording the release tx hash.
func (s *PaymentStore) Release(ctx context.Context, orderID, releaseTx string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE payments SET status = $1, release_tx = $2 WHERE order_id = $3`,
		string(domain.PaymentStatusReleased), releaseTx, orderID)
	if err != nil {
		return fmt.Errorf("postgres: release payment for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

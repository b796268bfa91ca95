package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podx/oracle/internal/domain"
)

// settlementTx implements domain.SettlementTx over a single pgx.Tx. Every
// store it hands out shares that transaction, so the settlement
// coordinator's multi-table commit (shipment + order + proof + payment +
// product + session + magic-link) either all lands or all rolls back.
type settlementTx struct {
	tx pgx.Tx

	orders     *OrderStore
	shipments  *ShipmentStore
	sessions   *SessionStore
	magicLinks *MagicLinkStore
	proofs     *ProofStore
	payments   *PaymentStore
	products   *ProductStore
}

func newSettlementTx(tx pgx.Tx) *settlementTx {
	return &settlementTx{
		tx:         tx,
		orders:     NewOrderStore(tx),
		shipments:  NewShipmentStore(tx),
		sessions:   NewSessionStore(tx),
		magicLinks: NewMagicLinkStore(tx),
		proofs:     NewProofStore(tx),
		payments:   NewPaymentStore(tx),
		products:   NewProductStore(tx),
	}
}

func (t *settlementTx) Orders() domain.OrderStore         { return t.orders }
func (t *settlementTx) Shipments() domain.ShipmentStore   { return t.shipments }
func (t *settlementTx) Sessions() domain.SessionStore     { return t.sessions }
func (t *settlementTx) MagicLinks() domain.MagicLinkStore { return t.magicLinks }
func (t *settlementTx) Proofs() domain.ProofStore         { return t.proofs }
func (t *settlementTx) Payments() domain.PaymentStore     { return t.payments }
func (t *settlementTx) Products() domain.ProductStore     { return t.products }

func (t *settlementTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit settlement tx: %w", err)
	}
	return nil
}

func (t *settlementTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("postgres: rollback settlement tx: %w", err)
	}
	return nil
}

// TxBeginner implements domain.TxBeginner over a *pgxpool.Pool.
type TxBeginner struct {
	pool *pgxpool.Pool
}

// NewTxBeginner constructs a TxBeginner backed by pool.
func NewTxBeginner(pool *pgxpool.Pool) *TxBeginner {
	return &TxBeginner{pool: pool}
}

// Begin starts a new serializable-enough (default read-committed, relying on
// row-level locking via the partial unique indexes and conditional updates
// described in spec §5) relational transaction.
func (b *TxBeginner) Begin(ctx context.Context) (domain.SettlementTx, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin settlement tx: %w", err)
	}
	return newSettlementTx(tx), nil
}

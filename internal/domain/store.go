package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists buyer/supplier fulfillment orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	GetByChainOrderID(ctx context.Context, chainOrderID string) (Order, error)
	UpdateStatus(ctx context.Context, id string, status OrderStatus, metadata Metadata) error
	List(ctx context.Context, opts ListOpts) ([]Order, error)
}

// ShipmentStore persists shipments.
type ShipmentStore interface {
	Create(ctx context.Context, s Shipment) error
	GetByID(ctx context.Context, id string) (Shipment, error)
	GetByShipmentNo(ctx context.Context, supplier string, shipmentNo int64) (Shipment, error)
	UpdateStatus(ctx context.Context, id string, status ShipmentStatus, fields ShipmentUpdate) error
	ListByOrder(ctx context.Context, orderID string) ([]Shipment, error)
}

// ShipmentUpdate carries the optional fields a status transition may set.
type ShipmentUpdate struct {
	AssignedCourier *string
	PickedUpAt      *time.Time
	DeliveredAt     *time.Time
	Metadata        *Metadata
}

// SessionStore persists signing sessions.
type SessionStore interface {
	Create(ctx context.Context, s SigningSession) error
	GetByUID(ctx context.Context, sessionUID string) (SigningSession, error)
	GetActive(ctx context.Context, shipmentID string, kind SessionKind) (SigningSession, error)
	Complete(ctx context.Context, sessionUID string) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// MagicLinkStore persists magic-link capability tokens.
type MagicLinkStore interface {
	Create(ctx context.Context, m MagicLink) error
	GetByTokenHash(ctx context.Context, tokenHash string) (MagicLink, error)
	MarkUsed(ctx context.Context, tokenHash string, usedAt time.Time) (bool, error)
	InvalidateBySession(ctx context.Context, sessionUID string) error
}

// ProofStore persists the append-only milestone proof log.
type ProofStore interface {
	Append(ctx context.Context, p Proof) error
	ListByShipment(ctx context.Context, shipmentNo int64) ([]Proof, error)
}

// PaymentStore persists escrow payment rows.
type PaymentStore interface {
	Upsert(ctx context.Context, p Payment) error
	GetByOrder(ctx context.Context, orderID string) (Payment, error)
	Release(ctx context.Context, orderID, releaseTx string) error
}

// ProductStore persists buyer product stock rows.
type ProductStore interface {
	IncrementStock(ctx context.Context, owner, sku string, qty int64) error
}

// SettlementTx is a relational transaction scoped to one settlement commit.
// Implementations compose OrderStore/ShipmentStore/SessionStore/etc.
// operations so they commit or roll back atomically, per §4.6.
type SettlementTx interface {
	Orders() OrderStore
	Shipments() ShipmentStore
	Sessions() SessionStore
	MagicLinks() MagicLinkStore
	Proofs() ProofStore
	Payments() PaymentStore
	Products() ProductStore
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner starts a SettlementTx bound to a single relational
// transaction. The settlement coordinator calls this once it has a
// confirmed chain receipt in hand.
type TxBeginner interface {
	Begin(ctx context.Context) (SettlementTx, error)
}

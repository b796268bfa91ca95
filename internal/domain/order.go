package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks the buyer/supplier order lifecycle. Status is
// monotonic except for the Disputed<->Resolved pair.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusFunded    OrderStatus = "funded"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusDisputed  OrderStatus = "disputed"
	OrderStatusResolved  OrderStatus = "resolved"
)

// LineItem is one SKU/quantity pair on an order, consumed by the
// inventory replenisher on drop settlement.
type LineItem struct {
	SKU string `json:"sku"`
	Qty int64  `json:"qty"`
}

// Order is a buyer-created fulfillment order backed by an on-chain
// escrow position in OrderRegistry/Escrow.
type Order struct {
	ID            string
	Buyer         string // checksummed address
	Supplier      string // checksummed address
	TotalAmount   *big.Int
	Currency      string
	ChainOrderID  string // canonical decimal string, see §D open-question resolution
	Status        OrderStatus
	LineItems     []LineItem
	Metadata      Metadata
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// AmountString returns the order total as a decimal string for wire transport.
func (o Order) AmountString() string {
	if o.TotalAmount == nil {
		return "0"
	}
	return o.TotalAmount.String()
}

// DisplayAmount converts the order's wei-denominated total into a
// human-readable decimal.Decimal, shifting by tokenDecimals — used only for
// operator-facing logging, never for settlement math, where *big.Int stays
// authoritative.
func (o Order) DisplayAmount(tokenDecimals int32) decimal.Decimal {
	if o.TotalAmount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(o.TotalAmount, 0).Shift(-tokenDecimals)
}

package domain

import "math/big"

// PaymentStatus tracks the escrow lifecycle for an order's payment row.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusEscrowed PaymentStatus = "escrowed"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Payment tracks the at-most-one escrow row per (orderId, payer, payee).
type Payment struct {
	OrderID    string
	Payer      string // buyer
	Payee      string // supplier
	Amount     *big.Int
	Status     PaymentStatus
	EscrowTx   string
	ReleaseTx  string
}

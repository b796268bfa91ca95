package domain

import "context"

// Settler executes the on-chain call plus the matching relational commit for
// one milestone, once the session package has verified both signatures and
// the geofence/distance constraints (§4.6). It is implemented by
// internal/settlement.Coordinator; the session state machine depends only on
// this interface so the two packages don't import each other.
type Settler interface {
	SettlePickup(ctx context.Context, session SigningSession) (SettlementResult, error)
	SettleDrop(ctx context.Context, session SigningSession) (SettlementResult, error)
}

// SettlementResult carries the on-chain outcome of a milestone commit back to
// the HTTP layer.
type SettlementResult struct {
	PickupTx         string
	DropTx           string
	CourierRewardWei string
}

package domain

import "time"

// SessionKind distinguishes a pickup milestone from a drop milestone.
type SessionKind string

const (
	SessionKindPickup SessionKind = "pickup"
	SessionKindDrop   SessionKind = "drop"
)

// SessionStatus tracks a signing session through its lifecycle.
// COMPLETED is terminal; a session cannot advance past its deadline.
type SessionStatus string

const (
	SessionStatusPendingSupplier SessionStatus = "PENDING_SUPPLIER"
	SessionStatusPendingBuyer    SessionStatus = "PENDING_BUYER"
	SessionStatusCompleted       SessionStatus = "COMPLETED"
	SessionStatusExpired         SessionStatus = "EXPIRED"
	SessionStatusCancelled       SessionStatus = "CANCELLED"
)

// ExpectedRole returns the counterparty role that must countersign a
// session of this kind: the supplier countersigns pickup, the buyer
// countersigns drop.
func (k SessionKind) ExpectedRole() string {
	if k == SessionKindDrop {
		return "buyer"
	}
	return "supplier"
}

// PendingStatus returns the PENDING_* status a freshly created session of
// this kind starts in.
func (k SessionKind) PendingStatus() SessionStatus {
	if k == SessionKindDrop {
		return SessionStatusPendingBuyer
	}
	return SessionStatusPendingSupplier
}

// SessionPayload is the deterministic typed-data context stored at
// creation time and replayed verbatim on resolve/complete — it is never
// reconstructed from caller-supplied fields after creation.
type SessionPayload struct {
	ShipmentHash   string  `json:"shipmentHash"` // 0x-prefixed keccak256(utf8(shipment.id))
	OrderID        string  `json:"orderId"`      // canonical decimal string
	ClaimedTs      int64   `json:"claimedTs"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	DistanceMeters *int64  `json:"distanceMeters,omitempty"` // drop only
	RadiusM        int64   `json:"radiusM"`
}

// SigningSession is the per-milestone counter-signature capability. Exactly
// one active session exists per (shipment, kind).
type SigningSession struct {
	SessionUID            string // 128-bit hex
	ShipmentID            string
	Kind                  SessionKind
	Courier               string
	Supplier              string // the counterparty address for this kind's flow target
	ChainOrderID          string
	Deadline              time.Time
	Status                SessionStatus
	CourierNonce          string // 128-bit hex
	SupplierNonce         string // 128-bit hex
	ContextHash           string // 32-byte hex
	CourierSignature      string // set on create
	CounterpartySignature string // set on completion
	Payload               SessionPayload
	CreatedAt             time.Time
}

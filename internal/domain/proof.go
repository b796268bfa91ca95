package domain

// ProofKind classifies the milestone evidence recorded into the
// append-only Proof log.
type ProofKind string

const (
	ProofKindPickup            ProofKind = "pickup"
	ProofKindDrop              ProofKind = "drop"
	ProofKindPickupCountersign ProofKind = "pickup-countersign"
	ProofKindDropCountersign   ProofKind = "drop-countersign"
)

// Proof is an append-only record of a signed milestone claim.
type Proof struct {
	ID              int64
	ShipmentNo      int64
	Kind            ProofKind
	Signer          string
	ClaimedTs       int64
	PhotoHash       string
	PhotoCID        string
	DistanceMeters  *int64
	WithinRadius    bool
}

package postgres

import (
	"context"
	"fmt"

	"github.com/podx/oracle/internal/domain"
)

// ProofStore implements domain.ProofStore using PostgreSQL. Proofs are
// append-only: there is no update or delete path.
type ProofStore struct {
	db dbExecutor
}

// NewProofStore creates a new ProofStore.
func NewProofStore(db dbExecutor) *ProofStore {
	return &ProofStore{db: db}
}

// Append inserts a new proof row.
func (s *ProofStore) Append(ctx context.Context, p domain.Proof) error {
	const query = `
		INSERT INTO proofs (
			shipment_no, kind, signer, claimed_ts, photo_hash, photo_cid,
			distance_meters, within_radius
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, query,
		p.ShipmentNo, string(p.Kind), p.Signer, p.ClaimedTs, nullableString(p.PhotoHash), nullableString(p.PhotoCID),
		p.DistanceMeters, p.WithinRadius,
	)
	if err != nil {
		return fmt.Errorf("postgres: append proof for shipment %d: %w", p.ShipmentNo, err)
	}
	return nil
}

// ListByShipment returns every proof recorded against a shipment, oldest
// first.
func (s *ProofStore) ListByShipment(ctx context.Context, shipmentNo int64) ([]domain.Proof, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, shipment_no, kind, signer, claimed_ts, photo_hash, photo_cid, distance_meters, within_radius
		 FROM proofs WHERE shipment_no = $1 ORDER BY id ASC`, shipmentNo)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proofs for shipment %d: %w", shipmentNo, err)
	}
	defer rows.Close()

	var proofs []domain.Proof
	for rows.Next() {
		var p domain.Proof
		var kind string
		var photoHash, photoCID *string

		if err := rows.Scan(&p.ID, &p.ShipmentNo, &kind, &p.Signer, &p.ClaimedTs, &photoHash, &photoCID, &p.DistanceMeters, &p.WithinRadius); err != nil {
			return nil, fmt.Errorf("postgres: scan proof: %w", err)
		}
		p.Kind = domain.ProofKind(kind)
		if photoHash != nil {
			p.PhotoHash = *photoHash
		}
		if photoCID != nil {
			p.PhotoCID = *photoCID
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/podx/oracle/internal/domain"
)

// ShipmentStore implements domain.ShipmentStore using PostgreSQL.
type ShipmentStore struct {
	db dbExecutor
}

// NewShipmentStore creates a new ShipmentStore.
func NewShipmentStore(db dbExecutor) *ShipmentStore {
	return &ShipmentStore{db: db}
}

// Create inserts a new shipment.
func (s *ShipmentStore) Create(ctx context.Context, sh domain.Shipment) error {
	metadata, err := marshalMetadata(sh.Metadata)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO shipments (
			id, order_id, shipment_no, supplier, buyer, assigned_courier,
			pickup_lat, pickup_lon, drop_lat, drop_lon, due_by, status, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		)`

	_, err = s.db.Exec(ctx, query,
		sh.ID, sh.OrderID, sh.ShipmentNo, sh.Supplier, sh.Buyer, nullableString(sh.AssignedCourier),
		sh.PickupLat, sh.PickupLon, sh.DropLat, sh.DropLon, sh.DueBy, string(sh.Status), metadata,
	)
	if err != nil {
		return fmt.Errorf("postgres: create shipment %s: %w", sh.ID, err)
	}
	return nil
}

const shipmentSelectCols = `id, order_id, shipment_no, supplier, buyer, assigned_courier,
	pickup_lat, pickup_lon, drop_lat, drop_lon, due_by, status, metadata,
	picked_up_at, delivered_at, created_at`

func scanShipmentFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Shipment, error) {
	var sh domain.Shipment
	var status string
	var assignedCourier *string
	var metadataRaw []byte

	err := scanner.Scan(
		&sh.ID, &sh.OrderID, &sh.ShipmentNo, &sh.Supplier, &sh.Buyer, &assignedCourier,
		&sh.PickupLat, &sh.PickupLon, &sh.DropLat, &sh.DropLon, &sh.DueBy, &status, &metadataRaw,
		&sh.PickedUpAt, &sh.DeliveredAt, &sh.CreatedAt,
	)
	if err != nil {
		return domain.Shipment{}, err
	}

	sh.Status = domain.ShipmentStatus(status)
	if assignedCourier != nil {
		sh.AssignedCourier = *assignedCourier
	}
	if sh.Metadata, err = unmarshalMetadata(metadataRaw); err != nil {
		return domain.Shipment{}, err
	}
	return sh, nil
}

// GetByID retrieves a shipment by its opaque ID.
func (s *ShipmentStore) GetByID(ctx context.Context, id string) (domain.Shipment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+shipmentSelectCols+` FROM shipments WHERE id = $1`, id)
	sh, err := scanShipmentFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Shipment{}, domain.ErrNotFound
		}
		return domain.Shipment{}, fmt.Errorf("postgres: get shipment %s: %w", id, err)
	}
	return sh, nil
}

// GetByShipmentNo retrieves a shipment by its (shipmentNo, supplier) key.
func (s *ShipmentStore) GetByShipmentNo(ctx context.Context, supplier string, shipmentNo int64) (domain.Shipment, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+shipmentSelectCols+` FROM shipments WHERE supplier = $1 AND shipment_no = $2`,
		supplier, shipmentNo)
	sh, err := scanShipmentFromRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Shipment{}, domain.ErrNotFound
		}
		return domain.Shipment{}, fmt.Errorf("postgres: get shipment by shipment_no %d: %w", shipmentNo, err)
	}
	return sh, nil
}

// UpdateStatus transitions a shipment's status, applying whichever optional
// fields in fields are set, and merges any metadata fragment.
func (s *ShipmentStore) UpdateStatus(ctx context.Context, id string, status domain.ShipmentStatus, fields domain.ShipmentUpdate) error {
	setClauses := []string{"status = $1"}
	args := []any{string(status)}
	argIdx := 2

	if fields.AssignedCourier != nil {
		setClauses = append(setClauses, fmt.Sprintf("assigned_courier = $%d", argIdx))
		args = append(args, *fields.AssignedCourier)
		argIdx++
	}
	if fields.PickedUpAt != nil {
		setClauses = append(setClauses, fmt.Sprintf("picked_up_at = $%d", argIdx))
		args = append(args, *fields.PickedUpAt)
		argIdx++
	}
	if fields.DeliveredAt != nil {
		setClauses = append(setClauses, fmt.Sprintf("delivered_at = $%d", argIdx))
		args = append(args, *fields.DeliveredAt)
		argIdx++
	}
	if fields.Metadata != nil {
		metadataJSON, err := marshalMetadata(*fields.Metadata)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("metadata = metadata || $%d::jsonb", argIdx))
		args = append(args, metadataJSON)
		argIdx++
	}

	query := "UPDATE shipments SET "
	for i, clause := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += fmt.Sprintf(" WHERE id = $%d", argIdx)
	args = append(args, id)

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update shipment status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByOrder returns all shipments belonging to an order.
func (s *ShipmentStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+shipmentSelectCols+` FROM shipments WHERE order_id = $1 ORDER BY shipment_no`, orderID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list shipments by order: %w", err)
	}
	defer rows.Close()

	var shipments []domain.Shipment
	for rows.Next() {
		sh, err := scanShipmentFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan shipment: %w", err)
		}
		shipments = append(shipments, sh)
	}
	return shipments, rows.Err()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

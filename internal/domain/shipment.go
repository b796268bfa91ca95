package domain

import "time"

// ShipmentStatus is linear: Created->InTransit->Delivered (terminal), or
// Created->Cancelled. Coordinates are fixed once the shipment is created.
type ShipmentStatus string

const (
	ShipmentStatusCreated   ShipmentStatus = "created"
	ShipmentStatusInTransit ShipmentStatus = "in_transit"
	ShipmentStatusDelivered ShipmentStatus = "delivered"
	ShipmentStatusCancelled ShipmentStatus = "cancelled"
)

// Shipment is a single courier-fulfilled leg of an Order.
type Shipment struct {
	ID              string
	OrderID         string
	ShipmentNo      int64
	Supplier        string
	Buyer           string
	AssignedCourier string // empty if unassigned
	PickupLat       float64
	PickupLon       float64
	DropLat         float64
	DropLon         float64
	DueBy           time.Time
	Status          ShipmentStatus
	Metadata        Metadata
	PickedUpAt      *time.Time
	DeliveredAt     *time.Time
	CreatedAt       time.Time
}

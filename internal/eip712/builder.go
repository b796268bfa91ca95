package eip712

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// domainTypes is the EIP712Domain type declaration shared by both
// attestation kinds.
var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Message bundles everything a caller needs to hand an attestation to a
// signer and later verify the result: the digest to recover a signature
// against, and a wire-format apitypes.TypedData a client wallet can render
// and sign via eth_signTypedData_v4.
type Message struct {
	Digest common.Hash
	Wire   apitypes.TypedData
}

// Builder produces pickup and drop attestation messages scoped to a single
// domain (chain + verifying contract).
type Builder struct {
	Domain Domain
}

// NewBuilder constructs a Builder for the given chain and escrow contract.
func NewBuilder(domain Domain) *Builder {
	return &Builder{Domain: domain}
}

// BuildPickup constructs the PickupApproval typed-data message a courier
// signs at pickup time.
func (b *Builder) BuildPickup(shipmentID string, orderID *big.Int, lat, lon float64, claimedTs int64) (PickupApproval, Message) {
	approval := PickupApproval{
		ShipmentID:   ShipmentIDHash(shipmentID),
		OrderID:      orderID,
		LocationHash: LocationHash(lat, lon, claimedTs),
		ClaimedTs:    claimedTs,
	}

	digest := Digest(b.Domain.Separator(), approval.StructHash())

	wire := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"PickupApproval": []apitypes.Type{
				{Name: "shipmentId", Type: "bytes32"},
				{Name: "orderId", Type: "uint256"},
				{Name: "locationHash", Type: "bytes32"},
				{Name: "claimedTs", Type: "uint64"},
			},
		},
		PrimaryType: "PickupApproval",
		Domain:      b.Domain.Wire(),
		Message: apitypes.TypedDataMessage{
			"shipmentId":   approval.ShipmentID.Hex(),
			"orderId":      orderID.String(),
			"locationHash": approval.LocationHash.Hex(),
			"claimedTs":    fmt.Sprintf("%d", claimedTs),
		},
	}

	return approval, Message{Digest: digest, Wire: wire}
}

// BuildDrop constructs the DropApproval typed-data message the counterparty
// signs at drop time, once the courier's distance to the drop point has been
// measured.
func (b *Builder) BuildDrop(shipmentID string, orderID *big.Int, lat, lon float64, claimedTs, distanceMeters int64) (DropApproval, Message) {
	approval := DropApproval{
		ShipmentID:     ShipmentIDHash(shipmentID),
		OrderID:        orderID,
		LocationHash:   LocationHash(lat, lon, claimedTs),
		ClaimedTs:      claimedTs,
		DistanceMeters: distanceMeters,
	}

	digest := Digest(b.Domain.Separator(), approval.StructHash())

	wire := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"DropApproval": []apitypes.Type{
				{Name: "shipmentId", Type: "bytes32"},
				{Name: "orderId", Type: "uint256"},
				{Name: "locationHash", Type: "bytes32"},
				{Name: "claimedTs", Type: "uint64"},
				{Name: "distanceMeters", Type: "uint256"},
			},
		},
		PrimaryType: "DropApproval",
		Domain:      b.Domain.Wire(),
		Message: apitypes.TypedDataMessage{
			"shipmentId":     approval.ShipmentID.Hex(),
			"orderId":        orderID.String(),
			"locationHash":   approval.LocationHash.Hex(),
			"claimedTs":      fmt.Sprintf("%d", claimedTs),
			"distanceMeters": fmt.Sprintf("%d", distanceMeters),
		},
	}

	return approval, Message{Digest: digest, Wire: wire}
}

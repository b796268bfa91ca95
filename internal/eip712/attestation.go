package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/podx/oracle/internal/geo"
)

// coordScale converts decimal-degree lat/lon into the fixed-point integers
// the on-chain struct hash commits to. 1e6 gives ~11cm of precision at the
// equator, well under the meter-level radii the geofence checks operate at.
const coordScale = 1_000_000

var (
	pickupTypeHash = crypto.Keccak256Hash([]byte(
		"PickupApproval(bytes32 shipmentId,uint256 orderId,bytes32 locationHash,uint64 claimedTs)",
	))
	dropTypeHash = crypto.Keccak256Hash([]byte(
		"DropApproval(bytes32 shipmentId,uint256 orderId,bytes32 locationHash,uint64 claimedTs,uint256 distanceMeters)",
	))
)

// ShipmentIDHash derives the bytes32 shipmentId field from the shipment's
// string identifier. Off-chain identifiers are never stored on-chain
// directly; only their hash is.
func ShipmentIDHash(shipmentID string) common.Hash {
	return crypto.Keccak256Hash([]byte(shipmentID))
}

// ScaleCoord rounds a decimal-degree coordinate to the fixed-point integer
// committed to in locationHash. Exposed so callers can recompute the exact
// value a signature was taken over, e.g. for audit logging.
func ScaleCoord(deg float64) *big.Int {
	return big.NewInt(geo.RoundHalfEven(deg * coordScale))
}

// LocationHash commits to a claimed location and timestamp:
// keccak256(abi.encode(int256 latScaled, int256 lonScaled, uint64 claimedTs)).
// The builder and the verifier both call this function directly, so a
// round-trip over any valid (lat, lon, claimedTs) triple is guaranteed: there
// is only one implementation to disagree with itself.
func LocationHash(lat, lon float64, claimedTs int64) common.Hash {
	buf := make([]byte, 0, 96)
	buf = append(buf, leftPad32(ScaleCoord(lat))...)
	buf = append(buf, leftPad32(ScaleCoord(lon))...)
	buf = append(buf, leftPadUint64(uint64(claimedTs))...)
	return crypto.Keccak256Hash(buf)
}

// PickupApproval is the typed-data struct a courier signs to attest they
// picked up a shipment at a given location and time.
type PickupApproval struct {
	ShipmentID   common.Hash
	OrderID      *big.Int
	LocationHash common.Hash
	ClaimedTs    int64
}

// StructHash returns keccak256(typeHash || encoded fields), the EIP-712
// "hashStruct" value for a PickupApproval.
func (p PickupApproval) StructHash() common.Hash {
	buf := make([]byte, 0, 32*5)
	buf = append(buf, pickupTypeHash.Bytes()...)
	buf = append(buf, p.ShipmentID.Bytes()...)
	buf = append(buf, leftPad32(p.OrderID)...)
	buf = append(buf, p.LocationHash.Bytes()...)
	buf = append(buf, leftPadUint64(uint64(p.ClaimedTs))...)
	return crypto.Keccak256Hash(buf)
}

// DropApproval is the typed-data struct the buyer (or, for a drop signed by
// the courier's counterparty, the supplier on a return) signs to attest a
// shipment was delivered within the configured radius.
type DropApproval struct {
	ShipmentID     common.Hash
	OrderID        *big.Int
	LocationHash   common.Hash
	ClaimedTs      int64
	DistanceMeters int64
}

// StructHash returns the EIP-712 "hashStruct" value for a DropApproval.
func (d DropApproval) StructHash() common.Hash {
	buf := make([]byte, 0, 32*6)
	buf = append(buf, dropTypeHash.Bytes()...)
	buf = append(buf, d.ShipmentID.Bytes()...)
	buf = append(buf, leftPad32(d.OrderID)...)
	buf = append(buf, d.LocationHash.Bytes()...)
	buf = append(buf, leftPadUint64(uint64(d.ClaimedTs))...)
	buf = append(buf, leftPad32(big.NewInt(d.DistanceMeters))...)
	return crypto.Keccak256Hash(buf)
}

package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PickupApprovalTuple mirrors the Solidity tuple ShipmentRegistry.confirmPickup
// takes, field order included: (bytes32, uint256, bytes32, uint64).
type PickupApprovalTuple struct {
	ShipmentId   [32]byte
	OrderId      *big.Int
	LocationHash [32]byte
	ClaimedTs    uint64
}

// DropApprovalTuple mirrors the Solidity tuple ShipmentRegistry.confirmDrop
// takes: (bytes32, uint256, bytes32, uint64, uint256).
type DropApprovalTuple struct {
	ShipmentId     [32]byte
	OrderId        *big.Int
	LocationHash   [32]byte
	ClaimedTs      uint64
	DistanceMeters *big.Int
}

// OrderInfo is the unpacked result of OrderRegistry.orders(orderId).
type OrderInfo struct {
	Buyer    common.Address
	Supplier common.Address
	Amount   *big.Int
	Status   uint8
}

// Exists reports whether orders() returned a populated row. A zero buyer
// address means the registry has no record for this order id — both its
// zero-value and a genuinely unset contract storage slot decode to the same
// thing, which is exactly the idempotence check createOrder needs.
func (o OrderInfo) Exists() bool {
	return o.Buyer != (common.Address{})
}

// Addresses bundles the deployment addresses of the contracts the gateway
// talks to.
type Addresses struct {
	Token            common.Address
	Escrow           common.Address
	OrderRegistry    common.Address
	ShipmentRegistry common.Address
}

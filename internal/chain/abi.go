package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI JSON fragments for the three pre-deployed contracts plus the plain
// ERC-20 token escrow funds move in. Only the entry points the core uses are
// declared; no abigen bindings exist for these contracts, so calls are
// packed and unpacked by hand against these parsed ABIs (mirrors the pattern
// other order-fulfillment services in the wild use against hand-maintained
// registries rather than generated bindings).
const (
	escrowABIJSON = `[
		{"type":"function","name":"fund","inputs":[{"name":"orderId","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"escrowed","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
	]`

	orderRegistryABIJSON = `[
		{"type":"function","name":"createOrder","inputs":[{"name":"orderId","type":"uint256"},{"name":"buyer","type":"address"},{"name":"supplier","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"markFunded","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"orders","inputs":[{"name":"orderId","type":"uint256"}],"outputs":[{"name":"buyer","type":"address"},{"name":"supplier","type":"address"},{"name":"amount","type":"uint256"},{"name":"status","type":"uint8"}],"stateMutability":"view"},
		{"type":"function","name":"deliveryOracle","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
	]`

	shipmentRegistryABIJSON = `[
		{"type":"function","name":"registerShipment","inputs":[{"name":"shipmentId","type":"bytes32"},{"name":"orderId","type":"uint256"},{"name":"buyer","type":"address"},{"name":"supplier","type":"address"},{"name":"courier","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"updateCourier","inputs":[{"name":"shipmentId","type":"bytes32"},{"name":"courier","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"confirmPickup","inputs":[{"name":"approval","type":"tuple","components":[{"name":"shipmentId","type":"bytes32"},{"name":"orderId","type":"uint256"},{"name":"locationHash","type":"bytes32"},{"name":"claimedTs","type":"uint64"}]},{"name":"courierSig","type":"bytes"},{"name":"counterpartySig","type":"bytes"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"confirmDrop","inputs":[{"name":"approval","type":"tuple","components":[{"name":"shipmentId","type":"bytes32"},{"name":"orderId","type":"uint256"},{"name":"locationHash","type":"bytes32"},{"name":"claimedTs","type":"uint64"},{"name":"distanceMeters","type":"uint256"}]},{"name":"courierSig","type":"bytes"},{"name":"counterpartySig","type":"bytes"},{"name":"lineItemsJson","type":"string"},{"name":"metadataUri","type":"string"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"event","name":"PickupApproved","inputs":[{"name":"shipmentId","type":"bytes32","indexed":false},{"name":"orderId","type":"uint256","indexed":false},{"name":"locationHash","type":"bytes32","indexed":false},{"name":"claimedTs","type":"uint64","indexed":false}],"anonymous":false},
		{"type":"event","name":"DropApproved","inputs":[{"name":"shipmentId","type":"bytes32","indexed":false},{"name":"orderId","type":"uint256","indexed":false},{"name":"locationHash","type":"bytes32","indexed":false},{"name":"claimedTs","type":"uint64","indexed":false},{"name":"distanceMeters","type":"uint256","indexed":false},{"name":"courierReward","type":"uint256","indexed":false}],"anonymous":false}
	]`

	erc20ABIJSON = `[
		{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
		{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
	]`
)

func mustParseABI(jsonStr string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(jsonStr))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	escrowABI           = mustParseABI(escrowABIJSON)
	orderRegistryABI    = mustParseABI(orderRegistryABIJSON)
	shipmentRegistryABI = mustParseABI(shipmentRegistryABIJSON)
	erc20ABI            = mustParseABI(erc20ABIJSON)
)

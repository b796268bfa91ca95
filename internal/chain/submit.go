package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// gasLimitHeadroom is added to the EstimateGas result for every write path
// here, so each transaction's gas limit is the per-call estimate plus this
// fixed margin.
const gasLimitHeadroom = 50_000

// nextNonceLocked returns the next nonce to use and advances the in-memory
// counter. Call sites must hold g.mu.
func (g *Gateway) nextNonceLocked(ctx context.Context) (uint64, error) {
	if !g.nonceInit {
		n, err := g.client.PendingNonceAt(ctx, g.fromAddr)
		if err != nil {
			return 0, fmt.Errorf("chain: fetching initial nonce: %w", err)
		}
		g.nextNonce = n
		g.nonceInit = true
	}
	n := g.nextNonce
	g.nextNonce++
	return n, nil
}

// send builds, signs, and submits a transaction calling method on to with
// the packed data, then waits for it to be mined. It serialises on g.mu for
// the entire nonce-reserve-to-dispatch window: the oracle signer must never
// have two transactions in flight with the same nonce.
func (g *Gateway) send(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nonce, err := g.nextNonceLocked(ctx)
	if err != nil {
		return nil, err
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggesting gas price: %w", err)
	}

	gasLimit, err := g.client.EstimateGas(ctx, ethereumCallMsg(g.fromAddr, to, data))
	if err != nil {
		return nil, fmt.Errorf("chain: estimating gas: %w", err)
	}
	gasLimit += gasLimitHeadroom

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), g.signer)
	if err != nil {
		return nil, fmt.Errorf("chain: signing transaction: %w", err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		// The reserved nonce is now burned whether or not this call
		// ultimately lands; a stuck nonce is resolved operationally
		// (replacement tx or signer restart), not by this gateway.
		return nil, fmt.Errorf("chain: sending transaction: %w", err)
	}

	receipt, err := waitMined(ctx, g.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("chain: waiting for transaction %s: %w", signedTx.Hash(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, fmt.Errorf("chain: transaction %s reverted", signedTx.Hash())
	}
	return receipt, nil
}

// RegisterShipment records a new shipment on the shipment registry.
func (g *Gateway) RegisterShipment(ctx context.Context, shipmentID [32]byte, orderID *big.Int, buyer, supplier, courier common.Address) (common.Hash, error) {
	data, err := shipmentRegistryABI.Pack("registerShipment", shipmentID, orderID, buyer, supplier, courier)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: packing registerShipment: %w", err)
	}
	receipt, err := g.send(ctx, g.addrs.ShipmentRegistry, data)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// UpdateCourier reassigns the courier on a registered shipment.
func (g *Gateway) UpdateCourier(ctx context.Context, shipmentID [32]byte, courier common.Address) (common.Hash, error) {
	data, err := shipmentRegistryABI.Pack("updateCourier", shipmentID, courier)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: packing updateCourier: %w", err)
	}
	receipt, err := g.send(ctx, g.addrs.ShipmentRegistry, data)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ConfirmPickup submits the pickup milestone. It returns the mined receipt
// so callers can assert PickupApproved was emitted.
func (g *Gateway) ConfirmPickup(ctx context.Context, approval PickupApprovalTuple, courierSig, counterpartySig []byte) (*types.Receipt, error) {
	data, err := shipmentRegistryABI.Pack("confirmPickup", approval, courierSig, counterpartySig)
	if err != nil {
		return nil, fmt.Errorf("chain: packing confirmPickup: %w", err)
	}
	return g.send(ctx, g.addrs.ShipmentRegistry, data)
}

// ConfirmDrop submits the drop milestone, releasing escrow on-chain. It
// returns the mined receipt so callers can parse DropApproved for the
// courier reward.
func (g *Gateway) ConfirmDrop(ctx context.Context, approval DropApprovalTuple, courierSig, counterpartySig []byte, lineItemsJSON, metadataURI string) (*types.Receipt, error) {
	data, err := shipmentRegistryABI.Pack("confirmDrop", approval, courierSig, counterpartySig, lineItemsJSON, metadataURI)
	if err != nil {
		return nil, fmt.Errorf("chain: packing confirmDrop: %w", err)
	}
	return g.send(ctx, g.addrs.ShipmentRegistry, data)
}

// Orders reads OrderRegistry.orders(orderId).
func (g *Gateway) Orders(ctx context.Context, orderID *big.Int) (OrderInfo, error) {
	data, err := orderRegistryABI.Pack("orders", orderID)
	if err != nil {
		return OrderInfo{}, fmt.Errorf("chain: packing orders call: %w", err)
	}
	out, err := g.call(ctx, g.addrs.OrderRegistry, data)
	if err != nil {
		return OrderInfo{}, err
	}
	var info OrderInfo
	if err := orderRegistryABI.UnpackIntoInterface(&info, "orders", out); err != nil {
		return OrderInfo{}, fmt.Errorf("chain: unpacking orders: %w", err)
	}
	return info, nil
}

// CreateOrder registers a new order on the order registry. It is idempotent:
// if the order already exists on-chain, it returns without sending a
// transaction.
func (g *Gateway) CreateOrder(ctx context.Context, orderID *big.Int, buyer, supplier common.Address, amount *big.Int) (common.Hash, error) {
	existing, err := g.Orders(ctx, orderID)
	if err != nil {
		return common.Hash{}, err
	}
	if existing.Exists() {
		return common.Hash{}, nil
	}

	data, err := orderRegistryABI.Pack("createOrder", orderID, buyer, supplier, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: packing createOrder: %w", err)
	}
	receipt, err := g.send(ctx, g.addrs.OrderRegistry, data)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// MarkFunded flips an order's on-chain status to funded.
func (g *Gateway) MarkFunded(ctx context.Context, orderID *big.Int) (common.Hash, error) {
	data, err := orderRegistryABI.Pack("markFunded", orderID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: packing markFunded: %w", err)
	}
	receipt, err := g.send(ctx, g.addrs.OrderRegistry, data)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// EscrowedBalance reads Escrow.escrowed(orderId), the funds currently held
// for an order.
func (g *Gateway) EscrowedBalance(ctx context.Context, orderID *big.Int) (*big.Int, error) {
	data, err := escrowABI.Pack("escrowed", orderID)
	if err != nil {
		return nil, fmt.Errorf("chain: packing escrowed call: %w", err)
	}
	out, err := g.call(ctx, g.addrs.Escrow, data)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := escrowABI.UnpackIntoInterface(&balance, "escrowed", out); err != nil {
		return nil, fmt.Errorf("chain: unpacking escrowed: %w", err)
	}
	return balance, nil
}

// Allowance reads the ERC-20 token's allowance the oracle's spender
// (typically the Escrow contract) has over owner's balance.
func (g *Gateway) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: packing allowance call: %w", err)
	}
	out, err := g.call(ctx, g.addrs.Token, data)
	if err != nil {
		return nil, err
	}
	var allowance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&allowance, "allowance", out); err != nil {
		return nil, fmt.Errorf("chain: unpacking allowance: %w", err)
	}
	return allowance, nil
}

// Approve grants spender an allowance over the oracle's token balance. It is
// idempotent: if the existing allowance already covers needed, it skips the
// transaction entirely.
func (g *Gateway) Approve(ctx context.Context, spender common.Address, needed *big.Int) (common.Hash, error) {
	current, err := g.Allowance(ctx, g.fromAddr, spender)
	if err != nil {
		return common.Hash{}, err
	}
	if current.Cmp(needed) >= 0 {
		return common.Hash{}, nil
	}

	data, err := erc20ABI.Pack("approve", spender, needed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: packing approve: %w", err)
	}
	receipt, err := g.send(ctx, g.addrs.Token, data)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

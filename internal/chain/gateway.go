// Package chain wraps the three pre-deployed EVM contracts the settlement
// coordinator drives — Escrow, OrderRegistry, ShipmentRegistry — behind
// typed Go calls, and owns the oracle signer's transaction lifecycle
// (spec §4.7).
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// EthClient is the subset of *ethclient.Client the gateway depends on. It is
// an interface so tests can substitute a fake RPC backend.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Gateway is the oracle's single handle onto the chain. It owns the nonce
// sequence for the oracle signer: every write path acquires mu before
// reading or advancing nextNonce so the gateway never issues two
// transactions from the same signer concurrently (spec §5).
type Gateway struct {
	client EthClient
	addrs  Addresses

	chainID  *big.Int
	signer   *ecdsa.PrivateKey
	fromAddr common.Address

	mu        sync.Mutex
	nextNonce uint64
	nonceInit bool
}

// New constructs a Gateway and performs the mandatory startup self-check:
// the oracle signer's address must equal OrderRegistry.deliveryOracle().
// A mismatch is a fatal configuration error, not a retryable one.
func New(ctx context.Context, client EthClient, signer *ecdsa.PrivateKey, addrs Addresses) (*Gateway, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: fetching chain id: %w", err)
	}

	fromAddr := crypto.PubkeyToAddress(signer.PublicKey)

	g := &Gateway{
		client:   client,
		addrs:    addrs,
		chainID:  chainID,
		signer:   signer,
		fromAddr: fromAddr,
	}

	registered, err := g.DeliveryOracle(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: reading deliveryOracle: %w", err)
	}
	if registered != fromAddr {
		return nil, fmt.Errorf("chain: oracle signer %s does not match OrderRegistry.deliveryOracle() %s", fromAddr, registered)
	}

	return g, nil
}

// FromAddress returns the oracle signer's address.
func (g *Gateway) FromAddress() common.Address { return g.fromAddr }

// DeliveryOracle reads OrderRegistry.deliveryOracle().
func (g *Gateway) DeliveryOracle(ctx context.Context) (common.Address, error) {
	data, err := orderRegistryABI.Pack("deliveryOracle")
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: packing deliveryOracle call: %w", err)
	}
	out, err := g.call(ctx, g.addrs.OrderRegistry, data)
	if err != nil {
		return common.Address{}, err
	}
	var addr common.Address
	if err := orderRegistryABI.UnpackIntoInterface(&addr, "deliveryOracle", out); err != nil {
		return common.Address{}, fmt.Errorf("chain: unpacking deliveryOracle: %w", err)
	}
	return addr, nil
}

func (g *Gateway) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call to %s: %w", to, err)
	}
	return out, nil
}

// CodeAt and CallContract let *Gateway satisfy sigverify.ContractCaller
// directly, so the ERC-1271 fallback path shares the same RPC connection.
func (g *Gateway) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return g.client.CodeAt(ctx, account, blockNumber)
}

func (g *Gateway) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return g.client.CallContract(ctx, msg, blockNumber)
}

// FilterLogs passes q through to the underlying client unchanged; it adds
// no address filter of its own, so callers set q.Addresses themselves.
func (g *Gateway) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return g.client.FilterLogs(ctx, q)
}

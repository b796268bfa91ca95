package sigverify

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// erc1271MagicValue is the 4-byte return value ERC-1271's isValidSignature
// must produce for a signature it accepts.
var erc1271MagicValue = crypto.Keccak256([]byte("isValidSignature(bytes32,bytes)"))[:4]

// isValidSignatureSelector is the same bytes, reused here as the call
// selector — ERC-1271's magic value is, not coincidentally, its own
// function selector.
var isValidSignatureSelector = erc1271MagicValue

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
	isValidSigArgs = abi.Arguments{{Type: bytes32Type}, {Type: bytesType}}
)

// ContractCaller is the subset of ethclient.Client the ERC-1271 fallback
// needs: enough to detect a contract account and to make the eth_call.
type ContractCaller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// IsContract reports whether addr has deployed code on chain. EOAs never do.
func IsContract(ctx context.Context, caller ContractCaller, addr common.Address) (bool, error) {
	code, err := caller.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("sigverify: fetching code at %s: %w", addr, err)
	}
	return len(code) > 0, nil
}

// VerifyERC1271 calls isValidSignature(digest, sig) on the contract at addr
// and reports whether it returned the ERC-1271 magic value.
func VerifyERC1271(ctx context.Context, caller ContractCaller, addr common.Address, digest common.Hash, sig []byte) (bool, error) {
	packed, err := isValidSigArgs.Pack(digest, sig)
	if err != nil {
		return false, fmt.Errorf("sigverify: packing isValidSignature call: %w", err)
	}
	data := append(append([]byte{}, isValidSignatureSelector...), packed...)

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		// Reverts are a normal "signature rejected" outcome for many wallet
		// implementations, not a transport failure.
		return false, nil
	}
	if len(result) < 4 {
		return false, nil
	}
	return bytes.Equal(result[:4], erc1271MagicValue), nil
}

package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// leftPad32 ABI-encodes an unsigned or two's-complement signed integer into
// a 32-byte big-endian word, matching solidity's abi.encode for uint256 and
// int256. Negative values are encoded as their two's-complement form.
func leftPad32(n *big.Int) []byte {
	if n.Sign() >= 0 {
		return common.LeftPadBytes(n.Bytes(), 32)
	}
	// Two's complement: 2^256 + n.
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	twos := new(big.Int).Add(mod, n)
	return common.LeftPadBytes(twos.Bytes(), 32)
}

// leftPadAddress ABI-encodes an address as a 32-byte word.
func leftPadAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

// leftPadUint64 ABI-encodes a uint64 as a 32-byte word.
func leftPadUint64(v uint64) []byte {
	return leftPad32(new(big.Int).SetUint64(v))
}

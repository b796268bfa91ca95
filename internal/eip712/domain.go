// Package eip712 builds and hashes the typed-data structures couriers and
// counterparties sign to attest pickup and drop events (spec §4.1). Hashing
// follows EIP-712 byte-for-byte; the wire shape handed to client wallets is
// expressed with go-ethereum's apitypes so any EIP-712-aware signer can
// consume it directly.
package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DomainName and DomainVersion identify the PODx attestation domain. Both are
// fixed; only chainId and verifyingContract vary per deployment.
const (
	DomainName    = "PODxShipment"
	DomainVersion = "1"
)

// domainTypeHash is keccak256 of the EIP712Domain type string.
var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Domain identifies the verifying contract and chain an attestation is scoped
// to. It must match the Escrow contract's own domain separator inputs or
// on-chain recovery will never agree with the oracle's off-chain recovery.
type Domain struct {
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Separator returns the EIP-712 domain separator hash.
func (d Domain) Separator() common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(DomainName)).Bytes(),
		crypto.Keccak256Hash([]byte(DomainVersion)).Bytes(),
		leftPad32(d.ChainID),
		leftPadAddress(d.VerifyingContract),
	)
}

// Wire returns the apitypes domain description sent to client wallets
// alongside a message so they can compute and display the same separator.
func (d Domain) Wire() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Digest combines a domain separator and struct hash into the final
// EIP-712 signing digest: keccak256(0x1901 || domainSeparator || structHash).
func Digest(domainSeparator, structHash common.Hash) common.Hash {
	buf := make([]byte, 0, 2+32+32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator.Bytes()...)
	buf = append(buf, structHash.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

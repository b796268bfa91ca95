// Package sigverify recovers and validates signatures over EIP-712 digests,
// supporting both externally-owned accounts (ECDSA recovery) and smart
// contract wallets (ERC-1271) as required by spec §4.2.
package sigverify

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMalformedSignature is returned when a signature is not 65 bytes or its
// recovery byte is out of range.
var ErrMalformedSignature = errors.New("sigverify: malformed signature")

// normalizeRecoveryByte accepts both the Ethereum JSON-RPC convention
// (v in {27,28}) and the raw secp256k1 convention (v in {0,1}) and returns
// a copy of sig with v normalized to {0,1} for crypto.SigToPub.
func normalizeRecoveryByte(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: expected 65 bytes, got %d", ErrMalformedSignature, len(sig))
	}
	out := make([]byte, 65)
	copy(out, sig)

	switch out[64] {
	case 0, 1:
		// already normalized
	case 27, 28:
		out[64] -= 27
	default:
		return nil, fmt.Errorf("%w: recovery byte %d out of range", ErrMalformedSignature, out[64])
	}
	return out, nil
}

// RecoverEOA recovers the externally-owned-account address that produced sig
// over digest. It does not by itself prove the address is the expected
// signer; callers compare the result against the expected address.
func RecoverEOA(digest common.Hash, sig []byte) (common.Address, error) {
	normalized, err := normalizeRecoveryByte(sig)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("sigverify: recovering public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

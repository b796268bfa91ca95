package sigverify

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/podx/oracle/internal/domain"
)

// Verifier checks that a signature over a digest was produced by an expected
// address, whether that address is an EOA or an ERC-1271 smart-contract
// wallet. It caches which addresses carry contract code for the lifetime of
// the process, since that fact cannot change for a given address without a
// chain reorg deep enough to matter far more than a stale cache entry would.
type Verifier struct {
	caller ContractCaller

	mu         sync.RWMutex
	isContract map[common.Address]bool
}

// NewVerifier constructs a Verifier backed by caller for ERC-1271 fallback
// calls. caller is typically an *ethclient.Client.
func NewVerifier(caller ContractCaller) *Verifier {
	return &Verifier{
		caller:     caller,
		isContract: make(map[common.Address]bool),
	}
}

func (v *Verifier) codeIsContract(ctx context.Context, addr common.Address) (bool, error) {
	v.mu.RLock()
	cached, ok := v.isContract[addr]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	isContract, err := IsContract(ctx, v.caller, addr)
	if err != nil {
		return false, err
	}

	v.mu.Lock()
	v.isContract[addr] = isContract
	v.mu.Unlock()
	return isContract, nil
}

// Verify checks that sig over digest was produced by expectedSigner. For an
// EOA it recovers the signer and compares addresses; for a contract account
// it calls isValidSignature and checks for the ERC-1271 magic value.
//
// On mismatch it returns a *domain.SignatureError carrying both the expected
// and (where recoverable) the actual signer, so handlers can log diagnostics
// without leaking that detail to the HTTP response body.
func (v *Verifier) Verify(ctx context.Context, expectedSigner common.Address, digest common.Hash, sig []byte) error {
	isContract, err := v.codeIsContract(ctx, expectedSigner)
	if err != nil {
		return err
	}

	if isContract {
		ok, err := VerifyERC1271(ctx, v.caller, expectedSigner, digest, sig)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.SignatureError{ExpectedSigner: expectedSigner.Hex(), Recovered: "erc1271:rejected"}
		}
		return nil
	}

	recovered, err := RecoverEOA(digest, sig)
	if err != nil {
		return &domain.SignatureError{ExpectedSigner: expectedSigner.Hex(), Recovered: "unrecoverable"}
	}
	if recovered != expectedSigner {
		return &domain.SignatureError{ExpectedSigner: expectedSigner.Hex(), Recovered: recovered.Hex()}
	}
	return nil
}

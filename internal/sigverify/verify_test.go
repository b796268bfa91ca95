package sigverify

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/podx/oracle/internal/domain"
)

type fakeCaller struct {
	code        map[common.Address][]byte
	callResult  []byte
	callErr     error
	lastCallMsg ethereum.CallMsg
}

func (f *fakeCaller) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code[account], nil
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCallMsg = msg
	return f.callResult, f.callErr
}

func mustKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func TestVerify_EOA_Valid(t *testing.T) {
	key, addr := mustKey(t)
	digest := crypto.Keccak256Hash([]byte("attestation"))

	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	// JSON-RPC convention: v in {27,28}.
	sig[64] += 27

	v := NewVerifier(&fakeCaller{})
	if err := v.Verify(context.Background(), addr, digest, sig); err != nil {
		t.Fatalf("expected valid signature to verify, got: %v", err)
	}
}

func TestVerify_EOA_WrongSigner(t *testing.T) {
	key, _ := mustKey(t)
	_, otherAddr := mustKey(t)
	digest := crypto.Keccak256Hash([]byte("attestation"))

	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	v := NewVerifier(&fakeCaller{})
	err = v.Verify(context.Background(), otherAddr, digest, sig)
	if err == nil {
		t.Fatal("expected verification failure for mismatched signer")
	}
	var sigErr *domain.SignatureError
	if !asSignatureError(err, &sigErr) {
		t.Fatalf("expected *domain.SignatureError, got %T: %v", err, err)
	}
}

func TestVerify_EOA_RawRecoveryByte(t *testing.T) {
	// v in {0,1} (raw secp256k1 convention) must also be accepted.
	key, addr := mustKey(t)
	digest := crypto.Keccak256Hash([]byte("attestation"))

	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	v := NewVerifier(&fakeCaller{})
	if err := v.Verify(context.Background(), addr, digest, sig); err != nil {
		t.Fatalf("expected raw-v signature to verify, got: %v", err)
	}
}

func TestVerify_ContractWallet_AcceptsMagicValue(t *testing.T) {
	addr := common.HexToAddress("0xC0FFEE0000000000000000000000000000C0DE")
	digest := crypto.Keccak256Hash([]byte("attestation"))

	magic := crypto.Keccak256([]byte("isValidSignature(bytes32,bytes)"))[:4]
	result := make([]byte, 32)
	copy(result, magic)

	caller := &fakeCaller{
		code:       map[common.Address][]byte{addr: {0x60, 0x60}},
		callResult: result,
	}

	v := NewVerifier(caller)
	if err := v.Verify(context.Background(), addr, digest, make([]byte, 65)); err != nil {
		t.Fatalf("expected contract-wallet verification to pass on magic value, got: %v", err)
	}
}

func TestVerify_ContractWallet_RejectsWrongValue(t *testing.T) {
	addr := common.HexToAddress("0xC0FFEE0000000000000000000000000000C0DE")
	digest := crypto.Keccak256Hash([]byte("attestation"))

	caller := &fakeCaller{
		code:       map[common.Address][]byte{addr: {0x60, 0x60}},
		callResult: make([]byte, 32),
	}

	v := NewVerifier(caller)
	if err := v.Verify(context.Background(), addr, digest, make([]byte, 65)); err == nil {
		t.Fatal("expected rejection for non-magic return value")
	}
}

func TestNormalizeRecoveryByte_Rejects(t *testing.T) {
	if _, err := normalizeRecoveryByte(make([]byte, 64)); err == nil {
		t.Fatal("expected error for wrong-length signature")
	}
	bad := make([]byte, 65)
	bad[64] = 99
	if _, err := normalizeRecoveryByte(bad); err == nil {
		t.Fatal("expected error for out-of-range recovery byte")
	}
}

func asSignatureError(err error, target **domain.SignatureError) bool {
	se, ok := err.(*domain.SignatureError)
	if !ok {
		return false
	}
	*target = se
	return true
}

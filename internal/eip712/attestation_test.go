package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testDomain() Domain {
	return Domain{
		ChainID:           big.NewInt(8453),
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000e5c"),
	}
}

func TestLocationHash_RoundTrip(t *testing.T) {
	// The builder and the verifier both call LocationHash directly, but this
	// pins the property down: identical inputs must hash identically no
	// matter how many times, or from where, it's called.
	cases := []struct {
		lat, lon  float64
		claimedTs int64
	}{
		{37.7749, -122.4194, 1_700_000_000},
		{-33.8688, 151.2093, 1_700_000_500},
		{0, 0, 0},
		{89.9999, -179.9999, 9_999_999_999},
	}

	for _, c := range cases {
		a := LocationHash(c.lat, c.lon, c.claimedTs)
		b := LocationHash(c.lat, c.lon, c.claimedTs)
		if a != b {
			t.Fatalf("LocationHash(%v,%v,%v) not stable: %x != %x", c.lat, c.lon, c.claimedTs, a, b)
		}
	}
}

func TestLocationHash_NegativeCoordsDiffer(t *testing.T) {
	pos := LocationHash(10, 20, 100)
	neg := LocationHash(-10, -20, 100)
	if pos == neg {
		t.Fatal("expected distinct hashes for distinct sign coordinates")
	}
}

func TestPickupApproval_StructHashDeterministic(t *testing.T) {
	b := NewBuilder(testDomain())
	orderID := big.NewInt(42)

	approval1, msg1 := b.BuildPickup("shipment-1", orderID, 37.7749, -122.4194, 1_700_000_000)
	approval2, msg2 := b.BuildPickup("shipment-1", orderID, 37.7749, -122.4194, 1_700_000_000)

	if approval1.StructHash() != approval2.StructHash() {
		t.Fatal("expected identical struct hash for identical inputs")
	}
	if msg1.Digest != msg2.Digest {
		t.Fatal("expected identical digest for identical inputs")
	}
}

func TestDropApproval_DistanceAffectsDigest(t *testing.T) {
	b := NewBuilder(testDomain())
	orderID := big.NewInt(42)

	_, msgNear := b.BuildDrop("shipment-1", orderID, 37.7749, -122.4194, 1_700_000_000, 10)
	_, msgFar := b.BuildDrop("shipment-1", orderID, 37.7749, -122.4194, 1_700_000_000, 3500)

	if msgNear.Digest == msgFar.Digest {
		t.Fatal("expected different digests for different distanceMeters")
	}
}

func TestDomainSeparator_ChainScoped(t *testing.T) {
	d1 := Domain{ChainID: big.NewInt(8453), VerifyingContract: common.HexToAddress("0x1")}
	d2 := Domain{ChainID: big.NewInt(1), VerifyingContract: common.HexToAddress("0x1")}

	if d1.Separator() == d2.Separator() {
		t.Fatal("expected distinct domain separators for distinct chain IDs")
	}
}

func TestPickupAndDropTypeHashesDiffer(t *testing.T) {
	// Cross-type confusion would let a pickup signature validate as a drop
	// signature or vice versa.
	b := NewBuilder(testDomain())
	orderID := big.NewInt(7)

	pickup, _ := b.BuildPickup("shipment-1", orderID, 1, 1, 100)
	drop, _ := b.BuildDrop("shipment-1", orderID, 1, 1, 100, 0)

	if pickup.StructHash() == drop.StructHash() {
		t.Fatal("expected pickup and drop struct hashes to differ even with overlapping fields")
	}
}

package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/podx/oracle/internal/domain"
	"github.com/podx/oracle/internal/eip712"
	"github.com/podx/oracle/internal/sigverify"
	"github.com/podx/oracle/internal/token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- fakes -------------------------------------------------------------

type fakeShipmentStore struct {
	byID map[string]domain.Shipment
}

func (f *fakeShipmentStore) Create(ctx context.Context, s domain.Shipment) error { return nil }
func (f *fakeShipmentStore) GetByID(ctx context.Context, id string) (domain.Shipment, error) {
	s, ok := f.byID[id]
	if !ok {
		return domain.Shipment{}, domain.ErrNotFound
	}
	return s, nil
}
func (f *fakeShipmentStore) GetByShipmentNo(ctx context.Context, supplier string, n int64) (domain.Shipment, error) {
	return domain.Shipment{}, domain.ErrNotFound
}
func (f *fakeShipmentStore) UpdateStatus(ctx context.Context, id string, status domain.ShipmentStatus, fields domain.ShipmentUpdate) error {
	return nil
}
func (f *fakeShipmentStore) ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	return nil, nil
}

type fakeOrderStore struct {
	byID map[string]domain.Order
}

func (f *fakeOrderStore) Create(ctx context.Context, o domain.Order) error { return nil }
func (f *fakeOrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}
func (f *fakeOrderStore) GetByChainOrderID(ctx context.Context, chainOrderID string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (f *fakeOrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, metadata domain.Metadata) error {
	return nil
}
func (f *fakeOrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

type fakeSessionStore struct {
	byUID  map[string]domain.SigningSession
	active map[string]domain.SigningSession // keyed by shipmentID+kind
}

func activeKey(shipmentID string, kind domain.SessionKind) string {
	return shipmentID + ":" + string(kind)
}

func (f *fakeSessionStore) Create(ctx context.Context, s domain.SigningSession) error {
	if f.byUID == nil {
		f.byUID = make(map[string]domain.SigningSession)
	}
	if f.active == nil {
		f.active = make(map[string]domain.SigningSession)
	}
	f.byUID[s.SessionUID] = s
	f.active[activeKey(s.ShipmentID, s.Kind)] = s
	return nil
}
func (f *fakeSessionStore) GetByUID(ctx context.Context, sessionUID string) (domain.SigningSession, error) {
	s, ok := f.byUID[sessionUID]
	if !ok {
		return domain.SigningSession{}, domain.ErrNotFound
	}
	return s, nil
}
func (f *fakeSessionStore) GetActive(ctx context.Context, shipmentID string, kind domain.SessionKind) (domain.SigningSession, error) {
	s, ok := f.active[activeKey(shipmentID, kind)]
	if !ok {
		return domain.SigningSession{}, domain.ErrNotFound
	}
	return s, nil
}
func (f *fakeSessionStore) Complete(ctx context.Context, sessionUID string) error { return nil }
func (f *fakeSessionStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for k, s := range f.byUID {
		if s.Status == s.Kind.PendingStatus() && now.After(s.Deadline) {
			s.Status = domain.SessionStatusExpired
			f.byUID[k] = s
			delete(f.active, activeKey(s.ShipmentID, s.Kind))
			n++
		}
	}
	return n, nil
}

type fakeMagicLinkStore struct {
	byHash map[string]domain.MagicLink
}

func (f *fakeMagicLinkStore) Create(ctx context.Context, m domain.MagicLink) error {
	if f.byHash == nil {
		f.byHash = make(map[string]domain.MagicLink)
	}
	f.byHash[m.TokenHash] = m
	return nil
}
func (f *fakeMagicLinkStore) GetByTokenHash(ctx context.Context, tokenHash string) (domain.MagicLink, error) {
	m, ok := f.byHash[tokenHash]
	if !ok {
		return domain.MagicLink{}, domain.ErrNotFound
	}
	return m, nil
}
func (f *fakeMagicLinkStore) MarkUsed(ctx context.Context, tokenHash string, usedAt time.Time) (bool, error) {
	m, ok := f.byHash[tokenHash]
	if !ok {
		return false, domain.ErrNotFound
	}
	m.UsedAt = &usedAt
	f.byHash[tokenHash] = m
	return true, nil
}
func (f *fakeMagicLinkStore) InvalidateBySession(ctx context.Context, sessionUID string) error {
	return nil
}

type fakeLocker struct{}

func (fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeSettler struct {
	pickupResult domain.SettlementResult
	dropResult   domain.SettlementResult
	err          error
}

func (f *fakeSettler) SettlePickup(ctx context.Context, s domain.SigningSession) (domain.SettlementResult, error) {
	return f.pickupResult, f.err
}
func (f *fakeSettler) SettleDrop(ctx context.Context, s domain.SigningSession) (domain.SettlementResult, error) {
	return f.dropResult, f.err
}

// fakeContractCaller reports every address as an EOA (no deployed code), so
// sigverify.Verifier always takes the ecrecover path in these tests.
type fakeContractCaller struct{}

func (fakeContractCaller) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}
func (fakeContractCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

// --- test harness --------------------------------------------------------

const testSessionSecret = "session-test-secret-at-least-32-bytes!!"

type harness struct {
	svc         *Service
	shipments   *fakeShipmentStore
	orders      *fakeOrderStore
	sessions    *fakeSessionStore
	links       *fakeMagicLinkStore
	settler     *fakeSettler
	courierPriv *ecdsa.PrivateKey
	courierAddr common.Address
}

func newHarness(t *testing.T) (*harness, *domain.Shipment, *domain.Order) {
	t.Helper()

	courierKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating courier key: %v", err)
	}
	courierAddr := crypto.PubkeyToAddress(courierKey.PublicKey)

	order := domain.Order{
		ID:           "order-1",
		Buyer:        "0x1000000000000000000000000000000000000b",
		Supplier:     "0x1000000000000000000000000000000000000c",
		ChainOrderID: "42",
		Status:       domain.OrderStatusFunded,
	}

	shipment := domain.Shipment{
		ID:         "shipment-1",
		OrderID:    order.ID,
		ShipmentNo: 1,
		Supplier:   order.Supplier,
		Buyer:      order.Buyer,
		PickupLat:  37.7749,
		PickupLon:  -122.4194,
		DropLat:    37.7849,
		DropLon:    -122.4094,
		Status:     domain.ShipmentStatusCreated,
	}

	shipments := &fakeShipmentStore{byID: map[string]domain.Shipment{shipment.ID: shipment}}
	orders := &fakeOrderStore{byID: map[string]domain.Order{order.ID: order}}
	sessions := &fakeSessionStore{}
	links := &fakeMagicLinkStore{}
	settler := &fakeSettler{}

	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	verifier := sigverify.NewVerifier(fakeContractCaller{})
	issuer := token.NewMagicLinkIssuer([]byte(testSessionSecret))

	svc := NewService(Deps{
		Sessions:       sessions,
		MagicLinks:     links,
		Shipments:      shipments,
		Orders:         orders,
		Locker:         fakeLocker{},
		Settler:        settler,
		Issuer:         issuer,
		Builder:        builder,
		Verifier:       verifier,
		SessionTTL:     10 * time.Minute,
		DefaultRadiusM: 2000,
		Logger:         testLogger(),
	})

	h := &harness{
		svc:       svc,
		shipments: shipments,
		orders:    orders,
		sessions:  sessions,
		links:     links,
		settler:   settler,
	}
	h.courierPriv = courierKey
	h.courierAddr = courierAddr
	return h, &shipment, &order
}

func signDigest(t *testing.T, digest common.Hash, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("signing digest: %v", err)
	}
	return sig
}

func TestCreate_HappyPathPickup(t *testing.T) {
	h, shipment, order := newHarness(t)

	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()
	_, msg := builder.BuildPickup(shipment.ID, orderID, shipment.PickupLat, shipment.PickupLon, claimedTs)
	sig := signDigest(t, msg.Digest, h.courierPriv)

	in := CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       shipment.PickupLat,
		CurrentLon:       shipment.PickupLon,
		CourierSignature: sig,
		Courier:          h.courierAddr,
	}

	result, err := h.svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Session.Status != domain.SessionStatusPendingSupplier {
		t.Fatalf("expected PENDING_SUPPLIER, got %s", result.Session.Status)
	}
	if result.Link == "" {
		t.Fatal("expected a non-empty capability token")
	}
}

func TestCreate_RejectsWrongChainOrderID(t *testing.T) {
	h, shipment, _ := newHarness(t)

	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	wrongOrderID := big.NewInt(999)
	claimedTs := time.Now().Unix()
	_, msg := builder.BuildPickup(shipment.ID, wrongOrderID, shipment.PickupLat, shipment.PickupLon, claimedTs)
	sig := signDigest(t, msg.Digest, h.courierPriv)

	_, err := h.svc.Create(context.Background(), CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     wrongOrderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       shipment.PickupLat,
		CurrentLon:       shipment.PickupLon,
		CourierSignature: sig,
		Courier:          h.courierAddr,
	})
	if !errors.Is(err, domain.ErrShipmentState) {
		t.Fatalf("expected ErrShipmentState, got %v", err)
	}
}

func TestCreate_RejectsOutsideRadius(t *testing.T) {
	h, shipment, order := newHarness(t)

	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()
	farLat, farLon := 40.7128, -74.0060 // New York, nowhere near the shipment's pickup point
	_, msg := builder.BuildPickup(shipment.ID, orderID, farLat, farLon, claimedTs)
	sig := signDigest(t, msg.Digest, h.courierPriv)

	_, err := h.svc.Create(context.Background(), CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       farLat,
		CurrentLon:       farLon,
		CourierSignature: sig,
		Courier:          h.courierAddr,
	})
	if !errors.Is(err, domain.ErrRadiusExceeded) {
		t.Fatalf("expected ErrRadiusExceeded, got %v", err)
	}
}

// TestCreate_SignsCourierLocationNotTarget pins the locationHash semantics:
// the courier attests their own claimed position, not the shipment's known
// pickup coordinate, and that attested position is what the geofence and the
// stored payload both use. The courier here stands about 14m from the
// pickup point (spec's happy-pickup vector), well inside the default radius
// but far enough that a digest built from the target coordinate would not
// verify against a signature over the courier's real one.
func TestCreate_SignsCourierLocationNotTarget(t *testing.T) {
	h, shipment, order := newHarness(t)

	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()
	currentLat, currentLon := 37.7750, -122.4193 // ~14m from shipment.PickupLat/PickupLon
	if currentLat == shipment.PickupLat && currentLon == shipment.PickupLon {
		t.Fatal("test fixture must place the courier away from the pickup target")
	}
	_, msg := builder.BuildPickup(shipment.ID, orderID, currentLat, currentLon, claimedTs)
	sig := signDigest(t, msg.Digest, h.courierPriv)

	result, err := h.svc.Create(context.Background(), CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       currentLat,
		CurrentLon:       currentLon,
		CourierSignature: sig,
		Courier:          h.courierAddr,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.Session.Payload.Lat != currentLat || result.Session.Payload.Lon != currentLon {
		t.Fatalf("expected stored payload to commit to the courier's claimed location (%v,%v), got (%v,%v)",
			currentLat, currentLon, result.Session.Payload.Lat, result.Session.Payload.Lon)
	}
}

// TestCreate_RejectsSignatureOverTargetCoordinate proves the digest is
// pinned to the courier's attested location, not the publicly-known target:
// a signature built over the shipment's pickup coordinate must not verify
// a claim for a courier standing ~14m away from it.
func TestCreate_RejectsSignatureOverTargetCoordinate(t *testing.T) {
	h, shipment, order := newHarness(t)

	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()
	currentLat, currentLon := 37.7750, -122.4193 // ~14m from shipment.PickupLat/PickupLon

	_, targetMsg := builder.BuildPickup(shipment.ID, orderID, shipment.PickupLat, shipment.PickupLon, claimedTs)
	wrongSig := signDigest(t, targetMsg.Digest, h.courierPriv)

	_, err := h.svc.Create(context.Background(), CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       currentLat,
		CurrentLon:       currentLon,
		CourierSignature: wrongSig,
		Courier:          h.courierAddr,
	})
	if err == nil {
		t.Fatal("expected signature over the target coordinate to be rejected for a claim over the courier's own location")
	}
}

func TestCreate_RejectsBadSignature(t *testing.T) {
	h, shipment, order := newHarness(t)
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()

	_, err := h.svc.Create(context.Background(), CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       shipment.PickupLat,
		CurrentLon:       shipment.PickupLon,
		CourierSignature: make([]byte, 65),
		Courier:          h.courierAddr,
	})
	if err == nil {
		t.Fatal("expected an error for a garbage signature")
	}
}

func TestCreate_RejectsDuplicateActiveSession(t *testing.T) {
	h, shipment, order := newHarness(t)
	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()
	_, msg := builder.BuildPickup(shipment.ID, orderID, shipment.PickupLat, shipment.PickupLon, claimedTs)
	sig := signDigest(t, msg.Digest, h.courierPriv)

	in := CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       shipment.PickupLat,
		CurrentLon:       shipment.PickupLon,
		CourierSignature: sig,
		Courier:          h.courierAddr,
	}

	if _, err := h.svc.Create(context.Background(), in); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := h.svc.Create(context.Background(), in); !errors.Is(err, domain.ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict on second Create, got %v", err)
	}
}

func TestResolveAndComplete_HappyPath(t *testing.T) {
	h, shipment, order := newHarness(t)
	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()
	_, msg := builder.BuildPickup(shipment.ID, orderID, shipment.PickupLat, shipment.PickupLon, claimedTs)
	courierSig := signDigest(t, msg.Digest, h.courierPriv)

	created, err := h.svc.Create(context.Background(), CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       shipment.PickupLat,
		CurrentLon:       shipment.PickupLon,
		CourierSignature: courierSig,
		Courier:          h.courierAddr,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resolved, err := h.svc.Resolve(context.Background(), created.Session.SessionUID, created.Link)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.TypedData.PrimaryType != "PickupApproval" {
		t.Fatalf("expected PickupApproval typed data, got %s", resolved.TypedData.PrimaryType)
	}

	supplierKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generating supplier key: %v", err)
	}
	h.sessions.byUID[created.Session.SessionUID] = withSupplier(created.Session, crypto.PubkeyToAddress(supplierKey.PublicKey).Hex())
	h.sessions.active[activeKey(shipment.ID, domain.SessionKindPickup)] = h.sessions.byUID[created.Session.SessionUID]

	supplierSig := signDigest(t, msg.Digest, supplierKey)
	h.settler.pickupResult = domain.SettlementResult{PickupTx: "0xdeadbeef"}

	result, err := h.svc.Complete(context.Background(), CompleteInput{
		SessionUID:            created.Session.SessionUID,
		RawToken:              created.Link,
		CounterpartySignature: supplierSig,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.PickupTx != "0xdeadbeef" {
		t.Fatalf("expected settlement result to pass through, got %+v", result)
	}
}

func withSupplier(s domain.SigningSession, addr string) domain.SigningSession {
	s.Supplier = addr
	return s
}

func TestResolve_RejectsWrongToken(t *testing.T) {
	h, shipment, order := newHarness(t)
	builder := eip712.NewBuilder(eip712.Domain{
		ChainID:           big.NewInt(137),
		VerifyingContract: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	})
	orderID, _ := new(big.Int).SetString(order.ChainOrderID, 10)
	claimedTs := time.Now().Unix()
	_, msg := builder.BuildPickup(shipment.ID, orderID, shipment.PickupLat, shipment.PickupLon, claimedTs)
	courierSig := signDigest(t, msg.Digest, h.courierPriv)

	created, err := h.svc.Create(context.Background(), CreateInput{
		Kind:             domain.SessionKindPickup,
		ShipmentID:       shipment.ID,
		ChainOrderID:     orderID,
		ClaimedTs:        claimedTs,
		CurrentLat:       shipment.PickupLat,
		CurrentLon:       shipment.PickupLon,
		CourierSignature: courierSig,
		Courier:          h.courierAddr,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := h.svc.Resolve(context.Background(), created.Session.SessionUID, "garbage.token"); err == nil {
		t.Fatal("expected error for a malformed token")
	}
}

func TestExpireOverdue_FlipsPastDeadlineSessions(t *testing.T) {
	h, _, _ := newHarness(t)
	h.sessions.byUID = map[string]domain.SigningSession{
		"sess-1": {
			SessionUID: "sess-1",
			ShipmentID: "shipment-1",
			Kind:       domain.SessionKindPickup,
			Status:     domain.SessionStatusPendingSupplier,
			Deadline:   time.Now().Add(-time.Minute),
		},
	}
	h.sessions.active = map[string]domain.SigningSession{
		activeKey("shipment-1", domain.SessionKindPickup): h.sessions.byUID["sess-1"],
	}

	n, err := h.svc.ExpireOverdue(context.Background())
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if h.sessions.byUID["sess-1"].Status != domain.SessionStatusExpired {
		t.Fatalf("expected session to be EXPIRED, got %s", h.sessions.byUID["sess-1"].Status)
	}
}

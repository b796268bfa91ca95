// Package session implements the SigningSession state machine: creating a
// session from a courier's signed milestone, resolving it for the
// counterparty, completing it once both signatures check out, and expiring
// overdue sessions in the background (spec §4.4).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/podx/oracle/internal/domain"
	"github.com/podx/oracle/internal/eip712"
	"github.com/podx/oracle/internal/geo"
	"github.com/podx/oracle/internal/sigverify"
	"github.com/podx/oracle/internal/token"
)

// maxDistanceSlackMeters bounds how far a claimed drop distance may diverge
// from the recomputed planned distance before it is rejected (spec §4.4).
const maxDistanceSlackMeters = 5

// Service implements the signing-session lifecycle. It holds no chain or DB
// transaction state of its own beyond what the store interfaces expose;
// SettlePickup/SettleDrop are delegated to a domain.Settler once both
// signatures have been verified here.
type Service struct {
	sessions   domain.SessionStore
	magicLinks domain.MagicLinkStore
	shipments  domain.ShipmentStore
	orders     domain.OrderStore
	locker     domain.LockManager
	settler    domain.Settler

	issuer   *token.MagicLinkIssuer
	builder  *eip712.Builder
	verifier *sigverify.Verifier

	sessionTTL     time.Duration
	defaultRadiusM int64

	logger *slog.Logger
}

// Deps bundles Service's constructor dependencies.
type Deps struct {
	Sessions   domain.SessionStore
	MagicLinks domain.MagicLinkStore
	Shipments  domain.ShipmentStore
	Orders     domain.OrderStore
	Locker     domain.LockManager
	Settler    domain.Settler
	Issuer     *token.MagicLinkIssuer
	Builder    *eip712.Builder
	Verifier   *sigverify.Verifier

	SessionTTL     time.Duration
	DefaultRadiusM int64

	Logger *slog.Logger
}

// NewService constructs a Service from its dependencies.
func NewService(d Deps) *Service {
	return &Service{
		sessions:       d.Sessions,
		magicLinks:     d.MagicLinks,
		shipments:      d.Shipments,
		orders:         d.Orders,
		locker:         d.Locker,
		settler:        d.Settler,
		issuer:         d.Issuer,
		builder:        d.Builder,
		verifier:       d.Verifier,
		sessionTTL:     d.SessionTTL,
		defaultRadiusM: d.DefaultRadiusM,
		logger:         d.Logger.With(slog.String("component", "session")),
	}
}

// CreateInput is the courier's milestone submission.
type CreateInput struct {
	Kind             domain.SessionKind
	ShipmentID       string
	ChainOrderID     *big.Int
	ClaimedTs        int64
	CurrentLat       float64
	CurrentLon       float64
	CourierSignature []byte
	DistanceMeters   int64 // only consulted for SessionKindDrop
	RadiusM          int64 // 0 means use the configured default
	Courier          common.Address
	Notes            string
}

// CreateResult is returned to the caller after a session is minted.
type CreateResult struct {
	Session domain.SigningSession
	Link    string // bare capability token; the handler composes the URL
}

// Create validates a courier's milestone claim and, if it checks out,
// inserts a PENDING_* SigningSession and then its MagicLink. The two inserts
// are separate store calls and do not share a transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if in.ClaimedTs == 0 {
		return nil, fmt.Errorf("%w: claimedTs must be nonzero", domain.ErrShipmentState)
	}

	shipment, err := s.shipments.GetByID(ctx, in.ShipmentID)
	if err != nil {
		return nil, err
	}

	if shipment.AssignedCourier != "" && !sameAddress(shipment.AssignedCourier, in.Courier) {
		return nil, fmt.Errorf("%w: courier is not assigned to this shipment", domain.ErrRoleMismatch)
	}
	if in.Kind == domain.SessionKindDrop && shipment.AssignedCourier == "" {
		return nil, fmt.Errorf("%w: shipment has no assigned courier yet", domain.ErrShipmentState)
	}

	order, err := s.orders.GetByID(ctx, shipment.OrderID)
	if err != nil {
		return nil, err
	}
	wantOrderID, ok := new(big.Int).SetString(order.ChainOrderID, 10)
	if !ok || in.ChainOrderID == nil || wantOrderID.Cmp(in.ChainOrderID) != 0 {
		return nil, fmt.Errorf("%w: chainOrderId does not match shipment's order", domain.ErrShipmentState)
	}

	lockKey := fmt.Sprintf("session-create:%s:%s", shipment.ID, in.Kind)
	unlock, err := s.locker.Acquire(ctx, lockKey, 10*time.Second)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.sessions.GetActive(ctx, shipment.ID, in.Kind); err == nil {
		return nil, domain.ErrSessionConflict
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	targetLat, targetLon := shipment.PickupLat, shipment.PickupLon
	if in.Kind == domain.SessionKindDrop {
		targetLat, targetLon = shipment.DropLat, shipment.DropLon
	}

	radius := s.defaultRadiusM
	if in.RadiusM > 0 {
		radius = in.RadiusM
	}
	distance := geo.DistanceMeters(targetLat, targetLon, in.CurrentLat, in.CurrentLon)
	if !geo.WithinRadius(distance, radius) {
		return nil, domain.ErrRadiusExceeded
	}

	var distanceMeters *int64
	if in.Kind == domain.SessionKindDrop {
		if shipment.Status != domain.ShipmentStatusInTransit && shipment.Status != domain.ShipmentStatusDelivered {
			return nil, fmt.Errorf("%w: shipment must be in transit before a drop is claimed", domain.ErrShipmentState)
		}
		planned := geo.DistanceMeters(shipment.PickupLat, shipment.PickupLon, shipment.DropLat, shipment.DropLon)
		if abs64(in.DistanceMeters-planned) > maxDistanceSlackMeters {
			return nil, domain.ErrBadDistance
		}
		d := in.DistanceMeters
		distanceMeters = &d
	}

	digest, err := s.digestFor(in.Kind, shipment.ID, in.ChainOrderID, in.CurrentLat, in.CurrentLon, in.ClaimedTs, in.DistanceMeters)
	if err != nil {
		return nil, err
	}

	if err := s.verifier.Verify(ctx, in.Courier, digest, in.CourierSignature); err != nil {
		return nil, err
	}

	sessionUID, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	courierNonce, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	supplierNonce, err := randomHex(16)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	deadline := now.Add(s.sessionTTL)
	role := in.Kind.ExpectedRole()
	counterparty := shipment.Supplier
	if role == "buyer" {
		counterparty = shipment.Buyer
	}

	newSession := domain.SigningSession{
		SessionUID:       sessionUID,
		ShipmentID:       shipment.ID,
		Kind:             in.Kind,
		Courier:          in.Courier.Hex(),
		Supplier:         counterparty,
		ChainOrderID:     order.ChainOrderID,
		Deadline:         deadline,
		Status:           in.Kind.PendingStatus(),
		CourierNonce:     courierNonce,
		SupplierNonce:    supplierNonce,
		ContextHash:      digest.Hex(),
		CourierSignature: common.Bytes2Hex(in.CourierSignature),
		Payload: domain.SessionPayload{
			ShipmentHash:   eip712.ShipmentIDHash(shipment.ID).Hex(),
			OrderID:        order.ChainOrderID,
			ClaimedTs:      in.ClaimedTs,
			Lat:            in.CurrentLat,
			Lon:            in.CurrentLon,
			DistanceMeters: distanceMeters,
			RadiusM:        radius,
		},
		CreatedAt: now,
	}

	rawToken, tokenHash, jti, expiresAt, err := s.issuer.Mint(sessionUID, role, minDuration(s.sessionTTL, deadline.Sub(now)))
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, newSession); err != nil {
		return nil, err
	}
	if err := s.magicLinks.Create(ctx, domain.MagicLink{
		TokenHash: tokenHash,
		Role:      role,
		JTI:       jti,
		SessionID: sessionUID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, err
	}

	return &CreateResult{Session: newSession, Link: rawToken}, nil
}

// digestFor rebuilds the EIP-712 digest a milestone claim must be signed
// over, from first principles — never from caller-trusted intermediates.
func (s *Service) digestFor(kind domain.SessionKind, shipmentID string, orderID *big.Int, lat, lon float64, claimedTs, distanceMeters int64) (common.Hash, error) {
	switch kind {
	case domain.SessionKindPickup:
		_, msg := s.builder.BuildPickup(shipmentID, orderID, lat, lon, claimedTs)
		return msg.Digest, nil
	case domain.SessionKindDrop:
		_, msg := s.builder.BuildDrop(shipmentID, orderID, lat, lon, claimedTs, distanceMeters)
		return msg.Digest, nil
	default:
		return common.Hash{}, fmt.Errorf("%w: unrecognised session kind %q", domain.ErrShipmentState, kind)
	}
}

// ResolveResult is returned to the counterparty: the session in its current
// state and the typed data they must countersign.
type ResolveResult struct {
	Session   domain.SigningSession
	TypedData apitypes.TypedData
}

// Resolve verifies the magic-link token against the path's sessionUID,
// checks the session's status and deadline, and reconstructs the typed data
// deterministically from the stored payload.
func (s *Service) Resolve(ctx context.Context, sessionUID, rawToken string) (*ResolveResult, error) {
	sess, _, err := s.authenticate(ctx, sessionUID, rawToken)
	if err != nil {
		return nil, err
	}

	orderID, ok := new(big.Int).SetString(sess.Payload.OrderID, 10)
	if !ok {
		return nil, fmt.Errorf("%w: session has malformed orderId", domain.ErrShipmentState)
	}

	var wire apitypes.TypedData
	switch sess.Kind {
	case domain.SessionKindPickup:
		_, msg := s.builder.BuildPickup(sess.ShipmentID, orderID, sess.Payload.Lat, sess.Payload.Lon, sess.Payload.ClaimedTs)
		wire = msg.Wire
	case domain.SessionKindDrop:
		dist := int64(0)
		if sess.Payload.DistanceMeters != nil {
			dist = *sess.Payload.DistanceMeters
		}
		_, msg := s.builder.BuildDrop(sess.ShipmentID, orderID, sess.Payload.Lat, sess.Payload.Lon, sess.Payload.ClaimedTs, dist)
		wire = msg.Wire
	}

	return &ResolveResult{Session: sess, TypedData: wire}, nil
}

// CompleteInput is the counterparty's countersignature submission.
type CompleteInput struct {
	SessionUID            string
	RawToken              string
	CounterpartySignature []byte
}

// Complete re-runs the resolve checks, verifies the counterparty signature,
// and invokes the settlement coordinator. The coordinator owns marking the
// session COMPLETED and the magic-link used, inside its own commit (§4.6).
func (s *Service) Complete(ctx context.Context, in CompleteInput) (*domain.SettlementResult, error) {
	lockKey := "session:" + in.SessionUID
	unlock, err := s.locker.Acquire(ctx, lockKey, 30*time.Second)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, digest, err := s.authenticate(ctx, in.SessionUID, in.RawToken)
	if err != nil {
		return nil, err
	}

	expectedSigner := common.HexToAddress(sess.Supplier)
	if err := s.verifier.Verify(ctx, expectedSigner, digest, in.CounterpartySignature); err != nil {
		return nil, err
	}
	sess.CounterpartySignature = common.Bytes2Hex(in.CounterpartySignature)

	var result domain.SettlementResult
	switch sess.Kind {
	case domain.SessionKindPickup:
		result, err = s.settler.SettlePickup(ctx, sess)
	case domain.SessionKindDrop:
		result, err = s.settler.SettleDrop(ctx, sess)
	default:
		err = fmt.Errorf("%w: unrecognised session kind %q", domain.ErrShipmentState, sess.Kind)
	}
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// authenticate runs the shared resolve/complete precondition checks: token
// HMAC + expiry, magic-link lookup and single-use state, session status and
// deadline, and role match. It returns the session and the digest the
// session's payload commits to.
func (s *Service) authenticate(ctx context.Context, sessionUID, rawToken string) (domain.SigningSession, common.Hash, error) {
	payload, err := s.issuer.Verify(rawToken)
	if err != nil && !errors.Is(err, domain.ErrLinkExpired) {
		return domain.SigningSession{}, common.Hash{}, err
	}
	linkExpired := errors.Is(err, domain.ErrLinkExpired)

	if payload.SessionID != sessionUID {
		return domain.SigningSession{}, common.Hash{}, fmt.Errorf("%w: token does not match session", domain.ErrTokenInvalid)
	}

	tokenHash := token.HashToken(rawToken)
	link, err := s.magicLinks.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SigningSession{}, common.Hash{}, domain.ErrSessionGone
		}
		return domain.SigningSession{}, common.Hash{}, err
	}
	if link.UsedAt != nil {
		return domain.SigningSession{}, common.Hash{}, domain.ErrLinkUsed
	}
	if linkExpired || time.Now().After(link.ExpiresAt) {
		return domain.SigningSession{}, common.Hash{}, domain.ErrLinkExpired
	}

	sess, err := s.sessions.GetByUID(ctx, sessionUID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SigningSession{}, common.Hash{}, domain.ErrSessionGone
		}
		return domain.SigningSession{}, common.Hash{}, err
	}
	if sess.Status != sess.Kind.PendingStatus() {
		return domain.SigningSession{}, common.Hash{}, domain.ErrSessionGone
	}
	if time.Now().After(sess.Deadline) {
		return domain.SigningSession{}, common.Hash{}, domain.ErrLinkExpired
	}
	if payload.Role != sess.Kind.ExpectedRole() {
		return domain.SigningSession{}, common.Hash{}, domain.ErrRoleMismatch
	}

	digest := common.HexToHash(sess.ContextHash)
	return sess, digest, nil
}

// ExpireOverdue flips overdue sessions to EXPIRED and invalidates their
// magic links. It is called by the background sweep in internal/app.
func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := s.sessions.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired overdue sessions", slog.Int64("count", n))
	}
	return n, nil
}

func sameAddress(stored string, addr common.Address) bool {
	return common.HexToAddress(stored) == addr
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

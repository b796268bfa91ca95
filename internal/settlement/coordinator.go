// Package settlement implements the Settlement Coordinator: it drives the
// on-chain confirmPickup/confirmDrop calls and commits the matching
// relational state once each lands, computing the courier's distance-based
// reward along the way (spec §4.6).
package settlement

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/podx/oracle/internal/chain"
	"github.com/podx/oracle/internal/domain"
	"github.com/podx/oracle/internal/eip712"
	"github.com/podx/oracle/internal/inventory"
)

// tokenDisplayDecimals assumes a 6-decimal stablecoin (USDC-style), matching
// the settlement token spec.md's escrow examples use. Only operator log
// lines read this; settlement math stays in wei throughout.
const tokenDisplayDecimals = 6

// ChainGateway is the subset of *chain.Gateway the coordinator drives. It is
// an interface so tests can substitute a fake without standing up an RPC
// backend; *chain.Gateway satisfies it as-is.
type ChainGateway interface {
	ConfirmPickup(ctx context.Context, approval chain.PickupApprovalTuple, courierSig, counterpartySig []byte) (*types.Receipt, error)
	ConfirmDrop(ctx context.Context, approval chain.DropApprovalTuple, courierSig, counterpartySig []byte, lineItemsJSON, metadataURI string) (*types.Receipt, error)
	ParsePickupApproved(receipt *types.Receipt) (*chain.PickupApprovedEvent, error)
	ParseDropApproved(receipt *types.Receipt) (*chain.DropApprovedEvent, error)
	EscrowedBalance(ctx context.Context, orderID *big.Int) (*big.Int, error)
	FindPickupApproved(ctx context.Context, fromBlock uint64, shipmentIDHash [32]byte) (*chain.PickupApprovedEvent, common.Hash, error)
	FindDropApproved(ctx context.Context, fromBlock uint64, shipmentIDHash [32]byte) (*chain.DropApprovedEvent, common.Hash, error)
}

// Deps bundles Coordinator's constructor dependencies.
type Deps struct {
	Shipments  domain.ShipmentStore
	Orders     domain.OrderStore
	TxBeginner domain.TxBeginner
	Gateway    ChainGateway

	// RewardPerMeter is the fallback courier reward rate (wei per meter)
	// used when a drop settlement's receipt can't be parsed for a
	// DropApproved event.
	RewardPerMeter *big.Int

	Logger *slog.Logger
}

// Coordinator implements domain.Settler.
type Coordinator struct {
	shipments      domain.ShipmentStore
	orders         domain.OrderStore
	txBeginner     domain.TxBeginner
	gateway        ChainGateway
	rewardPerMeter *big.Int
	logger         *slog.Logger
}

// NewCoordinator constructs a Coordinator from its dependencies.
func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		shipments:      d.Shipments,
		orders:         d.Orders,
		txBeginner:     d.TxBeginner,
		gateway:        d.Gateway,
		rewardPerMeter: d.RewardPerMeter,
		logger:         d.Logger.With(slog.String("component", "settlement")),
	}
}

// SettlePickup submits the pickup milestone on-chain and, once confirmed,
// commits the matching shipment/order/proof/session state in one relational
// transaction.
func (c *Coordinator) SettlePickup(ctx context.Context, sess domain.SigningSession) (domain.SettlementResult, error) {
	shipment, err := c.shipments.GetByID(ctx, sess.ShipmentID)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if shipment.Status != domain.ShipmentStatusCreated {
		return domain.SettlementResult{}, fmt.Errorf("%w: shipment %s is not awaiting pickup", domain.ErrShipmentState, shipment.ID)
	}

	order, err := c.orders.GetByID(ctx, shipment.OrderID)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	orderID, ok := new(big.Int).SetString(order.ChainOrderID, 10)
	if !ok {
		return domain.SettlementResult{}, fmt.Errorf("%w: order %s has malformed chainOrderId %q", domain.ErrShipmentState, order.ID, order.ChainOrderID)
	}

	courierSig, counterpartySig, err := decodeSessionSignatures(sess)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	tuple := chain.PickupApprovalTuple{
		ShipmentId:   eip712.ShipmentIDHash(shipment.ID),
		OrderId:      orderID,
		LocationHash: eip712.LocationHash(sess.Payload.Lat, sess.Payload.Lon, sess.Payload.ClaimedTs),
		ClaimedTs:    uint64(sess.Payload.ClaimedTs),
	}

	receipt, err := c.gateway.ConfirmPickup(ctx, tuple, courierSig, counterpartySig)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("%w: confirmPickup: %v", domain.ErrChainFailed, err)
	}

	return c.commitPickup(ctx, shipment, order, sess.Courier, sess.Supplier, sess.SessionUID, sess.Payload.ClaimedTs, receipt.TxHash.Hex())
}

// SettleDrop submits the drop milestone on-chain, resolves the courier
// reward from the resulting event (or the distance fallback), and commits
// the matching state in one relational transaction.
func (c *Coordinator) SettleDrop(ctx context.Context, sess domain.SigningSession) (domain.SettlementResult, error) {
	shipment, err := c.shipments.GetByID(ctx, sess.ShipmentID)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if shipment.Status != domain.ShipmentStatusInTransit {
		return domain.SettlementResult{}, fmt.Errorf("%w: shipment %s is not in transit", domain.ErrShipmentState, shipment.ID)
	}

	order, err := c.orders.GetByID(ctx, shipment.OrderID)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	orderID, ok := new(big.Int).SetString(order.ChainOrderID, 10)
	if !ok {
		return domain.SettlementResult{}, fmt.Errorf("%w: order %s has malformed chainOrderId %q", domain.ErrShipmentState, order.ID, order.ChainOrderID)
	}

	distanceMeters := int64(0)
	if sess.Payload.DistanceMeters != nil {
		distanceMeters = *sess.Payload.DistanceMeters
	}

	courierSig, counterpartySig, err := decodeSessionSignatures(sess)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	tuple := chain.DropApprovalTuple{
		ShipmentId:     eip712.ShipmentIDHash(shipment.ID),
		OrderId:        orderID,
		LocationHash:   eip712.LocationHash(sess.Payload.Lat, sess.Payload.Lon, sess.Payload.ClaimedTs),
		ClaimedTs:      uint64(sess.Payload.ClaimedTs),
		DistanceMeters: big.NewInt(distanceMeters),
	}

	lineItemsJSON, err := json.Marshal(order.LineItems)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: marshal line items for order %s: %w", order.ID, err)
	}
	metadataURI := fmt.Sprintf("podx://shipments/%s", shipment.ID)

	receipt, err := c.gateway.ConfirmDrop(ctx, tuple, courierSig, counterpartySig, string(lineItemsJSON), metadataURI)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("%w: confirmDrop: %v", domain.ErrChainFailed, err)
	}

	escrowedBalance, err := c.gateway.EscrowedBalance(ctx, orderID)
	if err != nil {
		c.logger.WarnContext(ctx, "reading escrowed balance failed, capping courier reward at zero",
			slog.String("order", order.ID), slog.String("error", err.Error()))
		escrowedBalance = big.NewInt(0)
	}
	reward := c.resolveCourierReward(receipt, distanceMeters, escrowedBalance, order.TotalAmount)
	c.logger.InfoContext(ctx, "drop confirmed on-chain",
		slog.String("order", order.ID),
		slog.String("orderTotalDisplay", order.DisplayAmount(tokenDisplayDecimals).String()),
		slog.String("rewardWei", reward.String()))

	return c.commitDrop(ctx, shipment, order, sess.Supplier, sess.SessionUID, sess.Payload.ClaimedTs, distanceMeters, receipt.TxHash.Hex(), reward)
}

// ReconcilePickup re-derives a pickup settlement's outcome from the
// ShipmentRegistry's PickupApproved event log and catches the DB up, for
// shipments where a prior chain call succeeded but the relational commit
// never landed. It is idempotent: if the shipment has already moved past
// Created, it is a no-op.
func (c *Coordinator) ReconcilePickup(ctx context.Context, shipmentID string, fromBlock uint64) error {
	shipment, err := c.shipments.GetByID(ctx, shipmentID)
	if err != nil {
		return err
	}
	if shipment.Status != domain.ShipmentStatusCreated {
		return nil
	}

	ev, txHash, err := c.gateway.FindPickupApproved(ctx, fromBlock, eip712.ShipmentIDHash(shipment.ID))
	if err != nil {
		return fmt.Errorf("settlement: reconcile pickup for %s: %w", shipmentID, err)
	}

	order, err := c.orders.GetByID(ctx, shipment.OrderID)
	if err != nil {
		return err
	}

	_, err = c.commitPickup(ctx, shipment, order, "", shipment.Supplier, "", int64(ev.ClaimedTs), txHash.Hex())
	return err
}

// ReconcileDrop is ReconcilePickup's drop-milestone counterpart.
func (c *Coordinator) ReconcileDrop(ctx context.Context, shipmentID string, fromBlock uint64) error {
	shipment, err := c.shipments.GetByID(ctx, shipmentID)
	if err != nil {
		return err
	}
	if shipment.Status != domain.ShipmentStatusInTransit {
		return nil
	}

	ev, txHash, err := c.gateway.FindDropApproved(ctx, fromBlock, eip712.ShipmentIDHash(shipment.ID))
	if err != nil {
		return fmt.Errorf("settlement: reconcile drop for %s: %w", shipmentID, err)
	}

	order, err := c.orders.GetByID(ctx, shipment.OrderID)
	if err != nil {
		return err
	}

	escrowedBalance, err := c.gateway.EscrowedBalance(ctx, parseDecimalOrZero(order.ChainOrderID))
	if err != nil {
		escrowedBalance = big.NewInt(0)
	}
	reward := ev.CourierReward
	if reward == nil {
		reward = new(big.Int).Mul(ev.DistanceMeters, c.rewardPerMeter)
	}
	ceiling := new(big.Int).Sub(escrowedBalance, order.TotalAmount)
	if ceiling.Sign() < 0 {
		ceiling = big.NewInt(0)
	}
	if reward.Cmp(ceiling) > 0 {
		reward = ceiling
	}

	distanceMeters := int64(0)
	if ev.DistanceMeters != nil {
		distanceMeters = ev.DistanceMeters.Int64()
	}

	_, err = c.commitDrop(ctx, shipment, order, shipment.Buyer, "", int64(ev.ClaimedTs), distanceMeters, txHash.Hex(), reward)
	return err
}

func (c *Coordinator) commitPickup(ctx context.Context, shipment domain.Shipment, order domain.Order, courier, signer, sessionUID string, claimedTs int64, txHash string) (domain.SettlementResult, error) {
	stx, err := c.txBeginner.Begin(ctx)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = stx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	var assignedCourier *string
	if courier != "" && shipment.AssignedCourier == "" {
		c2 := courier
		assignedCourier = &c2
	}

	metadata := shipment.Metadata
	metadata.Pickup = &domain.PickupMetadata{ClaimedTs: claimedTs, WithinRadius: true, TxHash: txHash}

	if err := stx.Shipments().UpdateStatus(ctx, shipment.ID, domain.ShipmentStatusInTransit, domain.ShipmentUpdate{
		AssignedCourier: assignedCourier,
		PickedUpAt:      &now,
		Metadata:        &metadata,
	}); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: update shipment %s: %w", shipment.ID, err)
	}

	orderMetadata := order.Metadata
	if orderMetadata.OnChain == nil {
		orderMetadata.OnChain = &domain.OnChainMetadata{}
	}
	orderMetadata.OnChain.PickupTx = txHash
	if err := stx.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusShipped, orderMetadata); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: update order %s: %w", order.ID, err)
	}

	if err := stx.Proofs().Append(ctx, domain.Proof{
		ShipmentNo:   shipment.ShipmentNo,
		Kind:         domain.ProofKindPickupCountersign,
		Signer:       signer,
		ClaimedTs:    claimedTs,
		WithinRadius: true,
	}); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: append pickup proof for shipment %d: %w", shipment.ShipmentNo, err)
	}

	if sessionUID != "" {
		if err := stx.Sessions().Complete(ctx, sessionUID); err != nil && !errors.Is(err, domain.ErrSessionGone) {
			return domain.SettlementResult{}, err
		}
		if err := stx.MagicLinks().InvalidateBySession(ctx, sessionUID); err != nil {
			return domain.SettlementResult{}, err
		}
	}

	if err := stx.Commit(ctx); err != nil {
		return domain.SettlementResult{}, err
	}
	committed = true
	return domain.SettlementResult{PickupTx: txHash}, nil
}

func (c *Coordinator) commitDrop(ctx context.Context, shipment domain.Shipment, order domain.Order, signer, sessionUID string, claimedTs, distanceMeters int64, txHash string, reward *big.Int) (domain.SettlementResult, error) {
	stx, err := c.txBeginner.Begin(ctx)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = stx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	metadata := shipment.Metadata
	metadata.Drop = &domain.DropMetadata{
		ClaimedTs:        claimedTs,
		DistanceMeters:   distanceMeters,
		WithinRadius:     true,
		TxHash:           txHash,
		CourierRewardWei: reward.String(),
	}

	if err := stx.Shipments().UpdateStatus(ctx, shipment.ID, domain.ShipmentStatusDelivered, domain.ShipmentUpdate{
		DeliveredAt: &now,
		Metadata:    &metadata,
	}); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: update shipment %s: %w", shipment.ID, err)
	}

	orderMetadata := order.Metadata
	if orderMetadata.OnChain == nil {
		orderMetadata.OnChain = &domain.OnChainMetadata{}
	}
	orderMetadata.OnChain.DropTx = txHash
	if orderMetadata.Escrow == nil {
		orderMetadata.Escrow = &domain.EscrowMetadata{}
	}
	orderMetadata.Escrow.ReleaseTx = txHash
	if err := stx.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusDelivered, orderMetadata); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: update order %s: %w", order.ID, err)
	}

	dist := distanceMeters
	if err := stx.Proofs().Append(ctx, domain.Proof{
		ShipmentNo:     shipment.ShipmentNo,
		Kind:           domain.ProofKindDropCountersign,
		Signer:         signer,
		ClaimedTs:      claimedTs,
		DistanceMeters: &dist,
		WithinRadius:   true,
	}); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: append drop proof for shipment %d: %w", shipment.ShipmentNo, err)
	}

	replenisher := inventory.NewReplenisher(stx.Products())
	if err := replenisher.Replenish(ctx, order.Buyer, order.LineItems); err != nil {
		return domain.SettlementResult{}, err
	}

	if _, err := stx.Payments().GetByOrder(ctx, order.ID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.SettlementResult{}, err
		}
		if err := stx.Payments().Upsert(ctx, domain.Payment{
			OrderID:   order.ID,
			Payer:     order.Buyer,
			Payee:     order.Supplier,
			Amount:    order.TotalAmount,
			Status:    domain.PaymentStatusReleased,
			ReleaseTx: txHash,
		}); err != nil {
			return domain.SettlementResult{}, err
		}
	} else if err := stx.Payments().Release(ctx, order.ID, txHash); err != nil {
		return domain.SettlementResult{}, err
	}

	if sessionUID != "" {
		if err := stx.Sessions().Complete(ctx, sessionUID); err != nil && !errors.Is(err, domain.ErrSessionGone) {
			return domain.SettlementResult{}, err
		}
		if err := stx.MagicLinks().InvalidateBySession(ctx, sessionUID); err != nil {
			return domain.SettlementResult{}, err
		}
	}

	if err := stx.Commit(ctx); err != nil {
		return domain.SettlementResult{}, err
	}
	committed = true
	return domain.SettlementResult{DropTx: txHash, CourierRewardWei: reward.String()}, nil
}

func decodeSessionSignatures(sess domain.SigningSession) (courierSig, counterpartySig []byte, err error) {
	courierSig, err = hex.DecodeString(sess.CourierSignature)
	if err != nil {
		return nil, nil, fmt.Errorf("settlement: session %s has malformed courier signature: %w", sess.SessionUID, err)
	}
	counterpartySig, err = hex.DecodeString(sess.CounterpartySignature)
	if err != nil {
		return nil, nil, fmt.Errorf("settlement: session %s has malformed counterparty signature: %w", sess.SessionUID, err)
	}
	return courierSig, counterpartySig, nil
}

func parseDecimalOrZero(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return n
}

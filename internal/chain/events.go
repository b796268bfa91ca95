package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PickupApprovedEvent mirrors ShipmentRegistry's PickupApproved log.
type PickupApprovedEvent struct {
	ShipmentId   [32]byte
	OrderId      *big.Int
	LocationHash [32]byte
	ClaimedTs    uint64
}

// DropApprovedEvent mirrors ShipmentRegistry's DropApproved log, including
// the courier reward the settlement coordinator needs to record.
type DropApprovedEvent struct {
	ShipmentId     [32]byte
	OrderId        *big.Int
	LocationHash   [32]byte
	ClaimedTs      uint64
	DistanceMeters *big.Int
	CourierReward  *big.Int
}

// ParsePickupApproved scans receipt.Logs for a PickupApproved event emitted
// by the shipment registry and decodes it.
func (g *Gateway) ParsePickupApproved(receipt *types.Receipt) (*PickupApprovedEvent, error) {
	eventID := shipmentRegistryABI.Events["PickupApproved"].ID
	for _, log := range receipt.Logs {
		if log.Address != g.addrs.ShipmentRegistry {
			continue
		}
		if len(log.Topics) == 0 || log.Topics[0] != eventID {
			continue
		}
		var ev PickupApprovedEvent
		if err := shipmentRegistryABI.UnpackIntoInterface(&ev, "PickupApproved", log.Data); err != nil {
			return nil, fmt.Errorf("chain: unpacking PickupApproved: %w", err)
		}
		return &ev, nil
	}
	return nil, fmt.Errorf("chain: no PickupApproved event found in receipt %s", receipt.TxHash)
}

// ParseDropApproved scans receipt.Logs for a DropApproved event emitted by
// the shipment registry and decodes it, including the courier reward.
func (g *Gateway) ParseDropApproved(receipt *types.Receipt) (*DropApprovedEvent, error) {
	eventID := shipmentRegistryABI.Events["DropApproved"].ID
	for _, log := range receipt.Logs {
		if log.Address != g.addrs.ShipmentRegistry {
			continue
		}
		if len(log.Topics) == 0 || log.Topics[0] != eventID {
			continue
		}
		var ev DropApprovedEvent
		if err := shipmentRegistryABI.UnpackIntoInterface(&ev, "DropApproved", log.Data); err != nil {
			return nil, fmt.Errorf("chain: unpacking DropApproved: %w", err)
		}
		return &ev, nil
	}
	return nil, fmt.Errorf("chain: no DropApproved event found in receipt %s", receipt.TxHash)
}

// FindPickupApproved scans shipment registry logs from fromBlock onward for
// a PickupApproved event matching shipmentIDHash. Used by the settlement
// recovery pass when a chain call is known to have succeeded but the
// matching DB commit never landed (spec §4.6).
func (g *Gateway) FindPickupApproved(ctx context.Context, fromBlock uint64, shipmentIDHash [32]byte) (*PickupApprovedEvent, common.Hash, error) {
	eventID := shipmentRegistryABI.Events["PickupApproved"].ID
	logs, err := g.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{g.addrs.ShipmentRegistry},
		Topics:    [][]common.Hash{{eventID}},
	})
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("chain: filtering PickupApproved logs: %w", err)
	}
	for _, log := range logs {
		var ev PickupApprovedEvent
		if err := shipmentRegistryABI.UnpackIntoInterface(&ev, "PickupApproved", log.Data); err != nil {
			continue
		}
		if ev.ShipmentId == shipmentIDHash {
			return &ev, log.TxHash, nil
		}
	}
	return nil, common.Hash{}, fmt.Errorf("chain: no PickupApproved event found for shipment")
}

// FindDropApproved is FindPickupApproved's drop-milestone counterpart.
func (g *Gateway) FindDropApproved(ctx context.Context, fromBlock uint64, shipmentIDHash [32]byte) (*DropApprovedEvent, common.Hash, error) {
	eventID := shipmentRegistryABI.Events["DropApproved"].ID
	logs, err := g.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{g.addrs.ShipmentRegistry},
		Topics:    [][]common.Hash{{eventID}},
	})
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("chain: filtering DropApproved logs: %w", err)
	}
	for _, log := range logs {
		var ev DropApprovedEvent
		if err := shipmentRegistryABI.UnpackIntoInterface(&ev, "DropApproved", log.Data); err != nil {
			continue
		}
		if ev.ShipmentId == shipmentIDHash {
			return &ev, log.TxHash, nil
		}
	}
	return nil, common.Hash{}, fmt.Errorf("chain: no DropApproved event found for shipment")
}

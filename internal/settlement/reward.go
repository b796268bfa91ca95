package settlement

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// resolveCourierReward determines the courier reward for a drop settlement.
// It prefers the DropApproved event's courierReward field; if the receipt's
// logs can't be parsed (a malformed or pruned receipt), it falls back to
// distanceMeters * rewardPerMeter. Either way the reward is capped at
// escrowedBalance - supplierAmount so the oracle never requests more than
// the order has left in escrow (spec §4.6).
func (c *Coordinator) resolveCourierReward(receipt *types.Receipt, distanceMeters int64, escrowedBalance, supplierAmount *big.Int) *big.Int {
	reward := new(big.Int).Mul(big.NewInt(distanceMeters), c.rewardPerMeter)
	if ev, err := c.gateway.ParseDropApproved(receipt); err == nil && ev.CourierReward != nil {
		reward = new(big.Int).Set(ev.CourierReward)
	}

	ceiling := new(big.Int).Sub(escrowedBalance, supplierAmount)
	if ceiling.Sign() < 0 {
		ceiling = big.NewInt(0)
	}
	if reward.Cmp(ceiling) > 0 {
		reward = new(big.Int).Set(ceiling)
	}
	if reward.Sign() < 0 {
		reward = big.NewInt(0)
	}
	return reward
}

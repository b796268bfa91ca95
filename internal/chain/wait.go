package chain

import (
	"context"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func ethereumCallMsg(from, to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Data: data}
}

// waitMined blocks until tx is mined, via bind.WaitMined — EthClient
// satisfies bind.DeployBackend (TransactionReceipt + CodeAt).
func waitMined(ctx context.Context, client EthClient, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, client, tx)
}

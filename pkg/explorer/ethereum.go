package explorer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// weiDecimals converts wei-denominated values to ether.
const weiDecimals = 18

// Ethereum looks up transactions over JSON-RPC. Account-style chains have no
// block-monitoring webhook here, so verification always polls this client.
type Ethereum struct {
	client  *ethclient.Client
	breaker *breaker
}

// DialEthereum connects to an Ethereum JSON-RPC endpoint.
func DialEthereum(ctx context.Context, rpcURL string) (*Ethereum, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return &Ethereum{
		client:  client,
		breaker: newBreaker(5, 30*time.Second),
	}, nil
}

// Close releases the underlying RPC connection.
func (e *Ethereum) Close() {
	e.client.Close()
}

func (e *Ethereum) FindTransfer(ctx context.Context, txHash, address string) (Transfer, error) {
	return guard(ctx, e.breaker, func(ctx context.Context) (Transfer, error) {
		if !common.IsHexAddress(address) {
			return Transfer{}, ErrNoTransferToTarget
		}

		hash := common.HexToHash(txHash)
		tx, pending, err := e.client.TransactionByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return Transfer{}, ErrTxNotFound
			}
			return Transfer{}, err
		}

		to := tx.To()
		if to == nil || !strings.EqualFold(to.Hex(), address) {
			return Transfer{}, ErrNoTransferToTarget
		}

		amount := decimal.NewFromBigInt(tx.Value(), -weiDecimals)
		if pending {
			return Transfer{Amount: amount, Confirmations: 0}, nil
		}

		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return Transfer{Amount: amount, Confirmations: 0}, nil
			}
			return Transfer{}, err
		}

		head, err := e.client.BlockNumber(ctx)
		if err != nil {
			return Transfer{}, err
		}

		confirmations := 0
		if block := receipt.BlockNumber.Uint64(); head >= block {
			confirmations = int(head-block) + 1
		}
		return Transfer{Amount: amount, Confirmations: confirmations}, nil
	})
}

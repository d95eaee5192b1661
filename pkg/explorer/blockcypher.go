package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/chains"
)

// utxoDecimals converts satoshi-denominated values to coin units.
const utxoDecimals = 8

// BlockCypher talks to the BlockCypher API for BTC and LTC. It serves both
// transaction lookups and confirmation-webhook registration.
type BlockCypher struct {
	client  *http.Client
	baseURL string
	token   string
	breaker *breaker
}

// NewBlockCypher returns a client for api.blockcypher.com. The token is
// optional for low request volumes.
func NewBlockCypher(baseURL, token string) *BlockCypher {
	if baseURL == "" {
		baseURL = "https://api.blockcypher.com"
	}
	return &BlockCypher{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		token:   token,
		breaker: newBreaker(5, 30*time.Second),
	}
}

// ForChain binds the shared BlockCypher client to one coin so it satisfies
// the Client interface.
func (b *BlockCypher) ForChain(chain chains.Chain) Client {
	return &blockCypherChain{bc: b, chain: chain}
}

type blockCypherChain struct {
	bc    *BlockCypher
	chain chains.Chain
}

func (c *blockCypherChain) FindTransfer(ctx context.Context, txHash, address string) (Transfer, error) {
	return c.bc.findTransfer(ctx, c.chain, txHash, address)
}

type blockCypherTx struct {
	Confirmations int `json:"confirmations"`
	Outputs       []struct {
		Addresses []string `json:"addresses"`
		Value     int64    `json:"value"` // satoshis
	} `json:"outputs"`
}

func (b *BlockCypher) findTransfer(ctx context.Context, chain chains.Chain, txHash, address string) (Transfer, error) {
	return guard(ctx, b.breaker, func(ctx context.Context) (Transfer, error) {
		coin, err := blockCypherCoin(chain)
		if err != nil {
			return Transfer{}, err
		}

		endpoint := fmt.Sprintf("%s/v1/%s/main/txs/%s", b.baseURL, coin, txHash)
		if b.token != "" {
			endpoint += "?token=" + b.token
		}

		var tx blockCypherTx
		status, err := b.getJSON(ctx, endpoint, &tx)
		if err != nil {
			return Transfer{}, err
		}
		if status == http.StatusNotFound {
			return Transfer{}, ErrTxNotFound
		}
		if status != http.StatusOK {
			return Transfer{}, fmt.Errorf("blockcypher returned status %d", status)
		}

		// A transaction can pay the invoice address across several outputs;
		// sum them all.
		total := int64(0)
		found := false
		for _, out := range tx.Outputs {
			if slices.Contains(out.Addresses, address) {
				total += out.Value
				found = true
			}
		}
		if !found {
			return Transfer{}, ErrNoTransferToTarget
		}

		return Transfer{
			Amount:        decimal.New(total, -utxoDecimals),
			Confirmations: tx.Confirmations,
		}, nil
	})
}

// RegisterConfirmationHook creates a confirmed-tx hook for the address.
func (b *BlockCypher) RegisterConfirmationHook(ctx context.Context, chain chains.Chain, address, callbackURL string) (string, error) {
	return guard(ctx, b.breaker, func(ctx context.Context) (string, error) {
		coin, err := blockCypherCoin(chain)
		if err != nil {
			return "", err
		}

		body, err := json.Marshal(map[string]string{
			"event":   "confirmed-tx",
			"address": address,
			"url":     callbackURL,
		})
		if err != nil {
			return "", err
		}

		endpoint := fmt.Sprintf("%s/v1/%s/main/hooks", b.baseURL, coin)
		if b.token != "" {
			endpoint += "?token=" + b.token
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("blockcypher hook registration returned status %d", resp.StatusCode)
		}

		var created struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return "", fmt.Errorf("decode hook response: %w", err)
		}
		return created.ID, nil
	})
}

func (b *BlockCypher) getJSON(ctx context.Context, endpoint string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return 0, fmt.Errorf("decode blockcypher response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func blockCypherCoin(chain chains.Chain) (string, error) {
	switch chain {
	case chains.BTC:
		return "btc", nil
	case chains.LTC:
		return "ltc", nil
	default:
		return "", ErrUnsupportedChain
	}
}

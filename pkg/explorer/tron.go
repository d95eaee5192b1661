package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Tron looks up TRC-20 USDT transfers via the Tronscan HTTP API.
type Tron struct {
	client  *http.Client
	baseURL string
	breaker *breaker
}

// NewTron returns a client for apilist.tronscanapi.com.
func NewTron(baseURL string) *Tron {
	if baseURL == "" {
		baseURL = "https://apilist.tronscanapi.com"
	}
	return &Tron{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		breaker: newBreaker(5, 30*time.Second),
	}
}

type tronTxInfo struct {
	Hash          string `json:"hash"`
	Confirmations int    `json:"confirmations"`
	Confirmed     bool   `json:"confirmed"`

	// Set for TRC-20 token transfers.
	TokenTransferInfo *struct {
		ToAddress string `json:"to_address"`
		AmountStr string `json:"amount_str"`
		Decimals  int32  `json:"decimals"`
	} `json:"tokenTransferInfo"`
}

func (t *Tron) FindTransfer(ctx context.Context, txHash, address string) (Transfer, error) {
	return guard(ctx, t.breaker, func(ctx context.Context) (Transfer, error) {
		endpoint := fmt.Sprintf("%s/api/transaction-info?hash=%s", t.baseURL, url.QueryEscape(txHash))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return Transfer{}, err
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return Transfer{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return Transfer{}, ErrTxNotFound
		}
		if resp.StatusCode != http.StatusOK {
			return Transfer{}, fmt.Errorf("tron explorer returned status %d", resp.StatusCode)
		}

		var info tronTxInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return Transfer{}, fmt.Errorf("decode tron response: %w", err)
		}
		// Tronscan answers 200 with an empty body shape for unknown hashes.
		if info.Hash == "" {
			return Transfer{}, ErrTxNotFound
		}

		transfer := info.TokenTransferInfo
		if transfer == nil || transfer.ToAddress != address {
			return Transfer{}, ErrNoTransferToTarget
		}

		raw, err := decimal.NewFromString(transfer.AmountStr)
		if err != nil {
			return Transfer{}, fmt.Errorf("parse tron transfer amount %q: %w", transfer.AmountStr, err)
		}

		return Transfer{
			Amount:        raw.Shift(-transfer.Decimals),
			Confirmations: info.Confirmations,
		}, nil
	})
}

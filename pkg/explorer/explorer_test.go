package explorer_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/explorer"
)

func TestExtractTxID(t *testing.T) {
	t.Parallel()

	btcHash := "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	ethHash := "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"

	cases := map[string]string{
		btcHash:               btcHash,
		"  " + btcHash + "  ": btcHash,
		"https://blockchair.com/bitcoin/transaction/" + btcHash: btcHash,
		ethHash:                              ethHash,
		"https://etherscan.io/tx/" + ethHash: ethHash,
		"some-opaque-ref":                    "some-opaque-ref",
		"  padded ref ":                      "padded ref",
	}
	for input, want := range cases {
		assert.Equal(t, want, explorer.ExtractTxID(input), input)
	}
}

func TestBlockCypher_FindTransfer(t *testing.T) {
	t.Parallel()

	const (
		hash = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
		addr = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/btc/main/txs/" + hash:
			fmt.Fprintf(w, `{
				"confirmations": 3,
				"outputs": [
					{"addresses": ["%s"], "value": 40000},
					{"addresses": ["1otherAddressxxxxxxxxxxxxxxxxxxxx"], "value": 999},
					{"addresses": ["%s"], "value": 10000}
				]
			}`, addr, addr)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	bc := explorer.NewBlockCypher(srv.URL, "")
	client := bc.ForChain(chains.BTC)

	t.Run("sums outputs to the target address", func(t *testing.T) {
		transfer, err := client.FindTransfer(context.Background(), hash, addr)
		require.NoError(t, err)
		assert.Equal(t, "0.0005", transfer.Amount.String())
		assert.Equal(t, 3, transfer.Confirmations)
	})

	t.Run("unknown hash", func(t *testing.T) {
		_, err := client.FindTransfer(context.Background(), "deadbeef", addr)
		assert.ErrorIs(t, err, explorer.ErrTxNotFound)
	})

	t.Run("transaction pays someone else", func(t *testing.T) {
		_, err := client.FindTransfer(context.Background(), hash, "1NotTheInvoiceAddressxxxxxxxxxxxx")
		assert.ErrorIs(t, err, explorer.ErrNoTransferToTarget)
	})
}

func TestBlockCypher_RegisterConfirmationHook(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/ltc/main/hooks", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"hook-123"}`)
	}))
	t.Cleanup(srv.Close)

	bc := explorer.NewBlockCypher(srv.URL, "")
	id, err := bc.RegisterConfirmationHook(context.Background(), chains.LTC,
		"LhK2kQwiaAvhjWY799cZvMyYwnQAcxkarr", "https://example.com/callbacks/ltc")
	require.NoError(t, err)
	assert.Equal(t, "hook-123", id)
}

func TestBlockCypher_CircuitOpensOnRepeatedFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	bc := explorer.NewBlockCypher(srv.URL, "")
	client := bc.ForChain(chains.BTC)

	var lastErr error
	for range 10 {
		_, lastErr = client.FindTransfer(context.Background(), "aa", "addr")
	}
	assert.ErrorIs(t, lastErr, explorer.ErrUpstreamUnhealthy)
}

func TestTron_FindTransfer(t *testing.T) {
	t.Parallel()

	const (
		hash = "7c2d4206c03a883dd9066d620335dc1be272018b81af265b0a1c63184cf0b2ad"
		addr = "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf"
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hash") != hash {
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprintf(w, `{
			"hash": %q,
			"confirmed": true,
			"confirmations": 25,
			"tokenTransferInfo": {"to_address": %q, "amount_str": "25000000", "decimals": 6}
		}`, hash, addr)
	}))
	t.Cleanup(srv.Close)

	tron := explorer.NewTron(srv.URL)

	t.Run("token transfer to invoice address", func(t *testing.T) {
		transfer, err := tron.FindTransfer(context.Background(), hash, addr)
		require.NoError(t, err)
		assert.Equal(t, "25", transfer.Amount.String())
		assert.Equal(t, 25, transfer.Confirmations)
	})

	t.Run("unknown hash", func(t *testing.T) {
		_, err := tron.FindTransfer(context.Background(), "beef", addr)
		assert.ErrorIs(t, err, explorer.ErrTxNotFound)
	})
}

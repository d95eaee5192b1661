package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/explorer"
	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
	"github.com/shoplink/cryptobill/pkg/memstore"
	"github.com/shoplink/cryptobill/pkg/payment"
	"github.com/shoplink/cryptobill/pkg/rates"
	"github.com/shoplink/cryptobill/pkg/retry"
	"github.com/shoplink/cryptobill/svc/billing"
)

const routerXpub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

type chainStub struct {
	transfer explorer.Transfer
	err      error
}

func (s *chainStub) FindTransfer(ctx context.Context, txHash, address string) (explorer.Transfer, error) {
	if s.err != nil {
		return explorer.Transfer{}, s.err
	}
	return s.transfer, nil
}

// env is a full billing stack behind an httptest server, with a fixed rate
// feed (BTC $50000), a stubbed BTC explorer and a mutable clock.
type env struct {
	store    *memstore.Store
	explorer *chainStub
	srv      *httptest.Server
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store:    memstore.New(),
		explorer: &chainStub{transfer: explorer.Transfer{Amount: decimal.RequireFromString("0.0005"), Confirmations: 1}},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"bitcoin":{"usd":50000},"ethereum":{"usd":2500}}`)
	}))
	t.Cleanup(feed.Close)

	oracle := rates.New(
		rates.WithBaseURL(feed.URL),
		rates.WithRetry(1, retry.FixedBackoff{Interval: time.Millisecond}),
	)

	plans := billing.NewPlanSource(billing.DefaultPlans()...)
	ldg := ledger.New(e.store, plans, ledger.WithClock(clock))
	iss := invoice.NewIssuer(e.store, plans, oracle, e.store,
		invoice.WithKeys(map[chains.Chain]string{chains.BTC: routerXpub, chains.ETH: routerXpub}),
		invoice.WithClock(clock),
	)
	registry := explorer.NewRegistry(map[chains.Chain]explorer.Client{chains.BTC: e.explorer})
	ver := payment.NewVerifier(e.store, e.store, ldg, registry, payment.WithClock(clock))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := billing.NewService(ldg, iss, ver, plans, billing.WithServiceLogger(log))
	e.srv = httptest.NewServer(billing.NewRouter(svc, log))
	t.Cleanup(e.srv.Close)

	return e
}

func (e *env) newShop() uuid.UUID {
	id := uuid.New()
	e.store.PutShop(&ledger.Shop{ID: id, Tier: ledger.TierBasic, SubscriptionStatus: ledger.ShopInactive})
	return id
}

func (e *env) request(t *testing.T, method, path string, body any) (int, map[string]any, http.Header) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)

	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 && json.Valid(raw) {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded, resp.Header
}

// subscribe creates a pending renewal over HTTP and returns its id.
func (e *env) subscribe(t *testing.T, shopID uuid.UUID, tier string) string {
	t.Helper()
	status, body, _ := e.request(t, http.MethodPost, "/subscriptions", map[string]any{"shop_id": shopID, "tier": tier})
	require.Equal(t, http.StatusCreated, status)
	return body["id"].(string)
}

// paidShop walks a shop through subscribe, invoice and confirmed payment.
func (e *env) paidShop(t *testing.T) (uuid.UUID, string) {
	t.Helper()
	shopID := e.newShop()
	subID := e.subscribe(t, shopID, "basic")

	status, _, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices", map[string]any{"chain": "BTC"})
	require.Equal(t, http.StatusCreated, status)

	status, body, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/payments",
		map[string]any{"tx_hash": "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "confirmed", body["status"])
	return shopID, subID
}

func TestRouterSubscriptions(t *testing.T) {
	t.Parallel()

	t.Run("creates a pending subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		shopID := e.newShop()

		status, body, _ := e.request(t, http.MethodPost, "/subscriptions",
			map[string]any{"shop_id": shopID, "tier": "basic"})

		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "pending", body["status"])
		assert.Equal(t, "basic", body["tier"])
		assert.Equal(t, "renewal", body["kind"])
		assert.Equal(t, shopID.String(), body["shop_id"])
		_, err := uuid.Parse(body["id"].(string))
		assert.NoError(t, err)
	})

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, body, _ := e.request(t, http.MethodPost, "/subscriptions",
			map[string]any{"shop_id": e.newShop(), "tier": "enterprise"})

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["error"], "enterprise")
	})

	t.Run("unknown shop", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, _, _ := e.request(t, http.MethodPost, "/subscriptions",
			map[string]any{"shop_id": uuid.New(), "tier": "basic"})

		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/subscriptions", strings.NewReader("{not json"))
		require.NoError(t, err)
		resp, err := e.srv.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRouterInvoices(t *testing.T) {
	t.Parallel()

	t.Run("issues an invoice with QR code", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		subID := e.subscribe(t, e.newShop(), "basic")

		status, body, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices",
			map[string]any{"chain": "BTC"})

		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "BTC", body["chain"])
		assert.Equal(t, "BTC", body["currency"])
		assert.NotEmpty(t, body["address"])
		assert.Equal(t, "25", body["expected_usd"])
		assert.Equal(t, "0.0005", body["crypto_amount"])
		assert.Equal(t, "50000", body["usd_rate"])
		assert.True(t, strings.HasPrefix(body["payment_uri"].(string), "bitcoin:"))
		assert.NotEmpty(t, body["qr_png"])

		expiresAt, err := time.Parse(time.RFC3339, body["expires_at"].(string))
		require.NoError(t, err)
		assert.Equal(t, e.now.Add(30*time.Minute), expiresAt.UTC())
	})

	t.Run("invalid subscription id", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, body, _ := e.request(t, http.MethodPost, "/subscriptions/not-a-uuid/invoices",
			map[string]any{"chain": "BTC"})

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid id", body["error"])
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, _, _ := e.request(t, http.MethodPost, "/subscriptions/"+uuid.NewString()+"/invoices",
			map[string]any{"chain": "BTC"})

		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("unsupported chain", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		subID := e.subscribe(t, e.newShop(), "basic")

		status, _, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices",
			map[string]any{"chain": "DOGE"})

		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRouterPayments(t *testing.T) {
	t.Parallel()

	const txHash = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

	t.Run("confirmed payment activates the subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		shopID := e.newShop()
		subID := e.subscribe(t, shopID, "basic")
		status, _, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices", map[string]any{"chain": "BTC"})
		require.Equal(t, http.StatusCreated, status)

		status, body, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/payments",
			map[string]any{"tx_hash": txHash})

		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "confirmed", body["status"])
		sub := body["subscription"].(map[string]any)
		assert.Equal(t, "active", sub["status"])

		shop, err := e.store.GetShop(context.Background(), shopID)
		require.NoError(t, err)
		assert.Equal(t, ledger.ShopActive, shop.SubscriptionStatus)
		assert.True(t, shop.Listed)
	})

	t.Run("under-confirmed payment is accepted for retry", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.explorer.transfer.Confirmations = 0
		subID := e.subscribe(t, e.newShop(), "basic")
		status, _, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices", map[string]any{"chain": "BTC"})
		require.Equal(t, http.StatusCreated, status)

		status, body, headers := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/payments",
			map[string]any{"tx_hash": txHash})

		require.Equal(t, http.StatusAccepted, status)
		assert.Equal(t, "pending", body["status"])
		assert.Equal(t, "30", headers.Get("Retry-After"))
	})

	t.Run("short payment conflicts", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.explorer.transfer.Amount = decimal.RequireFromString("0.0001")
		subID := e.subscribe(t, e.newShop(), "basic")
		status, _, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices", map[string]any{"chain": "BTC"})
		require.Equal(t, http.StatusCreated, status)

		status, _, _ = e.request(t, http.MethodPost, "/subscriptions/"+subID+"/payments",
			map[string]any{"tx_hash": txHash})

		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("expired invoice is gone", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		subID := e.subscribe(t, e.newShop(), "basic")
		status, _, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices", map[string]any{"chain": "BTC"})
		require.Equal(t, http.StatusCreated, status)

		e.now = e.now.Add(31 * time.Minute)

		status, _, _ = e.request(t, http.MethodPost, "/subscriptions/"+subID+"/payments",
			map[string]any{"tx_hash": txHash})

		assert.Equal(t, http.StatusGone, status)
	})

	t.Run("missing tx hash", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		subID := e.subscribe(t, e.newShop(), "basic")

		status, body, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/payments",
			map[string]any{})

		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "tx_hash is required", body["error"])
	})
}

func TestRouterCallbacks(t *testing.T) {
	t.Parallel()

	const txHash = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

	t.Run("confirmed callback activates the subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		shopID := e.newShop()
		subID := e.subscribe(t, shopID, "basic")
		status, inv, _ := e.request(t, http.MethodPost, "/subscriptions/"+subID+"/invoices", map[string]any{"chain": "BTC"})
		require.Equal(t, http.StatusCreated, status)

		status, body, _ := e.request(t, http.MethodPost, "/callbacks/BTC", map[string]any{
			"address":       inv["address"],
			"tx_hash":       txHash,
			"amount":        "0.0005",
			"currency":      "BTC",
			"confirmations": 3,
		})

		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "confirmed", body["status"])

		shop, err := e.store.GetShop(context.Background(), shopID)
		require.NoError(t, err)
		assert.Equal(t, ledger.ShopActive, shop.SubscriptionStatus)
	})

	t.Run("unknown address", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, _, _ := e.request(t, http.MethodPost, "/callbacks/BTC", map[string]any{
			"address":       "1Unknown",
			"tx_hash":       txHash,
			"amount":        "0.0005",
			"currency":      "BTC",
			"confirmations": 3,
		})

		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("unsupported chain", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, _, _ := e.request(t, http.MethodPost, "/callbacks/DOGE", map[string]any{
			"address": "addr", "tx_hash": txHash, "amount": "1", "currency": "DOGE", "confirmations": 3,
		})

		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRouterUpgradeAndPromo(t *testing.T) {
	t.Parallel()

	t.Run("upgrade quotes the full difference at period start", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		shopID, _ := e.paidShop(t)

		status, body, _ := e.request(t, http.MethodPost, "/subscriptions/upgrade",
			map[string]any{"shop_id": shopID})

		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "25", body["amount_usd"])
		_, err := uuid.Parse(body["subscription_id"].(string))
		assert.NoError(t, err)
	})

	t.Run("upgrade needs an active subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, _, _ := e.request(t, http.MethodPost, "/subscriptions/upgrade",
			map[string]any{"shop_id": e.newShop()})

		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("promo activates pro once per user and shop", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		shopID := e.newShop()
		payload := map[string]any{"user_id": 42, "shop_id": shopID, "code": "LAUNCH"}

		status, body, _ := e.request(t, http.MethodPost, "/promo/activate", payload)
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "active", body["status"])
		assert.Equal(t, "pro", body["tier"])
		assert.Equal(t, "promo", body["kind"])

		status, body, _ = e.request(t, http.MethodPost, "/promo/activate", payload)
		assert.Equal(t, http.StatusConflict, status)
		assert.NotEmpty(t, body["error"])
	})

	t.Run("promo requires a code", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		status, _, _ := e.request(t, http.MethodPost, "/promo/activate",
			map[string]any{"user_id": 42, "shop_id": e.newShop()})

		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestRouterPlans(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	status, body, _ := e.request(t, http.MethodGet, "/plans", nil)

	require.Equal(t, http.StatusOK, status)
	plans := body["plans"].([]any)
	require.Len(t, plans, 2)
	first := plans[0].(map[string]any)
	assert.Equal(t, "basic", first["tier"])
	assert.Equal(t, "25", first["price_usd"])
}

func TestRouterHealthz(t *testing.T) {
	t.Parallel()

	t.Run("alive without probes", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)

		resp, err := e.srv.Client().Get(e.srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ALIVE", string(raw))
	})

	t.Run("failing probe reports not ready", func(t *testing.T) {
		t.Parallel()

		log := slog.New(slog.NewTextHandler(io.Discard, nil))
		plans := billing.NewPlanSource(billing.DefaultPlans()...)
		store := memstore.New()
		ldg := ledger.New(store, plans)
		iss := invoice.NewIssuer(store, plans, rates.New(), store)
		ver := payment.NewVerifier(store, store, ldg, explorer.NewRegistry(nil))
		svc := billing.NewService(ldg, iss, ver, plans)

		probe := func(context.Context) error { return errors.New("pg down") }
		srv := httptest.NewServer(billing.NewRouter(svc, log, probe))
		t.Cleanup(srv.Close)

		resp, err := srv.Client().Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "NOT_READY", string(raw))
	})
}

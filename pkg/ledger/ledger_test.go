package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
	"github.com/shoplink/cryptobill/pkg/memstore"
)

type mapPricer map[string]decimal.Decimal

func (p mapPricer) Price(tier string) (decimal.Decimal, error) {
	price, ok := p[tier]
	if !ok {
		return decimal.Decimal{}, invoice.ErrInvalidTier
	}
	return price, nil
}

func testPricer() mapPricer {
	return mapPricer{
		"basic": decimal.NewFromInt(25),
		"pro":   decimal.NewFromInt(50),
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func seedShop(store *memstore.Store) uuid.UUID {
	id := uuid.New()
	store.PutShop(&ledger.Shop{
		ID:                 id,
		Tier:               ledger.TierBasic,
		SubscriptionStatus: ledger.ShopInactive,
	})
	return id
}

// pendingInvoice persists a minimal pending invoice for a subscription.
func pendingInvoice(t *testing.T, store *memstore.Store, subID uuid.UUID, now time.Time) *invoice.Invoice {
	t.Helper()
	inv, err := store.CreateWithNextIndex(context.Background(), chains.BTC, func(index uint32) (*invoice.Invoice, error) {
		return &invoice.Invoice{
			ID:             uuid.New(),
			SubscriptionID: subID,
			Chain:          chains.BTC,
			Address:        "1TestAddr" + uuid.NewString()[:8],
			AddressIndex:   index,
			CryptoAmount:   decimal.RequireFromString("0.0005"),
			Currency:       "BTC",
			Status:         invoice.StatusPending,
			CreatedAt:      now,
			ExpiresAt:      now.Add(invoice.ExpiryWindow),
		}, nil
	})
	require.NoError(t, err)
	return inv
}

func TestActivatePaid_Renewal(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	ldg := ledger.New(store, testPricer(), ledger.WithClock(fixedClock(now)))
	shopID := seedShop(store)

	sub, err := ldg.CreateRenewal(context.Background(), shopID, ledger.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, ledger.SubPending, sub.Status)

	inv := pendingInvoice(t, store, sub.ID, now)

	activated, err := ldg.ActivatePaid(context.Background(), inv, "txhash-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.SubActive, activated.Status)
	assert.Equal(t, "txhash-1", activated.TxHash)
	assert.Equal(t, now, activated.PeriodStart)
	assert.Equal(t, now.AddDate(0, 0, 30), activated.PeriodEnd)
	require.NotNil(t, activated.VerifiedAt)

	shop, err := store.GetShop(context.Background(), shopID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ShopActive, shop.SubscriptionStatus)
	assert.Equal(t, ledger.TierBasic, shop.Tier)
	require.NotNil(t, shop.NextPaymentDue)
	assert.Equal(t, activated.PeriodEnd, *shop.NextPaymentDue)
	assert.Nil(t, shop.GracePeriodUntil)
	assert.True(t, shop.Listed)

	stored, err := store.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, stored.Status)
}

func TestActivatePaid_IdempotentOnDuplicateHash(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	ldg := ledger.New(store, testPricer(), ledger.WithClock(fixedClock(now)))
	shopID := seedShop(store)

	sub, err := ldg.CreateRenewal(context.Background(), shopID, ledger.TierBasic)
	require.NoError(t, err)
	inv := pendingInvoice(t, store, sub.ID, now)

	first, err := ldg.ActivatePaid(context.Background(), inv, "txhash-dup")
	require.NoError(t, err)

	second, err := ldg.ActivatePaid(context.Background(), inv, "txhash-dup")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Still exactly one active subscription for the shop.
	active, err := store.GetActiveSubscription(context.Background(), shopID, now)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestActivatePaid_RollsBackWhenShopUpdateFails(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	ldg := ledger.New(store, testPricer(), ledger.WithClock(fixedClock(now)))
	shopID := seedShop(store)

	sub, err := ldg.CreateRenewal(context.Background(), shopID, ledger.TierBasic)
	require.NoError(t, err)
	inv := pendingInvoice(t, store, sub.ID, now)

	boom := errors.New("shop table unavailable")
	store.ShopUpdateErr = boom

	_, err = ldg.ActivatePaid(context.Background(), inv, "txhash-fail")
	require.ErrorIs(t, err, boom)

	// The whole transition rolled back: invoice still pending, subscription
	// still pending.
	stored, err := store.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPending, stored.Status)

	reloaded, err := store.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.SubPending, reloaded.Status)
}

func TestUpgrade(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	ldg := ledger.New(store, testPricer(), ledger.WithClock(fixedClock(now)))
	shopID := seedShop(store)

	// Establish an active basic period.
	sub, err := ldg.CreateRenewal(context.Background(), shopID, ledger.TierBasic)
	require.NoError(t, err)
	inv := pendingInvoice(t, store, sub.ID, now)
	basicSub, err := ldg.ActivatePaid(context.Background(), inv, "txhash-base")
	require.NoError(t, err)

	t.Run("quote prices the full remaining period", func(t *testing.T) {
		quote, err := ldg.QuoteUpgrade(context.Background(), shopID)
		require.NoError(t, err)
		// Upgrading right at period start costs the whole price difference.
		assert.Equal(t, "25", quote.AmountUSD.String())
		assert.Equal(t, basicSub.PeriodStart, quote.PeriodStart)
		assert.Equal(t, basicSub.PeriodEnd, quote.PeriodEnd)
	})

	t.Run("verified upgrade swaps tier without extending the period", func(t *testing.T) {
		up, err := ldg.StartUpgrade(context.Background(), shopID)
		require.NoError(t, err)
		assert.Equal(t, ledger.KindUpgrade, up.Kind)
		assert.Equal(t, ledger.TierPro, up.Tier)

		upInv := pendingInvoice(t, store, up.ID, now)
		activated, err := ldg.ActivatePaid(context.Background(), upInv, "txhash-upgrade")
		require.NoError(t, err)

		assert.Equal(t, basicSub.PeriodStart, activated.PeriodStart)
		assert.Equal(t, basicSub.PeriodEnd, activated.PeriodEnd)

		// Old row is superseded, not deleted.
		old, err := store.GetSubscription(context.Background(), basicSub.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.SubCancelled, old.Status)

		shop, err := store.GetShop(context.Background(), shopID)
		require.NoError(t, err)
		assert.Equal(t, ledger.TierPro, shop.Tier)
	})

	t.Run("quoting a pro shop fails", func(t *testing.T) {
		_, err := ldg.QuoteUpgrade(context.Background(), shopID)
		assert.ErrorIs(t, err, ledger.ErrAlreadyPro)
	})
}

func TestActivatePromo(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	ldg := ledger.New(store, testPricer(), ledger.WithClock(fixedClock(now)))
	shopID := seedShop(store)
	const userID = int64(42)

	sub, err := ldg.ActivatePromo(context.Background(), userID, shopID, "LAUNCH30")
	require.NoError(t, err)
	assert.Equal(t, ledger.SubActive, sub.Status)
	assert.Equal(t, ledger.TierPro, sub.Tier)
	assert.Equal(t, ledger.KindPromo, sub.Kind)
	assert.True(t, sub.AmountUSD.IsZero())
	assert.Contains(t, sub.TxHash, "promo:")
	assert.Equal(t, now.AddDate(0, 0, 30), sub.PeriodEnd)

	t.Run("second activation fails with no state change", func(t *testing.T) {
		_, err := ldg.ActivatePromo(context.Background(), userID, shopID, "LAUNCH30")
		require.ErrorIs(t, err, ledger.ErrPromoAlreadyUsed)

		active, err := store.GetActiveSubscription(context.Background(), shopID, now)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, active.ID)
	})
}

func TestSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	newLedger := func(store *memstore.Store) *ledger.Ledger {
		return ledger.New(store, testPricer(), ledger.WithClock(fixedClock(now)))
	}

	t.Run("recently due shop enters grace", func(t *testing.T) {
		t.Parallel()
		store := memstore.New()
		shopID := uuid.New()
		due := now.Add(-6 * time.Hour)
		store.PutShop(&ledger.Shop{
			ID:                 shopID,
			Tier:               ledger.TierBasic,
			SubscriptionStatus: ledger.ShopActive,
			NextPaymentDue:     &due,
			Listed:             true,
		})

		counts, err := newLedger(store).Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, counts.ShopsToGrace)

		shop, err := store.GetShop(context.Background(), shopID)
		require.NoError(t, err)
		assert.Equal(t, ledger.ShopGrace, shop.SubscriptionStatus)
		require.NotNil(t, shop.GracePeriodUntil)
		assert.Equal(t, due.AddDate(0, 0, 2), *shop.GracePeriodUntil)
		assert.True(t, shop.Listed, "shop stays listed during grace")
	})

	t.Run("shop three days overdue deactivates in one pass", func(t *testing.T) {
		t.Parallel()
		store := memstore.New()
		shopID := uuid.New()
		due := now.AddDate(0, 0, -3)
		store.PutShop(&ledger.Shop{
			ID:                 shopID,
			Tier:               ledger.TierBasic,
			SubscriptionStatus: ledger.ShopActive,
			NextPaymentDue:     &due,
			Listed:             true,
		})

		counts, err := newLedger(store).Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, counts.ShopsDeactivated)

		shop, err := store.GetShop(context.Background(), shopID)
		require.NoError(t, err)
		assert.Equal(t, ledger.ShopInactive, shop.SubscriptionStatus)
		assert.False(t, shop.Listed)
	})

	t.Run("grace elapsed deactivates", func(t *testing.T) {
		t.Parallel()
		store := memstore.New()
		shopID := uuid.New()
		due := now.AddDate(0, 0, -4)
		until := now.Add(-time.Hour)
		store.PutShop(&ledger.Shop{
			ID:                 shopID,
			Tier:               ledger.TierBasic,
			SubscriptionStatus: ledger.ShopGrace,
			NextPaymentDue:     &due,
			GracePeriodUntil:   &until,
			Listed:             true,
		})

		counts, err := newLedger(store).Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, counts.ShopsDeactivated)
	})

	t.Run("rerunning the sweep is a no-op", func(t *testing.T) {
		t.Parallel()
		store := memstore.New()
		due := now.AddDate(0, 0, -3)
		store.PutShop(&ledger.Shop{
			ID:                 uuid.New(),
			Tier:               ledger.TierBasic,
			SubscriptionStatus: ledger.ShopActive,
			NextPaymentDue:     &due,
			Listed:             true,
		})

		ldg := newLedger(store)
		_, err := ldg.Sweep(context.Background())
		require.NoError(t, err)

		counts, err := ldg.Sweep(context.Background())
		require.NoError(t, err)
		assert.Zero(t, counts.ShopsToGrace)
		assert.Zero(t, counts.ShopsDeactivated)
	})

	t.Run("expires stale subscription rows without touching the shop", func(t *testing.T) {
		t.Parallel()
		store := memstore.New()
		ldg := newLedger(store)
		shopID := uuid.New()
		store.PutShop(&ledger.Shop{
			ID:                 shopID,
			Tier:               ledger.TierPro,
			SubscriptionStatus: ledger.ShopActive,
			Listed:             true,
		})
		stale := &ledger.Subscription{
			ID:          uuid.New(),
			ShopID:      &shopID,
			Tier:        ledger.TierPro,
			Status:      ledger.SubActive,
			PeriodStart: now.AddDate(0, 0, -40),
			PeriodEnd:   now.AddDate(0, 0, -10),
		}
		require.NoError(t, store.CreateSubscription(context.Background(), stale))

		counts, err := ldg.Sweep(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, counts.SubscriptionsExpired)

		shop, err := store.GetShop(context.Background(), shopID)
		require.NoError(t, err)
		assert.Equal(t, ledger.ShopActive, shop.SubscriptionStatus, "bookkeeping only")
	})
}

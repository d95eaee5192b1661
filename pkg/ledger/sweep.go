package ledger

import (
	"context"
	"log/slog"
)

// Sweep walks overdue shops through the billing state machine and expires
// stale subscription rows and invoices. It is idempotent: transitions only
// move forward, so running it repeatedly or concurrently converges on the
// same state.
func (l *Ledger) Sweep(ctx context.Context) (SweepCounts, error) {
	now := l.now()
	var counts SweepCounts

	shops, err := l.store.ListShopsDue(ctx, now)
	if err != nil {
		return counts, err
	}

	for _, shop := range shops {
		switch shop.SubscriptionStatus {
		case ShopActive:
			if shop.NextPaymentDue == nil {
				continue
			}
			until := shop.NextPaymentDue.AddDate(0, 0, GraceDays)
			if now.After(until) {
				// The grace window already elapsed; one pass goes straight
				// to inactive instead of parking the shop in grace.
				l.deactivate(shop)
				counts.ShopsDeactivated++
			} else {
				shop.SubscriptionStatus = ShopGrace
				shop.GracePeriodUntil = &until
				counts.ShopsToGrace++
			}

		case ShopGrace:
			if shop.GracePeriodUntil == nil || now.After(*shop.GracePeriodUntil) {
				l.deactivate(shop)
				counts.ShopsDeactivated++
			}

		default:
			// Already inactive: nothing to do.
			continue
		}

		if err := l.store.UpdateShopBillingState(ctx, shop); err != nil {
			return counts, err
		}
		l.log.InfoContext(ctx, "shop billing state swept",
			slog.String("shop_id", shop.ID.String()),
			slog.String("status", string(shop.SubscriptionStatus)))
	}

	// Bookkeeping only: an expired subscription row does not deactivate the
	// shop, the shop-level fields above drive that.
	if counts.SubscriptionsExpired, err = l.store.ExpireStaleSubscriptions(ctx, now); err != nil {
		return counts, err
	}
	if counts.InvoicesExpired, err = l.store.ExpireStaleInvoices(ctx, now); err != nil {
		return counts, err
	}

	return counts, nil
}

func (l *Ledger) deactivate(shop *Shop) {
	shop.SubscriptionStatus = ShopInactive
	shop.GracePeriodUntil = nil
	shop.Listed = false
}

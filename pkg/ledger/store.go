package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Activation describes the atomic state transition applied when a payment is
// verified: invoice paid, subscription activated, shop updated.
type Activation struct {
	// InvoiceID is zero for promo grants, which have no invoice.
	InvoiceID      uuid.UUID
	SubscriptionID uuid.UUID
	ShopID         uuid.UUID

	TxHash      string
	Currency    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	VerifiedAt  time.Time

	// CancelSubscriptionID marks the superseded row on an upgrade.
	CancelSubscriptionID *uuid.UUID

	// Shop fields after activation.
	Tier           Tier
	NextPaymentDue time.Time
}

// SweepCounts reports what one sweep pass changed.
type SweepCounts struct {
	ShopsToGrace         int
	ShopsDeactivated     int
	SubscriptionsExpired int
	InvoicesExpired      int
}

// Store is the persistence contract for the ledger. ApplyActivation and
// ApplyPromo must be all-or-nothing: any failure inside rolls back every
// write they cover.
type Store interface {
	GetShop(ctx context.Context, id uuid.UUID) (*Shop, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error)
	// GetSubscriptionByTxHash returns ErrSubscriptionNotFound when no row
	// carries the hash; used for idempotent duplicate detection.
	GetSubscriptionByTxHash(ctx context.Context, txHash string) (*Subscription, error)
	// GetActiveSubscription returns the shop's active row with period_end in
	// the future, or ErrNoActiveSubscription.
	GetActiveSubscription(ctx context.Context, shopID uuid.UUID, now time.Time) (*Subscription, error)
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// ApplyActivation atomically marks the invoice paid, activates the
	// subscription (expiring any other active rows for the shop, cancelling
	// the superseded one on upgrades) and updates the shop record.
	ApplyActivation(ctx context.Context, act Activation) error

	// ApplyPromo performs the same transition for a promo grant: the
	// PromoActivation guard row, the subscription row and the shop update
	// land in one transaction. A uniqueness conflict surfaces as
	// ErrPromoAlreadyUsed before any mutation lands.
	ApplyPromo(ctx context.Context, promo PromoActivation, sub *Subscription, act Activation) error

	// ListShopsDue returns shops whose billing state needs a sweep decision:
	// active with next_payment_due passed, or in grace with
	// grace_period_until passed.
	ListShopsDue(ctx context.Context, now time.Time) ([]*Shop, error)
	// UpdateShopBillingState persists sweep transitions on the shop.
	UpdateShopBillingState(ctx context.Context, shop *Shop) error
	// ExpireStaleSubscriptions marks active rows with period_end in the past
	// as expired, returning how many changed.
	ExpireStaleSubscriptions(ctx context.Context, now time.Time) (int, error)
	// ExpireStaleInvoices marks pending invoices past expires_at as expired.
	ExpireStaleInvoices(ctx context.Context, now time.Time) (int, error)
}

package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier is a subscription pricing tier.
type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// ShopStatus is the shop-level billing state.
type ShopStatus string

const (
	ShopActive   ShopStatus = "active"
	ShopGrace    ShopStatus = "grace_period"
	ShopInactive ShopStatus = "inactive"
)

// SubscriptionStatus is the per-billing-period state. Transitions are
// forward-only; a subscription is never reactivated.
type SubscriptionStatus string

const (
	SubPending   SubscriptionStatus = "pending"
	SubActive    SubscriptionStatus = "active"
	SubExpired   SubscriptionStatus = "expired"
	SubCancelled SubscriptionStatus = "cancelled"
)

// Kind records how a subscription row came to exist, so payment verification
// can apply upgrade semantics without inferring them from period overlap.
type Kind string

const (
	KindRenewal Kind = "renewal"
	KindUpgrade Kind = "upgrade"
	KindPromo   Kind = "promo"
)

// Shop is the billing-relevant slice of a merchant storefront. Only this
// package mutates these fields; shops are never deleted here.
type Shop struct {
	ID                 uuid.UUID
	Tier               Tier
	SubscriptionStatus ShopStatus
	NextPaymentDue     *time.Time
	GracePeriodUntil   *time.Time
	Listed             bool // visible in public listings
}

// Subscription is one billing period for a shop.
type Subscription struct {
	ID          uuid.UUID
	ShopID      *uuid.UUID // nil until linked to a shop
	Tier        Tier
	AmountUSD   decimal.Decimal
	TxHash      string // unique across rows; at most one subscription per on-chain tx
	Currency    string
	Kind        Kind
	PeriodStart time.Time
	PeriodEnd   time.Time
	Status      SubscriptionStatus
	VerifiedAt  *time.Time
	CreatedAt   time.Time
}

// IsActiveAt reports whether the row is active with time remaining.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == SubActive && s.PeriodEnd.After(now)
}

// PromoActivation is the (user, shop, promo code) uniqueness record guarding
// promo-based grants against reuse.
type PromoActivation struct {
	UserID    int64
	ShopID    uuid.UUID
	Code      string
	CreatedAt time.Time
}

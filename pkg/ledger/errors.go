package ledger

import "errors"

var (
	ErrShopNotFound          = errors.New("shop not found")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrNoActiveSubscription  = errors.New("shop has no active subscription")
	ErrAlreadyPro            = errors.New("shop is already on the pro tier")
	ErrPromoAlreadyUsed      = errors.New("promo code already used")
	ErrSubscriptionNotLinked = errors.New("subscription is not linked to a shop")
)

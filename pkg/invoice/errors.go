package invoice

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidTier          = errors.New("unrecognized subscription tier")
	ErrMissingKeyConfig     = errors.New("no master public key configured for chain")
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrInvoiceExpired       = errors.New("invoice has expired, re-issue to pay")
)

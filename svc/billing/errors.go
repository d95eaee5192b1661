package billing

import (
	"errors"
	"net/http"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/explorer"
	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
	"github.com/shoplink/cryptobill/pkg/payment"
	"github.com/shoplink/cryptobill/pkg/rates"
)

// statusFromError maps domain sentinels to HTTP status codes: bad input 400,
// unknown resources 404, state conflicts 409, closed payment windows 410 and
// transient upstream trouble 503.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, chains.ErrUnsupportedChain),
		errors.Is(err, chains.ErrInvalidKey),
		errors.Is(err, chains.ErrInvalidIndex),
		errors.Is(err, invoice.ErrInvalidTier),
		errors.Is(err, payment.ErrMissingTxHash),
		errors.Is(err, rates.ErrInvalidAmount):
		return http.StatusBadRequest

	case errors.Is(err, ledger.ErrShopNotFound),
		errors.Is(err, ledger.ErrSubscriptionNotFound),
		errors.Is(err, ledger.ErrNoActiveSubscription),
		errors.Is(err, invoice.ErrSubscriptionNotFound),
		errors.Is(err, invoice.ErrInvoiceNotFound),
		errors.Is(err, explorer.ErrTxNotFound):
		return http.StatusNotFound

	case errors.Is(err, ledger.ErrPromoAlreadyUsed),
		errors.Is(err, ledger.ErrAlreadyPro),
		errors.Is(err, ledger.ErrSubscriptionNotLinked),
		errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, payment.ErrCurrencyMismatch),
		errors.Is(err, explorer.ErrNoTransferToTarget):
		return http.StatusConflict

	case errors.Is(err, invoice.ErrInvoiceExpired):
		return http.StatusGone

	case errors.Is(err, rates.ErrPriceUnavailable),
		errors.Is(err, explorer.ErrUpstreamUnhealthy),
		errors.Is(err, explorer.ErrUnsupportedChain):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

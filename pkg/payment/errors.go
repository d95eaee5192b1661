package payment

import "errors"

var (
	ErrUnderConfirmed   = errors.New("transaction not confirmed deeply enough yet, retry shortly")
	ErrAmountMismatch   = errors.New("paid amount is below the invoiced amount")
	ErrCurrencyMismatch = errors.New("payment currency does not match the invoice")
	ErrMissingTxHash    = errors.New("transaction hash is required")
)

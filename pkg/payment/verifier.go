package payment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/explorer"
	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
)

// Status of a verification attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Result is what a verification attempt established.
type Result struct {
	Status        Status
	Confirmations int
	Subscription  *ledger.Subscription
}

// Callback is the payload a block-monitoring service delivers once a watched
// address receives a transaction. The payload is unauthenticated; it is
// validated by matching against an open invoice.
type Callback struct {
	Address       string
	TxHash        string
	Amount        decimal.Decimal
	Currency      string
	Confirmations int
}

// SubscriptionLookup is the duplicate-hash check used for idempotency.
type SubscriptionLookup interface {
	GetSubscriptionByTxHash(ctx context.Context, txHash string) (*ledger.Subscription, error)
}

// Verifier matches observed transactions against invoices.
type Verifier struct {
	invoices  invoice.Store
	subs      SubscriptionLookup
	ledger    *ledger.Ledger
	explorers *explorer.Registry
	tolerance decimal.Decimal // fraction of the expected amount
	now       func() time.Time
	log       *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance sets the fraction of the expected amount forgiven for
// rate-rounding differences. Default 0.001.
func WithTolerance(fraction decimal.Decimal) VerifierOption {
	return func(v *Verifier) {
		if fraction.IsPositive() {
			v.tolerance = fraction
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets the verifier logger.
func WithLogger(log *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// NewVerifier wires a Verifier. All collaborators are required.
func NewVerifier(invoices invoice.Store, subs SubscriptionLookup, ldg *ledger.Ledger, explorers *explorer.Registry, opts ...VerifierOption) *Verifier {
	if invoices == nil {
		panic("payment: invoice.Store is required")
	}
	if subs == nil {
		panic("payment: SubscriptionLookup is required")
	}
	if ldg == nil {
		panic("payment: ledger.Ledger is required")
	}
	if explorers == nil {
		panic("payment: explorer.Registry is required")
	}

	v := &Verifier{
		invoices:  invoices,
		subs:      subs,
		ledger:    ldg,
		explorers: explorers,
		tolerance: decimal.New(1, -3),
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// HandleCallback processes a block-monitor webhook. An under-confirmed
// observation is not an error: the monitor calls again at the next depth.
func (v *Verifier) HandleCallback(ctx context.Context, chainToken string, cb Callback) (Result, error) {
	// Every activation must be keyed to exactly one on-chain transaction, so
	// a monitor delivery without a hash can never reach the ledger.
	if strings.TrimSpace(cb.TxHash) == "" {
		return Result{}, ErrMissingTxHash
	}

	chain, err := chains.Parse(chainToken)
	if err != nil {
		return Result{}, err
	}
	info, err := chains.Lookup(chain)
	if err != nil {
		return Result{}, err
	}

	inv, err := v.invoices.GetPendingByAddress(ctx, chain, cb.Address)
	if err != nil {
		return Result{}, err
	}
	if inv.IsExpiredAt(v.now()) {
		return Result{}, invoice.ErrInvoiceExpired
	}

	if cb.Currency != "" && !strings.EqualFold(cb.Currency, inv.Currency) {
		return Result{}, ErrCurrencyMismatch
	}
	if !v.amountCovers(cb.Amount, inv.CryptoAmount) {
		return Result{}, ErrAmountMismatch
	}

	if cb.Confirmations < info.Confirmations {
		v.log.InfoContext(ctx, "payment observed, awaiting depth",
			slog.String("chain", string(chain)),
			slog.String("address", cb.Address),
			slog.Int("confirmations", cb.Confirmations),
			slog.Int("required", info.Confirmations))
		return Result{Status: StatusPending, Confirmations: cb.Confirmations}, nil
	}

	sub, err := v.ledger.ActivatePaid(ctx, inv, cb.TxHash)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusConfirmed, Confirmations: cb.Confirmations, Subscription: sub}, nil
}

// ConfirmHash verifies a user-submitted transaction reference against the
// subscription's open invoice. rawInput may be a bare hash or a full
// explorer URL. ErrUnderConfirmed means the caller should retry shortly.
func (v *Verifier) ConfirmHash(ctx context.Context, subscriptionID uuid.UUID, rawInput string) (Result, error) {
	txID := explorer.ExtractTxID(rawInput)
	if txID == "" {
		return Result{}, ErrMissingTxHash
	}

	// Repeated "I paid" clicks with the same hash return the prior outcome.
	if existing, err := v.subs.GetSubscriptionByTxHash(ctx, txID); err == nil {
		return Result{Status: StatusConfirmed, Subscription: existing}, nil
	} else if !errors.Is(err, ledger.ErrSubscriptionNotFound) {
		return Result{}, err
	}

	inv, err := v.invoices.GetLatestBySubscription(ctx, subscriptionID)
	if err != nil {
		return Result{}, err
	}
	// The sweep may have flipped the invoice to expired already; that is
	// still "expired", not "missing".
	if inv.Status == invoice.StatusExpired {
		return Result{}, invoice.ErrInvoiceExpired
	}
	if inv.Status != invoice.StatusPending {
		return Result{}, invoice.ErrInvoiceNotFound
	}
	if inv.IsExpiredAt(v.now()) {
		return Result{}, invoice.ErrInvoiceExpired
	}

	info, err := chains.Lookup(inv.Chain)
	if err != nil {
		return Result{}, err
	}

	transfer, err := v.explorers.FindTransfer(ctx, inv.Chain, txID, inv.Address)
	if err != nil {
		return Result{}, err
	}
	if !v.amountCovers(transfer.Amount, inv.CryptoAmount) {
		return Result{}, ErrAmountMismatch
	}

	if transfer.Confirmations < info.Confirmations {
		return Result{Status: StatusPending, Confirmations: transfer.Confirmations}, ErrUnderConfirmed
	}

	sub, err := v.ledger.ActivatePaid(ctx, inv, txID)
	if err != nil {
		return Result{}, err
	}
	return Result{Status: StatusConfirmed, Confirmations: transfer.Confirmations, Subscription: sub}, nil
}

// amountCovers applies the rounding tolerance: paid >= expected * (1 - tolerance).
func (v *Verifier) amountCovers(paid, expected decimal.Decimal) bool {
	floor := expected.Mul(decimal.NewFromInt(1).Sub(v.tolerance))
	return paid.GreaterThanOrEqual(floor)
}

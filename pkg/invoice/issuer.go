package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/explorer"
	"github.com/shoplink/cryptobill/pkg/rates"
)

// Issuer orchestrates address derivation, rate conversion and persistence to
// create payment requests.
type Issuer struct {
	subs      SubscriptionSource
	pricer    TierPricer
	oracle    *rates.Oracle
	store     Store
	registrar explorer.HookRegistrar
	keys      map[chains.Chain]string // chain -> extended public key
	callback  string                  // webhook callback base URL
	now       func() time.Time
	log       *slog.Logger
}

// NewIssuer wires an Issuer. Required collaborators are checked eagerly so a
// misconfigured deployment fails at startup, not on the first invoice.
func NewIssuer(subs SubscriptionSource, pricer TierPricer, oracle *rates.Oracle, store Store, opts ...IssuerOption) *Issuer {
	if subs == nil {
		panic("invoice: SubscriptionSource is required")
	}
	if pricer == nil {
		panic("invoice: TierPricer is required")
	}
	if oracle == nil {
		panic("invoice: rates.Oracle is required")
	}
	if store == nil {
		panic("invoice: Store is required")
	}

	iss := &Issuer{
		subs:   subs,
		pricer: pricer,
		oracle: oracle,
		store:  store,
		keys:   make(map[chains.Chain]string),
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss
}

// Issue creates (or reuses) a pending invoice for the subscription on the
// given chain. The chain token accepts aliases like "BITCOIN".
func (iss *Issuer) Issue(ctx context.Context, subscriptionID uuid.UUID, chainToken string) (*Invoice, error) {
	sub, err := iss.subs.GetForBilling(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	amountUSD := sub.AmountUSD
	if !amountUSD.IsPositive() {
		amountUSD, err = iss.pricer.Price(sub.Tier)
		if err != nil {
			return nil, err
		}
	}

	chain, err := chains.Parse(chainToken)
	if err != nil {
		return nil, err
	}
	info, err := chains.Lookup(chain)
	if err != nil {
		return nil, err
	}

	now := iss.now()

	// A pending, unexpired invoice for the same subscription+chain is reused
	// rather than burning another derivation index.
	if existing, err := iss.store.FindReusable(ctx, subscriptionID, chain, now); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, err
	}

	quote, err := iss.oracle.Convert(ctx, amountUSD, chain)
	if err != nil {
		return nil, err
	}

	xpub, ok := iss.keys[chain]
	if !ok || xpub == "" {
		// Deployment error, not a user error: make it loud.
		iss.log.ErrorContext(ctx, "no master public key configured",
			slog.String("chain", string(chain)))
		return nil, fmt.Errorf("%w: %s", ErrMissingKeyConfig, chain)
	}

	inv, err := iss.store.CreateWithNextIndex(ctx, chain, func(index uint32) (*Invoice, error) {
		addr, err := chains.Derive(chain, xpub, index)
		if err != nil {
			return nil, err
		}
		return &Invoice{
			ID:             uuid.New(),
			SubscriptionID: subscriptionID,
			Chain:          chain,
			Address:        addr.Address,
			AddressIndex:   index,
			Path:           addr.Path,
			ExpectedUSD:    amountUSD,
			CryptoAmount:   quote.CryptoAmount,
			USDRate:        quote.USDRate,
			Currency:       quote.Currency,
			Strategy:       info.Strategy,
			Status:         StatusPending,
			CreatedAt:      now,
			ExpiresAt:      now.Add(ExpiryWindow),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if inv.Strategy == chains.StrategyWebhook {
		iss.registerWebhook(ctx, inv)
	}

	return inv, nil
}

// registerWebhook asks the block-monitoring service to watch the address.
// Failure is non-fatal: verification falls back to polling, so the invoice
// is downgraded and issuance proceeds.
func (iss *Issuer) registerWebhook(ctx context.Context, inv *Invoice) {
	if iss.registrar == nil || iss.callback == "" {
		inv.Strategy = chains.StrategyPoll
		_ = iss.store.DowngradeToPolling(ctx, inv.ID)
		return
	}

	callbackURL := fmt.Sprintf("%s/%s", iss.callback, inv.Chain)
	hookID, err := iss.registrar.RegisterConfirmationHook(ctx, inv.Chain, inv.Address, callbackURL)
	if err != nil {
		iss.log.WarnContext(ctx, "webhook registration failed, falling back to polling",
			slog.String("chain", string(inv.Chain)),
			slog.String("address", inv.Address),
			slog.Any("error", err))
		inv.Strategy = chains.StrategyPoll
		if derr := iss.store.DowngradeToPolling(ctx, inv.ID); derr != nil {
			iss.log.ErrorContext(ctx, "failed to persist polling downgrade",
				slog.String("invoice_id", inv.ID.String()), slog.Any("error", derr))
		}
		return
	}

	inv.WebhookID = hookID
	if err := iss.store.AttachWebhook(ctx, inv.ID, hookID); err != nil {
		iss.log.ErrorContext(ctx, "failed to persist webhook id",
			slog.String("invoice_id", inv.ID.String()), slog.Any("error", err))
	}
}

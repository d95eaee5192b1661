package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/invoice"
)

const (
	// PeriodDays is the length of one billing period.
	PeriodDays = 30
	// GraceDays is the window a shop stays up after a missed payment.
	GraceDays = 2
)

// Ledger drives subscription lifecycle transitions against a Store.
type Ledger struct {
	store  Store
	pricer invoice.TierPricer
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the ledger logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// New wires a Ledger. Store and pricer are required.
func New(store Store, pricer invoice.TierPricer, opts ...Option) *Ledger {
	if store == nil {
		panic("ledger: Store is required")
	}
	if pricer == nil {
		panic("ledger: TierPricer is required")
	}
	l := &Ledger{
		store:  store,
		pricer: pricer,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateRenewal opens a pending subscription row for a shop and tier. The
// row becomes active once an invoice issued against it is paid.
func (l *Ledger) CreateRenewal(ctx context.Context, shopID uuid.UUID, tier Tier) (*Subscription, error) {
	if _, err := l.pricer.Price(string(tier)); err != nil {
		return nil, err
	}
	if _, err := l.store.GetShop(ctx, shopID); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:        uuid.New(),
		ShopID:    &shopID,
		Tier:      tier,
		Kind:      KindRenewal,
		Status:    SubPending,
		CreatedAt: l.now(),
	}
	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ActivatePaid applies the verified payment for inv: marks the invoice paid,
// activates the pending subscription and updates the shop, all in one store
// transaction. Safe to call with a duplicate tx hash: the prior result is
// returned unchanged.
func (l *Ledger) ActivatePaid(ctx context.Context, inv *invoice.Invoice, txHash string) (*Subscription, error) {
	// A duplicate "I paid" submission returns the prior result.
	if existing, err := l.store.GetSubscriptionByTxHash(ctx, txHash); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	sub, err := l.store.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.ShopID == nil {
		return nil, ErrSubscriptionNotLinked
	}

	now := l.now()
	act := Activation{
		InvoiceID:      inv.ID,
		SubscriptionID: sub.ID,
		ShopID:         *sub.ShopID,
		TxHash:         txHash,
		Currency:       inv.Currency,
		VerifiedAt:     now,
		Tier:           sub.Tier,
	}

	switch sub.Kind {
	case KindUpgrade:
		// An upgrade changes tier for the remainder of the current period;
		// it does not extend it. The superseded row is cancelled, not deleted.
		current, err := l.store.GetActiveSubscription(ctx, *sub.ShopID, now)
		if err != nil {
			return nil, err
		}
		act.PeriodStart = current.PeriodStart
		act.PeriodEnd = current.PeriodEnd
		act.CancelSubscriptionID = &current.ID
	default:
		act.PeriodStart = now
		act.PeriodEnd = now.AddDate(0, 0, PeriodDays)
	}
	act.NextPaymentDue = act.PeriodEnd

	if err := l.store.ApplyActivation(ctx, act); err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "subscription activated",
		slog.String("shop_id", act.ShopID.String()),
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tier", string(act.Tier)),
		slog.String("kind", string(sub.Kind)),
		slog.String("tx_hash", txHash))

	return l.store.GetSubscription(ctx, sub.ID)
}

// UpgradeQuote is the prorated price of moving basic -> pro mid-period.
type UpgradeQuote struct {
	AmountUSD   decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// QuoteUpgrade prices an upgrade of the shop's current basic period to pro.
func (l *Ledger) QuoteUpgrade(ctx context.Context, shopID uuid.UUID) (UpgradeQuote, error) {
	current, err := l.store.GetActiveSubscription(ctx, shopID, l.now())
	if err != nil {
		return UpgradeQuote{}, err
	}
	if current.Tier == TierPro {
		return UpgradeQuote{}, ErrAlreadyPro
	}

	basicPrice, err := l.pricer.Price(string(TierBasic))
	if err != nil {
		return UpgradeQuote{}, err
	}
	proPrice, err := l.pricer.Price(string(TierPro))
	if err != nil {
		return UpgradeQuote{}, err
	}

	return UpgradeQuote{
		AmountUSD:   Prorate(basicPrice, proPrice, current.PeriodStart, current.PeriodEnd, l.now()),
		PeriodStart: current.PeriodStart,
		PeriodEnd:   current.PeriodEnd,
	}, nil
}

// StartUpgrade opens a pending pro subscription row priced at the prorated
// amount and sharing the current period. Payment verification completes it.
func (l *Ledger) StartUpgrade(ctx context.Context, shopID uuid.UUID) (*Subscription, error) {
	quote, err := l.QuoteUpgrade(ctx, shopID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:          uuid.New(),
		ShopID:      &shopID,
		Tier:        TierPro,
		AmountUSD:   quote.AmountUSD,
		Kind:        KindUpgrade,
		PeriodStart: quote.PeriodStart,
		PeriodEnd:   quote.PeriodEnd,
		Status:      SubPending,
		CreatedAt:   l.now(),
	}
	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ActivatePromo grants a 30-day pro subscription once per (user, shop,
// promo code). The uniqueness guard and the grant land in one transaction;
// a second attempt fails with ErrPromoAlreadyUsed and changes nothing.
func (l *Ledger) ActivatePromo(ctx context.Context, userID int64, shopID uuid.UUID, code string) (*Subscription, error) {
	if _, err := l.store.GetShop(ctx, shopID); err != nil {
		return nil, err
	}

	now := l.now()
	sub := &Subscription{
		ID:          uuid.New(),
		ShopID:      &shopID,
		Tier:        TierPro,
		AmountUSD:   decimal.Zero,
		TxHash:      fmt.Sprintf("promo:%s", uuid.New()),
		Kind:        KindPromo,
		PeriodStart: now,
		PeriodEnd:   now.AddDate(0, 0, PeriodDays),
		Status:      SubPending,
		CreatedAt:   now,
	}

	act := Activation{
		SubscriptionID: sub.ID,
		ShopID:         shopID,
		TxHash:         sub.TxHash,
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd,
		VerifiedAt:     now,
		Tier:           TierPro,
		NextPaymentDue: sub.PeriodEnd,
	}
	promo := PromoActivation{
		UserID:    userID,
		ShopID:    shopID,
		Code:      code,
		CreatedAt: now,
	}
	if err := l.store.ApplyPromo(ctx, promo, sub, act); err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "promo subscription granted",
		slog.String("shop_id", shopID.String()),
		slog.Int64("user_id", userID),
		slog.String("promo_code", code))

	return l.store.GetSubscription(ctx, sub.ID)
}

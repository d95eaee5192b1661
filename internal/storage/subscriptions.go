package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
	"github.com/shoplink/cryptobill/pkg/pg"
)

// ErrTxHashConflict reports a concurrent activation racing on the same
// transaction hash. The caller already handles the settled duplicate case;
// this only fires when two verifications land at once.
var ErrTxHashConflict = errors.New("transaction hash already consumed by another subscription")

const subscriptionColumns = `id, shop_id, tier, amount_usd, tx_hash, currency, kind,
	period_start, period_end, status, verified_at, created_at`

func scanSubscription(row pgx.Row) (*ledger.Subscription, error) {
	var (
		sub         ledger.Subscription
		txHash      *string
		periodStart *time.Time
		periodEnd   *time.Time
	)
	err := row.Scan(
		&sub.ID,
		&sub.ShopID,
		&sub.Tier,
		&sub.AmountUSD,
		&txHash,
		&sub.Currency,
		&sub.Kind,
		&periodStart,
		&periodEnd,
		&sub.Status,
		&sub.VerifiedAt,
		&sub.CreatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	if txHash != nil {
		sub.TxHash = *txHash
	}
	if periodStart != nil {
		sub.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		sub.PeriodEnd = *periodEnd
	}
	return &sub, nil
}

// nullIfEmpty keeps the partial unique index on tx_hash meaningful: unset
// hashes must be NULL, not empty strings.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*ledger.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(s.pool.QueryRow(ctx, query, id))
}

func (s *Store) GetSubscriptionByTxHash(ctx context.Context, txHash string) (*ledger.Subscription, error) {
	if txHash == "" {
		return nil, ledger.ErrSubscriptionNotFound
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tx_hash = $1`
	return scanSubscription(s.pool.QueryRow(ctx, query, txHash))
}

func (s *Store) GetActiveSubscription(ctx context.Context, shopID uuid.UUID, now time.Time) (*ledger.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE shop_id = $1 AND status = 'active' AND period_end > $2
		ORDER BY period_end DESC
		LIMIT 1`

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, shopID, now))
	if errors.Is(err, ledger.ErrSubscriptionNotFound) {
		return nil, ledger.ErrNoActiveSubscription
	}
	return sub, err
}

func (s *Store) CreateSubscription(ctx context.Context, sub *ledger.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, shop_id, tier, amount_usd, tx_hash, currency, kind,
			period_start, period_end, status, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		sub.ID, sub.ShopID, sub.Tier, sub.AmountUSD,
		nullIfEmpty(sub.TxHash), sub.Currency, sub.Kind,
		nullIfZero(sub.PeriodStart), nullIfZero(sub.PeriodEnd),
		sub.Status, sub.VerifiedAt, sub.CreatedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(ErrTxHashConflict, err)
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// ApplyActivation performs the verified-payment transition atomically: the
// invoice flips to paid, superseded rows close, the subscription activates and
// the shop's billing fields update. Any failure rolls the whole thing back.
func (s *Store) ApplyActivation(ctx context.Context, act ledger.Activation) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if act.InvoiceID != uuid.Nil {
			tag, err := tx.Exec(ctx,
				`UPDATE invoices SET status = 'paid' WHERE id = $1 AND status = 'pending'`,
				act.InvoiceID)
			if err != nil {
				return fmt.Errorf("mark invoice paid: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return invoice.ErrInvoiceNotFound
			}
		}
		return applyActivationTx(ctx, tx, act)
	})
}

// ApplyPromo inserts the uniqueness guard, the subscription row and the shop
// transition in one transaction. A reused (user, shop, code) triple hits the
// unique constraint and nothing is kept.
func (s *Store) ApplyPromo(ctx context.Context, promo ledger.PromoActivation, sub *ledger.Subscription, act ledger.Activation) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO promo_activations (user_id, shop_id, promo_code, created_at)
			 VALUES ($1, $2, $3, $4)`,
			promo.UserID, promo.ShopID, promo.Code, promo.CreatedAt)
		if err != nil {
			if pg.IsDuplicateKeyError(err) {
				return ledger.ErrPromoAlreadyUsed
			}
			return fmt.Errorf("record promo activation: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO subscriptions (id, shop_id, tier, amount_usd, tx_hash, currency, kind,
				period_start, period_end, status, verified_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			sub.ID, sub.ShopID, sub.Tier, sub.AmountUSD,
			nullIfEmpty(sub.TxHash), sub.Currency, sub.Kind,
			nullIfZero(sub.PeriodStart), nullIfZero(sub.PeriodEnd),
			sub.Status, sub.VerifiedAt, sub.CreatedAt)
		if err != nil {
			if pg.IsDuplicateKeyError(err) {
				return errors.Join(ErrTxHashConflict, err)
			}
			return fmt.Errorf("create promo subscription: %w", err)
		}

		return applyActivationTx(ctx, tx, act)
	})
}

// applyActivationTx runs the shared part of both activation paths inside tx.
func applyActivationTx(ctx context.Context, tx pgx.Tx, act ledger.Activation) error {
	// Keep the single-active invariant: other live rows for the shop are
	// superseded, the upgrade target is cancelled rather than expired.
	_, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = CASE WHEN $3::uuid IS NOT NULL AND id = $3 THEN 'cancelled' ELSE 'expired' END,
		    updated_at = now()
		WHERE shop_id = $1 AND status = 'active' AND id <> $2`,
		act.ShopID, act.SubscriptionID, act.CancelSubscriptionID)
	if err != nil {
		return fmt.Errorf("supersede active subscriptions: %w", err)
	}

	// An empty hash must land as NULL so the partial unique index on
	// tx_hash never compares empty strings.
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'active',
		    tx_hash = NULLIF($2, ''),
		    currency = COALESCE(NULLIF($3, ''), currency),
		    period_start = $4,
		    period_end = $5,
		    verified_at = $6,
		    updated_at = now()
		WHERE id = $1`,
		act.SubscriptionID, act.TxHash, act.Currency,
		act.PeriodStart, act.PeriodEnd, act.VerifiedAt)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return errors.Join(ErrTxHashConflict, err)
		}
		return fmt.Errorf("activate subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrSubscriptionNotFound
	}

	tag, err = tx.Exec(ctx, `
		UPDATE shops
		SET tier = $2,
		    subscription_status = 'active',
		    next_payment_due = $3,
		    grace_period_until = NULL,
		    listed = TRUE,
		    updated_at = now()
		WHERE id = $1`,
		act.ShopID, act.Tier, act.NextPaymentDue)
	if err != nil {
		return fmt.Errorf("update shop after activation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrShopNotFound
	}
	return nil
}

func (s *Store) ExpireStaleSubscriptions(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET status = 'expired', updated_at = now()
		 WHERE status = 'active' AND period_end < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale subscriptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetForBilling is the invoice.SubscriptionSource view.
func (s *Store) GetForBilling(ctx context.Context, id uuid.UUID) (invoice.Subscription, error) {
	var sub invoice.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT id, tier, amount_usd FROM subscriptions WHERE id = $1`, id).
		Scan(&sub.ID, &sub.Tier, &sub.AmountUSD)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return invoice.Subscription{}, invoice.ErrSubscriptionNotFound
		}
		return invoice.Subscription{}, fmt.Errorf("get subscription for billing: %w", err)
	}
	return sub, nil
}

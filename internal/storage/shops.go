package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shoplink/cryptobill/pkg/ledger"
	"github.com/shoplink/cryptobill/pkg/pg"
)

const shopColumns = `id, tier, subscription_status, next_payment_due, grace_period_until, listed`

func scanShop(row pgx.Row) (*ledger.Shop, error) {
	var shop ledger.Shop
	err := row.Scan(
		&shop.ID,
		&shop.Tier,
		&shop.SubscriptionStatus,
		&shop.NextPaymentDue,
		&shop.GracePeriodUntil,
		&shop.Listed,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ledger.ErrShopNotFound
		}
		return nil, fmt.Errorf("scan shop: %w", err)
	}
	return &shop, nil
}

func (s *Store) GetShop(ctx context.Context, id uuid.UUID) (*ledger.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE id = $1`
	return scanShop(s.pool.QueryRow(ctx, query, id))
}

// ListShopsDue returns shops whose due date or grace deadline has passed.
func (s *Store) ListShopsDue(ctx context.Context, now time.Time) ([]*ledger.Shop, error) {
	query := `
		SELECT ` + shopColumns + `
		FROM shops
		WHERE (subscription_status = 'active' AND next_payment_due <= $1)
		   OR (subscription_status = 'grace_period' AND grace_period_until <= $1)
		ORDER BY next_payment_due`

	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list shops due: %w", err)
	}
	defer rows.Close()

	var shops []*ledger.Shop
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, shop)
	}
	return shops, rows.Err()
}

func (s *Store) UpdateShopBillingState(ctx context.Context, shop *ledger.Shop) error {
	query := `
		UPDATE shops
		SET tier = $2,
		    subscription_status = $3,
		    next_payment_due = $4,
		    grace_period_until = $5,
		    listed = $6,
		    updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		shop.ID, shop.Tier, shop.SubscriptionStatus,
		shop.NextPaymentDue, shop.GracePeriodUntil, shop.Listed)
	if err != nil {
		return fmt.Errorf("update shop billing state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrShopNotFound
	}
	return nil
}

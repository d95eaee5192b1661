package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/pg"
)

const invoiceColumns = `id, subscription_id, chain, address, address_index, derivation_path,
	expected_usd, crypto_amount, usd_rate, currency, confirmation_strategy, webhook_id,
	status, created_at, expires_at`

func scanInvoice(row pgx.Row) (*invoice.Invoice, error) {
	var (
		inv   invoice.Invoice
		index int64
	)
	err := row.Scan(
		&inv.ID,
		&inv.SubscriptionID,
		&inv.Chain,
		&inv.Address,
		&index,
		&inv.Path,
		&inv.ExpectedUSD,
		&inv.CryptoAmount,
		&inv.USDRate,
		&inv.Currency,
		&inv.Strategy,
		&inv.WebhookID,
		&inv.Status,
		&inv.CreatedAt,
		&inv.ExpiresAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, invoice.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	inv.AddressIndex = uint32(index)
	return &inv, nil
}

// CreateWithNextIndex allocates the next derivation index for the chain and
// persists the built invoice in one transaction. A per-chain advisory lock
// serializes concurrent allocations; the unique (chain, address_index) index
// backstops it.
func (s *Store) CreateWithNextIndex(ctx context.Context, chain chains.Chain, build func(index uint32) (*invoice.Invoice, error)) (*invoice.Invoice, error) {
	var created *invoice.Invoice
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtext('invoices:' || $1::text))`, chain); err != nil {
			return fmt.Errorf("acquire index lock: %w", err)
		}

		var next int64
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(address_index) + 1, 0) FROM invoices WHERE chain = $1`, chain).
			Scan(&next)
		if err != nil {
			return fmt.Errorf("allocate address index: %w", err)
		}

		inv, err := build(uint32(next))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO invoices (id, subscription_id, chain, address, address_index, derivation_path,
				expected_usd, crypto_amount, usd_rate, currency, confirmation_strategy, webhook_id,
				status, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			inv.ID, inv.SubscriptionID, inv.Chain, inv.Address, int64(inv.AddressIndex), inv.Path,
			inv.ExpectedUSD, inv.CryptoAmount, inv.USDRate, inv.Currency, inv.Strategy, inv.WebhookID,
			inv.Status, inv.CreatedAt, inv.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}

		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) FindReusable(ctx context.Context, subscriptionID uuid.UUID, chain chains.Chain, now time.Time) (*invoice.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE subscription_id = $1 AND chain = $2 AND status = 'pending' AND expires_at >= $3
		ORDER BY created_at DESC
		LIMIT 1`
	return scanInvoice(s.pool.QueryRow(ctx, query, subscriptionID, chain, now))
}

func (s *Store) GetPendingByAddress(ctx context.Context, chain chains.Chain, address string) (*invoice.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE chain = $1 AND address = $2 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`
	return scanInvoice(s.pool.QueryRow(ctx, query, chain, address))
}

func (s *Store) GetLatestBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*invoice.Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return scanInvoice(s.pool.QueryRow(ctx, query, subscriptionID))
}

func (s *Store) AttachWebhook(ctx context.Context, id uuid.UUID, webhookID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices SET webhook_id = $2 WHERE id = $1`, id, webhookID)
	if err != nil {
		return fmt.Errorf("attach webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return invoice.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) DowngradeToPolling(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices SET confirmation_strategy = 'poll' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("downgrade invoice to polling: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return invoice.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) ExpireStaleInvoices(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE invoices SET status = 'expired' WHERE status = 'pending' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale invoices: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

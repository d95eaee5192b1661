package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/chains"
)

// ExpiryWindow bounds how long a payment address stays reserved. Long enough
// to pay and land a confirmation race, short enough not to hold addresses
// indefinitely.
const ExpiryWindow = 30 * time.Minute

// Status is the invoice lifecycle state. Paid and expired are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

// Invoice is one payment attempt against a subscription.
type Invoice struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	Chain          chains.Chain
	Address        string
	AddressIndex   uint32
	Path           string
	ExpectedUSD    decimal.Decimal
	CryptoAmount   decimal.Decimal
	USDRate        decimal.Decimal
	Currency       string
	Strategy       chains.ConfirmationStrategy
	WebhookID      string
	Status         Status
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// IsExpiredAt reports whether the payment window has closed at the given time.
func (i *Invoice) IsExpiredAt(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// PaymentURI renders the invoice as a wallet-openable URI where the chain
// has a conventional scheme, falling back to the bare address.
func (i *Invoice) PaymentURI() string {
	switch i.Chain {
	case chains.BTC:
		return fmt.Sprintf("bitcoin:%s?amount=%s", i.Address, i.CryptoAmount.String())
	case chains.LTC:
		return fmt.Sprintf("litecoin:%s?amount=%s", i.Address, i.CryptoAmount.String())
	case chains.ETH:
		return fmt.Sprintf("ethereum:%s", i.Address)
	default:
		return i.Address
	}
}

// Subscription is the billing-relevant view of a subscription row. AmountUSD
// is pre-set for upgrade and promo rows; renewal rows leave it zero and the
// tier price applies.
type Subscription struct {
	ID        uuid.UUID
	Tier      string
	AmountUSD decimal.Decimal
}

// SubscriptionSource loads subscriptions for billing.
type SubscriptionSource interface {
	// GetForBilling returns ErrSubscriptionNotFound when the id is unknown.
	GetForBilling(ctx context.Context, id uuid.UUID) (Subscription, error)
}

// TierPricer resolves the USD price of a subscription tier.
type TierPricer interface {
	// Price returns ErrInvalidTier for unknown tiers.
	Price(tier string) (decimal.Decimal, error)
}

// Store persists invoices. Implementations must make CreateWithNextIndex
// transactional: the max-index read and the insert form one critical section
// per chain.
type Store interface {
	// CreateWithNextIndex allocates the next derivation index for the chain,
	// calls build with it to produce the invoice (address derivation is pure,
	// so it is safe inside the transaction), and persists the result.
	CreateWithNextIndex(ctx context.Context, chain chains.Chain, build func(index uint32) (*Invoice, error)) (*Invoice, error)

	// FindReusable returns a pending, unexpired invoice for the same
	// subscription and chain, or ErrInvoiceNotFound.
	FindReusable(ctx context.Context, subscriptionID uuid.UUID, chain chains.Chain, now time.Time) (*Invoice, error)

	// GetPendingByAddress finds the open invoice a webhook callback refers
	// to, or ErrInvoiceNotFound.
	GetPendingByAddress(ctx context.Context, chain chains.Chain, address string) (*Invoice, error)

	// GetLatestBySubscription returns the most recently created invoice for
	// a subscription, or ErrInvoiceNotFound.
	GetLatestBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*Invoice, error)

	// AttachWebhook records the external webhook-subscription id.
	AttachWebhook(ctx context.Context, id uuid.UUID, webhookID string) error

	// DowngradeToPolling flips the confirmation strategy to poll after a
	// failed webhook registration.
	DowngradeToPolling(ctx context.Context, id uuid.UUID) error
}

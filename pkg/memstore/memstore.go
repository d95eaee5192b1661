package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
)

// Store implements invoice.Store, invoice.SubscriptionSource and
// ledger.Store in memory.
type Store struct {
	mu            sync.Mutex
	shops         map[uuid.UUID]*ledger.Shop
	subscriptions map[uuid.UUID]*ledger.Subscription
	invoices      map[uuid.UUID]*invoice.Invoice
	promos        map[string]ledger.PromoActivation // key user|shop|code

	// Failure injection for atomicity tests: when set, the corresponding
	// transactional operation fails after its reads but before any write.
	ShopUpdateErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		shops:         make(map[uuid.UUID]*ledger.Shop),
		subscriptions: make(map[uuid.UUID]*ledger.Subscription),
		invoices:      make(map[uuid.UUID]*invoice.Invoice),
		promos:        make(map[string]ledger.PromoActivation),
	}
}

// PutShop seeds or replaces a shop record.
func (s *Store) PutShop(shop *ledger.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *shop
	s.shops[shop.ID] = &cp
}

// --- ledger.Store ---

func (s *Store) GetShop(ctx context.Context, id uuid.UUID) (*ledger.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[id]
	if !ok {
		return nil, ledger.ErrShopNotFound
	}
	cp := *shop
	return &cp, nil
}

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*ledger.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ledger.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) GetSubscriptionByTxHash(ctx context.Context, txHash string) (*ledger.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.TxHash != "" && sub.TxHash == txHash {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ledger.ErrSubscriptionNotFound
}

func (s *Store) GetActiveSubscription(ctx context.Context, shopID uuid.UUID, now time.Time) (*ledger.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.ShopID != nil && *sub.ShopID == shopID && sub.IsActiveAt(now) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ledger.ErrNoActiveSubscription
}

func (s *Store) CreateSubscription(ctx context.Context, sub *ledger.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTxHashFree(sub.TxHash); err != nil {
		return err
	}
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

func (s *Store) ApplyActivation(ctx context.Context, act ledger.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching state so a failure leaves no
	// partial writes, mirroring a database rollback.
	sub, ok := s.subscriptions[act.SubscriptionID]
	if !ok {
		return ledger.ErrSubscriptionNotFound
	}
	shop, ok := s.shops[act.ShopID]
	if !ok {
		return ledger.ErrShopNotFound
	}
	if act.InvoiceID != uuid.Nil {
		if _, ok := s.invoices[act.InvoiceID]; !ok {
			return invoice.ErrInvoiceNotFound
		}
	}
	if sub.TxHash != act.TxHash {
		if err := s.checkTxHashFree(act.TxHash); err != nil {
			return err
		}
	}
	if s.ShopUpdateErr != nil {
		return s.ShopUpdateErr
	}

	s.applyActivationLocked(sub, shop, act)
	return nil
}

func (s *Store) ApplyPromo(ctx context.Context, promo ledger.PromoActivation, sub *ledger.Subscription, act ledger.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := promoKey(promo)
	if _, used := s.promos[key]; used {
		return ledger.ErrPromoAlreadyUsed
	}
	shop, ok := s.shops[act.ShopID]
	if !ok {
		return ledger.ErrShopNotFound
	}
	if err := s.checkTxHashFree(sub.TxHash); err != nil {
		return err
	}
	if s.ShopUpdateErr != nil {
		return s.ShopUpdateErr
	}

	s.promos[key] = promo
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	s.applyActivationLocked(s.subscriptions[sub.ID], shop, act)
	return nil
}

func (s *Store) applyActivationLocked(sub *ledger.Subscription, shop *ledger.Shop, act ledger.Activation) {
	if act.InvoiceID != uuid.Nil {
		inv := s.invoices[act.InvoiceID]
		inv.Status = invoice.StatusPaid
	}

	// Keep the single-active invariant: any other live row for the shop is
	// superseded.
	for _, other := range s.subscriptions {
		if other.ID == sub.ID || other.ShopID == nil || *other.ShopID != act.ShopID {
			continue
		}
		if other.Status != ledger.SubActive {
			continue
		}
		if act.CancelSubscriptionID != nil && other.ID == *act.CancelSubscriptionID {
			other.Status = ledger.SubCancelled
		} else {
			other.Status = ledger.SubExpired
		}
	}

	verifiedAt := act.VerifiedAt
	sub.Status = ledger.SubActive
	sub.TxHash = act.TxHash
	if act.Currency != "" {
		sub.Currency = act.Currency
	}
	sub.PeriodStart = act.PeriodStart
	sub.PeriodEnd = act.PeriodEnd
	sub.VerifiedAt = &verifiedAt

	due := act.NextPaymentDue
	shop.Tier = act.Tier
	shop.SubscriptionStatus = ledger.ShopActive
	shop.NextPaymentDue = &due
	shop.GracePeriodUntil = nil
	shop.Listed = true
}

func (s *Store) ListShopsDue(ctx context.Context, now time.Time) ([]*ledger.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*ledger.Shop
	for _, shop := range s.shops {
		switch shop.SubscriptionStatus {
		case ledger.ShopActive:
			if shop.NextPaymentDue != nil && !shop.NextPaymentDue.After(now) {
				cp := *shop
				due = append(due, &cp)
			}
		case ledger.ShopGrace:
			if shop.GracePeriodUntil != nil && !shop.GracePeriodUntil.After(now) {
				cp := *shop
				due = append(due, &cp)
			}
		}
	}
	return due, nil
}

func (s *Store) UpdateShopBillingState(ctx context.Context, shop *ledger.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shops[shop.ID]; !ok {
		return ledger.ErrShopNotFound
	}
	cp := *shop
	s.shops[shop.ID] = &cp
	return nil
}

func (s *Store) ExpireStaleSubscriptions(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subscriptions {
		if sub.Status == ledger.SubActive && sub.PeriodEnd.Before(now) {
			sub.Status = ledger.SubExpired
			n++
		}
	}
	return n, nil
}

func (s *Store) ExpireStaleInvoices(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inv := range s.invoices {
		if inv.Status == invoice.StatusPending && inv.IsExpiredAt(now) {
			inv.Status = invoice.StatusExpired
			n++
		}
	}
	return n, nil
}

// --- invoice.Store ---

func (s *Store) CreateWithNextIndex(ctx context.Context, chain chains.Chain, build func(index uint32) (*invoice.Invoice, error)) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := uint32(0)
	for _, inv := range s.invoices {
		if inv.Chain == chain && inv.AddressIndex >= next {
			next = inv.AddressIndex + 1
		}
	}

	inv, err := build(next)
	if err != nil {
		return nil, err
	}
	cp := *inv
	s.invoices[inv.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) FindReusable(ctx context.Context, subscriptionID uuid.UUID, chain chains.Chain, now time.Time) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.SubscriptionID == subscriptionID && inv.Chain == chain &&
			inv.Status == invoice.StatusPending && !inv.IsExpiredAt(now) {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, invoice.ErrInvoiceNotFound
}

func (s *Store) GetPendingByAddress(ctx context.Context, chain chains.Chain, address string) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.Chain == chain && inv.Address == address && inv.Status == invoice.StatusPending {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, invoice.ErrInvoiceNotFound
}

func (s *Store) GetLatestBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *invoice.Invoice
	for _, inv := range s.invoices {
		if inv.SubscriptionID != subscriptionID {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, invoice.ErrInvoiceNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) AttachWebhook(ctx context.Context, id uuid.UUID, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.ErrInvoiceNotFound
	}
	inv.WebhookID = webhookID
	return nil
}

func (s *Store) DowngradeToPolling(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.ErrInvoiceNotFound
	}
	inv.Strategy = chains.StrategyPoll
	return nil
}

// GetInvoice returns an invoice by id, mostly for test assertions.
func (s *Store) GetInvoice(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, invoice.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

// --- invoice.SubscriptionSource ---

func (s *Store) GetForBilling(ctx context.Context, id uuid.UUID) (invoice.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return invoice.Subscription{}, invoice.ErrSubscriptionNotFound
	}
	return invoice.Subscription{
		ID:        sub.ID,
		Tier:      string(sub.Tier),
		AmountUSD: sub.AmountUSD,
	}, nil
}

func (s *Store) checkTxHashFree(txHash string) error {
	if txHash == "" {
		return nil
	}
	for _, other := range s.subscriptions {
		if other.TxHash == txHash {
			return fmt.Errorf("duplicate tx hash %q", txHash)
		}
	}
	return nil
}

func promoKey(p ledger.PromoActivation) string {
	return fmt.Sprintf("%d|%s|%s", p.UserID, p.ShopID, p.Code)
}

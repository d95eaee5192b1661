package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
	"github.com/shoplink/cryptobill/pkg/logger"
	"github.com/shoplink/cryptobill/pkg/payment"
	"github.com/shoplink/cryptobill/pkg/qrcode"
)

// Service is the composition root of the billing engine. Handlers and the
// sweep scheduler talk to it; it delegates to the domain packages.
type Service struct {
	ledger   *ledger.Ledger
	issuer   *invoice.Issuer
	verifier *payment.Verifier
	plans    *PlanSource
	qrSize   int
	log      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithQRSize sets the rendered QR code size in pixels.
func WithQRSize(px int) ServiceOption {
	return func(s *Service) {
		if px > 0 {
			s.qrSize = px
		}
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService wires the facade. All collaborators are required.
func NewService(ldg *ledger.Ledger, iss *invoice.Issuer, ver *payment.Verifier, plans *PlanSource, opts ...ServiceOption) *Service {
	if ldg == nil {
		panic("billing: ledger.Ledger is required")
	}
	if iss == nil {
		panic("billing: invoice.Issuer is required")
	}
	if ver == nil {
		panic("billing: payment.Verifier is required")
	}
	if plans == nil {
		panic("billing: PlanSource is required")
	}

	s := &Service{
		ledger:   ldg,
		issuer:   iss,
		verifier: ver,
		plans:    plans,
		qrSize:   256,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe opens a pending renewal subscription for a shop and tier.
func (s *Service) Subscribe(ctx context.Context, shopID uuid.UUID, tier string) (*ledger.Subscription, error) {
	if _, err := s.plans.Price(tier); err != nil {
		return nil, err
	}
	return s.ledger.CreateRenewal(ctx, shopID, ledger.Tier(tier))
}

// InvoiceView is the wire representation of an issued invoice.
type InvoiceView struct {
	ID           uuid.UUID       `json:"id"`
	Chain        string          `json:"chain"`
	Address      string          `json:"address"`
	ExpectedUSD  decimal.Decimal `json:"expected_usd"`
	CryptoAmount decimal.Decimal `json:"crypto_amount"`
	USDRate      decimal.Decimal `json:"usd_rate"`
	Currency     string          `json:"currency"`
	PaymentURI   string          `json:"payment_uri"`
	QRPNG        string          `json:"qr_png,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// IssueInvoice creates or reuses a pending invoice and renders its payment
// QR code. A QR rendering failure is logged, not fatal: the address and URI
// still let the user pay.
func (s *Service) IssueInvoice(ctx context.Context, subscriptionID uuid.UUID, chain string) (InvoiceView, error) {
	inv, err := s.issuer.Issue(ctx, subscriptionID, chain)
	if err != nil {
		return InvoiceView{}, err
	}

	view := InvoiceView{
		ID:           inv.ID,
		Chain:        string(inv.Chain),
		Address:      inv.Address,
		ExpectedUSD:  inv.ExpectedUSD,
		CryptoAmount: inv.CryptoAmount,
		USDRate:      inv.USDRate,
		Currency:     inv.Currency,
		PaymentURI:   inv.PaymentURI(),
		ExpiresAt:    inv.ExpiresAt,
	}

	qr, err := qrcode.GenerateBase64Image(view.PaymentURI, s.qrSize)
	if err != nil {
		s.log.WarnContext(ctx, "failed to render payment QR code",
			logger.InvoiceID(inv.ID), logger.Error(err))
	} else {
		view.QRPNG = qr
	}
	return view, nil
}

// ConfirmPayment verifies a user-submitted transaction reference.
func (s *Service) ConfirmPayment(ctx context.Context, subscriptionID uuid.UUID, rawTxRef string) (payment.Result, error) {
	return s.verifier.ConfirmHash(ctx, subscriptionID, rawTxRef)
}

// HandleCallback verifies a block-monitor webhook delivery.
func (s *Service) HandleCallback(ctx context.Context, chain string, cb payment.Callback) (payment.Result, error) {
	return s.verifier.HandleCallback(ctx, chain, cb)
}

// UpgradeView pairs the prorated quote with the pending subscription row the
// client should issue an invoice against.
type UpgradeView struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	AmountUSD      decimal.Decimal `json:"amount_usd"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
}

// StartUpgrade quotes and opens a prorated pro upgrade for the shop.
func (s *Service) StartUpgrade(ctx context.Context, shopID uuid.UUID) (UpgradeView, error) {
	sub, err := s.ledger.StartUpgrade(ctx, shopID)
	if err != nil {
		return UpgradeView{}, err
	}
	return UpgradeView{
		SubscriptionID: sub.ID,
		AmountUSD:      sub.AmountUSD,
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd,
	}, nil
}

// ActivatePromo grants a promo subscription, once per (user, shop, code).
func (s *Service) ActivatePromo(ctx context.Context, userID int64, shopID uuid.UUID, code string) (*ledger.Subscription, error) {
	return s.ledger.ActivatePromo(ctx, userID, shopID, code)
}

// Sweep advances overdue shops through the billing state machine. Run
// periodically by the scheduler.
func (s *Service) Sweep(ctx context.Context) error {
	counts, err := s.ledger.Sweep(ctx)
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "billing sweep finished",
		slog.Int("shops_to_grace", counts.ShopsToGrace),
		slog.Int("shops_deactivated", counts.ShopsDeactivated),
		slog.Int("subscriptions_expired", counts.SubscriptionsExpired),
		slog.Int("invoices_expired", counts.InvoicesExpired))
	return nil
}

// Plans returns the tier catalog.
func (s *Service) Plans() []Plan {
	return s.plans.All()
}

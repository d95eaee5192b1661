package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/retry"
)

var (
	ErrPriceUnavailable = errors.New("market rate unavailable, try again shortly")
	ErrInvalidAmount    = errors.New("usd amount must be positive")
)

// Quote is the result of a USD to crypto conversion.
type Quote struct {
	CryptoAmount decimal.Decimal
	USDRate      decimal.Decimal
	Currency     string
}

// RateCache stores recently fetched USD rates keyed by feed identifier.
type RateCache interface {
	Get(ctx context.Context, feedID string) (decimal.Decimal, bool)
	Set(ctx context.Context, feedID string, rate decimal.Decimal)
}

// Oracle fetches market rates and converts USD amounts to crypto amounts
// rounded to the chain's customary display precision.
type Oracle struct {
	client   *http.Client
	baseURL  string
	cache    RateCache
	attempts int
	backoff  retry.BackoffStrategy
	log      *slog.Logger
}

// New returns an Oracle talking to a CoinGecko-compatible feed.
func New(opts ...Option) *Oracle {
	o := &Oracle{
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  "https://api.coingecko.com/api/v3",
		cache:    noopCache{},
		attempts: 3,
		backoff: retry.ExponentialBackoff{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Convert returns the crypto amount equal to usdAmount at the current rate,
// together with the rate used. The amount is rounded to the chain's display
// precision.
func (o *Oracle) Convert(ctx context.Context, usdAmount decimal.Decimal, chain chains.Chain) (Quote, error) {
	if !usdAmount.IsPositive() {
		return Quote{}, ErrInvalidAmount
	}

	info, err := chains.Lookup(chain)
	if err != nil {
		return Quote{}, err
	}

	rate, err := o.rate(ctx, info.FeedID)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		CryptoAmount: usdAmount.Div(rate).Round(info.Decimals),
		USDRate:      rate,
		Currency:     info.Currency,
	}, nil
}

func (o *Oracle) rate(ctx context.Context, feedID string) (decimal.Decimal, error) {
	if rate, ok := o.cache.Get(ctx, feedID); ok {
		return rate, nil
	}

	var rate decimal.Decimal
	err := retry.Do(ctx, o.attempts, o.backoff, func(ctx context.Context) error {
		var fetchErr error
		rate, fetchErr = o.fetch(ctx, feedID)
		if fetchErr != nil {
			o.log.WarnContext(ctx, "rate fetch failed",
				slog.String("feed_id", feedID), slog.Any("error", fetchErr))
		}
		return fetchErr
	})
	if err != nil {
		return decimal.Decimal{}, errors.Join(ErrPriceUnavailable, err)
	}

	o.cache.Set(ctx, feedID, rate)
	return rate, nil
}

func (o *Oracle) fetch(ctx context.Context, feedID string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", o.baseURL, url.QueryEscape(feedID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("rate feed returned status %d", resp.StatusCode)
	}

	var payload map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode rate feed response: %w", err)
	}

	rate, ok := payload[feedID]["usd"]
	if !ok || !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("rate feed has no usable usd rate for %q", feedID)
	}
	return rate, nil
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (decimal.Decimal, bool) {
	return decimal.Decimal{}, false
}
func (noopCache) Set(context.Context, string, decimal.Decimal) {}

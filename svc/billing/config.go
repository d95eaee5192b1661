package billing

import (
	"time"

	"github.com/shoplink/cryptobill/pkg/chains"
)

// Config is the billing engine configuration. Master public keys are
// per-chain; chains without a key configured simply cannot issue invoices.
type Config struct {
	PlansFile       string        `env:"BILLING_PLANS_FILE"`                     // optional YAML catalog, defaults apply when empty
	CallbackBaseURL string        `env:"BILLING_CALLBACK_BASE_URL"`              // public prefix for block-monitor callbacks, e.g. https://host/callbacks
	QRSize          int           `env:"BILLING_QR_SIZE" envDefault:"256"`       // rendered QR code size in pixels
	SweepInterval   time.Duration `env:"BILLING_SWEEP_INTERVAL" envDefault:"1h"` // how often the billing sweep runs
	RateFeedURL     string        `env:"RATE_FEED_URL"`                          // CoinGecko-compatible base URL, library default when empty
	RateCacheTTL    time.Duration `env:"RATE_CACHE_TTL" envDefault:"60s"`        // market rate cache lifetime

	BTCXpub  string `env:"BTC_XPUB"`
	LTCXpub  string `env:"LTC_XPUB"`
	ETHXpub  string `env:"ETH_XPUB"`
	USDTXpub string `env:"USDT_XPUB"`

	BlockCypherURL   string `env:"BLOCKCYPHER_URL" envDefault:"https://api.blockcypher.com"`
	BlockCypherToken string `env:"BLOCKCYPHER_TOKEN"`
	EthereumRPCURL   string `env:"ETH_RPC_URL" envDefault:"https://cloudflare-eth.com"`
	TronscanURL      string `env:"TRONSCAN_URL" envDefault:"https://apilist.tronscanapi.com"`
}

// Keys returns the configured extended public keys per chain. Empty keys are
// omitted so the issuer fails loudly for unconfigured chains.
func (c Config) Keys() map[chains.Chain]string {
	keys := make(map[chains.Chain]string, 4)
	if c.BTCXpub != "" {
		keys[chains.BTC] = c.BTCXpub
	}
	if c.LTCXpub != "" {
		keys[chains.LTC] = c.LTCXpub
	}
	if c.ETHXpub != "" {
		keys[chains.ETH] = c.ETHXpub
	}
	if c.USDTXpub != "" {
		keys[chains.USDT] = c.USDTXpub
	}
	return keys
}

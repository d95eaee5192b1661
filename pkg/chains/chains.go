package chains

import "strings"

// Chain identifies a supported blockchain network.
type Chain string

const (
	BTC  Chain = "BTC"
	LTC  Chain = "LTC"
	ETH  Chain = "ETH"
	USDT Chain = "USDT" // TRC-20 USDT on the Tron network
)

// ConfirmationStrategy describes how a payment to an invoice address gets
// confirmed. It is chosen at issuance time and stored on the invoice so
// downstream logic never infers it from the chain again.
type ConfirmationStrategy string

const (
	// StrategyWebhook relies on a block-monitoring service calling back once
	// the transaction reaches the required depth. Polling remains available
	// as a fallback.
	StrategyWebhook ConfirmationStrategy = "webhook"
	// StrategyPoll means the engine queries the chain itself when the user
	// submits a transaction hash.
	StrategyPoll ConfirmationStrategy = "poll"
)

// Info describes one supported chain.
type Info struct {
	Chain         Chain
	Currency      string // ticker shown to users and stored on invoices
	Decimals      int32  // customary display precision for amounts
	Confirmations int    // required confirmation depth
	Strategy      ConfirmationStrategy
	FeedID        string // identifier on the market-rate feed

	xpubPrefixes []string
	encode       encodeFunc
}

// registry maps every supported chain to its capabilities. BTC-style xpub
// keys are accepted for LTC because deployments commonly configure a single
// BTC-format key; derivation then runs with BTC parameters and the result is
// re-encoded with LTC version bytes.
var registry = map[Chain]Info{
	BTC: {
		Chain:         BTC,
		Currency:      "BTC",
		Decimals:      8,
		Confirmations: 1,
		Strategy:      StrategyWebhook,
		FeedID:        "bitcoin",
		xpubPrefixes:  []string{"xpub"},
		encode:        encodeP2PKH(btcPubKeyHashVersion),
	},
	LTC: {
		Chain:         LTC,
		Currency:      "LTC",
		Decimals:      8,
		Confirmations: 2,
		Strategy:      StrategyWebhook,
		FeedID:        "litecoin",
		xpubPrefixes:  []string{"Ltub", "xpub"},
		encode:        encodeP2PKH(ltcPubKeyHashVersion),
	},
	ETH: {
		Chain:         ETH,
		Currency:      "ETH",
		Decimals:      6,
		Confirmations: 12,
		Strategy:      StrategyPoll,
		FeedID:        "ethereum",
		xpubPrefixes:  []string{"xpub"},
		encode:        encodeEthereum,
	},
	USDT: {
		Chain:         USDT,
		Currency:      "USDT",
		Decimals:      6,
		Confirmations: 20,
		Strategy:      StrategyPoll,
		FeedID:        "tether",
		xpubPrefixes:  []string{"xpub"},
		encode:        encodeTron,
	},
}

// aliases maps user-facing spellings to canonical chain identifiers.
var aliases = map[string]Chain{
	"BTC": BTC, "BITCOIN": BTC, "XBT": BTC,
	"LTC": LTC, "LITECOIN": LTC,
	"ETH": ETH, "ETHEREUM": ETH,
	"USDT": USDT, "TRON": USDT, "TRX": USDT, "USDT-TRC20": USDT,
}

// Parse normalizes a chain token (case-insensitive, aliases allowed) to a
// canonical Chain. Returns ErrUnsupportedChain for anything unknown.
func Parse(token string) (Chain, error) {
	c, ok := aliases[strings.ToUpper(strings.TrimSpace(token))]
	if !ok {
		return "", ErrUnsupportedChain
	}
	return c, nil
}

// Lookup returns the registry entry for a chain.
func Lookup(c Chain) (Info, error) {
	info, ok := registry[c]
	if !ok {
		return Info{}, ErrUnsupportedChain
	}
	return info, nil
}

// All returns the registry entries for every supported chain.
func All() []Info {
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	return out
}

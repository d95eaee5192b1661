// Package rates converts USD amounts to chain-native crypto amounts at the
// current market rate.
//
// Rates come from a CoinGecko-compatible feed and are cached for a short
// window (Redis-backed in production) so bursts of invoice issuance do not
// hammer the feed. A feed outage surfaces as ErrPriceUnavailable: issuance
// must abort rather than guess a stale rate.
package rates

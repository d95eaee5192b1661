// Package explorer queries blockchains for transaction details during
// payment verification, and registers confirmation webhooks with a
// block-monitoring service for UTXO-style chains.
//
// Each chain family has its own client (BlockCypher for BTC/LTC, an Ethereum
// JSON-RPC node for ETH, Tron HTTP API for TRC-20 USDT); Registry picks the
// right one for a chain. All clients sit behind a circuit breaker so a dead
// upstream does not stall every verification attempt.
package explorer

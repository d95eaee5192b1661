// Package chains holds the registry of supported blockchain networks and the
// deterministic receiving-address derivation used by invoice issuance.
//
// Each supported chain is described by an Info entry carrying its display
// currency, amount precision, required confirmation depth, confirmation
// strategy and address encoder. Adding a chain means adding one registry
// entry, not editing branch logic elsewhere.
//
// Derivation is pure: the same (chain, xpub, index) triple always yields the
// same address, which is what allows derivation indices to serve as natural
// idempotency keys for payment addresses.
package chains

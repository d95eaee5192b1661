// Package payment confirms cryptocurrency transactions against open
// invoices and triggers subscription activation.
//
// Two entry points converge on the same transition: HandleCallback consumes
// block-monitor webhook payloads for UTXO-style chains, ConfirmHash takes a
// user-submitted transaction reference and queries the chain directly. Both
// enforce the invoice's address, amount tolerance and confirmation depth,
// and both are idempotent for duplicate transaction hashes.
package payment

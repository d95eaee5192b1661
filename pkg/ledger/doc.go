// Package ledger owns the subscription lifecycle for merchant shops:
// activation after a verified payment, prorated tier upgrades, promo-code
// grants and the periodic expiration sweep.
//
// The shop-level state machine is active -> grace_period -> inactive, driven
// by next_payment_due and grace_period_until. Subscription rows only move
// forward (active -> expired, or active -> cancelled when superseded by an
// upgrade); a renewal always creates a new row.
//
// Every money-mutating transition executes as a single store transaction
// spanning the invoice, subscription and shop tables, so a partial failure
// can never leave an invoice paid without the shop benefiting.
package ledger

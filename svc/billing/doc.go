// Package billing composes the billing engine: it wires the invoice issuer,
// payment verifier and subscription ledger behind a Service facade and
// exposes the HTTP surface as a chi router.
//
// The package holds no business rules of its own; it translates transport
// concerns (JSON bodies, status codes, QR rendering) to and from the domain
// packages.
package billing

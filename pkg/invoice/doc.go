// Package invoice issues time-boxed cryptocurrency payment requests for
// subscription billing.
//
// Issuing an invoice allocates the next derivation index for the chain,
// derives a fresh receiving address, converts the USD price at the current
// market rate and persists the invoice with a 30-minute expiry. Index
// allocation and the invoice insert run inside one store transaction so two
// concurrent issuances can never derive the same address; allocated indices
// are never released, gaps are expected.
package invoice

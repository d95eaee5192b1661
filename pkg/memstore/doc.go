// Package memstore implements the billing store contracts in memory for
// tests and local development. Transactional operations apply all-or-nothing
// semantics so atomicity behavior matches the PostgreSQL implementation.
package memstore

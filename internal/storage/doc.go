// Package storage is the PostgreSQL persistence layer. It implements the
// store interfaces declared by pkg/invoice and pkg/ledger on top of a pgx
// connection pool, keeping every multi-row transition in a single
// transaction.
package storage

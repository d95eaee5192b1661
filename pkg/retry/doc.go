// Package retry provides backoff strategies and a small retry loop for
// transient external calls such as market-rate lookups and chain queries.
package retry

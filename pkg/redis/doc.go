// Package redis connects go-redis clients with retry and exposes a
// healthcheck helper for readiness probes.
//
// The billing engine uses Redis for the market-rate cache; this package only
// handles connectivity, the cache itself lives in pkg/rates.
package redis

package rates

import (
	"log/slog"
	"net/http"

	"github.com/shoplink/cryptobill/pkg/retry"
)

// Option configures an Oracle.
type Option func(*Oracle)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Oracle) {
		if client != nil {
			o.client = client
		}
	}
}

// WithBaseURL points the oracle at a different feed endpoint,
// typically an httptest server in tests.
func WithBaseURL(baseURL string) Option {
	return func(o *Oracle) {
		if baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

// WithCache installs a rate cache, usually the Redis-backed one.
func WithCache(cache RateCache) Option {
	return func(o *Oracle) {
		if cache != nil {
			o.cache = cache
		}
	}
}

// WithRetry overrides the retry policy for feed fetches.
func WithRetry(attempts int, backoff retry.BackoffStrategy) Option {
	return func(o *Oracle) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if backoff != nil {
			o.backoff = backoff
		}
	}
}

// WithLogger sets the logger used for fetch failures.
func WithLogger(log *slog.Logger) Option {
	return func(o *Oracle) {
		if log != nil {
			o.log = log
		}
	}
}

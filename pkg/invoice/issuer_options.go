package invoice

import (
	"log/slog"
	"time"

	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/explorer"
)

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithKeys sets the per-chain extended public keys used for derivation.
func WithKeys(keys map[chains.Chain]string) IssuerOption {
	return func(iss *Issuer) {
		for chain, xpub := range keys {
			if xpub != "" {
				iss.keys[chain] = xpub
			}
		}
	}
}

// WithHookRegistrar enables confirmation-webhook registration for
// webhook-strategy chains. callbackBase is the public URL prefix the
// monitoring service should call, e.g. "https://host/callbacks".
func WithHookRegistrar(registrar explorer.HookRegistrar, callbackBase string) IssuerOption {
	return func(iss *Issuer) {
		iss.registrar = registrar
		iss.callback = callbackBase
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) IssuerOption {
	return func(iss *Issuer) {
		if now != nil {
			iss.now = now
		}
	}
}

// WithLogger sets the issuer logger.
func WithLogger(log *slog.Logger) IssuerOption {
	return func(iss *Issuer) {
		if log != nil {
			iss.log = log
		}
	}
}

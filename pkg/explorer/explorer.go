package explorer

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/shoplink/cryptobill/pkg/chains"
)

var (
	ErrTxNotFound         = errors.New("transaction not found on chain")
	ErrNoTransferToTarget = errors.New("transaction has no transfer to the expected address")
	ErrUpstreamUnhealthy  = errors.New("chain explorer temporarily unavailable")
	ErrUnsupportedChain   = errors.New("no explorer configured for chain")
)

// Transfer is what a transaction paid to a specific address.
type Transfer struct {
	Amount        decimal.Decimal // in the chain's native display units
	Confirmations int
}

// Client looks up transactions on one chain family.
type Client interface {
	// FindTransfer returns the amount the given transaction transferred to
	// address, and the transaction's current confirmation count.
	// Returns ErrTxNotFound when the hash is unknown to the chain and
	// ErrNoTransferToTarget when the transaction pays someone else.
	FindTransfer(ctx context.Context, txHash, address string) (Transfer, error)
}

// HookRegistrar registers confirmation callbacks with a block-monitoring
// service. Only UTXO-style chains support it.
type HookRegistrar interface {
	// RegisterConfirmationHook asks the monitoring service to call
	// callbackURL once the address receives a confirmed transaction.
	// Returns the external subscription id.
	RegisterConfirmationHook(ctx context.Context, chain chains.Chain, address, callbackURL string) (string, error)
}

// Registry routes lookups to per-chain clients.
type Registry struct {
	clients map[chains.Chain]Client
}

// NewRegistry builds a Registry from explicit chain->client assignments.
func NewRegistry(clients map[chains.Chain]Client) *Registry {
	cp := make(map[chains.Chain]Client, len(clients))
	for c, cl := range clients {
		cp[c] = cl
	}
	return &Registry{clients: cp}
}

// FindTransfer delegates to the client registered for the chain.
func (r *Registry) FindTransfer(ctx context.Context, chain chains.Chain, txHash, address string) (Transfer, error) {
	client, ok := r.clients[chain]
	if !ok {
		return Transfer{}, ErrUnsupportedChain
	}
	return client.FindTransfer(ctx, txHash, address)
}

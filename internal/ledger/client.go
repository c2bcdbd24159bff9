package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"vortex-ramp/internal/model"
)

var (
	// ErrUnknownNetwork indicates no client is registered for a network.
	ErrUnknownNetwork = errors.New("ledger: unknown network")
	// ErrTxReverted indicates the chain permanently rejected the
	// transaction. Not retryable.
	ErrTxReverted = errors.New("ledger: transaction reverted")
	// ErrTxNotFound indicates the transaction is not (yet) known to the
	// chain. Retryable.
	ErrTxNotFound = errors.New("ledger: transaction not found")
)

// Client submits already-fully-specified transactions to one ledger and
// answers account queries. Implementations carry bounded timeouts.
type Client interface {
	// SubmitTransaction broadcasts a signed payload and returns its hash.
	SubmitTransaction(ctx context.Context, tx model.PresignedTx) (string, error)
	// ConfirmTransaction blocks until the transaction reaches finality or
	// the context expires.
	ConfirmTransaction(ctx context.Context, hash string) error
	// AccountNonce returns the next nonce the chain expects for an account.
	AccountNonce(ctx context.Context, address string) (uint64, error)
	// Balance returns the native balance of an account in decimal units.
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}

// Registry holds the ledger clients keyed by network. It is constructed once
// at startup and injected, so tests substitute fakes per network.
type Registry struct {
	clients map[model.Network]Client
}

// NewRegistry builds an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[model.Network]Client)}
}

// Register adds a client for a network, replacing any previous one.
func (r *Registry) Register(network model.Network, client Client) {
	r.clients[network] = client
}

// Get returns the client for a network.
func (r *Registry) Get(network model.Network) (Client, error) {
	client, ok := r.clients[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return client, nil
}

// Networks lists the registered networks.
func (r *Registry) Networks() []model.Network {
	networks := make([]model.Network, 0, len(r.clients))
	for network := range r.clients {
		networks = append(networks, network)
	}
	return networks
}

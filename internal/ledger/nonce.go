package ledger

import (
	"context"
	"fmt"
	"sync"

	"vortex-ramp/internal/model"
)

type nonceKey struct {
	network model.Network
	signer  string
}

// NonceManager serializes nonce assignment for accounts shared across
// concurrent ramps (fee collector, partner payout). One monotonic counter
// per (signer, network), seeded from the chain on first use. Per-ramp
// ephemeral accounts are exclusive and do not need this.
type NonceManager struct {
	registry *Registry

	mu   sync.Mutex
	next map[nonceKey]uint64
}

// NewNonceManager builds a nonce manager over the client registry.
func NewNonceManager(registry *Registry) *NonceManager {
	return &NonceManager{
		next:     make(map[nonceKey]uint64),
		registry: registry,
	}
}

// Next reserves and returns the next nonce for (signer, network).
func (m *NonceManager) Next(ctx context.Context, network model.Network, signer string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nonceKey{network: network, signer: signer}
	if _, ok := m.next[key]; !ok {
		client, err := m.registry.Get(network)
		if err != nil {
			return 0, err
		}
		seed, err := client.AccountNonce(ctx, signer)
		if err != nil {
			return 0, fmt.Errorf("seed nonce for %s on %s: %w", signer, network, err)
		}
		m.next[key] = seed
	}

	nonce := m.next[key]
	m.next[key] = nonce + 1
	return nonce, nil
}

// Reset drops the cached counter so the next assignment re-seeds from the
// chain. Used after a submission failure leaves a gap.
func (m *NonceManager) Reset(network model.Network, signer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.next, nonceKey{network: network, signer: signer})
}

package ramp

import (
	"context"
	"fmt"

	"vortex-ramp/internal/fees"
	"vortex-ramp/internal/model"
)

// buildUnsignedTxs authors the transaction plan for a fresh ramp: the
// collector-signed fee distribution plus templates for every phase the
// ephemeral account must sign. The ephemeral account is brand new, so its
// nonces are assigned sequentially from zero.
func (s *Service) buildUnsignedTxs(ctx context.Context, quote *model.Quote, ephemeral string) ([]model.UnsignedTx, error) {
	settlement := quote.SettlementNetwork()
	chain, ok := s.chains[settlement]
	if !ok {
		return nil, fmt.Errorf("%w: network %s is not configured", ErrValidation, settlement)
	}

	platform, partner, err := s.resolver.PayoutRouting(ctx, quote)
	if err != nil {
		return nil, fmt.Errorf("resolve payout routing: %w", err)
	}
	distribution, err := fees.BuildFeeDistribution(quote, chain, platform, partner)
	if err != nil {
		return nil, err
	}

	txs := make([]model.UnsignedTx, 0, 3)
	if distribution != nil {
		nonce, nonceErr := s.nonces.Next(ctx, settlement, s.collector)
		if nonceErr != nil {
			return nil, fmt.Errorf("reserve collector nonce: %w", nonceErr)
		}
		txs = append(txs, model.UnsignedTx{
			Network: settlement,
			Phase:   model.PhaseDistributeFees,
			Signer:  s.collector,
			Nonce:   nonce,
			TxData:  distribution.TxData,
			Meta:    map[string]string{"to": distribution.To},
		})
	}

	var ephemeralNonce uint64
	txs = append(txs, model.UnsignedTx{
		Network: settlement,
		Phase:   model.PhaseSwap,
		Signer:  ephemeral,
		Nonce:   ephemeralNonce,
		Meta:    map[string]string{"router": chain.SwapRouter},
	})
	ephemeralNonce++

	if quote.RampType == model.RampBuy {
		txs = append(txs, model.UnsignedTx{
			Network: quote.To,
			Phase:   model.PhasePayout,
			Signer:  ephemeral,
			Nonce:   ephemeralNonce,
		})
	}
	return txs, nil
}

// mergePresigned validates incoming client-signed transactions against the
// server-authored plan and merge-replaces them into the stored set, keyed by
// (phase, network, signer).
func mergePresigned(rampState *model.RampState, incoming []model.PresignedTx) ([]model.PresignedTx, error) {
	merged := make([]model.PresignedTx, len(rampState.PresignedTxs))
	copy(merged, rampState.PresignedTxs)

	for _, tx := range incoming {
		if tx.TxData == "" {
			return nil, fmt.Errorf("%w: presigned transaction for phase %s is empty", ErrValidation, tx.Phase)
		}
		if !matchesPlan(rampState, tx) {
			return nil, fmt.Errorf("%w: unexpected signer %s for phase %s on %s", ErrValidation, tx.Signer, tx.Phase, tx.Network)
		}

		replaced := false
		for i, existing := range merged {
			if existing.Phase == tx.Phase && existing.Network == tx.Network && existing.Signer == tx.Signer {
				merged[i] = tx
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, tx)
		}
	}
	return merged, nil
}

// matchesPlan reports whether a presigned transaction corresponds to a
// server-authored unsigned transaction with the same identity.
func matchesPlan(rampState *model.RampState, tx model.PresignedTx) bool {
	for _, unsigned := range rampState.UnsignedTxs {
		if unsigned.Phase == tx.Phase && unsigned.Network == tx.Network && unsigned.Signer == tx.Signer {
			return true
		}
	}
	return false
}

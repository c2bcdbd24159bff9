package fees

import (
	"fmt"
	"math/big"

	"vortex-ramp/internal/model"
)

// Deadline for fee-capture swaps. Chosen far in the future so the swap never
// fails on expiry; min-out of 1 means it never fails on slippage either.
const maxSwapDeadline = int64(9_999_999_999)

// LegKind discriminates fee distribution legs.
type LegKind string

const (
	LegTransfer LegKind = "transfer"
	LegSwap     LegKind = "swap"
)

// Leg is one value movement inside the batched fee distribution.
type Leg struct {
	Kind      LegKind
	Token     string
	To        string
	AmountRaw *big.Int
	// Swap-only fields.
	MinOut   *big.Int
	Path     []string
	Deadline int64
}

// FeeDistribution is the unsigned, batched fee transaction for one ramp. It
// is submitted later by the platform-held fee-collector signer. To is the
// multicall contract the calldata targets.
type FeeDistribution struct {
	Network model.Network
	To      string
	Legs    []Leg
	TxData  string
}

// ChainParams carries the per-chain addresses the distribution settles
// through.
type ChainParams struct {
	SettlementAsset    string
	SettlementDecimals int32
	BuybackToken       string
	SwapRouter         string
	Multicall          string
}

// BuildFeeDistribution derives the batched fee-distribution transaction from
// a quote's USD fee breakdown. Each non-zero leg converts USD to raw units
// of the settlement asset at the asset's decimal precision, rounding down.
// Returns nil when there is nothing to distribute; callers treat that as "no
// phase needed".
func BuildFeeDistribution(quote *model.Quote, chain ChainParams, platformAddress, partnerAddress string) (*FeeDistribution, error) {
	if platformAddress == "" {
		return nil, nil
	}

	networkRaw := rawUnits(quote.Fees.NetworkUSD, chain.SettlementDecimals)
	platformRaw := rawUnits(quote.Fees.PlatformUSD, chain.SettlementDecimals)
	markupRaw := rawUnits(quote.Fees.PartnerMarkupUSD, chain.SettlementDecimals)

	legs := make([]Leg, 0, 4)

	if networkRaw.Sign() > 0 {
		legs = append(legs, Leg{
			AmountRaw: networkRaw,
			Kind:      LegTransfer,
			To:        platformAddress,
			Token:     chain.SettlementAsset,
		})
	}

	if platformRaw.Sign() > 0 {
		legs = append(legs, platformLegs(quote, chain, platformAddress, platformRaw)...)
	}

	// The markup leg is omitted, not failed, when the partner has no payout
	// address on this chain.
	if markupRaw.Sign() > 0 && partnerAddress != "" {
		legs = append(legs, Leg{
			AmountRaw: markupRaw,
			Kind:      LegTransfer,
			To:        partnerAddress,
			Token:     chain.SettlementAsset,
		})
	}

	if len(legs) == 0 {
		return nil, nil
	}

	if chain.Multicall == "" {
		return nil, fmt.Errorf("fee distribution on %s: multicall address not configured", quote.SettlementNetwork())
	}

	txData, err := encodeBatch(chain, legs)
	if err != nil {
		return nil, fmt.Errorf("encode fee distribution: %w", err)
	}

	return &FeeDistribution{
		Legs:    legs,
		Network: quote.SettlementNetwork(),
		To:      chain.Multicall,
		TxData:  txData,
	}, nil
}

// platformLegs splits the platform fee into an optional buy-back swap plus
// the stablecoin remainder.
func platformLegs(quote *model.Quote, chain ChainParams, platformAddress string, platformRaw *big.Int) []Leg {
	buyback := quote.Fees.BuybackPercent
	if !buyback.IsPositive() || chain.BuybackToken == "" || chain.SwapRouter == "" {
		return []Leg{{
			AmountRaw: platformRaw,
			Kind:      LegTransfer,
			To:        platformAddress,
			Token:     chain.SettlementAsset,
		}}
	}

	swapRaw := rawShare(platformRaw, buyback)
	remainderRaw := new(big.Int).Sub(platformRaw, swapRaw)

	legs := make([]Leg, 0, 2)
	if swapRaw.Sign() > 0 {
		legs = append(legs, Leg{
			AmountRaw: swapRaw,
			Deadline:  maxSwapDeadline,
			Kind:      LegSwap,
			MinOut:    big.NewInt(1),
			Path:      []string{chain.SettlementAsset, chain.BuybackToken},
			To:        platformAddress,
			Token:     chain.SettlementAsset,
		})
	}
	if remainderRaw.Sign() > 0 {
		legs = append(legs, Leg{
			AmountRaw: remainderRaw,
			Kind:      LegTransfer,
			To:        platformAddress,
			Token:     chain.SettlementAsset,
		})
	}
	return legs
}

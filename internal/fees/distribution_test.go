package fees

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"vortex-ramp/internal/model"
)

var testChain = ChainParams{
	SettlementAsset:    "0x00000000000000000000000000000000000000aa",
	SettlementDecimals: 6,
	BuybackToken:       "0x00000000000000000000000000000000000000bb",
	SwapRouter:         "0x00000000000000000000000000000000000000cc",
	Multicall:          "0x00000000000000000000000000000000000000dd",
}

const (
	platformAddr = "0x0000000000000000000000000000000000000001"
	partnerAddr  = "0x0000000000000000000000000000000000000002"
)

func sellQuote(network, platform, markup, buyback string) *model.Quote {
	return &model.Quote{
		RampType: model.RampSell,
		From:     model.NetworkPolygon,
		To:       model.NetworkPolygon,
		Fees: model.FeeBreakdown{
			NetworkUSD:       decimal.RequireFromString(network),
			PlatformUSD:      decimal.RequireFromString(platform),
			PartnerMarkupUSD: decimal.RequireFromString(markup),
			BuybackPercent:   decimal.RequireFromString(buyback),
		},
	}
}

func TestFeeDistributionSellFourLegs(t *testing.T) {
	quote := sellQuote("1.00", "2.00", "0.50", "50")

	dist, err := BuildFeeDistribution(quote, testChain, platformAddr, partnerAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist == nil {
		t.Fatal("expected a distribution")
	}
	if len(dist.Legs) != 4 {
		t.Fatalf("expected 4 legs, got %d", len(dist.Legs))
	}

	network := dist.Legs[0]
	if network.Kind != LegTransfer || network.AmountRaw.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("network leg wrong: kind=%s amount=%s", network.Kind, network.AmountRaw)
	}
	if network.To != platformAddr {
		t.Fatalf("network fee must go to the platform, got %s", network.To)
	}

	swap := dist.Legs[1]
	if swap.Kind != LegSwap {
		t.Fatalf("second leg must be the buy-back swap, got %s", swap.Kind)
	}
	if swap.AmountRaw.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("swap amount should be half the platform fee, got %s", swap.AmountRaw)
	}
	if swap.MinOut.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("swap min-out must be 1, got %s", swap.MinOut)
	}
	if swap.Deadline != maxSwapDeadline {
		t.Fatalf("swap deadline must be the sentinel, got %d", swap.Deadline)
	}
	if len(swap.Path) != 2 || swap.Path[0] != testChain.SettlementAsset || swap.Path[1] != testChain.BuybackToken {
		t.Fatalf("swap path wrong: %v", swap.Path)
	}

	remainder := dist.Legs[2]
	if remainder.Kind != LegTransfer || remainder.AmountRaw.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("remainder leg wrong: kind=%s amount=%s", remainder.Kind, remainder.AmountRaw)
	}

	partner := dist.Legs[3]
	if partner.To != partnerAddr || partner.AmountRaw.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("partner leg wrong: to=%s amount=%s", partner.To, partner.AmountRaw)
	}

	if dist.Network != model.NetworkPolygon {
		t.Fatalf("SELL must settle on the source chain, got %s", dist.Network)
	}
	if dist.To != testChain.Multicall {
		t.Fatalf("the batch must target the multicall contract, got %s", dist.To)
	}
	if dist.TxData == "" {
		t.Fatal("expected encoded calldata")
	}
}

func TestFeeDistributionOmitsPartnerLegWithoutAddress(t *testing.T) {
	quote := sellQuote("1.00", "2.00", "0.50", "0")

	dist, err := BuildFeeDistribution(quote, testChain, platformAddr, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dist.Legs) != 2 {
		t.Fatalf("expected network + platform legs only, got %d", len(dist.Legs))
	}
	for _, leg := range dist.Legs {
		if leg.To != platformAddr {
			t.Fatalf("unexpected recipient %s", leg.To)
		}
	}
}

func TestFeeDistributionNilWhenNothingToDistribute(t *testing.T) {
	quote := sellQuote("0", "0", "0", "50")

	dist, err := BuildFeeDistribution(quote, testChain, platformAddr, partnerAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist != nil {
		t.Fatalf("all-zero fees must yield no distribution, got %d legs", len(dist.Legs))
	}

	dist, err = BuildFeeDistribution(sellQuote("1.00", "2.00", "0.50", "50"), testChain, "", partnerAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dist != nil {
		t.Fatal("missing platform address must yield no distribution")
	}
}

func TestFeeDistributionRoundsDown(t *testing.T) {
	quote := sellQuote("0.0000019", "0", "0", "0")

	dist, err := BuildFeeDistribution(quote, testChain, platformAddr, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dist.Legs) != 1 {
		t.Fatalf("expected one leg, got %d", len(dist.Legs))
	}
	if dist.Legs[0].AmountRaw.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("sub-unit USD must round down to 1 raw unit, got %s", dist.Legs[0].AmountRaw)
	}
}

func TestFeeDistributionNoSwapWithoutRouter(t *testing.T) {
	chain := testChain
	chain.SwapRouter = ""
	quote := sellQuote("0", "2.00", "0", "50")

	dist, err := BuildFeeDistribution(quote, chain, platformAddr, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dist.Legs) != 1 || dist.Legs[0].Kind != LegTransfer {
		t.Fatalf("without a router the platform fee must be a plain transfer, got %+v", dist.Legs)
	}
	if dist.Legs[0].AmountRaw.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("full platform fee expected, got %s", dist.Legs[0].AmountRaw)
	}
}

func TestFeeDistributionRequiresMulticall(t *testing.T) {
	chain := testChain
	chain.Multicall = ""

	_, err := BuildFeeDistribution(sellQuote("1.00", "2.00", "0", "0"), chain, platformAddr, "")
	if err == nil {
		t.Fatal("a chain without a multicall address cannot batch fees")
	}
}

func TestFeeDistributionDeterministic(t *testing.T) {
	quote := sellQuote("1.00", "2.00", "0.50", "50")

	first, err := BuildFeeDistribution(quote, testChain, platformAddr, partnerAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := BuildFeeDistribution(quote, testChain, platformAddr, partnerAddr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.TxData != second.TxData {
		t.Fatal("identical inputs must encode to identical calldata")
	}
}

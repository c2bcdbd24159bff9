package app

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"vortex-ramp/internal/fees"
	"vortex-ramp/internal/model"
)

// SimulateFeesOptions describe a synthetic quote for a codec dry-run.
type SimulateFeesOptions struct {
	Network        string
	NetworkUSD     decimal.Decimal
	PlatformUSD    decimal.Decimal
	MarkupUSD      decimal.Decimal
	BuybackPercent decimal.Decimal
	PlatformAddr   string
	PartnerAddr    string
}

// SimulateFees builds the fee distribution for a synthetic quote and prints
// the resulting legs. No database or chain access.
func (a *App) SimulateFees(opts SimulateFeesOptions) error {
	chainCfg, ok := a.Config.Chains[opts.Network]
	if !ok {
		return fmt.Errorf("network %s is not configured", opts.Network)
	}
	if opts.PlatformAddr == "" {
		return errors.New("--platform-address is required")
	}

	quote := &model.Quote{
		RampType: model.RampSell,
		From:     model.Network(opts.Network),
		Fees: model.FeeBreakdown{
			NetworkUSD:       opts.NetworkUSD,
			PlatformUSD:      opts.PlatformUSD,
			PartnerMarkupUSD: opts.MarkupUSD,
			BuybackPercent:   opts.BuybackPercent,
		},
	}
	chain := fees.ChainParams{
		SettlementAsset:    chainCfg.SettlementAsset,
		SettlementDecimals: chainCfg.SettlementDecimals,
		BuybackToken:       chainCfg.BuybackToken,
		SwapRouter:         chainCfg.SwapRouter,
		Multicall:          chainCfg.Multicall,
	}

	distribution, err := fees.BuildFeeDistribution(quote, chain, opts.PlatformAddr, opts.PartnerAddr)
	if err != nil {
		return err
	}
	if distribution == nil {
		fmt.Fprintln(os.Stdout, "no legs: nothing to distribute")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Kind\tToken\tTo\tAmount (raw)\tMinOut")
	for _, leg := range distribution.Legs {
		minOut := ""
		if leg.MinOut != nil {
			minOut = leg.MinOut.String()
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", leg.Kind, leg.Token, leg.To, leg.AmountRaw.String(), minOut)
	}
	writer.Flush()

	fmt.Fprintf(os.Stdout, "target: %s\n", distribution.To)
	fmt.Fprintf(os.Stdout, "calldata: %d bytes\n", (len(distribution.TxData)-2)/2)
	return nil
}

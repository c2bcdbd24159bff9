package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"vortex-ramp/internal/app"
)

var (
	simNetwork      string
	simNetworkUSD   float64
	simPlatformUSD  float64
	simMarkupUSD    float64
	simBuybackPct   float64
	simPlatformAddr string
	simPartnerAddr  string
)

var simulateFeesCmd = &cobra.Command{
	Use:   "simulate-fees",
	Short: "Build and print the fee distribution for a synthetic quote",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simNetwork == "" {
			return errors.New("--network is required")
		}

		opts := app.SimulateFeesOptions{
			Network:        simNetwork,
			NetworkUSD:     decimal.NewFromFloat(simNetworkUSD),
			PlatformUSD:    decimal.NewFromFloat(simPlatformUSD),
			MarkupUSD:      decimal.NewFromFloat(simMarkupUSD),
			BuybackPercent: decimal.NewFromFloat(simBuybackPct),
			PlatformAddr:   simPlatformAddr,
			PartnerAddr:    simPartnerAddr,
		}
		return getApp().SimulateFees(opts)
	},
}

func init() {
	simulateFeesCmd.Flags().StringVar(&simNetwork, "network", "", "Settlement network name")
	simulateFeesCmd.Flags().Float64Var(&simNetworkUSD, "network-fee", 0, "Network fee in USD")
	simulateFeesCmd.Flags().Float64Var(&simPlatformUSD, "platform-fee", 0, "Platform fee in USD")
	simulateFeesCmd.Flags().Float64Var(&simMarkupUSD, "markup-fee", 0, "Partner markup in USD")
	simulateFeesCmd.Flags().Float64Var(&simBuybackPct, "buyback-percent", 0, "Buy-back share of the platform fee, 0-100")
	simulateFeesCmd.Flags().StringVar(&simPlatformAddr, "platform-address", "", "Platform payout address")
	simulateFeesCmd.Flags().StringVar(&simPartnerAddr, "partner-address", "", "Partner payout address (optional)")
}

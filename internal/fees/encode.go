package fees

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	erc20ABIJSON = `[{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

	routerABIJSON = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}]`

	multicallABIJSON = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Multicall.Call[]","name":"calls","type":"tuple[]"}],"name":"aggregate","outputs":[{"internalType":"uint256","name":"blockNumber","type":"uint256"},{"internalType":"bytes[]","name":"returnData","type":"bytes[]"}],"stateMutability":"nonpayable","type":"function"}]`
)

var (
	erc20ABI     abi.ABI
	routerABI    abi.ABI
	multicallABI abi.ABI
)

func init() {
	var err error
	if erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON)); err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	if routerABI, err = abi.JSON(strings.NewReader(routerABIJSON)); err != nil {
		panic("failed to parse router ABI: " + err.Error())
	}
	if multicallABI, err = abi.JSON(strings.NewReader(multicallABIJSON)); err != nil {
		panic("failed to parse multicall ABI: " + err.Error())
	}
}

type multicallCall struct {
	Target   common.Address
	CallData []byte
}

// encodeBatch packs every leg into calldata and wraps them in one multicall
// aggregate, so the whole distribution lands atomically.
func encodeBatch(chain ChainParams, legs []Leg) (string, error) {
	calls := make([]multicallCall, 0, len(legs))

	for _, leg := range legs {
		switch leg.Kind {
		case LegTransfer:
			data, err := erc20ABI.Pack("transfer", common.HexToAddress(leg.To), leg.AmountRaw)
			if err != nil {
				return "", fmt.Errorf("pack transfer leg: %w", err)
			}
			calls = append(calls, multicallCall{CallData: data, Target: common.HexToAddress(leg.Token)})

		case LegSwap:
			path := make([]common.Address, len(leg.Path))
			for i, hop := range leg.Path {
				path[i] = common.HexToAddress(hop)
			}
			data, err := routerABI.Pack("swapExactTokensForTokens",
				leg.AmountRaw,
				leg.MinOut,
				path,
				common.HexToAddress(leg.To),
				big.NewInt(leg.Deadline),
			)
			if err != nil {
				return "", fmt.Errorf("pack swap leg: %w", err)
			}
			calls = append(calls, multicallCall{CallData: data, Target: common.HexToAddress(chain.SwapRouter)})

		default:
			return "", fmt.Errorf("unknown leg kind %q", leg.Kind)
		}
	}

	batch, err := multicallABI.Pack("aggregate", calls)
	if err != nil {
		return "", fmt.Errorf("pack aggregate: %w", err)
	}

	return "0x" + hex.EncodeToString(batch), nil
}

// rawUnits converts a USD amount into raw units of an asset with the given
// decimal precision, rounding down so fees are never over-paid.
func rawUnits(usd decimal.Decimal, decimals int32) *big.Int {
	if usd.Sign() <= 0 {
		return big.NewInt(0)
	}
	return usd.Shift(decimals).BigInt()
}

// rawShare takes a percentage of a raw amount, rounding down.
func rawShare(amount *big.Int, percent decimal.Decimal) *big.Int {
	return decimal.NewFromBigInt(amount, 0).
		Mul(percent).
		Div(decimal.NewFromInt(100)).
		BigInt()
}

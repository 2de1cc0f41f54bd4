package analyzer

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pauseguard/pauseguard/internal/core"
)

// FactorType names a single heuristic signal.
type FactorType string

const (
	FactorLargeTransfer     FactorType = "LARGE_TRANSFER"
	FactorVeryLargeTransfer FactorType = "VERY_LARGE_TRANSFER"
	FactorHighGas           FactorType = "HIGH_GAS"
	FactorVeryHighGas       FactorType = "VERY_HIGH_GAS"
	FactorFlashLoan         FactorType = "FLASH_LOAN"
	FactorMultipleTransfers FactorType = "MULTIPLE_TRANSFERS"
	FactorMassTransfer      FactorType = "MASS_TRANSFER"
	FactorReentrancy        FactorType = "REENTRANCY_PATTERN"
	FactorKnownAttacker     FactorType = "KNOWN_ATTACKER"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), shared by
// ERC-20 and ERC-721.
var TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// DefaultFlashLoanSelectors are 4-byte selectors of common flash-loan entry points.
var DefaultFlashLoanSelectors = []string{
	"0xab9c4b5d", // Aave V2/V3 flashLoan
	"0x42b0b77c", // Aave V3 flashLoanSimple
	"0x5c38449e", // Balancer Vault flashLoan
	"0x490e6cbc", // Uniswap V3 flash
	"0xa67a6a45", // dYdX SoloMargin operate
}

// Weights assigns a score contribution to each factor.
type Weights map[FactorType]int

// DefaultWeights returns the reference weights.
func DefaultWeights() Weights {
	return Weights{
		FactorLargeTransfer:     25,
		FactorVeryLargeTransfer: 50,
		FactorHighGas:           15,
		FactorVeryHighGas:       25,
		FactorFlashLoan:         40,
		FactorMultipleTransfers: 20,
		FactorMassTransfer:      50,
		FactorReentrancy:        35,
		FactorKnownAttacker:     100,
	}
}

// Thresholds are the trigger conditions of the tiered factors.
type Thresholds struct {
	LargeValue         *big.Int
	VeryLargeValue     *big.Int
	HighGas            uint64
	VeryHighGas        uint64
	MultipleTransfers  int
	MassTransfers      int
	ReentrancyLogs     int
	FlashLoanSelectors map[[4]byte]struct{}
}

// DefaultThresholds returns the reference trigger thresholds.
func DefaultThresholds() Thresholds {
	cfg := core.DefaultConfig().Analyzer
	return thresholdsFromConfig(cfg)
}

func thresholdsFromConfig(cfg core.AnalyzerConfig) Thresholds {
	selectors := cfg.FlashLoanSelectors
	if len(selectors) == 0 {
		selectors = DefaultFlashLoanSelectors
	}
	return Thresholds{
		LargeValue:         EtherToWei(cfg.LargeValue),
		VeryLargeValue:     EtherToWei(cfg.VeryLargeValue),
		HighGas:            cfg.HighGas,
		VeryHighGas:        cfg.VeryHighGas,
		MultipleTransfers:  cfg.MultipleTransfers,
		MassTransfers:      cfg.MassTransfers,
		ReentrancyLogs:     cfg.ReentrancyLogs,
		FlashLoanSelectors: parseSelectors(selectors),
	}
}

func weightsFromConfig(overrides map[string]int) Weights {
	w := DefaultWeights()
	for name, v := range overrides {
		w[FactorType(strings.ToUpper(name))] = v
	}
	return w
}

func parseSelectors(in []string) map[[4]byte]struct{} {
	out := make(map[[4]byte]struct{}, len(in))
	for _, s := range in {
		b := common.FromHex(s)
		if len(b) != 4 {
			continue
		}
		var sel [4]byte
		copy(sel[:], b)
		out[sel] = struct{}{}
	}
	return out
}

var weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// EtherToWei converts a native-unit amount to wei.
func EtherToWei(units float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(units), weiPerEther)
	wei, _ := f.Int(nil)
	return wei
}

// WeiToEther formats a wei amount as a decimal native-unit string.
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)
	return f.Text('f', 6)
}

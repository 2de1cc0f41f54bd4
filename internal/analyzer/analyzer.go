// Package analyzer scores individual transactions for exploit likelihood
// using additive weighted heuristics.
package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/decision"
)

// Transaction is the subset of an on-chain transaction the heuristics read.
type Transaction struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	Value       *big.Int
	Data        []byte
	BlockNumber uint64
	DetectedAt  time.Time
}

// Receipt carries post-execution data. A nil *Receipt means it was unavailable.
type Receipt struct {
	GasUsed uint64
	Status  uint64
	Logs    []*types.Log
}

// ReceiptFrom converts a go-ethereum receipt.
func ReceiptFrom(r *types.Receipt) *Receipt {
	if r == nil {
		return nil
	}
	return &Receipt{GasUsed: r.GasUsed, Status: r.Status, Logs: r.Logs}
}

// ContractContext identifies the protected contract the transaction touched.
type ContractContext struct {
	Address common.Address
	Label   string
}

// Factor is one triggered heuristic.
type Factor struct {
	Type        FactorType `json:"type"`
	Weight      int        `json:"weight"`
	Description string     `json:"description"`
	Evidence    string     `json:"evidence,omitempty"`
}

// FraudAnalysis is the scored verdict for one transaction.
type FraudAnalysis struct {
	Score             int                 `json:"score"`
	Level             core.ThreatLevel    `json:"level"`
	Factors           []Factor            `json:"factors"`
	RecommendedAction core.ResponseAction `json:"recommendedAction"`
	Confidence        float64             `json:"confidence"`
	Timestamp         time.Time           `json:"timestamp"`
	Emit              bool                `json:"emit"`
}

// FactorNames returns the factor types in trigger order.
func (fa FraudAnalysis) FactorNames() []string {
	out := make([]string, len(fa.Factors))
	for i, f := range fa.Factors {
		out[i] = string(f.Type)
	}
	return out
}

// Event builds the ThreatEvent that records this analysis.
func (fa FraudAnalysis) Event(tx Transaction, cc ContractContext) core.ThreatEvent {
	descs := make([]string, len(fa.Factors))
	for i, f := range fa.Factors {
		descs[i] = f.Description
	}
	details := "no heuristics triggered"
	if len(descs) > 0 {
		details = strings.Join(descs, "; ")
	}
	var value string
	if tx.Value != nil && tx.Value.Sign() > 0 {
		value = WeiToEther(tx.Value)
	}
	return core.ThreatEvent{
		ID:               core.EventID(tx.Hash.Hex(), fa.Timestamp),
		Timestamp:        fa.Timestamp.UnixMilli(),
		Level:            fa.Level,
		ContractAddress:  core.NormalizeAddress(cc.Address.Hex()),
		TransactionHash:  strings.ToLower(tx.Hash.Hex()),
		OriginAddress:    core.NormalizeAddress(tx.From.Hex()),
		Details:          details,
		Confidence:       fa.Confidence,
		ActionTaken:      core.ActionNone,
		ValueTransferred: value,
		Origin:           core.OriginChain,
		Score:            fa.Score,
		Factors:          fa.FactorNames(),
	}
}

// Scorer is an optional collaborator that may contribute extra factors,
// such as an off-chain model. Its errors never fail an analysis.
type Scorer interface {
	Score(ctx context.Context, tx Transaction, receipt *Receipt, cc ContractContext) ([]Factor, error)
}

// Analyzer applies the heuristics. It is safe for concurrent use.
type Analyzer struct {
	weights    Weights
	thresholds Thresholds
	policy     decision.Policy
	attackers  *AttackerSet
	scorer     Scorer
	logger     zerolog.Logger
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithScorer attaches a remote scorer.
func WithScorer(s Scorer) Option {
	return func(a *Analyzer) { a.scorer = s }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an analyzer. attackers may be nil.
func New(weights Weights, thresholds Thresholds, policy decision.Policy, attackers *AttackerSet, logger zerolog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		weights:    weights,
		thresholds: thresholds,
		policy:     policy,
		attackers:  attackers,
		logger:     logger.With().Str("component", "analyzer").Logger(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// FromConfig builds an analyzer from the analyzer config section.
func FromConfig(cfg core.AnalyzerConfig, policy decision.Policy, attackers *AttackerSet, logger zerolog.Logger, opts ...Option) *Analyzer {
	return New(weightsFromConfig(cfg.Weights), thresholdsFromConfig(cfg), policy, attackers, logger, opts...)
}

// Policy returns the decision policy in use.
func (a *Analyzer) Policy() decision.Policy { return a.policy }

// Analyze scores tx using only local data. It never fails: missing receipt or
// logs simply leave the dependent factors untriggered.
func (a *Analyzer) Analyze(tx Transaction, receipt *Receipt, cc ContractContext) FraudAnalysis {
	return a.finish(a.localFactors(tx, receipt, cc), tx)
}

// Evaluate is Analyze plus any factors the remote scorer contributes.
func (a *Analyzer) Evaluate(ctx context.Context, tx Transaction, receipt *Receipt, cc ContractContext) FraudAnalysis {
	factors := a.localFactors(tx, receipt, cc)
	if a.scorer != nil {
		extra, err := a.scorer.Score(ctx, tx, receipt, cc)
		if err != nil {
			a.logger.Warn().Err(err).Str("tx", tx.Hash.Hex()).Msg("remote scorer failed, using local heuristics only")
		} else {
			factors = append(factors, extra...)
		}
	}
	return a.finish(factors, tx)
}

func (a *Analyzer) finish(factors []Factor, tx Transaction) FraudAnalysis {
	raw := 0
	for _, f := range factors {
		raw += f.Weight
	}
	score := decision.Clamp(raw)
	out := a.policy.Decide(score)

	ts := tx.DetectedAt
	if ts.IsZero() {
		ts = a.now()
	}
	return FraudAnalysis{
		Score:             score,
		Level:             out.Level,
		Factors:           factors,
		RecommendedAction: out.Action,
		Confidence:        Confidence(len(factors)),
		Timestamp:         ts.UTC(),
		Emit:              out.Emit,
	}
}

// Confidence grows with the number of independent factors and never reaches 1.
func Confidence(n int) float64 {
	c := 0.5 + 0.15*float64(n)
	if c > 0.99 {
		return 0.99
	}
	return c
}

func (a *Analyzer) localFactors(tx Transaction, receipt *Receipt, cc ContractContext) []Factor {
	var factors []Factor
	add := func(t FactorType, desc, evidence string) {
		factors = append(factors, Factor{Type: t, Weight: a.weights[t], Description: desc, Evidence: evidence})
	}

	if tx.Value != nil {
		switch {
		case tx.Value.Cmp(a.thresholds.VeryLargeValue) > 0:
			add(FactorVeryLargeTransfer, "very large value transfer", WeiToEther(tx.Value))
		case tx.Value.Cmp(a.thresholds.LargeValue) > 0:
			add(FactorLargeTransfer, "large value transfer", WeiToEther(tx.Value))
		}
	}

	if receipt != nil {
		switch {
		case receipt.GasUsed > a.thresholds.VeryHighGas:
			add(FactorVeryHighGas, "very high gas usage", fmt.Sprintf("%d", receipt.GasUsed))
		case receipt.GasUsed > a.thresholds.HighGas:
			add(FactorHighGas, "high gas usage", fmt.Sprintf("%d", receipt.GasUsed))
		}
	}

	if len(tx.Data) >= 4 {
		var sel [4]byte
		copy(sel[:], tx.Data[:4])
		if _, ok := a.thresholds.FlashLoanSelectors[sel]; ok {
			add(FactorFlashLoan, "flash loan entry point called", common.Bytes2Hex(sel[:]))
		}
	}

	if receipt != nil {
		transfers, fromTarget := countLogs(receipt.Logs, tx.To)
		switch {
		case transfers > a.thresholds.MassTransfers:
			add(FactorMassTransfer, "mass token transfers", fmt.Sprintf("%d transfer logs", transfers))
		case transfers > a.thresholds.MultipleTransfers:
			add(FactorMultipleTransfers, "multiple token transfers", fmt.Sprintf("%d transfer logs", transfers))
		}
		if fromTarget > a.thresholds.ReentrancyLogs {
			add(FactorReentrancy, "repeated events from target contract", fmt.Sprintf("%d logs", fromTarget))
		}
	}

	if a.attackers.Contains(tx.From) {
		add(FactorKnownAttacker, "sender is a known attacker", tx.From.Hex())
	}

	return factors
}

// countLogs returns the number of Transfer logs and the number of logs emitted
// by the transaction's target.
func countLogs(logs []*types.Log, target *common.Address) (transfers, fromTarget int) {
	for _, l := range logs {
		if l == nil {
			continue
		}
		if len(l.Topics) > 0 && bytes.Equal(l.Topics[0].Bytes(), TransferTopic.Bytes()) {
			transfers++
		}
		if target != nil && l.Address == *target {
			fromTarget++
		}
	}
	return transfers, fromTarget
}

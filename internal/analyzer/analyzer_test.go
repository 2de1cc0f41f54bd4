package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/decision"
)

var (
	target   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	sender   = common.HexToAddress("0x2000000000000000000000000000000000000002")
	tokenOne = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func newTestAnalyzer(attackers *AttackerSet, opts ...Option) *Analyzer {
	return New(DefaultWeights(), DefaultThresholds(), decision.Standard(), attackers, zerolog.Nop(), opts...)
}

func transferLogs(n int, from common.Address) []*types.Log {
	logs := make([]*types.Log, n)
	for i := range logs {
		logs[i] = &types.Log{Address: from, Topics: []common.Hash{TransferTopic}}
	}
	return logs
}

func tx(value float64) Transaction {
	to := target
	return Transaction{
		Hash:       common.HexToHash("0xabc"),
		From:       sender,
		To:         &to,
		Value:      EtherToWei(value),
		DetectedAt: time.UnixMilli(1_700_000_000_000),
	}
}

func hasFactor(fa FraudAnalysis, t FactorType) bool {
	for _, f := range fa.Factors {
		if f.Type == t {
			return true
		}
	}
	return false
}

// ─── Reference scenarios ─────────────────────────────────────────────────────

func TestAnalyze_ExploitLikeTransactionPauses(t *testing.T) {
	a := newTestAnalyzer(NewAttackerSet(10))
	receipt := &Receipt{GasUsed: 6_000_000, Logs: transferLogs(12, tokenOne)}

	fa := a.Analyze(tx(600), receipt, ContractContext{Address: target})

	for _, want := range []FactorType{FactorVeryLargeTransfer, FactorVeryHighGas, FactorMassTransfer} {
		if !hasFactor(fa, want) {
			t.Errorf("missing factor %s in %v", want, fa.FactorNames())
		}
	}
	if len(fa.Factors) != 3 {
		t.Errorf("factors = %v, want exactly 3", fa.FactorNames())
	}
	if fa.Score != 100 {
		t.Errorf("score = %d, want 100 (clamped from 125)", fa.Score)
	}
	if fa.Level != core.LevelCritical || fa.RecommendedAction != core.ResponsePause {
		t.Errorf("got %s/%s, want CRITICAL/PAUSE", fa.Level, fa.RecommendedAction)
	}
	if !fa.Emit {
		t.Error("expected event to be emitted")
	}
}

func TestAnalyze_ModestTransferEmitsNothing(t *testing.T) {
	a := newTestAnalyzer(NewAttackerSet(10))
	receipt := &Receipt{GasUsed: 200_000, Logs: transferLogs(1, tokenOne)}

	fa := a.Analyze(tx(60), receipt, ContractContext{Address: target})

	if len(fa.Factors) != 1 || fa.Factors[0].Type != FactorLargeTransfer {
		t.Fatalf("factors = %v, want [LARGE_TRANSFER]", fa.FactorNames())
	}
	if fa.Score != 25 {
		t.Errorf("score = %d, want 25", fa.Score)
	}
	if fa.Emit {
		t.Error("score below LOW must not emit")
	}
}

func TestAnalyze_KnownAttackerAlone(t *testing.T) {
	attackers := NewAttackerSet(10)
	attackers.Add(sender)
	a := newTestAnalyzer(attackers)

	fa := a.Analyze(tx(0), nil, ContractContext{Address: target})

	if len(fa.Factors) != 1 || fa.Factors[0].Type != FactorKnownAttacker {
		t.Fatalf("factors = %v, want [KNOWN_ATTACKER]", fa.FactorNames())
	}
	if fa.Score != 100 || fa.Level != core.LevelCritical || fa.RecommendedAction != core.ResponsePause {
		t.Errorf("got score=%d %s/%s", fa.Score, fa.Level, fa.RecommendedAction)
	}
}

// ─── Heuristics ──────────────────────────────────────────────────────────────

func TestAnalyze_TiersAreExclusive(t *testing.T) {
	a := newTestAnalyzer(nil)
	receipt := &Receipt{GasUsed: 2_000_000, Logs: transferLogs(5, tokenOne)}

	fa := a.Analyze(tx(600), receipt, ContractContext{Address: target})

	if hasFactor(fa, FactorLargeTransfer) {
		t.Error("LARGE_TRANSFER must not accompany VERY_LARGE_TRANSFER")
	}
	if !hasFactor(fa, FactorHighGas) || hasFactor(fa, FactorVeryHighGas) {
		t.Errorf("gas factors = %v, want HIGH_GAS only", fa.FactorNames())
	}
	if !hasFactor(fa, FactorMultipleTransfers) || hasFactor(fa, FactorMassTransfer) {
		t.Errorf("transfer factors = %v, want MULTIPLE_TRANSFERS only", fa.FactorNames())
	}
}

func TestAnalyze_FlashLoanSelector(t *testing.T) {
	a := newTestAnalyzer(nil)
	in := tx(0)
	in.Data = append(common.FromHex("0xab9c4b5d"), make([]byte, 64)...)

	fa := a.Analyze(in, nil, ContractContext{Address: target})
	if !hasFactor(fa, FactorFlashLoan) {
		t.Errorf("factors = %v, want FLASH_LOAN", fa.FactorNames())
	}
}

func TestAnalyze_ReentrancyCountsTargetLogsOnly(t *testing.T) {
	a := newTestAnalyzer(nil)
	logs := []*types.Log{}
	for i := 0; i < 6; i++ {
		logs = append(logs, &types.Log{Address: target, Topics: []common.Hash{common.HexToHash("0x01")}})
	}
	fa := a.Analyze(tx(0), &Receipt{Logs: logs}, ContractContext{Address: target})
	if !hasFactor(fa, FactorReentrancy) {
		t.Errorf("factors = %v, want REENTRANCY_PATTERN", fa.FactorNames())
	}

	fa = a.Analyze(tx(0), &Receipt{Logs: transferLogs(6, tokenOne)}, ContractContext{Address: target})
	if hasFactor(fa, FactorReentrancy) {
		t.Error("logs from other contracts must not count as reentrancy")
	}
}

func TestAnalyze_MissingReceiptSkipsGas(t *testing.T) {
	a := newTestAnalyzer(nil)
	in := tx(0)

	without := a.Analyze(in, nil, ContractContext{Address: target})
	with := a.Analyze(in, &Receipt{GasUsed: 21_000}, ContractContext{Address: target})

	if len(without.Factors) != 0 {
		t.Errorf("factors without receipt = %v, want none", without.FactorNames())
	}
	if without.Score > with.Score {
		t.Errorf("missing data scored higher (%d) than present data (%d)", without.Score, with.Score)
	}
}

func TestAnalyze_WeightsOverride(t *testing.T) {
	cfg := core.DefaultConfig().Analyzer
	cfg.Weights = map[string]int{"large_transfer": 40}
	a := FromConfig(cfg, decision.Standard(), nil, zerolog.Nop())

	fa := a.Analyze(tx(60), nil, ContractContext{Address: target})
	if fa.Score != 40 {
		t.Errorf("score = %d, want 40 with overridden weight", fa.Score)
	}
}

func TestConfidence_MonotonicAndBounded(t *testing.T) {
	prev := Confidence(0)
	if prev != 0.5 {
		t.Errorf("Confidence(0) = %v, want 0.5", prev)
	}
	for n := 1; n <= 10; n++ {
		c := Confidence(n)
		if c < prev {
			t.Fatalf("confidence decreased at n=%d", n)
		}
		if c > 0.99 {
			t.Fatalf("Confidence(%d) = %v exceeds 0.99", n, c)
		}
		prev = c
	}
}

func TestAnalysis_Event(t *testing.T) {
	a := newTestAnalyzer(nil)
	in := tx(600)
	fa := a.Analyze(in, &Receipt{GasUsed: 6_000_000, Logs: transferLogs(12, tokenOne)}, ContractContext{Address: target})

	ev := fa.Event(in, ContractContext{Address: target})
	if ev.ID != core.EventID(in.Hash.Hex(), in.DetectedAt) {
		t.Errorf("id = %s", ev.ID)
	}
	if ev.Origin != core.OriginChain || ev.ActionTaken != core.ActionNone {
		t.Errorf("origin/action = %s/%s", ev.Origin, ev.ActionTaken)
	}
	if ev.ValueTransferred != "600.000000" {
		t.Errorf("value = %q", ev.ValueTransferred)
	}
	if ev.Score != 100 || len(ev.Factors) != 3 {
		t.Errorf("score=%d factors=%v", ev.Score, ev.Factors)
	}
}

// ─── Attacker set ────────────────────────────────────────────────────────────

func TestAttackerSet_Bounded(t *testing.T) {
	s := NewAttackerSet(2)
	a1 := common.HexToAddress("0x01")
	a2 := common.HexToAddress("0x02")
	a3 := common.HexToAddress("0x03")
	s.Add(a1, a2, a3)

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if s.Contains(a1) {
		t.Error("oldest entry should have been evicted")
	}
	if !s.Contains(a3) {
		t.Error("newest entry missing")
	}
	s.Add(common.Address{})
	if s.Len() != 2 {
		t.Error("zero address must be ignored")
	}
}

// ─── Remote scorer ───────────────────────────────────────────────────────────

type failingScorer struct{}

func (failingScorer) Score(context.Context, Transaction, *Receipt, ContractContext) ([]Factor, error) {
	return nil, errors.New("unavailable")
}

func TestEvaluate_ScorerFailureIgnored(t *testing.T) {
	a := newTestAnalyzer(nil, WithScorer(failingScorer{}))
	fa := a.Evaluate(context.Background(), tx(60), nil, ContractContext{Address: target})
	if fa.Score != 25 {
		t.Errorf("score = %d, want local-only 25", fa.Score)
	}
}

func TestRemoteScorer_AddsFactors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(scoreResponse{Factors: []Factor{
			{Type: "MODEL_SUSPICION", Weight: 80, Description: "model flagged price manipulation"},
		}})
	}))
	defer srv.Close()

	scorer := NewRemoteScorer(srv.URL, time.Second, zerolog.Nop())
	a := newTestAnalyzer(nil, WithScorer(scorer))

	fa := a.Evaluate(context.Background(), tx(60), nil, ContractContext{Address: target})
	if !hasFactor(fa, "MODEL_SUSPICION") {
		t.Fatalf("factors = %v", fa.FactorNames())
	}
	// 25 local + remote weight capped at 50
	if fa.Score != 75 {
		t.Errorf("score = %d, want 75", fa.Score)
	}
}

func TestRemoteScorer_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	scorer := NewRemoteScorer(srv.URL, time.Second, zerolog.Nop())
	if _, err := scorer.Score(context.Background(), tx(1), nil, ContractContext{}); err == nil {
		t.Error("expected error on HTTP 500")
	}
}

func TestEtherConversion(t *testing.T) {
	if got := EtherToWei(1); got.Cmp(big.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Errorf("EtherToWei(1) = %s", got)
	}
	if got := WeiToEther(nil); got != "0" {
		t.Errorf("WeiToEther(nil) = %s", got)
	}
}

package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/analyzer"
	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/decision"
	"github.com/pauseguard/pauseguard/internal/journal"
	"github.com/pauseguard/pauseguard/internal/metrics"
)

// ThreatRecorder receives per-contract risk updates. *lifecycle.Registry
// satisfies it.
type ThreatRecorder interface {
	RecordThreat(addr common.Address, score int, at time.Time)
}

// Pipeline carries a transaction or an inbound threat event through scoring,
// the journal and the response decision.
type Pipeline struct {
	analyzer  *analyzer.Analyzer
	policy    decision.Policy
	journal   *journal.Journal
	responder *Responder
	threats   ThreatRecorder
	notifier  *core.Notifier
	logger    zerolog.Logger

	// pauses is nil until StartPauseWorker runs; pauses then execute inline.
	pauses chan pauseJob
	wg     sync.WaitGroup
}

type pauseJob struct {
	ev       core.ThreatEvent
	attacker common.Address
}

// NewPipeline wires the stages together. threats and notifier may be nil.
func NewPipeline(a *analyzer.Analyzer, j *journal.Journal, r *Responder, threats ThreatRecorder, notifier *core.Notifier, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		analyzer:  a,
		policy:    a.Policy(),
		journal:   j,
		responder: r,
		threats:   threats,
		notifier:  notifier,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// HandleTransaction scores one transaction sent to a watched contract. It is
// the chain watcher's handler.
func (p *Pipeline) HandleTransaction(ctx context.Context, tx analyzer.Transaction, receipt *analyzer.Receipt, cc analyzer.ContractContext) {
	fa := p.analyzer.Evaluate(ctx, tx, receipt, cc)
	metrics.TransactionsAnalyzed.Inc()
	metrics.AnalysisScore.Observe(float64(fa.Score))
	for _, f := range fa.Factors {
		metrics.FactorsTriggered.WithLabelValues(string(f.Type)).Inc()
	}

	if !fa.Emit {
		return
	}
	if p.threats != nil {
		p.threats.RecordThreat(cc.Address, fa.Score, fa.Timestamp)
	}
	p.respond(ctx, fa.Event(tx, cc), fa.RecommendedAction, tx.From)
}

// HandleEvent accepts a ThreatEvent produced elsewhere (the remote monitor).
// Events carrying a score are re-decided locally; events without one are
// journaled and alerted on but never paused automatically.
func (p *Pipeline) HandleEvent(ctx context.Context, ev core.ThreatEvent) {
	if ev.ID == "" || !common.IsHexAddress(ev.ContractAddress) {
		p.logger.Debug().Str("id", ev.ID).Msg("dropping event without id or contract")
		return
	}
	if ev.Origin == "" {
		ev.Origin = core.OriginMonitor
	}

	action := core.ResponseAlert
	if ev.Score > 0 {
		action = p.policy.Decide(ev.Score).Action
		if p.threats != nil {
			p.threats.RecordThreat(common.HexToAddress(ev.ContractAddress), ev.Score, ev.Time())
		}
	} else if ev.Level < core.LevelHigh {
		action = core.ResponseMonitor
	}
	// The monitor already paused it.
	if ev.ActionTaken == core.ActionPauseTriggered && action == core.ResponsePause {
		action = core.ResponseAlert
	}

	var attacker common.Address
	if common.IsHexAddress(ev.OriginAddress) {
		attacker = common.HexToAddress(ev.OriginAddress)
	}
	p.respond(ctx, ev, action, attacker)
}

func (p *Pipeline) respond(ctx context.Context, ev core.ThreatEvent, action core.ResponseAction, attacker common.Address) {
	if action != core.ResponseMonitor && core.ActionAlert.Supersedes(ev.ActionTaken) {
		ev = ev.WithAction(core.ActionAlert)
	}
	p.journal.Add(ctx, ev)

	if action == core.ResponseMonitor {
		return
	}
	p.alert(ev, action)

	if action == core.ResponsePause {
		p.enqueuePause(ctx, pauseJob{ev: ev, attacker: attacker})
	}
}

// StartPauseWorker moves automatic pauses off the caller's goroutine. One
// worker drains a queue of size queueSize until ctx is cancelled.
func (p *Pipeline) StartPauseWorker(ctx context.Context, queueSize int) {
	if queueSize <= 0 {
		queueSize = 64
	}
	p.pauses = make(chan pauseJob, queueSize)
	p.wg.Add(1)
	go p.pauseWorker(ctx)
	p.logger.Info().Int("queue_size", queueSize).Msg("pause worker started")
}

// Wait blocks until the pause worker has exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) enqueuePause(ctx context.Context, job pauseJob) {
	if p.pauses == nil {
		p.autoPause(ctx, job)
		return
	}
	select {
	case p.pauses <- job:
		metrics.PauseQueueDepth.Set(float64(len(p.pauses)))
		p.logger.Debug().Str("event_id", job.ev.ID).Msg("pause enqueued")
	default:
		// A full queue never drops a pause.
		p.logger.Warn().Str("event_id", job.ev.ID).Msg("pause queue full, executing inline")
		p.autoPause(ctx, job)
	}
}

func (p *Pipeline) pauseWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if n := len(p.pauses); n > 0 {
				p.logger.Warn().Int("pending", n).Msg("pause worker stopped with queued pauses")
			}
			return
		case job := <-p.pauses:
			metrics.PauseQueueDepth.Set(float64(len(p.pauses)))
			p.autoPause(ctx, job)
		}
	}
}

func (p *Pipeline) autoPause(ctx context.Context, job pauseJob) {
	rec := p.responder.AutoPause(ctx, job.ev, job.attacker)
	p.logger.Info().
		Str("event_id", job.ev.ID).
		Str("contract", job.ev.ContractAddress).
		Str("status", string(rec.Status)).
		Msg("automatic pause handled")
}

func (p *Pipeline) alert(ev core.ThreatEvent, action core.ResponseAction) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(core.Notification{
		Kind:     core.NotifyThreat,
		Level:    ev.Level,
		Title:    fmt.Sprintf("%s threat on %s", ev.Level, ev.ContractAddress),
		Message:  fmt.Sprintf("score %d, recommended %s: %s", ev.Score, action, ev.Details),
		Contract: ev.ContractAddress,
		TxHash:   ev.TransactionHash,
	})
}

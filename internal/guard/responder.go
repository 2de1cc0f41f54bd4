package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/analyzer"
	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/executor"
	"github.com/pauseguard/pauseguard/internal/journal"
	"github.com/pauseguard/pauseguard/internal/metrics"
)

// Pauser submits pause transactions. *executor.Executor satisfies it.
type Pauser interface {
	ExecutePause(ctx context.Context, contract common.Address, vulnRef common.Hash) executor.Result
}

// Publisher fans events out to external consumers. *core.EventBus satisfies it.
type Publisher interface {
	PublishThreat(ev core.ThreatEvent) error
	PublishPause(rec core.PauseRecord) error
}

// Protection answers whether a contract may be paused automatically.
// *lifecycle.Registry satisfies it.
type Protection interface {
	IsProtected(addr common.Address) bool
}

// PauseRequest describes one pause attempt.
type PauseRequest struct {
	Contract common.Address
	VulnRef  common.Hash
	Source   core.PauseSource
	// EventID links the attempt to the journal event that caused it.
	EventID string
	// Attacker is the sender of the offending transaction, if known.
	Attacker common.Address
	// Event is the journal entry upgraded to PAUSE_TRIGGERED on success. When
	// nil the live journal is searched by EventID.
	Event *core.ThreatEvent
}

// ResponderConfig collects the responder's collaborators. Everything except
// Log is optional.
type ResponderConfig struct {
	Pauser     Pauser
	Protection Protection
	Journal    *journal.Journal
	Attackers  *analyzer.AttackerSet
	Notifier   *core.Notifier
	Bus        Publisher
	Log        *core.ResponseLog
	Cooldown   time.Duration
}

// Responder turns pause decisions into executor calls and records every
// outcome.
type Responder struct {
	pauser     Pauser
	protection Protection
	journal    *journal.Journal
	attackers  *analyzer.AttackerSet
	notifier   *core.Notifier
	bus        Publisher
	log        *core.ResponseLog
	cooldowns  *core.Cooldowns
	logger     zerolog.Logger
}

// NewResponder creates a responder.
func NewResponder(cfg ResponderConfig, logger zerolog.Logger) *Responder {
	log := cfg.Log
	if log == nil {
		log = core.NewResponseLog(0)
	}
	return &Responder{
		pauser:     cfg.Pauser,
		protection: cfg.Protection,
		journal:    cfg.Journal,
		attackers:  cfg.Attackers,
		notifier:   cfg.Notifier,
		bus:        cfg.Bus,
		log:        log,
		cooldowns:  core.NewCooldowns(cfg.Cooldown),
		logger:     logger.With().Str("component", "responder").Logger(),
	}
}

// Log returns the pause audit log.
func (r *Responder) Log() *core.ResponseLog { return r.log }

// Cooldowns exposes the per-contract cooldown tracker.
func (r *Responder) Cooldowns() *core.Cooldowns { return r.cooldowns }

// AutoPause handles a PAUSE decision for a journal event. Contracts that are
// not protected or are cooling down are skipped and the skip is recorded.
func (r *Responder) AutoPause(ctx context.Context, ev core.ThreatEvent, attacker common.Address) core.PauseRecord {
	contract := common.HexToAddress(ev.ContractAddress)
	req := PauseRequest{
		Contract: contract,
		VulnRef:  common.HexToHash(ev.TransactionHash),
		Source:   core.SourceAutomatic,
		EventID:  ev.ID,
		Attacker: attacker,
		Event:    &ev,
	}

	if r.cooldowns.Active(core.NormalizeAddress(contract.Hex())) {
		rec := r.newRecord(req, core.PauseStatusCooldown)
		r.logger.Info().Str("contract", rec.Contract).Str("event_id", ev.ID).Msg("pause suppressed by cooldown")
		r.finish(rec)
		return rec
	}
	if r.protection != nil && !r.protection.IsProtected(contract) {
		rec := r.newRecord(req, core.PauseStatusSkipped)
		rec.Error = "contract is not protected"
		r.logger.Warn().Str("contract", rec.Contract).Str("event_id", ev.ID).Msg("pause skipped, contract not protected")
		r.finish(rec)
		return rec
	}
	return r.Pause(ctx, req)
}

// Pause executes req unconditionally. Emergency and operator pauses come
// straight here, bypassing protection and cooldown checks.
func (r *Responder) Pause(ctx context.Context, req PauseRequest) core.PauseRecord {
	if r.pauser == nil {
		rec := r.newRecord(req, core.PauseStatusFailed)
		rec.ErrorClass = "NOT_CONFIGURED"
		rec.Error = "no chain executor configured"
		r.announce(rec)
		r.finish(rec)
		return rec
	}

	r.logger.Info().
		Str("contract", req.Contract.Hex()).
		Str("vuln_ref", req.VulnRef.Hex()).
		Str("source", string(req.Source)).
		Msg("executing pause")

	res := r.pauser.ExecutePause(ctx, req.Contract, req.VulnRef)
	rec := r.newRecord(req, statusOf(res))
	rec.DurationMs = res.Duration.Milliseconds()
	if res.HasTx() {
		rec.TxHash = res.TxHash.Hex()
	}
	if res.Err != nil && rec.Status != core.PauseStatusAlreadyPaused {
		rec.ErrorClass = res.ErrorClass()
		rec.Error = res.Err.Error()
	}
	metrics.PauseDuration.Observe(res.Duration.Seconds())

	switch rec.Status {
	case core.PauseStatusSuccess, core.PauseStatusPending, core.PauseStatusAlreadyPaused:
		r.cooldowns.Touch(rec.Contract)
	}
	if rec.Status == core.PauseStatusSuccess || rec.Status == core.PauseStatusAlreadyPaused {
		if r.attackers != nil && req.Attacker != (common.Address{}) {
			r.attackers.Add(req.Attacker)
		}
	}
	if rec.Status == core.PauseStatusSuccess && r.journal != nil {
		r.upgradeEvent(ctx, req)
	}

	r.announce(rec)
	r.finish(rec)
	return rec
}

// upgradeEvent marks the triggering event PAUSE_TRIGGERED. The held copy is
// preferred so an event already evicted from the live list still reaches the
// persisted history.
func (r *Responder) upgradeEvent(ctx context.Context, req PauseRequest) {
	var ev core.ThreatEvent
	switch {
	case req.Event != nil:
		ev = *req.Event
	case req.EventID != "":
		found, ok := r.journal.Get(req.EventID)
		if !ok {
			r.logger.Warn().Str("event_id", req.EventID).Msg("paused event not in live journal")
			return
		}
		ev = found
	default:
		return
	}
	r.journal.Add(ctx, ev.WithAction(core.ActionPauseTriggered))
}

func statusOf(res executor.Result) core.PauseStatus {
	switch {
	case res.Success && res.AlreadyPaused:
		return core.PauseStatusAlreadyPaused
	case res.Success && res.DryRun:
		return core.PauseStatusDryRun
	case res.Success:
		return core.PauseStatusSuccess
	case errors.Is(res.Err, executor.ErrPending):
		return core.PauseStatusPending
	default:
		return core.PauseStatusFailed
	}
}

func (r *Responder) newRecord(req PauseRequest, status core.PauseStatus) core.PauseRecord {
	rec := core.NewPauseRecord(req.Contract.Hex(), req.Source, status)
	rec.VulnRef = req.VulnRef.Hex()
	rec.EventID = req.EventID
	return rec
}

// announce notifies operators. Every executed pause is announced with its
// transaction; failures carry the failure class.
func (r *Responder) announce(rec core.PauseRecord) {
	if r.notifier == nil {
		return
	}
	note := core.Notification{
		Contract:   rec.Contract,
		TxHash:     rec.TxHash,
		VulnRef:    rec.VulnRef,
		ErrorClass: rec.ErrorClass,
	}
	switch rec.Status {
	case core.PauseStatusSuccess:
		note.Kind, note.Level = core.NotifyPause, core.LevelCritical
		note.Title = "Contract paused"
		note.Message = fmt.Sprintf("pause() confirmed for %s in tx %s (%s)", rec.Contract, rec.TxHash, rec.Source)
	case core.PauseStatusAlreadyPaused:
		note.Kind, note.Level = core.NotifyPause, core.LevelHigh
		note.Title = "Contract already paused"
		note.Message = fmt.Sprintf("%s was already paused, no transaction sent", rec.Contract)
	case core.PauseStatusDryRun:
		note.Kind, note.Level = core.NotifyPause, core.LevelMedium
		note.Title = "Pause suppressed (dry run)"
		note.Message = fmt.Sprintf("dry run: would have paused %s", rec.Contract)
	case core.PauseStatusPending:
		note.Kind, note.Level = core.NotifyPauseError, core.LevelHigh
		note.Title = "Pause confirmation pending"
		note.Message = fmt.Sprintf("pause tx %s for %s not confirmed in time: %s", rec.TxHash, rec.Contract, rec.Error)
	default:
		note.Kind, note.Level = core.NotifyPauseError, core.LevelCritical
		note.Title = "Pause failed"
		note.Message = fmt.Sprintf("pause of %s failed (%s): %s", rec.Contract, rec.ErrorClass, rec.Error)
	}
	r.notifier.Notify(note)
}

func (r *Responder) finish(rec core.PauseRecord) {
	r.log.Append(rec)
	metrics.PauseAttempts.WithLabelValues(string(rec.Source), string(rec.Status)).Inc()
	if r.bus != nil {
		if err := r.bus.PublishPause(rec); err != nil {
			r.logger.Error().Err(err).Str("record_id", rec.ID).Msg("failed to publish pause record")
		}
	}
}

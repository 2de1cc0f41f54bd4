// Package guard assembles the detection and response pipeline: event sources,
// the analyzer, the journal, the lifecycle registry and the pause executor.
package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/analyzer"
	"github.com/pauseguard/pauseguard/internal/chain"
	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/decision"
	"github.com/pauseguard/pauseguard/internal/executor"
	"github.com/pauseguard/pauseguard/internal/journal"
	"github.com/pauseguard/pauseguard/internal/lifecycle"
	"github.com/pauseguard/pauseguard/internal/metrics"
	"github.com/pauseguard/pauseguard/internal/stream"
)

// ErrInvalidPauseRequest is returned for malformed emergency pause input.
var ErrInvalidPauseRequest = errors.New("invalid pause request")

// Engine owns every long-lived component and their shutdown order.
type Engine struct {
	Config    *core.Config
	Logger    zerolog.Logger
	Logs      *core.LogRingBuffer
	Bus       *core.EventBus
	Journal   *journal.Journal
	Attackers *analyzer.AttackerSet
	Analyzer  *analyzer.Analyzer
	Notifier  *core.Notifier
	Registry  *lifecycle.Registry
	Executor  *executor.Executor
	Responder *Responder
	Pipeline  *Pipeline
	Sources   *core.SourceRegistry

	base      zerolog.Logger
	chain     *executor.EthContract
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewEngine builds the offline parts of the pipeline. Network connections are
// opened by Start.
func NewEngine(cfg *core.Config) (*Engine, error) {
	logs := core.NewLogRingBuffer(1000)
	logger := core.NewLogger(cfg.Logging, os.Stdout, logs)

	policy, err := decision.FromConfig(cfg.Decision)
	if err != nil {
		return nil, fmt.Errorf("building decision policy: %w", err)
	}

	j, err := journal.FromConfig(cfg.Journal, logger)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	attackers := analyzer.NewAttackerSet(cfg.Analyzer.MaxKnownAttackers)
	var opts []analyzer.Option
	if cfg.Analyzer.RemoteScorerURL != "" {
		opts = append(opts, analyzer.WithScorer(
			analyzer.NewRemoteScorer(cfg.Analyzer.RemoteScorerURL, cfg.Analyzer.RemoteScorerTimeout, logger)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Config:    cfg,
		Logger:    logger.With().Str("component", "engine").Logger(),
		Logs:      logs,
		base:      logger,
		Journal:   j,
		Attackers: attackers,
		Analyzer:  analyzer.FromConfig(cfg.Analyzer, policy, attackers, logger, opts...),
		Notifier:  core.NewNotifier(cfg.Notify, logger),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start connects to the chain, the bus and the monitor, replays the journal
// and starts every source.
func (e *Engine) Start() error {
	e.Logger.Info().Msg("starting pauseguard engine")
	e.startedAt = time.Now()
	cfg := e.Config
	root := e.base

	if cfg.Bus.Enabled {
		bus, err := core.NewEventBus(&cfg.Bus, root)
		if err != nil {
			return fmt.Errorf("starting event bus: %w", err)
		}
		e.Bus = bus
	}

	e.Journal.OnAdd(e.onJournalAdd)
	e.Journal.Load(e.ctx)
	metrics.JournalSize.Set(float64(e.Journal.Len()))

	opts := lifecycle.Options{Timeout: cfg.Scanner.Timeout}
	if cfg.Scanner.URL != "" {
		opts.Scanner = lifecycle.NewHTTPScanner(cfg.Scanner.URL, cfg.Scanner.Timeout)
	}
	if cfg.Chain.RPCURL != "" {
		ec, err := executor.DialEthContract(e.ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID, cfg.Chain.PrivateKey)
		if err != nil {
			return fmt.Errorf("connecting to chain: %w", err)
		}
		e.chain = ec
		opts.Roles = ec
		opts.Reader = ec
		opts.Operator = ec.Operator()
		e.Executor = executor.New(ec, nil, cfg.Executor.ConfirmTimeout, cfg.Executor.DryRun, root)
	} else {
		e.Logger.Warn().Msg("no chain rpc_url configured, pauses cannot be executed")
	}
	e.Registry = lifecycle.NewRegistry(opts, root)

	rc := ResponderConfig{
		Protection: e.Registry,
		Journal:    e.Journal,
		Attackers:  e.Attackers,
		Notifier:   e.Notifier,
		Cooldown:   cfg.Executor.Cooldown,
	}
	if e.Executor != nil {
		e.Executor.SetStateSink(e.Registry)
		rc.Pauser = e.Executor
	}
	if e.Bus != nil {
		rc.Bus = e.Bus
	}
	e.Responder = NewResponder(rc, root)
	e.Pipeline = NewPipeline(e.Analyzer, e.Journal, e.Responder, e.Registry, e.Notifier, root)
	e.Pipeline.StartPauseWorker(e.ctx, cfg.Executor.QueueSize)

	for _, addr := range cfg.Chain.Contracts {
		e.Registry.AddContract(addr)
	}

	e.Sources = core.NewSourceRegistry(func(ev core.ThreatEvent) {
		e.Pipeline.HandleEvent(e.ctx, ev)
	}, root)
	if e.chain != nil {
		w := chain.NewWatcher(e.chain.Client(), e.Registry, e.Pipeline.HandleTransaction, chain.Config{
			PollInterval: cfg.Chain.PollInterval,
			Polling:      cfg.Chain.Polling,
		}, root)
		if err := e.Sources.Register(NewChainSource(w)); err != nil {
			return err
		}
	}
	if cfg.Monitor.Enabled && cfg.Monitor.URL != "" {
		m := stream.NewManager(stream.ConfigFrom(cfg.Monitor), root)
		if err := e.Sources.Register(NewMonitorSource(m, cfg.Monitor.URL, e.Registry, e.Notifier, root)); err != nil {
			return err
		}
	}
	if err := e.Sources.StartAll(e.ctx); err != nil {
		return fmt.Errorf("starting sources: %w", err)
	}

	go e.Responder.Cooldowns().Run(e.ctx, time.Minute)
	go e.metricsLoop(15 * time.Second)

	e.Logger.Info().
		Int("sources", e.Sources.Count()).
		Int("journal", e.Journal.Len()).
		Bool("dry_run", cfg.Executor.DryRun).
		Msg("pauseguard engine started")
	return nil
}

// Shutdown stops sources first, then drains background work and closes
// connections.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down pauseguard engine")
	e.cancel()

	if e.Sources != nil {
		e.Sources.StopAll()
	}
	if e.Pipeline != nil {
		e.Pipeline.Wait()
	}
	if e.Registry != nil {
		e.Registry.Wait()
	}
	e.Notifier.Stop()
	if err := e.Journal.Close(); err != nil {
		e.Logger.Error().Err(err).Msg("error closing journal store")
	}
	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing event bus")
		}
	}
	if e.chain != nil {
		e.chain.Close()
	}

	e.Logger.Info().Msg("pauseguard engine stopped")
	return nil
}

// Context returns the engine's context.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// EmergencyPause pauses target on an operator's request. target must be a
// contract address and vulnHash a 32-byte hex reference.
func (e *Engine) EmergencyPause(ctx context.Context, target, vulnHash, source string) (core.PauseRecord, error) {
	if !common.IsHexAddress(target) {
		return core.PauseRecord{}, fmt.Errorf("%w: target %q is not an address", ErrInvalidPauseRequest, target)
	}
	raw := strings.TrimPrefix(strings.ToLower(vulnHash), "0x")
	if len(raw) != 64 || !isHex(raw) {
		return core.PauseRecord{}, fmt.Errorf("%w: vulnHash must be 32 bytes of hex", ErrInvalidPauseRequest)
	}

	src := core.SourceEmergency
	if strings.EqualFold(source, string(core.SourceOperator)) {
		src = core.SourceOperator
	}
	e.Logger.Warn().Str("target", target).Str("vuln_hash", vulnHash).Str("requested_by", source).Msg("emergency pause requested")

	return e.Responder.Pause(ctx, PauseRequest{
		Contract: common.HexToAddress(target),
		VulnRef:  common.HexToHash(raw),
		Source:   src,
	}), nil
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func (e *Engine) onJournalAdd(ev core.ThreatEvent) {
	if ev.ActionTaken != core.ActionPauseTriggered {
		metrics.ThreatsDetected.WithLabelValues(ev.Level.String(), string(ev.Origin)).Inc()
	}
	metrics.JournalSize.Set(float64(e.Journal.Len()))
	if e.Bus != nil {
		if err := e.Bus.PublishThreat(ev); err != nil {
			e.Logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to publish threat event")
		}
	}
}

func (e *Engine) metricsLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		e.refreshGauges()
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) refreshGauges() {
	byState := map[lifecycle.State]int{
		lifecycle.StateScanning:   0,
		lifecycle.StateRegistered: 0,
		lifecycle.StateProtected:  0,
		lifecycle.StatePaused:     0,
	}
	for _, mc := range e.Registry.Contracts() {
		byState[mc.State]++
	}
	for state, n := range byState {
		metrics.ProtectedContracts.WithLabelValues(string(state)).Set(float64(n))
	}
	if src, ok := e.chainSource(); ok {
		metrics.LastBlock.Set(float64(src.Status().LastBlock))
	}
}

func (e *Engine) chainSource() (*ChainSource, bool) {
	if e.Sources == nil {
		return nil, false
	}
	src, ok := e.Sources.Get("chain")
	if !ok {
		return nil, false
	}
	cs, ok := src.(*ChainSource)
	return cs, ok
}

func (e *Engine) monitorSource() (*MonitorSource, bool) {
	if e.Sources == nil {
		return nil, false
	}
	src, ok := e.Sources.Get("monitor")
	if !ok {
		return nil, false
	}
	ms, ok := src.(*MonitorSource)
	return ms, ok
}

// Status is the engine snapshot served by the API and printed by the CLI.
type Status struct {
	StartedAt        time.Time               `json:"startedAt"`
	Uptime           string                  `json:"uptime"`
	DryRun           bool                    `json:"dryRun"`
	Operator         string                  `json:"operator,omitempty"`
	Policy           decision.Policy         `json:"policy"`
	Chain            *chain.Status           `json:"chain,omitempty"`
	Monitor          *stream.ConnectionState `json:"monitor,omitempty"`
	MonitorLastBlock uint64                  `json:"monitorLastBlock,omitempty"`
	Journal          map[string]int          `json:"journal"`
	Contracts        int                     `json:"contracts"`
	KnownAttackers   int                     `json:"knownAttackers"`
	Responses        map[string]interface{}  `json:"responses"`
	Sources          map[string]interface{}  `json:"sources"`
	Notifier         map[string]interface{}  `json:"notifier"`
	Bus              map[string]int64        `json:"bus,omitempty"`
}

// Status returns a snapshot of the running engine.
func (e *Engine) Status() Status {
	st := Status{
		StartedAt:      e.startedAt,
		Uptime:         time.Since(e.startedAt).Round(time.Second).String(),
		DryRun:         e.Config.Executor.DryRun,
		Policy:         e.Analyzer.Policy(),
		Journal:        map[string]int{"live": e.Journal.Len(), "persisted": e.Journal.PersistedLen()},
		KnownAttackers: e.Attackers.Len(),
		Notifier:       e.Notifier.Stats(),
	}
	if e.chain != nil {
		st.Operator = e.chain.Operator().Hex()
	}
	if e.Registry != nil {
		st.Contracts = len(e.Registry.Contracts())
	}
	if e.Responder != nil {
		st.Responses = e.Responder.Log().Stats()
	}
	if e.Sources != nil {
		st.Sources = e.Sources.GetMetrics()
	}
	if cs, ok := e.chainSource(); ok {
		s := cs.Status()
		st.Chain = &s
	}
	if ms, ok := e.monitorSource(); ok {
		s := ms.State()
		st.Monitor = &s
		st.MonitorLastBlock = ms.LastBlock()
	}
	if e.Bus != nil {
		st.Bus = e.Bus.GetMetrics()
	}
	return st
}

package guard

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/chain"
	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/metrics"
	"github.com/pauseguard/pauseguard/internal/stream"
)

// ChainSource follows new blocks and scores transactions in place through the
// pipeline, so it never uses the registry's emit function.
type ChainSource struct {
	watcher *chain.Watcher
	stop    func()
}

// NewChainSource wraps a watcher.
func NewChainSource(w *chain.Watcher) *ChainSource {
	return &ChainSource{watcher: w}
}

func (s *ChainSource) Name() string { return "chain" }

func (s *ChainSource) Description() string {
	return "Follows new blocks and scores transactions sent to watched contracts"
}

func (s *ChainSource) Start(ctx context.Context, _ func(core.ThreatEvent)) error {
	stop, err := s.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("starting chain watcher: %w", err)
	}
	s.stop = stop
	return nil
}

func (s *ChainSource) Stop() error {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	return nil
}

// Status reports the watcher's progress.
func (s *ChainSource) Status() chain.Status { return s.watcher.Status() }

// MonitorSource receives threat events from the remote monitoring service.
type MonitorSource struct {
	manager  *stream.Manager
	sink     stream.ContractSink
	notifier *core.Notifier
	url      string
	feed     *stream.Feed
	logger   zerolog.Logger
}

// NewMonitorSource wraps a connection manager. sink and notifier may be nil.
func NewMonitorSource(m *stream.Manager, url string, sink stream.ContractSink, notifier *core.Notifier, logger zerolog.Logger) *MonitorSource {
	return &MonitorSource{
		manager:  m,
		sink:     sink,
		notifier: notifier,
		url:      url,
		logger:   logger.With().Str("component", "monitor_source").Logger(),
	}
}

func (s *MonitorSource) Name() string { return "monitor" }

func (s *MonitorSource) Description() string {
	return "Streams threat events and contract updates from the remote monitor"
}

// Start wires the feed and connection callbacks and dials the monitor. A
// failed first dial is not fatal: the manager keeps retrying with backoff.
func (s *MonitorSource) Start(ctx context.Context, emit func(core.ThreatEvent)) error {
	s.feed = stream.NewFeed(emit, s.sink, s.logger)
	s.manager.OnMessage(s.feed.Handle)
	s.manager.OnDisconnect(func(err error) {
		metrics.MonitorConnected.Set(0)
		metrics.MonitorDisconnects.Inc()
		if s.notifier != nil {
			s.notifier.Notify(core.Notification{
				Kind:    core.NotifyDisconnect,
				Level:   core.LevelHigh,
				Title:   "Monitor connection lost",
				Message: fmt.Sprintf("%s: %v", s.url, err),
			})
		}
	})
	s.manager.OnReconnect(func() {
		metrics.MonitorConnected.Set(1)
		metrics.MonitorReconnects.Inc()
		if s.notifier != nil {
			s.notifier.Notify(core.Notification{
				Kind:    core.NotifyReconnect,
				Level:   core.LevelInfo,
				Title:   "Monitor connection restored",
				Message: s.url,
			})
		}
	})

	if err := s.manager.Connect(ctx); err != nil {
		s.logger.Warn().Err(err).Str("url", s.url).Msg("initial monitor connection failed, retrying in background")
		return nil
	}
	metrics.MonitorConnected.Set(1)
	return nil
}

func (s *MonitorSource) Stop() error {
	s.manager.Disconnect()
	metrics.MonitorConnected.Set(0)
	return nil
}

// State returns the connection state.
func (s *MonitorSource) State() stream.ConnectionState { return s.manager.State() }

// LastBlock returns the last block the monitor reported, 0 before INIT.
func (s *MonitorSource) LastBlock() uint64 {
	if s.feed == nil {
		return 0
	}
	return s.feed.LastBlock()
}

package core

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	threatSubjects   = "guard.threats.>"
	responseSubjects = "guard.responses.>"
)

// EventBus publishes threat events and pause outcomes to NATS JetStream so
// other services can follow the pipeline.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks event bus counters.
type BusMetrics struct {
	mu                sync.Mutex `json:"-"`
	ThreatsPublished  int64      `json:"threats_published"`
	PausesPublished   int64      `json:"pauses_published"`
	PublishFailures   int64      `json:"publish_failures"`
	MessagesAcked     int64      `json:"messages_acked"`
	MessagesDiscarded int64      `json:"messages_discarded"`
}

// NewEventBus connects to NATS. If cfg.Embedded is true it starts an embedded
// JetStream server first.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		metrics: &BusMetrics{},
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		ns, err := server.NewServer(&server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}
		ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}
		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if cfg.Embedded {
		url = bus.ns.ClientURL()
	}

	nc, err := nats.Connect(url,
		nats.Name("pauseguard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		bus.shutdownServer()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	streams := []*nats.StreamConfig{
		{
			Name:      "GUARD_THREATS",
			Subjects:  []string{threatSubjects},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			MaxBytes:  256 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
		{
			Name:      "GUARD_RESPONSES",
			Subjects:  []string{responseSubjects},
			Retention: nats.LimitsPolicy,
			MaxAge:    30 * 24 * time.Hour,
			MaxBytes:  64 * 1024 * 1024,
			Storage:   nats.FileStorage,
			Discard:   nats.DiscardOld,
		},
	}
	for _, sc := range streams {
		if _, err := js.AddStream(sc); err != nil {
			// The stream may exist with an older config.
			if _, updateErr := js.UpdateStream(sc); updateErr != nil {
				bus.Close()
				return nil, fmt.Errorf("creating/updating stream %s: %w (original: %v)", sc.Name, updateErr, err)
			}
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// subjectToken makes an address or level safe to use as a subject token.
func subjectToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// PublishThreat publishes a ThreatEvent on guard.threats.<level>.<contract>.
func (b *EventBus) PublishThreat(ev ThreatEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling threat event: %w", err)
	}
	subject := fmt.Sprintf("guard.threats.%s.%s", subjectToken(ev.Level.String()), subjectToken(ev.ContractAddress))
	if _, err := b.js.Publish(subject, data); err != nil {
		b.count(func(m *BusMetrics) { m.PublishFailures++ })
		return fmt.Errorf("publishing threat to %s: %w", subject, err)
	}
	b.count(func(m *BusMetrics) { m.ThreatsPublished++ })
	b.logger.Debug().Str("event_id", ev.ID).Str("subject", subject).Msg("threat published")
	return nil
}

// PublishPause publishes a pause outcome on guard.responses.pause.<contract>.
func (b *EventBus) PublishPause(rec PauseRecord) error {
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling pause record: %w", err)
	}
	subject := "guard.responses.pause." + subjectToken(rec.Contract)
	if _, err := b.js.Publish(subject, data); err != nil {
		b.count(func(m *BusMetrics) { m.PublishFailures++ })
		return fmt.Errorf("publishing pause record to %s: %w", subject, err)
	}
	b.count(func(m *BusMetrics) { m.PausesPublished++ })
	return nil
}

// Subscribe creates a durable subscription to a subject pattern.
func (b *EventBus) Subscribe(subject, durableName string, handler func(msg *nats.Msg)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe(subject, handler, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Str("durable", durableName).Msg("subscribed")
	return nil
}

// SubscribeThreats delivers every published ThreatEvent to handler.
// Undecodable messages are terminated so they are not redelivered.
func (b *EventBus) SubscribeThreats(durableName string, handler func(ThreatEvent)) error {
	return b.Subscribe(threatSubjects, durableName, func(msg *nats.Msg) {
		ev, err := UnmarshalThreatEvent(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal threat event")
			_ = msg.Term()
			b.count(func(m *BusMetrics) { m.MessagesDiscarded++ })
			return
		}
		handler(ev)
		_ = msg.Ack()
		b.count(func(m *BusMetrics) { m.MessagesAcked++ })
	})
}

// Close shuts down the event bus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	b.shutdownServer()
	return nil
}

func (b *EventBus) shutdownServer() {
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.ns = nil
		b.logger.Info().Msg("embedded NATS server stopped")
	}
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *EventBus) count(fn func(*BusMetrics)) {
	b.metrics.mu.Lock()
	fn(b.metrics)
	b.metrics.mu.Unlock()
}

// GetMetrics returns a snapshot of bus metrics.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"threats_published":  b.metrics.ThreatsPublished,
		"pauses_published":   b.metrics.PausesPublished,
		"publish_failures":   b.metrics.PublishFailures,
		"messages_acked":     b.metrics.MessagesAcked,
		"messages_discarded": b.metrics.MessagesDiscarded,
	}
}

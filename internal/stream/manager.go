// Package stream maintains the websocket connection to the remote monitoring
// service and turns its messages into pipeline input.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
)

// Status is the connection state machine position.
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusConnecting Status = "CONNECTING"
	StatusConnected  Status = "CONNECTED"
	StatusError      Status = "ERROR"
)

// ConnectionState is a snapshot of the manager's connection bookkeeping.
type ConnectionState struct {
	Status               Status    `json:"status"`
	ReconnectAttempts    int       `json:"reconnectAttempts"`
	LastConnectAttemptAt time.Time `json:"lastConnectAttemptAt"`
	Dropped              uint64    `json:"dropped"`
}

// ErrDeferred is returned when an attempt falls inside the debounce interval
// and has been rescheduled.
var ErrDeferred = errors.New("connect attempt deferred")

// Config holds connection and backoff parameters.
type Config struct {
	URL                  string
	BaseDelay            time.Duration
	BackoffFactor        float64
	MaxDelay             time.Duration
	MinReconnectInterval time.Duration
	ConnectTimeout       time.Duration
	MaxMessagesPerSecond int
	RateLimitWindow      time.Duration
	Header               http.Header
}

// ConfigFrom converts the monitor config section.
func ConfigFrom(c core.MonitorConfig) Config {
	return Config{
		URL:                  c.URL,
		BaseDelay:            c.BaseDelay,
		BackoffFactor:        c.BackoffFactor,
		MaxDelay:             c.MaxDelay,
		MinReconnectInterval: c.MinReconnectInterval,
		ConnectTimeout:       c.ConnectTimeout,
		MaxMessagesPerSecond: c.MaxMessagesPerSecond,
		RateLimitWindow:      c.RateLimitWindow,
	}
}

// Backoff returns min(base * factor^attempts, max).
func Backoff(base time.Duration, factor float64, max time.Duration, attempts int) time.Duration {
	d := float64(base) * math.Pow(factor, float64(attempts))
	if d > float64(max) || math.IsInf(d, 1) {
		return max
	}
	return time.Duration(d)
}

// Manager owns one websocket connection, its reconnect timer and its message
// rate limit. All state changes happen under mu.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
	window *slidingWindow

	mu     sync.Mutex
	state  ConnectionState
	conn   *websocket.Conn
	gen    uint64
	timer  *time.Timer
	ctx    context.Context
	closed bool
	// outage is set by a failure and cleared by the next successful connect.
	outage bool
	// announced is set once a failure streak has been reported and cleared
	// when a connection proves healthy by delivering a message.
	announced    bool
	gotMessage   bool
	handler      func([]byte)
	onDisconnect func(error)
	onReconnect  func()
	// afterFunc schedules reconnects; replaced in tests to observe delays.
	afterFunc func(time.Duration, func()) *time.Timer

	dropped atomic.Uint64
}

// NewManager creates an idle manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Second
	}
	return &Manager{
		cfg:       cfg,
		dialer:    &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.ConnectTimeout},
		logger:    logger.With().Str("component", "stream").Logger(),
		window:    newSlidingWindow(cfg.MaxMessagesPerSecond, cfg.RateLimitWindow),
		state:     ConnectionState{Status: StatusIdle},
		ctx:       context.Background(),
		afterFunc: time.AfterFunc,
	}
}

// OnMessage registers the sole message consumer. A later call replaces the
// earlier handler.
func (m *Manager) OnMessage(fn func([]byte)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

// OnDisconnect is called once per unbroken failure streak.
func (m *Manager) OnDisconnect(fn func(error)) {
	m.mu.Lock()
	m.onDisconnect = fn
	m.mu.Unlock()
}

// OnReconnect is called on the first successful connect after an outage.
func (m *Manager) OnReconnect(fn func()) {
	m.mu.Lock()
	m.onReconnect = fn
	m.mu.Unlock()
}

// State returns a snapshot of the connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Dropped = m.dropped.Load()
	return s
}

// Connect dials the endpoint. On failure a reconnect is already scheduled when
// Connect returns; ctx bounds the lifetime of all future attempts.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.closed = false
	m.mu.Unlock()
	return m.attempt()
}

// Disconnect closes the connection and cancels any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state.Status = StatusIdle
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
	m.logger.Info().Msg("disconnected from monitor")
}

func (m *Manager) attempt() error {
	m.mu.Lock()
	if m.closed || m.ctx.Err() != nil {
		m.mu.Unlock()
		return context.Canceled
	}
	if m.state.Status == StatusConnecting || m.state.Status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	if !m.state.LastConnectAttemptAt.IsZero() {
		if since := now.Sub(m.state.LastConnectAttemptAt); since < m.cfg.MinReconnectInterval {
			m.scheduleLocked(m.cfg.MinReconnectInterval - since)
			m.mu.Unlock()
			return ErrDeferred
		}
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state.Status = StatusConnecting
	m.state.LastConnectAttemptAt = now
	ctx := m.ctx
	m.mu.Unlock()

	m.logger.Debug().Str("url", m.cfg.URL).Msg("connecting to monitor")
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, _, err := m.dialer.DialContext(dialCtx, m.cfg.URL, m.cfg.Header)
	cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return context.Canceled
	}
	if err != nil {
		err = fmt.Errorf("dialing %s: %w", m.cfg.URL, err)
		m.failAndUnlock(err)
		return err
	}

	m.gen++
	gen := m.gen
	m.conn = conn
	m.state.Status = StatusConnected
	m.gotMessage = false
	var notify func()
	if m.outage {
		m.outage = false
		notify = m.onReconnect
	}
	m.mu.Unlock()

	m.logger.Info().Str("url", m.cfg.URL).Msg("connected to monitor")
	if notify != nil {
		notify()
	}
	go m.readLoop(conn, gen)
	return nil
}

// failAndUnlock records a failed cycle and schedules the next attempt. It
// releases mu before invoking the disconnect callback.
func (m *Manager) failAndUnlock(err error) {
	m.state.Status = StatusError
	m.scheduleLocked(Backoff(m.cfg.BaseDelay, m.cfg.BackoffFactor, m.cfg.MaxDelay, m.state.ReconnectAttempts))
	m.state.ReconnectAttempts++

	m.outage = true
	var notify func(error)
	if !m.announced {
		m.announced = true
		notify = m.onDisconnect
	}
	attempts := m.state.ReconnectAttempts
	m.mu.Unlock()

	m.logger.Warn().Err(err).Int("attempts", attempts).Msg("monitor connection failed")
	if notify != nil {
		notify(err)
	}
}

func (m *Manager) scheduleLocked(delay time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.afterFunc(delay, func() {
		if err := m.attempt(); err != nil && !errors.Is(err, ErrDeferred) && !errors.Is(err, context.Canceled) {
			m.logger.Debug().Err(err).Msg("reconnect attempt failed")
		}
	})
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen != m.gen || m.closed {
				m.mu.Unlock()
				return
			}
			m.conn = nil
			conn.Close()
			m.failAndUnlock(fmt.Errorf("connection lost: %w", err))
			return
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		if !m.gotMessage {
			m.gotMessage = true
			m.announced = false
			m.state.ReconnectAttempts = 0
		}
		handler := m.handler
		m.mu.Unlock()

		if !m.window.Allow(time.Now()) {
			if n := m.dropped.Add(1); n%100 == 1 {
				m.logger.Warn().Uint64("dropped", n).Msg("monitor message rate exceeded, dropping")
			}
			continue
		}
		if handler != nil {
			handler(data)
		}
	}
}

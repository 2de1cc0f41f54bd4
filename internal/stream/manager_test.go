package stream

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newWSServer starts a websocket server that sends msgs and then either
// closes or holds the connection open until the client leaves.
func newWSServer(t *testing.T, msgs []string, closeAfter bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if closeAfter {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:                  url,
		BaseDelay:            3 * time.Second,
		BackoffFactor:        1.5,
		MaxDelay:             60 * time.Second,
		ConnectTimeout:       2 * time.Second,
		MaxMessagesPerSecond: 50,
	}
}

// recordDelays replaces the reconnect scheduler with one that records delays
// and never fires on its own.
func recordDelays(m *Manager) *[]time.Duration {
	var mu sync.Mutex
	delays := []time.Duration{}
	m.afterFunc = func(d time.Duration, f func()) *time.Timer {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return time.AfterFunc(time.Hour, f)
	}
	return &delays
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ─── Backoff ────────────────────────────────────────────────────────────────

func TestBackoff_Sequence(t *testing.T) {
	base, max := 3*time.Second, 10*time.Second
	want := []time.Duration{3000 * time.Millisecond, 4500 * time.Millisecond, 6750 * time.Millisecond, 10 * time.Second, 10 * time.Second}
	prev := time.Duration(0)
	for i, w := range want {
		got := Backoff(base, 1.5, max, i)
		if got != w {
			t.Errorf("Backoff(attempt %d) = %s, want %s", i, got, w)
		}
		if got < prev {
			t.Errorf("backoff decreased at attempt %d", i)
		}
		prev = got
	}
	if got := Backoff(base, 1.5, max, 10000); got != max {
		t.Errorf("huge attempt count = %s, want cap %s", got, max)
	}
}

// ─── Sliding window ─────────────────────────────────────────────────────────

func TestSlidingWindow(t *testing.T) {
	w := newSlidingWindow(3, time.Second)
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		if !w.Allow(now) {
			t.Fatalf("event %d rejected", i)
		}
	}
	if w.Allow(now.Add(500 * time.Millisecond)) {
		t.Error("4th event inside window accepted")
	}
	if !w.Allow(now.Add(1001 * time.Millisecond)) {
		t.Error("event after window rejected")
	}
}

func TestManager_RateLimitWindowFromConfig(t *testing.T) {
	mc := core.DefaultConfig().Monitor
	mc.MaxMessagesPerSecond = 2
	mc.RateLimitWindow = 5 * time.Second
	m := NewManager(ConfigFrom(mc), zerolog.Nop())

	now := time.Unix(1000, 0)
	m.window.Allow(now)
	m.window.Allow(now)
	if m.window.Allow(now.Add(3 * time.Second)) {
		t.Error("event inside a 5s window accepted over the limit")
	}
	if !m.window.Allow(now.Add(5001 * time.Millisecond)) {
		t.Error("event after the 5s window rejected")
	}

	if d := NewManager(testConfig("ws://unused"), zerolog.Nop()).window.window; d != time.Second {
		t.Errorf("unset window = %s, want 1s", d)
	}
}

// ─── Manager ────────────────────────────────────────────────────────────────

func TestManager_ReconnectDelaysAcrossUnexpectedCloses(t *testing.T) {
	srv := newWSServer(t, nil, true)
	m := NewManager(testConfig(wsURL(srv)), zerolog.Nop())
	delays := recordDelays(m)

	var disconnects, reconnects int32
	m.OnDisconnect(func(error) { atomic.AddInt32(&disconnects, 1) })
	m.OnReconnect(func() { atomic.AddInt32(&reconnects, 1) })

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect()

	for cycle := 1; cycle <= 3; cycle++ {
		waitFor(t, "close to be observed", func() bool {
			s := m.State()
			return s.Status == StatusError && s.ReconnectAttempts == cycle
		})
		if cycle < 3 {
			if err := m.attempt(); err != nil {
				t.Fatalf("attempt %d: %v", cycle, err)
			}
		}
	}

	want := []time.Duration{3000 * time.Millisecond, 4500 * time.Millisecond, 6750 * time.Millisecond}
	if len(*delays) != 3 {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i, (*delays)[i], want[i])
		}
	}
	if n := atomic.LoadInt32(&disconnects); n != 1 {
		t.Errorf("disconnect announced %d times, want once per outage", n)
	}
	if n := atomic.LoadInt32(&reconnects); n != 2 {
		t.Errorf("reconnect announced %d times, want 2", n)
	}
}

func TestManager_FirstMessageResetsAttempts(t *testing.T) {
	srv := newWSServer(t, []string{`{"type":"INIT","contracts":[],"lastBlock":1}`}, false)
	m := NewManager(testConfig(wsURL(srv)), zerolog.Nop())
	recordDelays(m)

	got := make(chan []byte, 1)
	m.OnMessage(func(b []byte) { got <- b })

	m.mu.Lock()
	m.state.ReconnectAttempts = 4
	m.mu.Unlock()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
	}
	waitFor(t, "attempts reset", func() bool { return m.State().ReconnectAttempts == 0 })
	if s := m.State(); s.Status != StatusConnected {
		t.Errorf("status = %s, want CONNECTED", s.Status)
	}
}

func TestManager_RateLimitDropsExcess(t *testing.T) {
	msgs := make([]string, 10)
	for i := range msgs {
		msgs[i] = `{"type":"INIT"}`
	}
	srv := newWSServer(t, msgs, false)
	cfg := testConfig(wsURL(srv))
	cfg.MaxMessagesPerSecond = 3
	m := NewManager(cfg, zerolog.Nop())
	recordDelays(m)

	var received int32
	m.OnMessage(func([]byte) { atomic.AddInt32(&received, 1) })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	waitFor(t, "all messages read", func() bool {
		return atomic.LoadInt32(&received)+int32(m.State().Dropped) == 10
	})
	if n := atomic.LoadInt32(&received); n != 3 {
		t.Errorf("received %d, want 3", n)
	}
}

func TestManager_OnMessageReplacesHandler(t *testing.T) {
	srv := newWSServer(t, []string{`{"type":"INIT"}`}, false)
	m := NewManager(testConfig(wsURL(srv)), zerolog.Nop())
	recordDelays(m)

	var first, second int32
	m.OnMessage(func([]byte) { atomic.AddInt32(&first, 1) })
	m.OnMessage(func([]byte) { atomic.AddInt32(&second, 1) })
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer m.Disconnect()

	waitFor(t, "message", func() bool { return atomic.LoadInt32(&second) == 1 })
	if atomic.LoadInt32(&first) != 0 {
		t.Error("replaced handler still invoked")
	}
}

func TestManager_DialFailureSchedulesAndDisconnectCancels(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	m := NewManager(testConfig(url), zerolog.Nop())
	delays := recordDelays(m)

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	s := m.State()
	if s.Status != StatusError || s.ReconnectAttempts != 1 || len(*delays) != 1 {
		t.Fatalf("state = %+v delays = %v", s, *delays)
	}

	m.Disconnect()
	m.mu.Lock()
	pending := m.timer
	m.mu.Unlock()
	if pending != nil {
		t.Error("reconnect timer still pending after Disconnect")
	}
	if m.State().Status != StatusIdle {
		t.Errorf("status = %s, want IDLE", m.State().Status)
	}
	if err := m.attempt(); err == nil {
		t.Error("attempt after Disconnect should be refused")
	}
}

func TestManager_ConnectTimeoutSchedulesBaseDelay(t *testing.T) {
	// Accepts TCP but never answers the websocket handshake.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	var held []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, c)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		for _, c := range held {
			c.Close()
		}
		mu.Unlock()
	}()

	cfg := testConfig("ws://" + ln.Addr().String())
	cfg.ConnectTimeout = 300 * time.Millisecond
	m := NewManager(cfg, zerolog.Nop())
	delays := recordDelays(m)
	defer m.Disconnect()

	start := time.Now()
	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected handshake timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect took %s, want about the 300ms timeout", elapsed)
	}
	s := m.State()
	if s.Status != StatusError || s.ReconnectAttempts != 1 {
		t.Errorf("state = %+v, want ERROR after one attempt", s)
	}
	if len(*delays) != 1 || (*delays)[0] != cfg.BaseDelay {
		t.Errorf("delays = %v, want [%s]", *delays, cfg.BaseDelay)
	}
}

func TestManager_DebounceDefersAttempt(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	cfg := testConfig(url)
	cfg.MinReconnectInterval = time.Minute
	m := NewManager(cfg, zerolog.Nop())
	delays := recordDelays(m)

	m.Connect(context.Background())
	defer m.Disconnect()

	if err := m.attempt(); err != ErrDeferred {
		t.Fatalf("second attempt = %v, want ErrDeferred", err)
	}
	if got := (*delays)[len(*delays)-1]; got <= 0 || got > time.Minute {
		t.Errorf("deferred by %s, want remaining debounce interval", got)
	}
	if m.State().ReconnectAttempts != 1 {
		t.Error("a deferred attempt must not count as a failure")
	}
}

// ─── Feed ───────────────────────────────────────────────────────────────────

type sinkRecorder struct {
	seeded    []string
	added     []string
	refreshed []string
}

func (s *sinkRecorder) SeedContracts(a []string)   { s.seeded = append(s.seeded, a...) }
func (s *sinkRecorder) AddContract(a string)       { s.added = append(s.added, a) }
func (s *sinkRecorder) RefreshPauseState(a string) { s.refreshed = append(s.refreshed, a) }

func TestFeed_Handle(t *testing.T) {
	sink := &sinkRecorder{}
	var threats []core.ThreatEvent
	f := NewFeed(func(e core.ThreatEvent) { threats = append(threats, e) }, sink, zerolog.Nop())

	f.Handle([]byte(`{"type":"INIT","contracts":["0xA","0xB"],"lastBlock":1234}`))
	f.Handle([]byte(`{"type":"REGISTRATION","contractAddress":"0xC"}`))
	f.Handle([]byte(`{"type":"THREAT_DETECTED","contractAddress":"0xABC","threat":{"transactionHash":"0xTX","timestamp":1700000000000,"level":"CRITICAL","confidence":0.9}}`))
	f.Handle([]byte(`{"type":"PAUSE_TRIGGERED","contractAddress":"0xABC"}`))
	f.Handle([]byte(`{"type":"BOGUS"}`))
	f.Handle([]byte(`not json`))

	if f.LastBlock() != 1234 || len(sink.seeded) != 2 {
		t.Errorf("init: lastBlock=%d seeded=%v", f.LastBlock(), sink.seeded)
	}
	if len(sink.added) != 1 || len(sink.refreshed) != 1 {
		t.Errorf("added=%v refreshed=%v", sink.added, sink.refreshed)
	}
	if len(threats) != 1 {
		t.Fatalf("threats = %d, want 1", len(threats))
	}
	ev := threats[0]
	if ev.Origin != core.OriginMonitor || ev.ContractAddress != "0xabc" || ev.ActionTaken != core.ActionNone {
		t.Errorf("threat = %+v", ev)
	}
	if ev.ID != "0xtx-1700000000000" {
		t.Errorf("derived id = %q", ev.ID)
	}
	if f.Invalid() != 2 {
		t.Errorf("invalid = %d, want 2", f.Invalid())
	}
}

func TestDecodeMessage_RequiresPayload(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"type":"THREAT_DETECTED"}`)); err == nil {
		t.Error("THREAT_DETECTED without threat accepted")
	}
	if _, err := DecodeMessage([]byte(`{"type":"PAUSE_LIFTED"}`)); err == nil {
		t.Error("PAUSE_LIFTED without contract accepted")
	}
}

package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastRetry() WebhookRetryConfig {
	return WebhookRetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		QueueSize:      10,
		Workers:        1,
		CircuitBreaker: 100,
		CircuitPause:   time.Second,
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotifier_DeliversNotification(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Notification Notification `json:"notification"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		got.Store(body.Notification)
		if r.Header.Get("X-Pauseguard-Delivery-ID") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(NotifyConfig{WebhookURLs: []string{server.URL}, Retry: fastRetry()}, zerolog.Nop())
	defer n.Stop()

	sent := n.Notify(Notification{Kind: NotifyPause, Level: LevelCritical, Title: "Contract paused", Contract: "0xabc", TxHash: "0xdead"})
	if sent.ID == "" || sent.Timestamp.IsZero() {
		t.Fatalf("notification not stamped: %+v", sent)
	}

	waitUntil(t, func() bool { return got.Load() != nil })
	received := got.Load().(Notification)
	if received.ID != sent.ID || received.Kind != NotifyPause || received.TxHash != "0xdead" {
		t.Errorf("received %+v", received)
	}
	if len(n.DeadLetters(10)) != 0 {
		t.Error("unexpected dead letters")
	}
}

func TestNotifier_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(NotifyConfig{WebhookURLs: []string{server.URL}, Retry: fastRetry()}, zerolog.Nop())
	defer n.Stop()

	n.Notify(Notification{Kind: NotifyThreat, Title: "retry"})
	waitUntil(t, func() bool { return attempts.Load() >= 3 })
	time.Sleep(50 * time.Millisecond)
	if len(n.DeadLetters(10)) != 0 {
		t.Error("delivery that eventually succeeded must not be dead-lettered")
	}
}

func TestNotifier_ClientErrorGoesToDeadLetter(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewNotifier(NotifyConfig{WebhookURLs: []string{server.URL}, Retry: fastRetry()}, zerolog.Nop())
	defer n.Stop()

	n.Notify(Notification{Kind: NotifyThreat, Title: "bad"})
	waitUntil(t, func() bool { return len(n.DeadLetters(10)) == 1 })
	if attempts.Load() != 1 {
		t.Errorf("4xx should not be retried, got %d attempts", attempts.Load())
	}
}

func TestNotifier_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := fastRetry()
	cfg.MaxRetries = 10
	cfg.CircuitBreaker = 3
	cfg.CircuitPause = time.Minute
	n := NewNotifier(NotifyConfig{WebhookURLs: []string{server.URL}, Retry: cfg}, zerolog.Nop())
	defer n.Stop()

	n.Notify(Notification{Kind: NotifyThreat, Title: "down"})
	waitUntil(t, func() bool { return len(n.DeadLetters(10)) == 1 })

	if got := attempts.Load(); got != 3 {
		t.Errorf("breaker should stop delivery after 3 failures, server saw %d", got)
	}
	if n.Stats()["open_circuits"].(int) != 1 {
		t.Errorf("stats = %v", n.Stats())
	}
}

func TestNotifier_ConsoleOnly(t *testing.T) {
	n := NewNotifier(NotifyConfig{EnableConsole: true}, zerolog.Nop())
	defer n.Stop()
	n.Notify(Notification{Kind: NotifyDisconnect, Title: "monitor offline"})
	if n.Stats()["webhooks"].(int) != 0 {
		t.Error("no webhooks configured")
	}
}

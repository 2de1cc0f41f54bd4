package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// mockSource is a test double that satisfies the Source interface.
type mockSource struct {
	name     string
	startErr error
	stopErr  error
	emit     func(ThreatEvent)
	log      *[]string
	mu       sync.Mutex
}

func (m *mockSource) Name() string        { return m.name }
func (m *mockSource) Description() string { return "mock " + m.name }
func (m *mockSource) Start(_ context.Context, emit func(ThreatEvent)) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.mu.Lock()
	m.emit = emit
	m.mu.Unlock()
	if m.log != nil {
		*m.log = append(*m.log, "start:"+m.name)
	}
	return nil
}
func (m *mockSource) Stop() error {
	if m.log != nil {
		*m.log = append(*m.log, "stop:"+m.name)
	}
	return m.stopErr
}

func (m *mockSource) send(ev ThreatEvent) {
	m.mu.Lock()
	emit := m.emit
	m.mu.Unlock()
	emit(ev)
}

// ─── Register ────────────────────────────────────────────────────────────────

func TestSourceRegistry_Register(t *testing.T) {
	r := NewSourceRegistry(nil, zerolog.Nop())
	if err := r.Register(&mockSource{name: "chain"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&mockSource{name: "chain"}); err == nil {
		t.Error("expected error when registering duplicate source name")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
	if _, ok := r.Get("chain"); !ok {
		t.Error("Get(chain) ok=false")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) ok=true")
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func TestSourceRegistry_StartStopOrder(t *testing.T) {
	var log []string
	r := NewSourceRegistry(nil, zerolog.Nop())
	for _, n := range []string{"chain", "monitor", "replay"} {
		r.Register(&mockSource{name: n, log: &log})
	}

	if err := r.StartAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.StopAll()

	want := []string{"start:chain", "start:monitor", "start:replay", "stop:replay", "stop:monitor", "stop:chain"}
	if len(log) != len(want) {
		t.Fatalf("log = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestSourceRegistry_StartFailureStopsStarted(t *testing.T) {
	var log []string
	r := NewSourceRegistry(nil, zerolog.Nop())
	r.Register(&mockSource{name: "ok", log: &log})
	r.Register(&mockSource{name: "boom", startErr: errors.New("no rpc")})

	if err := r.StartAll(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if len(log) != 2 || log[1] != "stop:ok" {
		t.Errorf("log = %v, want already started source stopped", log)
	}
	// Nothing left to stop.
	r.StopAll()
	if len(log) != 2 {
		t.Errorf("StopAll stopped again: %v", log)
	}
}

func TestSourceRegistry_StopErrorsContinue(t *testing.T) {
	r := NewSourceRegistry(nil, zerolog.Nop())
	r.Register(&mockSource{name: "a", stopErr: errors.New("fail")})
	r.Register(&mockSource{name: "b", stopErr: errors.New("fail 2")})
	r.StartAll(context.Background())
	r.StopAll()
}

// ─── Routing ─────────────────────────────────────────────────────────────────

func TestSourceRegistry_RoutesAndCounts(t *testing.T) {
	var mu sync.Mutex
	var got []string
	r := NewSourceRegistry(func(ev ThreatEvent) {
		if ev.ID == "panic" {
			panic("bad event")
		}
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	}, zerolog.Nop())

	chain := &mockSource{name: "chain"}
	monitor := &mockSource{name: "monitor"}
	r.Register(chain)
	r.Register(monitor)
	r.StartAll(context.Background())
	defer r.StopAll()

	chain.send(ThreatEvent{ID: "a"})
	monitor.send(ThreatEvent{ID: "b"})
	monitor.send(ThreatEvent{ID: "panic"})
	chain.send(ThreatEvent{ID: "c"})

	if len(got) != 3 {
		t.Fatalf("handled %v", got)
	}
	m := r.GetMetrics()
	if m["events_routed"].(int64) != 4 || m["handler_panics"].(int64) != 1 {
		t.Errorf("metrics = %v", m)
	}
	if m["events_by_source"].(map[string]int64)["monitor"] != 2 {
		t.Errorf("by source = %v", m["events_by_source"])
	}
}

func TestSourceRegistry_ConcurrentRead(t *testing.T) {
	r := NewSourceRegistry(nil, zerolog.Nop())
	for i := 0; i < 5; i++ {
		r.Register(&mockSource{name: string(rune('a' + i))})
	}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.All()
			r.Count()
		}()
	}
	wg.Wait()
}

package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Source is an event source adapter: the chain watcher, the remote monitor
// feed, or anything else that produces ThreatEvents.
type Source interface {
	// Name returns the unique name of the source.
	Name() string
	// Description returns a human-readable description.
	Description() string
	// Start begins producing events into emit. It must not block.
	Start(ctx context.Context, emit func(ThreatEvent)) error
	// Stop releases the source's resources.
	Stop() error
}

// SourceRegistry manages source lifecycles and funnels their events into a
// single handler.
type SourceRegistry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
	logger  zerolog.Logger
	handler func(ThreatEvent)
	started []string

	metrics *RegistryMetrics
}

// RegistryMetrics counts events by source.
type RegistryMetrics struct {
	mu             sync.Mutex       `json:"-"`
	EventsRouted   int64            `json:"events_routed"`
	EventsBySource map[string]int64 `json:"events_by_source"`
	HandlerPanics  int64            `json:"handler_panics"`
}

// NewSourceRegistry creates a registry delivering to handler.
func NewSourceRegistry(handler func(ThreatEvent), logger zerolog.Logger) *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[string]Source),
		logger:  logger.With().Str("component", "source_registry").Logger(),
		handler: handler,
		metrics: &RegistryMetrics{EventsBySource: make(map[string]int64)},
	}
}

// Register adds a source.
func (r *SourceRegistry) Register(src Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := src.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.sources[name] = src
	r.order = append(r.order, name)
	r.logger.Info().Str("source", name).Msg("source registered")
	return nil
}

// emitter returns the emit callback handed to one source.
func (r *SourceRegistry) emitter(name string) func(ThreatEvent) {
	return func(ev ThreatEvent) {
		r.metrics.mu.Lock()
		r.metrics.EventsRouted++
		r.metrics.EventsBySource[name]++
		r.metrics.mu.Unlock()
		r.safeHandle(name, ev)
	}
}

// safeHandle calls the handler inside a recover() so one bad event cannot
// take down the source's goroutine.
func (r *SourceRegistry) safeHandle(source string, ev ThreatEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("source", source).
				Str("event_id", ev.ID).
				Interface("panic", rec).
				Msg("event handler panic recovered")
			r.metrics.mu.Lock()
			r.metrics.HandlerPanics++
			r.metrics.mu.Unlock()
		}
	}()
	if r.handler != nil {
		r.handler(ev)
	}
}

// StartAll starts every source in registration order. On failure the sources
// already started are stopped again.
func (r *SourceRegistry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		r.logger.Info().Str("source", name).Msg("starting source")
		if err := r.sources[name].Start(ctx, r.emitter(name)); err != nil {
			r.stopLocked()
			return fmt.Errorf("failed to start source %q: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops started sources in reverse order.
func (r *SourceRegistry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *SourceRegistry) stopLocked() {
	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		r.logger.Info().Str("source", name).Msg("stopping source")
		if err := r.sources[name].Stop(); err != nil {
			r.logger.Error().Err(err).Str("source", name).Msg("error stopping source")
		}
	}
	r.started = nil
}

// Get returns a source by name.
func (r *SourceRegistry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// All returns the sources in registration order.
func (r *SourceRegistry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Count returns the number of registered sources.
func (r *SourceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// GetMetrics returns a snapshot of routing metrics.
func (r *SourceRegistry) GetMetrics() map[string]interface{} {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()
	bySource := make(map[string]int64, len(r.metrics.EventsBySource))
	for k, v := range r.metrics.EventsBySource {
		bySource[k] = v
	}
	return map[string]interface{}{
		"events_routed":    r.metrics.EventsRouted,
		"events_by_source": bySource,
		"handler_panics":   r.metrics.HandlerPanics,
	}
}

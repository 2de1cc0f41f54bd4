package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
)

// Journal owns the live event list and its persisted form. The two are capped
// independently: the live list holds what the process surfaces, the store
// keeps a longer history for replay on the next start.
type Journal struct {
	mu        sync.RWMutex
	live      []core.ThreatEvent
	persisted []core.ThreatEvent

	// persistMu serializes writes to the store so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex

	store        Store
	maxLive      int
	maxPersisted int
	logger       zerolog.Logger
	onAdd        []func(core.ThreatEvent)
}

// New creates a journal. store may be nil to disable persistence.
func New(store Store, maxLive, maxPersisted int, logger zerolog.Logger) *Journal {
	if maxLive <= 0 {
		maxLive = 100
	}
	if maxPersisted <= 0 {
		maxPersisted = 500
	}
	return &Journal{
		store:        store,
		maxLive:      maxLive,
		maxPersisted: maxPersisted,
		logger:       logger.With().Str("component", "journal").Logger(),
	}
}

// FromConfig creates a journal backed by the configured store.
func FromConfig(cfg core.JournalConfig, logger zerolog.Logger) (*Journal, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	return New(store, cfg.MaxLive, cfg.MaxPersisted, logger), nil
}

// OnAdd registers a callback invoked for every newly retained or upgraded
// event. Callbacks run outside the journal lock.
func (j *Journal) OnAdd(fn func(core.ThreatEvent)) {
	j.mu.Lock()
	j.onAdd = append(j.onAdd, fn)
	j.mu.Unlock()
}

// Load replays the persisted history into the live list. Persisted events are
// tagged with the JOURNAL origin. A store failure is logged and the journal
// starts empty.
func (j *Journal) Load(ctx context.Context) int {
	if j.store == nil {
		return 0
	}
	events, err := j.store.Load(ctx)
	if err != nil {
		j.logger.Warn().Err(err).Msg("failed to load persisted journal, starting empty")
		return 0
	}
	replayed := make([]core.ThreatEvent, len(events))
	for i, ev := range events {
		replayed[i] = ev.WithOrigin(core.OriginJournal)
	}

	j.mu.Lock()
	j.persisted = Merge(j.maxPersisted, j.persisted, replayed)
	j.live = Merge(j.maxLive, j.live, replayed)
	n := len(j.live)
	j.mu.Unlock()

	j.logger.Info().Int("loaded", len(events)).Int("live", n).Msg("journal replayed")
	return len(events)
}

// Add merges one event into the journal.
func (j *Journal) Add(ctx context.Context, ev core.ThreatEvent) {
	j.AddAll(ctx, []core.ThreatEvent{ev})
}

// AddAll merges a batch of events and persists the result.
func (j *Journal) AddAll(ctx context.Context, events []core.ThreatEvent) {
	if len(events) == 0 {
		return
	}

	j.mu.Lock()
	before := make(map[string]core.ActionTaken, len(j.live))
	for _, ev := range j.live {
		before[ev.ID] = ev.ActionTaken
	}
	j.live = Merge(j.maxLive, j.live, events)
	j.persisted = Merge(j.maxPersisted, j.persisted, events)

	var changed []core.ThreatEvent
	for _, ev := range j.live {
		prev, seen := before[ev.ID]
		if !seen || ev.ActionTaken.Supersedes(prev) {
			changed = append(changed, ev)
		}
	}
	callbacks := j.onAdd
	j.mu.Unlock()

	for _, ev := range changed {
		for _, fn := range callbacks {
			fn(ev)
		}
	}
	j.persist(ctx)
}

// Clear empties both the live list and the persisted history.
func (j *Journal) Clear(ctx context.Context) error {
	j.mu.Lock()
	j.live = nil
	j.persisted = nil
	j.mu.Unlock()

	if j.store == nil {
		return nil
	}
	j.persistMu.Lock()
	defer j.persistMu.Unlock()
	if err := j.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing journal store: %w", err)
	}
	return nil
}

// Events returns a copy of the live list, newest first.
func (j *Journal) Events() []core.ThreatEvent {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]core.ThreatEvent, len(j.live))
	copy(out, j.live)
	return out
}

// Recent returns up to n of the newest live events.
func (j *Journal) Recent(n int) []core.ThreatEvent {
	events := j.Events()
	if n > 0 && len(events) > n {
		events = events[:n]
	}
	return events
}

// Get returns the live event with the given id.
func (j *Journal) Get(id string) (core.ThreatEvent, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, ev := range j.live {
		if ev.ID == id {
			return ev, true
		}
	}
	return core.ThreatEvent{}, false
}

// Len returns the size of the live list.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.live)
}

// PersistedLen returns the size of the persisted history.
func (j *Journal) PersistedLen() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.persisted)
}

// Close releases the store.
func (j *Journal) Close() error {
	if j.store == nil {
		return nil
	}
	return j.store.Close()
}

func (j *Journal) persist(ctx context.Context) {
	if j.store == nil {
		return
	}
	j.persistMu.Lock()
	defer j.persistMu.Unlock()

	j.mu.RLock()
	snapshot := make([]core.ThreatEvent, len(j.persisted))
	copy(snapshot, j.persisted)
	j.mu.RUnlock()

	if err := j.store.Save(ctx, snapshot); err != nil {
		j.logger.Warn().Err(err).Int("events", len(snapshot)).Msg("failed to persist journal")
	}
}

package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PauseStatus is the outcome class of one pause attempt.
type PauseStatus string

const (
	PauseStatusSuccess       PauseStatus = "SUCCESS"
	PauseStatusAlreadyPaused PauseStatus = "ALREADY_PAUSED"
	PauseStatusFailed        PauseStatus = "FAILED"
	PauseStatusPending       PauseStatus = "PENDING"
	PauseStatusDryRun        PauseStatus = "DRY_RUN"
	PauseStatusCooldown      PauseStatus = "COOLDOWN"
	PauseStatusSkipped       PauseStatus = "SKIPPED"
)

// PauseSource says who asked for a pause.
type PauseSource string

const (
	SourceAutomatic PauseSource = "automatic"
	SourceEmergency PauseSource = "emergency"
	SourceOperator  PauseSource = "operator"
)

// PauseRecord is the audit entry for one pause attempt (executed or not).
type PauseRecord struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Contract   string      `json:"contract"`
	VulnRef    string      `json:"vulnRef,omitempty"`
	EventID    string      `json:"eventId,omitempty"`
	Source     PauseSource `json:"source"`
	Status     PauseStatus `json:"status"`
	TxHash     string      `json:"txHash,omitempty"`
	ErrorClass string      `json:"errorClass,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

// NewPauseRecord stamps a record with a fresh id and the current time.
func NewPauseRecord(contract string, source PauseSource, status PauseStatus) PauseRecord {
	return PauseRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Contract:  NormalizeAddress(contract),
		Source:    source,
		Status:    status,
	}
}

// Succeeded reports whether the contract is paused (or would be, in dry run)
// after this attempt.
func (r PauseRecord) Succeeded() bool {
	switch r.Status {
	case PauseStatusSuccess, PauseStatusAlreadyPaused, PauseStatusDryRun:
		return true
	}
	return false
}

// Marshal serializes the record to JSON.
func (r PauseRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ResponseLog is a bounded in-memory audit log of pause attempts.
type ResponseLog struct {
	mu         sync.RWMutex
	records    []PauseRecord
	maxRecords int
}

// NewResponseLog creates a log holding at most maxRecords entries.
func NewResponseLog(maxRecords int) *ResponseLog {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &ResponseLog{maxRecords: maxRecords}
}

// Append stores a record, dropping the oldest tenth when full.
func (l *ResponseLog) Append(rec PauseRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.maxRecords {
		drop := l.maxRecords / 10
		if drop == 0 {
			drop = 1
		}
		l.records = append([]PauseRecord(nil), l.records[drop:]...)
	}
	l.records = append(l.records, rec)
}

// Records returns up to limit records, newest first, optionally filtered by
// contract.
func (l *ResponseLog) Records(limit int, contract string) []PauseRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	contract = NormalizeAddress(contract)
	out := make([]PauseRecord, 0)
	for i := len(l.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		r := l.records[i]
		if contract != "" && r.Contract != contract {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Find returns a record by id.
func (l *ResponseLog) Find(id string) (PauseRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.records {
		if r.ID == id {
			return r, true
		}
	}
	return PauseRecord{}, false
}

// Stats summarizes the log by status and source.
func (l *ResponseLog) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byStatus := make(map[string]int)
	bySource := make(map[string]int)
	for _, r := range l.records {
		byStatus[string(r.Status)]++
		bySource[string(r.Source)]++
	}
	return map[string]interface{}{
		"total_records": len(l.records),
		"by_status":     byStatus,
		"by_source":     bySource,
	}
}

// Cooldowns suppresses repeated automatic actions against the same key.
type Cooldowns struct {
	mu     sync.Mutex
	period time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// NewCooldowns creates a tracker. A zero period disables cooldowns.
func NewCooldowns(period time.Duration) *Cooldowns {
	return &Cooldowns{period: period, last: make(map[string]time.Time), now: time.Now}
}

// Active reports whether key fired within the cooldown period.
func (c *Cooldowns) Active(key string) bool {
	if c.period <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[key]
	return ok && c.now().Sub(last) < c.period
}

// Touch starts the cooldown for key.
func (c *Cooldowns) Touch(key string) {
	if c.period <= 0 {
		return
	}
	c.mu.Lock()
	c.last[key] = c.now()
	c.mu.Unlock()
}

// Purge drops entries older than the cooldown period.
func (c *Cooldowns) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for key, last := range c.last {
		if now.Sub(last) >= c.period {
			delete(c.last, key)
			n++
		}
	}
	return n
}

// Run purges expired entries every interval until ctx ends.
func (c *Cooldowns) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}

package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ThreatLevel represents the severity of a detected on-chain condition.
type ThreatLevel int

const (
	LevelInfo ThreatLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l ThreatLevel) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelLow:
		return "LOW"
	case LevelMedium:
		return "MEDIUM"
	case LevelHigh:
		return "HIGH"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (l ThreatLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *ThreatLevel) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*l = ParseThreatLevel(str)
	return nil
}

// ParseThreatLevel converts a level name to a ThreatLevel. Unknown names map to INFO.
func ParseThreatLevel(s string) ThreatLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return LevelLow
	case "MEDIUM":
		return LevelMedium
	case "HIGH":
		return LevelHigh
	case "CRITICAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// ResponseAction is the action recommended for a scored transaction.
type ResponseAction string

const (
	ResponseMonitor ResponseAction = "MONITOR"
	ResponseAlert   ResponseAction = "ALERT"
	ResponsePause   ResponseAction = "PAUSE"
)

// ActionTaken records what the pipeline did about an event.
type ActionTaken string

const (
	ActionNone           ActionTaken = "NONE"
	ActionAlert          ActionTaken = "ALERT"
	ActionPauseTriggered ActionTaken = "PAUSE_TRIGGERED"
)

// rank orders actions so a journal merge can only ever upgrade actionTaken.
func (a ActionTaken) rank() int {
	switch a {
	case ActionAlert:
		return 1
	case ActionPauseTriggered:
		return 2
	default:
		return 0
	}
}

// Supersedes reports whether a is a stronger outcome than b.
func (a ActionTaken) Supersedes(b ActionTaken) bool {
	return a.rank() > b.rank()
}

// Origin identifies which adapter produced a ThreatEvent.
type Origin string

const (
	OriginChain   Origin = "CHAIN"
	OriginMonitor Origin = "MONITOR"
	OriginJournal Origin = "JOURNAL"
)

// ThreatEvent is the immutable record of one detected condition. The ID is
// the only identity used for deduplication across origins.
type ThreatEvent struct {
	ID               string      `json:"id"`
	Timestamp        int64       `json:"timestamp"`
	Level            ThreatLevel `json:"level"`
	ContractAddress  string      `json:"contractAddress"`
	TransactionHash  string      `json:"transactionHash"`
	OriginAddress    string      `json:"originAddress"`
	Details          string      `json:"details"`
	Confidence       float64     `json:"confidence"`
	ActionTaken      ActionTaken `json:"actionTaken"`
	ValueTransferred string      `json:"valueTransferred,omitempty"`
	Origin           Origin      `json:"origin,omitempty"`
	Score            int         `json:"score,omitempty"`
	Factors          []string    `json:"factors,omitempty"`
}

// EventID derives the occurrence identity for a locally detected event.
func EventID(txHash string, detectedAt time.Time) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(txHash), detectedAt.UnixMilli())
}

// Time returns the event timestamp as a time.Time.
func (e ThreatEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// WithAction returns a copy of the event with actionTaken set. It is the only
// mutation a ThreatEvent ever sees.
func (e ThreatEvent) WithAction(a ActionTaken) ThreatEvent {
	out := e
	out.ActionTaken = a
	if e.Factors != nil {
		out.Factors = append([]string(nil), e.Factors...)
	}
	return out
}

// WithOrigin returns a copy tagged with the given origin.
func (e ThreatEvent) WithOrigin(o Origin) ThreatEvent {
	out := e
	out.Origin = o
	return out
}

// Marshal serializes the event to JSON.
func (e ThreatEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalThreatEvent deserializes a ThreatEvent from JSON.
func UnmarshalThreatEvent(data []byte) (ThreatEvent, error) {
	var event ThreatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ThreatEvent{}, err
	}
	if event.ActionTaken == "" {
		event.ActionTaken = ActionNone
	}
	return event, nil
}

// NormalizeAddress lowercases a hex address for map keys and comparisons.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

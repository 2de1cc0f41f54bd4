package stream

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
)

// MessageType discriminates monitor envelopes.
type MessageType string

const (
	MsgInit           MessageType = "INIT"
	MsgThreatDetected MessageType = "THREAT_DETECTED"
	MsgRegistration   MessageType = "REGISTRATION"
	MsgPauseTriggered MessageType = "PAUSE_TRIGGERED"
	MsgPauseLifted    MessageType = "PAUSE_LIFTED"
)

// Message is the envelope the monitoring service sends.
type Message struct {
	Type            MessageType       `json:"type"`
	ContractAddress string            `json:"contractAddress,omitempty"`
	Threat          *core.ThreatEvent `json:"threat,omitempty"`
	Contracts       []string          `json:"contracts,omitempty"`
	LastBlock       uint64            `json:"lastBlock,omitempty"`
}

// DecodeMessage parses and validates an envelope.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding monitor message: %w", err)
	}
	switch msg.Type {
	case MsgInit:
	case MsgThreatDetected:
		if msg.Threat == nil {
			return Message{}, fmt.Errorf("%s without threat payload", msg.Type)
		}
	case MsgRegistration, MsgPauseTriggered, MsgPauseLifted:
		if msg.ContractAddress == "" {
			return Message{}, fmt.Errorf("%s without contractAddress", msg.Type)
		}
	default:
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// ContractSink receives the contract-state side of monitor messages.
type ContractSink interface {
	SeedContracts(addrs []string)
	AddContract(addr string)
	// RefreshPauseState triggers an authoritative paused() read. Monitor
	// messages are never trusted as paused state on their own.
	RefreshPauseState(addr string)
}

// Feed adapts monitor messages into ThreatEvents and contract callbacks.
type Feed struct {
	onThreat  func(core.ThreatEvent)
	sink      ContractSink
	logger    zerolog.Logger
	lastBlock atomic.Uint64
	invalid   atomic.Uint64
}

// NewFeed creates a feed. sink may be nil.
func NewFeed(onThreat func(core.ThreatEvent), sink ContractSink, logger zerolog.Logger) *Feed {
	return &Feed{
		onThreat: onThreat,
		sink:     sink,
		logger:   logger.With().Str("component", "monitor_feed").Logger(),
	}
}

// LastBlock returns the last block height reported by the monitor.
func (f *Feed) LastBlock() uint64 { return f.lastBlock.Load() }

// Invalid returns the number of undecodable messages seen.
func (f *Feed) Invalid() uint64 { return f.invalid.Load() }

// Handle processes one raw message. It is the Manager's message handler.
func (f *Feed) Handle(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		f.invalid.Add(1)
		f.logger.Debug().Err(err).Msg("ignoring monitor message")
		return
	}

	switch msg.Type {
	case MsgInit:
		if msg.LastBlock > f.lastBlock.Load() {
			f.lastBlock.Store(msg.LastBlock)
		}
		if f.sink != nil {
			f.sink.SeedContracts(msg.Contracts)
		}
		f.logger.Info().Int("contracts", len(msg.Contracts)).Uint64("last_block", msg.LastBlock).Msg("monitor session initialized")

	case MsgThreatDetected:
		ev := msg.Threat.WithOrigin(core.OriginMonitor)
		if ev.ContractAddress == "" {
			ev.ContractAddress = msg.ContractAddress
		}
		ev.ContractAddress = core.NormalizeAddress(ev.ContractAddress)
		if ev.Timestamp == 0 {
			ev.Timestamp = time.Now().UnixMilli()
		}
		if ev.ID == "" {
			ev.ID = core.EventID(ev.TransactionHash, ev.Time())
		}
		if ev.ActionTaken == "" {
			ev.ActionTaken = core.ActionNone
		}
		if f.onThreat != nil {
			f.onThreat(ev)
		}

	case MsgRegistration:
		if f.sink != nil {
			f.sink.AddContract(msg.ContractAddress)
		}

	case MsgPauseTriggered, MsgPauseLifted:
		if f.sink != nil {
			f.sink.RefreshPauseState(msg.ContractAddress)
		}
	}
}

package core

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// ─── ThreatLevel ────────────────────────────────────────────────────────────

func TestThreatLevel_String(t *testing.T) {
	cases := []struct {
		l    ThreatLevel
		want string
	}{
		{LevelInfo, "INFO"},
		{LevelLow, "LOW"},
		{LevelMedium, "MEDIUM"},
		{LevelHigh, "HIGH"},
		{LevelCritical, "CRITICAL"},
	}
	for _, tc := range cases {
		if got := tc.l.String(); got != tc.want {
			t.Errorf("ThreatLevel(%d).String() = %q, want %q", tc.l, got, tc.want)
		}
		if ParseThreatLevel(strings.ToLower(tc.want)) != tc.l {
			t.Errorf("ParseThreatLevel(%q) did not return %s", tc.want, tc.l)
		}
	}
	if ParseThreatLevel("bogus") != LevelInfo {
		t.Error("unknown level should parse as INFO")
	}
}

func TestThreatLevel_Ordering(t *testing.T) {
	if !(LevelInfo < LevelLow && LevelLow < LevelMedium && LevelMedium < LevelHigh && LevelHigh < LevelCritical) {
		t.Error("levels are not ordered")
	}
}

// ─── ActionTaken ────────────────────────────────────────────────────────────

func TestActionTaken_Supersedes(t *testing.T) {
	if !ActionPauseTriggered.Supersedes(ActionAlert) || !ActionAlert.Supersedes(ActionNone) {
		t.Error("stronger actions should supersede weaker ones")
	}
	if ActionNone.Supersedes(ActionPauseTriggered) || ActionAlert.Supersedes(ActionAlert) {
		t.Error("weaker or equal actions must not supersede")
	}
}

// ─── ThreatEvent ────────────────────────────────────────────────────────────

func TestEventID(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	if got := EventID("0xABCdef", at); got != "0xabcdef-1700000000123" {
		t.Errorf("EventID = %q", got)
	}
}

func TestThreatEvent_WithActionCopies(t *testing.T) {
	ev := ThreatEvent{ID: "a", ActionTaken: ActionNone, Factors: []string{"MASS_TRANSFER"}}
	up := ev.WithAction(ActionPauseTriggered)

	if ev.ActionTaken != ActionNone {
		t.Error("WithAction mutated the original")
	}
	if up.ActionTaken != ActionPauseTriggered {
		t.Errorf("ActionTaken = %s", up.ActionTaken)
	}
	up.Factors[0] = "changed"
	if ev.Factors[0] != "MASS_TRANSFER" {
		t.Error("factors slice is shared between copies")
	}
}

func TestThreatEvent_WireFormat(t *testing.T) {
	ev := ThreatEvent{
		ID:              "0xabc-1",
		Timestamp:       1,
		Level:           LevelCritical,
		ContractAddress: "0xc0ffee",
		TransactionHash: "0xabc",
		OriginAddress:   "0xbad",
		Details:         "mass token transfers",
		Confidence:      0.95,
		ActionTaken:     ActionPauseTriggered,
	}
	data, err := ev.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["level"] != "CRITICAL" || raw["actionTaken"] != "PAUSE_TRIGGERED" || raw["contractAddress"] != "0xc0ffee" {
		t.Errorf("unexpected wire form: %s", data)
	}
	if _, ok := raw["valueTransferred"]; ok {
		t.Error("empty valueTransferred should be omitted")
	}
}

func TestUnmarshalThreatEvent_DefaultsAction(t *testing.T) {
	ev, err := UnmarshalThreatEvent([]byte(`{"id":"x","timestamp":5,"level":"HIGH"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.ActionTaken != ActionNone || ev.Level != LevelHigh {
		t.Errorf("got action=%s level=%s", ev.ActionTaken, ev.Level)
	}
	if _, err := UnmarshalThreatEvent([]byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestNormalizeAddress(t *testing.T) {
	if got := NormalizeAddress("  0xAbC "); got != "0xabc" {
		t.Errorf("NormalizeAddress = %q", got)
	}
}

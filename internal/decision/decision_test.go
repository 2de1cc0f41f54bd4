package decision

import (
	"testing"

	"github.com/pauseguard/pauseguard/internal/core"
)

func TestStandard_Bands(t *testing.T) {
	p := Standard()
	cases := []struct {
		score  int
		level  core.ThreatLevel
		action core.ResponseAction
		emit   bool
	}{
		{100, core.LevelCritical, core.ResponsePause, true},
		{90, core.LevelCritical, core.ResponsePause, true},
		{89, core.LevelHigh, core.ResponsePause, true},
		{85, core.LevelHigh, core.ResponsePause, true},
		{84, core.LevelHigh, core.ResponseAlert, true},
		{75, core.LevelHigh, core.ResponseAlert, true},
		{74, core.LevelMedium, core.ResponseAlert, true},
		{50, core.LevelMedium, core.ResponseAlert, true},
		{49, core.LevelLow, core.ResponseMonitor, true},
		{30, core.LevelLow, core.ResponseMonitor, true},
		{29, core.LevelInfo, core.ResponseMonitor, false},
		{0, core.LevelInfo, core.ResponseMonitor, false},
	}
	for _, tc := range cases {
		got := p.Decide(tc.score)
		if got.Level != tc.level || got.Action != tc.action || got.Emit != tc.emit {
			t.Errorf("Decide(%d) = %+v, want level=%s action=%s emit=%v",
				tc.score, got, tc.level, tc.action, tc.emit)
		}
	}
}

func TestDecide_PartitionsWholeRange(t *testing.T) {
	for _, p := range []Policy{Standard(), Strict()} {
		prev := p.Decide(0)
		for s := 1; s <= 100; s++ {
			cur := p.Decide(s)
			if cur.Level < prev.Level {
				t.Fatalf("%s: level decreased at %d: %s -> %s", p.Name, s, prev.Level, cur.Level)
			}
			if cur != p.Decide(s) {
				t.Fatalf("%s: Decide(%d) not deterministic", p.Name, s)
			}
			if cur.Action == core.ResponsePause && cur.Level < core.LevelHigh {
				t.Fatalf("%s: pause recommended below HIGH at %d", p.Name, s)
			}
			prev = cur
		}
	}
}

func TestDecide_ClampsOutOfRange(t *testing.T) {
	p := Standard()
	if got := p.Decide(250); got.Level != core.LevelCritical {
		t.Errorf("Decide(250).Level = %s, want CRITICAL", got.Level)
	}
	if got := p.Decide(-5); got.Emit {
		t.Error("Decide(-5) should not emit")
	}
}

func TestShouldPause_UsesNamedThreshold(t *testing.T) {
	p := Standard()
	if !p.ShouldPause(DefaultAutoPauseThreshold) {
		t.Errorf("score %d should pause", DefaultAutoPauseThreshold)
	}
	if p.ShouldPause(DefaultAutoPauseThreshold - 1) {
		t.Errorf("score %d should not pause", DefaultAutoPauseThreshold-1)
	}
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(core.DecisionConfig{Policy: "strict"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "strict" || p.Critical != 80 {
		t.Errorf("got %+v", p)
	}

	p, err = FromConfig(core.DecisionConfig{Policy: "standard", AutoPauseThreshold: 95})
	if err != nil {
		t.Fatal(err)
	}
	if p.AutoPause != 95 || p.Critical != 95 {
		t.Errorf("override not applied: %+v", p)
	}
	if p.ShouldPause(90) {
		t.Error("score 90 should not pause with cutoff 95")
	}

	if _, err := FromConfig(core.DecisionConfig{Policy: "lenient"}); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestValidate_RejectsUnordered(t *testing.T) {
	p := Standard()
	p.High = 95
	if err := p.Validate(); err == nil {
		t.Error("expected error for high above auto-pause")
	}
}

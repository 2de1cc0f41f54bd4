// Package decision maps a heuristic score onto a threat level and the
// response the pipeline should take.
package decision

import (
	"fmt"
	"strings"

	"github.com/pauseguard/pauseguard/internal/core"
)

// DefaultAutoPauseThreshold is the score at or above which the standard policy
// pauses a contract without operator involvement. Every call site reads the
// cutoff from a Policy built on this constant.
const DefaultAutoPauseThreshold = 85

// Band boundaries of the standard policy.
const (
	DefaultCriticalThreshold  = 90
	DefaultHighAlertThreshold = 75
	DefaultMediumThreshold    = 50
	DefaultLowThreshold       = 30
)

// Policy is an ordered set of score boundaries. Scores below Low emit no event.
type Policy struct {
	Name      string `json:"name"`
	Critical  int    `json:"critical"`
	AutoPause int    `json:"auto_pause"`
	High      int    `json:"high"`
	Medium    int    `json:"medium"`
	Low       int    `json:"low"`
}

// Outcome is the result of deciding on a single score.
type Outcome struct {
	Level  core.ThreatLevel    `json:"level"`
	Action core.ResponseAction `json:"action"`
	// Emit is false when the score falls below the lowest band.
	Emit bool `json:"emit"`
}

// Standard is the reference policy used by the transaction analyzer.
func Standard() Policy {
	return Policy{
		Name:      "standard",
		Critical:  DefaultCriticalThreshold,
		AutoPause: DefaultAutoPauseThreshold,
		High:      DefaultHighAlertThreshold,
		Medium:    DefaultMediumThreshold,
		Low:       DefaultLowThreshold,
	}
}

// Strict is the tighter policy used by the remote monitoring service, where
// CRITICAL starts at 80 and pauses immediately.
func Strict() Policy {
	return Policy{
		Name:      "strict",
		Critical:  80,
		AutoPause: 80,
		High:      70,
		Medium:    50,
		Low:       30,
	}
}

// Named returns a built-in policy by name.
func Named(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return Standard(), nil
	case "strict":
		return Strict(), nil
	default:
		return Policy{}, fmt.Errorf("unknown decision policy %q", name)
	}
}

// FromConfig builds the configured policy and applies any auto-pause override.
func FromConfig(cfg core.DecisionConfig) (Policy, error) {
	p, err := Named(cfg.Policy)
	if err != nil {
		return Policy{}, err
	}
	if cfg.AutoPauseThreshold > 0 {
		p.AutoPause = cfg.AutoPauseThreshold
		if p.Critical < p.AutoPause {
			p.Critical = p.AutoPause
		}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that the boundaries are totally ordered inside [0,100] and
// that PAUSE can only be reached at or above the HIGH band.
func (p Policy) Validate() error {
	if p.Low < 0 || p.Critical > 100 {
		return fmt.Errorf("policy %q: boundaries must lie in [0,100]", p.Name)
	}
	if !(p.Low <= p.Medium && p.Medium <= p.High && p.High <= p.AutoPause && p.AutoPause <= p.Critical) {
		return fmt.Errorf("policy %q: boundaries not ordered (low=%d medium=%d high=%d pause=%d critical=%d)",
			p.Name, p.Low, p.Medium, p.High, p.AutoPause, p.Critical)
	}
	return nil
}

// Decide maps a score to a level and action. Out-of-range scores are clamped.
func (p Policy) Decide(score int) Outcome {
	score = Clamp(score)
	switch {
	case score >= p.Critical:
		return Outcome{Level: core.LevelCritical, Action: core.ResponsePause, Emit: true}
	case score >= p.AutoPause:
		return Outcome{Level: core.LevelHigh, Action: core.ResponsePause, Emit: true}
	case score >= p.High:
		return Outcome{Level: core.LevelHigh, Action: core.ResponseAlert, Emit: true}
	case score >= p.Medium:
		return Outcome{Level: core.LevelMedium, Action: core.ResponseAlert, Emit: true}
	case score >= p.Low:
		return Outcome{Level: core.LevelLow, Action: core.ResponseMonitor, Emit: true}
	default:
		return Outcome{Level: core.LevelInfo, Action: core.ResponseMonitor, Emit: false}
	}
}

// ShouldPause reports whether a score reaches the policy's pause cutoff.
func (p Policy) ShouldPause(score int) bool {
	return p.Decide(score).Action == core.ResponsePause
}

// Clamp restricts a score to [0,100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

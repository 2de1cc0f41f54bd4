// Package journal keeps the deduplicated, capacity-bounded list of threat
// events seen by this process and its persisted history.
package journal

import (
	"sort"

	"github.com/pauseguard/pauseguard/internal/core"
)

// Merge combines event lists into one deduplicated list ordered newest first.
//
// The id is the only identity. The first occurrence of an id keeps its fields;
// a later occurrence can only upgrade actionTaken (NONE < ALERT <
// PAUSE_TRIGGERED). Ties on timestamp are broken by id so the result is
// deterministic. When limit > 0 the oldest events beyond it are dropped.
// Merge does not modify its inputs.
func Merge(limit int, lists ...[]core.ThreatEvent) []core.ThreatEvent {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	index := make(map[string]int, total)
	out := make([]core.ThreatEvent, 0, total)

	for _, l := range lists {
		for _, ev := range l {
			if ev.ID == "" {
				continue
			}
			if i, ok := index[ev.ID]; ok {
				if ev.ActionTaken.Supersedes(out[i].ActionTaken) {
					out[i] = out[i].WithAction(ev.ActionTaken)
				}
				continue
			}
			index[ev.ID] = len(out)
			out = append(out, ev.WithAction(actionOrNone(ev.ActionTaken)))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func actionOrNone(a core.ActionTaken) core.ActionTaken {
	if a == "" {
		return core.ActionNone
	}
	return a
}

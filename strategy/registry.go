package strategy

import "sort"

// Registry holds the ordered set of strategy plug-ins the optimizer draws
// from. Order is not semantically meaningful (the optimizer always ranks by
// profit/priority/name); Registry only exists so callers can enable/disable
// and enumerate strategies without reaching into package-level globals.
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds a registry from the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Add appends a strategy to the registry.
func (r *Registry) Add(s Strategy) {
	r.strategies = append(r.strategies, s)
}

// Enabled returns every enabled strategy, sorted by name for deterministic
// iteration order (the optimizer's own tie-break re-sorts by other keys
// first, but deterministic input order matters for reproducible debug
// traces).
func (r *Registry) Enabled() []Strategy {
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		if s.Enabled() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// All returns every registered strategy, enabled or not.
func (r *Registry) All() []Strategy {
	return append([]Strategy(nil), r.strategies...)
}

// DefaultRegistry builds the registry the repository ships with: baseline
// self-use, time-aware cheapest-block charging, the three winter-adaptive
// generations (V6 superseded in priority by V7 then V9, all left enabled so
// the optimizer's profit ranking, not manual toggling, decides the
// winner), and the no-battery baseline, which is disabled by default.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewSelfUse(),
		NewTimeAwareCharge(),
		NewWinterAdaptiveV6(),
		NewWinterAdaptiveV7(),
		NewWinterAdaptiveV9(),
		NewNoBattery(),
	)
}

// Configure applies the config file's strategy toggles: names in disabled
// are switched off, and priorities override the registry defaults where a
// strategy supports it.
func (r *Registry) Configure(disabled []string, priority map[string]int) {
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[name] = true
	}
	for _, s := range r.strategies {
		if off[s.Name()] {
			if t, ok := s.(interface{ SetEnabled(bool) }); ok {
				t.SetEnabled(false)
			}
		}
		if p, ok := priority[s.Name()]; ok {
			if t, ok := s.(interface{ SetPriority(int) }); ok {
				t.SetPriority(p)
			}
		}
	}
}

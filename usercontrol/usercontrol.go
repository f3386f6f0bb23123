// Package usercontrol holds the single-writer, multi-reader user-override
// store: time-bounded fixed slots and
// charge/discharge restriction flags that preempt strategy output. Mutated
// through Apply, which the planner calls after draining the
// user-control-updates channel, and replaced wholesale by Load.
package usercontrol

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kestrelhome/battplan/strategy"
)

// FixedSlot is a user-defined interval locking the mode regardless of
// strategy output. IDs are UUID-like strings, assigned by the caller
// submitting the slot (the HTTP layer, out of scope for this package).
type FixedSlot struct {
	ID    string        `json:"id"`
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
	Mode  strategy.Mode `json:"mode"`
	Note  string        `json:"note"`
}

// Covers reports whether the slot covers instant t.
func (s FixedSlot) Covers(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// State is the JSON-persisted snapshot of the override store.
type State struct {
	Enabled           bool        `json:"enabled"`
	DisallowCharge    bool        `json:"disallow_charge"`
	DisallowDischarge bool        `json:"disallow_discharge"`
	FixedSlots        []FixedSlot `json:"fixed_slots"`
}

// Store is the in-memory, single-writer/multi-reader override state.
type Store struct {
	mu    sync.RWMutex
	state State
	path  string
}

// NewStore returns an empty, enabled store. If path is non-empty, Save
// persists atomically to that file.
func NewStore(path string) *Store {
	return &Store{state: State{Enabled: true}, path: path}
}

// Snapshot returns a deep copy of the current state, safe to read without
// holding any lock afterward.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.state
	cp.FixedSlots = append([]FixedSlot(nil), s.state.FixedSlots...)
	return cp
}

// UpdateEvent is one atomic mutation the planner applies, posted by the
// HTTP layer onto the user-control-updates channel.
type UpdateEvent struct {
	SetEnabled           *bool
	SetDisallowCharge    *bool
	SetDisallowDischarge *bool
	UpsertSlot           *FixedSlot
	RemoveSlotID         string
}

// Apply atomically mutates the store per ev and reports whether the change
// affects the current or next-24h window, which is what decides a schedule
// regeneration.
func (s *Store) Apply(ev UpdateEvent, now time.Time) (affectsUpcoming bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.SetEnabled != nil {
		s.state.Enabled = *ev.SetEnabled
		affectsUpcoming = true
	}
	if ev.SetDisallowCharge != nil {
		s.state.DisallowCharge = *ev.SetDisallowCharge
		affectsUpcoming = true
	}
	if ev.SetDisallowDischarge != nil {
		s.state.DisallowDischarge = *ev.SetDisallowDischarge
		affectsUpcoming = true
	}
	if ev.UpsertSlot != nil {
		slot := *ev.UpsertSlot
		replaced := false
		for i, existing := range s.state.FixedSlots {
			if existing.ID == slot.ID {
				s.state.FixedSlots[i] = slot
				replaced = true
				break
			}
		}
		if !replaced {
			s.state.FixedSlots = append(s.state.FixedSlots, slot)
		}
		if slotOverlapsWindow(slot, now) {
			affectsUpcoming = true
		}
	}
	if ev.RemoveSlotID != "" {
		for i, existing := range s.state.FixedSlots {
			if existing.ID == ev.RemoveSlotID {
				if slotOverlapsWindow(existing, now) {
					affectsUpcoming = true
				}
				s.state.FixedSlots = append(s.state.FixedSlots[:i], s.state.FixedSlots[i+1:]...)
				break
			}
		}
	}
	return affectsUpcoming
}

func slotOverlapsWindow(slot FixedSlot, now time.Time) bool {
	windowEnd := now.Add(24 * time.Hour)
	return slot.Start.Before(windowEnd) && slot.End.After(now)
}

// SlotAt returns the fixed slot covering t, if any. When slots overlap,
// the earliest-start wins.
func (s *Store) SlotAt(t time.Time) (FixedSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []FixedSlot
	for _, slot := range s.state.FixedSlots {
		if slot.Covers(t) {
			matches = append(matches, slot)
		}
	}
	if len(matches) == 0 {
		return FixedSlot{}, false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Start.Before(matches[j].Start) })
	return matches[0], true
}

// Load reads the store's state from path (JSON), replacing the in-memory
// state wholesale.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("usercontrol: opening %s: %w", s.path, err)
	}
	defer f.Close()
	return s.LoadFromReader(f)
}

// LoadFromReader decodes JSON state from r, replacing the in-memory state.
func (s *Store) LoadFromReader(r io.Reader) error {
	var state State
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return fmt.Errorf("usercontrol: decoding state: %w", err)
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

// Save persists the current state atomically (write-temp + rename),
// mirroring Config.SaveConfig's pattern.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	snapshot := s.Snapshot()

	tmp, err := os.CreateTemp(dirOf(s.path), "usercontrol-*.tmp")
	if err != nil {
		return fmt.Errorf("usercontrol: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		tmp.Close()
		return fmt.Errorf("usercontrol: encoding state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("usercontrol: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("usercontrol: renaming into place: %w", err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

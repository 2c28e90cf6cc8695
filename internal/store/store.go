// Package store owns the authoritative entity collections. Readers get an
// immutable *State; writers publish a fresh copy with a compare-and-swap.
package store

import (
	"errors"
	"sync/atomic"

	"meshops-sim/internal/telemetry"
)

// ErrConflict is returned when the state changed between read and replace.
var ErrConflict = errors.New("store: state replaced concurrently")

// State is one consistent view of the world. Values handed out by Store.Load
// must not be mutated; use Clone to derive the next state.
type State struct {
	Units       []telemetry.Unit
	Groups      []telemetry.Group
	Assignments map[string]telemetry.Assignment
	Gateway     *telemetry.Position
	Rally       bool
	Pending     []telemetry.Message
	Tick        uint64
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	c := &State{
		Units:       make([]telemetry.Unit, len(s.Units)),
		Groups:      append([]telemetry.Group(nil), s.Groups...),
		Assignments: make(map[string]telemetry.Assignment, len(s.Assignments)),
		Rally:       s.Rally,
		Pending:     append([]telemetry.Message(nil), s.Pending...),
		Tick:        s.Tick,
	}
	for i, u := range s.Units {
		c.Units[i] = u.Clone()
	}
	for k, a := range s.Assignments {
		c.Assignments[k] = a.Clone()
	}
	if s.Gateway != nil {
		g := *s.Gateway
		c.Gateway = &g
	}
	return c
}

// UnitIndex returns the slice index of the unit with id, or -1.
func (s *State) UnitIndex(id string) int {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return i
		}
	}
	return -1
}

// UnitByName looks a unit up by its display name.
func (s *State) UnitByName(name string) (*telemetry.Unit, bool) {
	for i := range s.Units {
		if s.Units[i].Name == name {
			return &s.Units[i], true
		}
	}
	return nil, false
}

// GroupIndex returns the slice index of the group with id, or -1.
func (s *State) GroupIndex(id string) int {
	for i := range s.Groups {
		if s.Groups[i].ID == id {
			return i
		}
	}
	return -1
}

// GroupByName looks a group up by its display name.
func (s *State) GroupByName(name string) (*telemetry.Group, bool) {
	for i := range s.Groups {
		if s.Groups[i].Name == name {
			return &s.Groups[i], true
		}
	}
	return nil, false
}

// Store is a single-writer container for State.
type Store struct {
	cur atomic.Pointer[State]
}

// New creates a store holding initial. A nil initial starts empty.
func New(initial *State) *Store {
	if initial == nil {
		initial = &State{}
	}
	if initial.Assignments == nil {
		initial.Assignments = make(map[string]telemetry.Assignment)
	}
	s := &Store{}
	s.cur.Store(initial)
	return s
}

// Load returns the current state. Callers must treat it as read-only.
func (s *Store) Load() *State {
	return s.cur.Load()
}

// Replace publishes next if the current state is still old.
func (s *Store) Replace(old, next *State) error {
	if !s.cur.CompareAndSwap(old, next) {
		return ErrConflict
	}
	return nil
}

// Update clones the current state, applies fn and publishes the result.
// Nothing is published when fn fails.
func (s *Store) Update(fn func(*State) error) error {
	old := s.Load()
	next := old.Clone()
	if err := fn(next); err != nil {
		return err
	}
	return s.Replace(old, next)
}

package store

import (
	"errors"
	"testing"

	"meshops-sim/internal/telemetry"
)

func seed() *State {
	gw := telemetry.Position{Lat: 53.1975, Lng: 10.8451}
	return &State{
		Units:       []telemetry.Unit{{ID: "u1", Name: "alpha", PatrolTarget: &telemetry.Position{Lat: 1}}},
		Groups:      []telemetry.Group{{ID: "g1", Name: "red"}},
		Assignments: map[string]telemetry.Assignment{"g1": {GroupID: "g1", Kind: telemetry.AssignmentPendulum, Points: []telemetry.Position{{Lat: 1}}}},
		Gateway:     &gw,
	}
}

func TestUpdatePublishesCopy(t *testing.T) {
	s := New(seed())
	before := s.Load()
	err := s.Update(func(st *State) error {
		st.Units[0].Name = "bravo"
		st.Units[0].PatrolTarget.Lat = 5
		st.Assignments["g1"].Points[0] = telemetry.Position{Lat: 9}
		st.Gateway.Lat = 0
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if before.Units[0].Name != "alpha" || before.Units[0].PatrolTarget.Lat != 1 {
		t.Fatalf("previous state mutated: %+v", before.Units[0])
	}
	if before.Assignments["g1"].Points[0].Lat != 1 || before.Gateway.Lat == 0 {
		t.Fatalf("previous assignment or gateway mutated")
	}
	if s.Load().Units[0].Name != "bravo" {
		t.Fatalf("update not published")
	}
}

func TestUpdateErrorKeepsState(t *testing.T) {
	s := New(seed())
	before := s.Load()
	boom := errors.New("boom")
	if err := s.Update(func(st *State) error {
		st.Units = nil
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.Load() != before {
		t.Fatalf("state replaced despite error")
	}
}

func TestReplaceConflict(t *testing.T) {
	s := New(nil)
	old := s.Load()
	if err := s.Replace(old, old.Clone()); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := s.Replace(old, old.Clone()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestLookups(t *testing.T) {
	st := seed()
	if st.UnitIndex("u1") != 0 || st.UnitIndex("nope") != -1 {
		t.Fatalf("UnitIndex mismatch")
	}
	if _, ok := st.UnitByName("alpha"); !ok {
		t.Fatalf("UnitByName failed")
	}
	if g, ok := st.GroupByName("red"); !ok || g.ID != "g1" {
		t.Fatalf("GroupByName failed")
	}
	if st.GroupIndex("g2") != -1 {
		t.Fatalf("GroupIndex mismatch")
	}
}

package topology

import (
	"fmt"
	"math/rand"
	"testing"

	"meshops-sim/internal/geo"
	"meshops-sim/internal/telemetry"
)

var gw = telemetry.Position{Lat: 53.1975, Lng: 10.8451}

func active(id string, p telemetry.Position) telemetry.Unit {
	return telemetry.Unit{ID: id, Position: p, Active: true, Battery: 80, Status: telemetry.StatusIdle, HopCount: 1}
}

func TestSignal(t *testing.T) {
	cases := map[float64]int{0: -50, 1: -70, 2: -90, 2.5: -100, 3: -110, 5: -120, 100: -120}
	for d, want := range cases {
		if got := Signal(d); got != want {
			t.Errorf("Signal(%v) = %d, want %d", d, got, want)
		}
	}
	if Signal(1.02) != -70 {
		t.Errorf("expected rounding to -70, got %d", Signal(1.02))
	}
}

func TestRelayUsesChildParentLink(t *testing.T) {
	// A is 2 km from the gateway, B is 2 km beyond A and out of direct range.
	a := active("A", geo.Destination(gw, 90, 2))
	b := active("B", geo.Destination(a.Position, 90, 2))
	if d := geo.Distance(gw, b.Position); d < 3.9 {
		t.Fatalf("test geometry wrong, B is %v km from gateway", d)
	}
	units := []telemetry.Unit{b, a}
	res := Build(units, gw, 3)

	if units[1].HopCount != 1 || units[1].SignalStrength != -90 {
		t.Fatalf("A: hop=%d signal=%d", units[1].HopCount, units[1].SignalStrength)
	}
	if units[0].HopCount != 2 || units[0].SignalStrength != -90 {
		t.Fatalf("B: hop=%d signal=%d", units[0].HopCount, units[0].SignalStrength)
	}
	if res.Parents["B"] != "A" || res.Parents["A"] != "" {
		t.Fatalf("unexpected parents %v", res.Parents)
	}
	if res.MaxHop != 2 || res.Connected != 2 || len(res.Stranded) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStrandedUnitsDropped(t *testing.T) {
	near := active("near", geo.Destination(gw, 0, 1))
	far := active("far", geo.Destination(gw, 180, 10))
	far.Status = telemetry.StatusAlarm
	units := []telemetry.Unit{near, far}
	res := Build(units, gw, 3)
	if len(res.Stranded) != 1 || res.Stranded[0] != "far" {
		t.Fatalf("expected far stranded, got %v", res.Stranded)
	}
	f := units[1]
	if f.Active || f.Status != telemetry.StatusOffline || f.HopCount != 0 || f.SignalStrength != telemetry.SignalFloor {
		t.Fatalf("stranded unit not dropped: %+v", f)
	}
}

func TestInactiveUnitsNeverRelay(t *testing.T) {
	relay := active("relay", geo.Destination(gw, 0, 2))
	relay.Active = false
	relay.Battery = 0
	leaf := active("leaf", geo.Destination(relay.Position, 0, 2))
	units := []telemetry.Unit{relay, leaf}
	Build(units, gw, 3)
	if units[0].HopCount != 0 || units[0].Status != telemetry.StatusOffline {
		t.Fatalf("inactive relay: %+v", units[0])
	}
	if units[1].Active || units[1].HopCount != 0 {
		t.Fatalf("leaf should be stranded: %+v", units[1])
	}
}

func TestNearestConnectedParent(t *testing.T) {
	// two hop-1 candidates; the child is closer to p2
	p1 := active("p1", geo.Destination(gw, 90, 2.5))
	p2 := active("p2", geo.Destination(gw, 80, 2.8))
	child := active("c", geo.Destination(gw, 85, 4.5))
	units := []telemetry.Unit{child, p1, p2}
	res := Build(units, gw, 3)
	d1 := geo.Distance(child.Position, p1.Position)
	d2 := geo.Distance(child.Position, p2.Position)
	want := "p1"
	if d2 < d1 {
		want = "p2"
	}
	if res.Parents["c"] != want {
		t.Fatalf("parent %s, want %s (d1=%v d2=%v)", res.Parents["c"], want, d1, d2)
	}
}

func randomPopulation(n int, seed int64) []telemetry.Unit {
	rng := rand.New(rand.NewSource(seed))
	units := make([]telemetry.Unit, n)
	for i := range units {
		units[i] = active(fmt.Sprintf("u%02d", i), geo.RandomInDisc(gw, 12, rng))
		if rng.Float64() < 0.1 {
			units[i].Active = false
		}
	}
	return units
}

func TestConvergenceBoundAndIdempotence(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		units := randomPopulation(40, seed)
		res := Build(units, gw, 3)
		if res.Passes > len(units) {
			t.Fatalf("seed %d: %d passes for %d units", seed, res.Passes, len(units))
		}
		first := append([]telemetry.Unit(nil), units...)
		Build(units, gw, 3)
		for i := range units {
			if units[i].HopCount != first[i].HopCount || units[i].SignalStrength != first[i].SignalStrength {
				t.Fatalf("seed %d: unit %s changed on rebuild", seed, units[i].ID)
			}
		}
	}
}

func TestInactiveInvariant(t *testing.T) {
	units := randomPopulation(60, 99)
	Build(units, gw, 3)
	for _, u := range units {
		if !u.Active && (u.Status != telemetry.StatusOffline || u.HopCount != 0 || u.SignalStrength != telemetry.SignalFloor) {
			t.Fatalf("invariant violated: %+v", u)
		}
		if u.Active && u.HopCount < 1 {
			t.Fatalf("active unit without hop: %+v", u)
		}
	}
}

func TestChainHops(t *testing.T) {
	var units []telemetry.Unit
	p := gw
	for i := 0; i < 5; i++ {
		p = geo.Destination(p, 270, 2.5)
		units = append(units, active(fmt.Sprintf("n%d", i), p))
	}
	// reverse so relays are discovered over several passes
	for i, j := 0, len(units)-1; i < j; i, j = i+1, j-1 {
		units[i], units[j] = units[j], units[i]
	}
	res := Build(units, gw, 3)
	for _, u := range units {
		var idx int
		fmt.Sscanf(u.ID, "n%d", &idx)
		if u.HopCount != idx+1 {
			t.Fatalf("%s hop=%d, want %d", u.ID, u.HopCount, idx+1)
		}
	}
	if res.Passes > len(units) {
		t.Fatalf("too many passes %d", res.Passes)
	}
}

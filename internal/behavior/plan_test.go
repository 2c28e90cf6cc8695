package behavior

import (
	"math"
	"math/rand"
	"testing"

	"meshops-sim/internal/geo"
	"meshops-sim/internal/telemetry"
)

func within(a, b, spread float64) bool {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d <= spread+1e-9
}

func TestPlanEnRouteSpeedByType(t *testing.T) {
	target := geo.Destination(gw, 60, 5)
	cases := map[telemetry.UnitType]float64{
		telemetry.TypeVehicle:   80,
		telemetry.TypeMilitary:  80,
		telemetry.TypePolice:    80,
		telemetry.TypeAir:       300,
		telemetry.TypePersonnel: 5,
		telemetry.TypeSupport:   5,
	}
	r := newResolver()
	for typ, want := range cases {
		u := unitAt("u", gw)
		u.Type = typ
		p := r.Plan(&u, Directive{Kind: KindAssignment, Target: target, StopKm: DefaultStopKm})
		if p.TargetSpeed != want {
			t.Errorf("%s: speed %v, want %v", typ, p.TargetSpeed, want)
		}
		if !within(p.Heading, 60, 0.01) {
			t.Errorf("%s: heading %v, want ~60", typ, p.Heading)
		}
	}
}

func TestPlanArrivalStops(t *testing.T) {
	u := unitAt("u", gw)
	u.Speed = 30
	u.Heading = 42
	p := newResolver().Plan(&u, Directive{Kind: KindCohesion, Target: geo.Destination(gw, 0, 0.05), StopKm: DefaultStopKm})
	if !p.Arrived || p.TargetSpeed != 0 || p.Heading != 42 || !p.Bounded || p.MaxStepKm != 0 {
		t.Fatalf("unexpected arrival plan %+v", p)
	}
}

func TestPlanEnRouteCapsStepAtTarget(t *testing.T) {
	u := unitAt("u", gw)
	u.Type = telemetry.TypeAir
	target := geo.Destination(gw, 90, 0.4)
	p := newResolver().Plan(&u, Directive{Kind: KindAssignment, Target: target, StopKm: DefaultStopKm})
	if !p.Bounded || math.Abs(p.MaxStepKm-geo.Distance(gw, target)) > 1e-9 {
		t.Fatalf("expected step capped at remaining distance, got %+v", p)
	}
}

func TestPlanRallyLoiter(t *testing.T) {
	r := newResolver()
	u := unitAt("u", geo.Destination(gw, 0, 0.3))
	u.Heading = 100
	u.Speed = 3
	p := r.Plan(&u, rally(gw))
	if p.TargetSpeed != LoiterKmh || !within(p.Heading, 100, LoiterJitterDeg) {
		t.Fatalf("expected loiter, got %+v", p)
	}
	u.Speed = 0.5
	if p := r.Plan(&u, rally(gw)); p.TargetSpeed != 0 {
		t.Fatalf("slow unit at rally point should stop, got %+v", p)
	}
}

func TestPlanWander(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(3)))
	u := unitAt("u", gw)
	u.Heading = 200
	stays, moves := 0, 0
	for i := 0; i < 2000; i++ {
		p := r.Plan(&u, Directive{})
		if p.TargetSpeed == 0 {
			stays++
			continue
		}
		moves++
		if p.TargetSpeed != 50 || !within(p.Heading, 200, StartJitterDeg) {
			t.Fatalf("bad start plan %+v", p)
		}
	}
	ratio := float64(stays) / 2000
	if ratio < 0.85 || ratio > 0.95 {
		t.Fatalf("idle stay ratio %v out of range", ratio)
	}

	u.Status = telemetry.StatusMoving
	u.Type = telemetry.TypePersonnel
	for i := 0; i < 100; i++ {
		p := r.Plan(&u, Directive{})
		if p.TargetSpeed != 4 || !within(p.Heading, 200, CruiseJitterDeg) {
			t.Fatalf("bad cruise plan %+v", p)
		}
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{KindNone: "wander", KindRally: "rally", KindAlarm: "alarm", KindAssignment: "assignment", KindCohesion: "cohesion"} {
		if k.String() != want {
			t.Errorf("%d.String() = %s", k, k.String())
		}
	}
}

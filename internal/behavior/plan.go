package behavior

import (
	"meshops-sim/internal/geo"
	"meshops-sim/internal/telemetry"
)

// Loiter and wander constants.
const (
	LoiterKmh          = 5.0
	LoiterJitterDeg    = 22.5
	LoiterMinSpeedKmh  = 1.0
	IdleStayChance     = 0.9
	StartJitterDeg     = 30.0
	CruiseJitterDeg    = 7.5
	MovingThresholdKmh = 1.0
)

// Plan is the steering output consumed by the kinematics step.
type Plan struct {
	TargetSpeed float64
	Heading     float64
	Arrived     bool
	// Bounded caps this step's displacement at MaxStepKm.
	Bounded   bool
	MaxStepKm float64
}

// Plan converts d into a target speed and heading for u.
func (r *Resolver) Plan(u *telemetry.Unit, d Directive) Plan {
	profile := telemetry.ProfileFor(u.Type)
	if !d.HasTarget() {
		return r.wander(u, profile)
	}
	if dist := geo.Distance(u.Position, d.Target); dist > d.StopKm {
		return Plan{TargetSpeed: profile.CruiseKmh, Heading: geo.Bearing(u.Position, d.Target), Bounded: true, MaxStepKm: dist}
	}
	if d.Kind == KindRally && u.Speed > LoiterMinSpeedKmh {
		return Plan{TargetSpeed: LoiterKmh, Heading: r.jitter(u.Heading, LoiterJitterDeg), Arrived: true}
	}
	// brake in place
	return Plan{TargetSpeed: 0, Heading: u.Heading, Arrived: true, Bounded: true}
}

func (r *Resolver) wander(u *telemetry.Unit, p telemetry.Profile) Plan {
	moving := u.Status == telemetry.StatusMoving
	if !moving && r.rand.Float64() < IdleStayChance {
		return Plan{TargetSpeed: 0, Heading: u.Heading}
	}
	spread := StartJitterDeg
	if moving {
		spread = CruiseJitterDeg
	}
	return Plan{TargetSpeed: p.WanderKmh, Heading: r.jitter(u.Heading, spread)}
}

// jitter perturbs heading uniformly within ±spread degrees.
func (r *Resolver) jitter(heading, spread float64) float64 {
	return geo.NormalizeHeading(heading + (r.rand.Float64()*2-1)*spread)
}

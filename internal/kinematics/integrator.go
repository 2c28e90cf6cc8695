// Package kinematics advances unit motion with bounded acceleration.
package kinematics

import (
	"math"

	"meshops-sim/internal/geo"
	"meshops-sim/internal/telemetry"
)

// MinMoveKmh is the speed below which a unit does not change position.
const MinMoveKmh = 0.1

// DecelFactor scales the acceleration rate when slowing down.
const DecelFactor = 2.0

// Approach moves speed toward target by at most rate*elapsed without
// overshooting. Deceleration uses DecelFactor*rate.
func Approach(speed, target, rate, elapsed float64) float64 {
	switch {
	case target > speed:
		return math.Min(target, speed+rate*elapsed)
	case target < speed:
		return math.Max(target, speed-rate*DecelFactor*elapsed)
	default:
		return speed
	}
}

// Advance applies heading, new speed and displacement to u for elapsed seconds.
func Advance(u *telemetry.Unit, targetSpeed, heading, elapsed float64) {
	AdvanceWithin(u, targetSpeed, heading, math.Inf(1), elapsed)
}

// AdvanceWithin is Advance with the displacement capped at maxKm, so a unit
// steering at a point stops on it instead of flying past.
func AdvanceWithin(u *telemetry.Unit, targetSpeed, heading, maxKm, elapsed float64) {
	if elapsed <= 0 || math.IsNaN(heading) || math.IsNaN(targetSpeed) {
		return
	}
	rate := telemetry.ProfileFor(u.Type).AccelKmhS
	u.Speed = math.Max(0, Approach(u.Speed, math.Max(0, targetSpeed), rate, elapsed))
	u.Heading = geo.NormalizeHeading(heading)
	if u.Speed <= MinMoveKmh {
		return
	}
	distKm := math.Min(u.Speed/3600*elapsed, math.Max(0, maxKm))
	if distKm <= 0 {
		return
	}
	u.Position = geo.Step(u.Position, u.Heading, distKm)
}

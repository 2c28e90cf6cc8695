// Package power updates battery charge and derives unit status.
package power

import (
	"math"

	"meshops-sim/internal/telemetry"
)

// Charge and drain rates in percent per 5 seconds.
const (
	ChargePer5s = 0.5
	DrainPer5s  = 0.05
	// MovingKmh is the speed above which a unit reports Moving.
	MovingKmh = 1.0
)

// Powered reports whether u can operate: charge left or external power.
func Powered(u *telemetry.Unit) bool {
	return u.Battery > 0 || u.ExternallyPowered
}

// UpdateBattery charges or drains u for elapsed seconds.
func UpdateBattery(u *telemetry.Unit, elapsed float64) {
	if elapsed <= 0 {
		return
	}
	if u.ExternallyPowered {
		u.Battery = math.Min(100, u.Battery+ChargePer5s*(elapsed/5))
		return
	}
	if u.Battery > 0 {
		u.Battery = math.Max(0, u.Battery-DrainPer5s*(elapsed/5))
	}
	u.Battery = math.Max(0, math.Min(100, u.Battery))
}

// UpdateStatus recomputes Active and infers status from battery and motion.
// Alarm and Maintenance are kept unless the unit has lost power.
func UpdateStatus(u *telemetry.Unit) {
	u.Active = Powered(u)
	if !u.Status.Sticky() {
		switch {
		case u.Battery <= 0 && !u.ExternallyPowered:
			u.Status = telemetry.StatusOffline
		case u.Speed > MovingKmh:
			u.Status = telemetry.StatusMoving
		default:
			u.Status = telemetry.StatusIdle
		}
	}
	if !u.Active {
		ForceOffline(u)
	}
}

// ForceOffline applies the inactive invariant to u.
func ForceOffline(u *telemetry.Unit) {
	u.Status = telemetry.StatusOffline
	u.HopCount = telemetry.HopDisconnected
	u.SignalStrength = telemetry.SignalFloor
}

// Update runs UpdateBattery then UpdateStatus.
func Update(u *telemetry.Unit, elapsed float64) {
	UpdateBattery(u, elapsed)
	UpdateStatus(u)
}

package telemetry

// Profile holds the motion constants of a unit class.
type Profile struct {
	CruiseKmh float64 // en-route speed toward a target
	WanderKmh float64 // speed while wandering without a directive
	AccelKmhS float64 // acceleration; deceleration is twice this
}

var (
	groundProfile = Profile{CruiseKmh: 80, WanderKmh: 50, AccelKmhS: 15}
	footProfile   = Profile{CruiseKmh: 5, WanderKmh: 4, AccelKmhS: 2}
	airProfile    = Profile{CruiseKmh: 300, WanderKmh: 50, AccelKmhS: 40}
)

// ProfileFor returns the motion profile for a unit type.
func ProfileFor(t UnitType) Profile {
	switch t {
	case TypePersonnel, TypeSupport:
		return footProfile
	case TypeAir:
		return airProfile
	default:
		return groundProfile
	}
}

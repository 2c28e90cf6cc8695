// Package behavior arbitrates what each unit should be doing this tick.
//
// Resolve walks a fixed priority chain (rally, alarm response, assignment,
// group cohesion) and returns the first matching Directive. Plan turns a
// Directive into a target speed and heading for the kinematics step.
package behavior

import "meshops-sim/internal/telemetry"

// Kind tags a Directive.
type Kind int

const (
	KindNone Kind = iota
	KindRally
	KindAlarm
	KindAssignment
	KindCohesion
)

func (k Kind) String() string {
	switch k {
	case KindRally:
		return "rally"
	case KindAlarm:
		return "alarm"
	case KindAssignment:
		return "assignment"
	case KindCohesion:
		return "cohesion"
	default:
		return "wander"
	}
}

// Stopping distances in kilometres.
const (
	RallyStopKm   = 0.5
	DefaultStopKm = 0.1
)

// Directive is the resolved movement intent for one unit in one tick.
type Directive struct {
	Kind      Kind
	Target    telemetry.Position
	StopKm    float64
	SubjectID string // alarm unit for KindAlarm, group for KindAssignment/KindCohesion
}

// HasTarget reports whether the directive carries a target position.
func (d Directive) HasTarget() bool { return d.Kind != KindNone }

func rally(gw telemetry.Position) Directive {
	return Directive{Kind: KindRally, Target: gw, StopKm: RallyStopKm}
}

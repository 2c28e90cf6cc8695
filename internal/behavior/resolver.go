package behavior

import (
	"math/rand"

	"meshops-sim/internal/geo"
	"meshops-sim/internal/telemetry"
)

// Patrol and pendulum re-targeting thresholds in kilometres.
const (
	PatrolRepickKm    = 0.2
	PendulumAdvanceKm = 0.1
	CohesionRadiusKm  = 1.0
	// CohesionMinMates is the number of other active members required
	// before a unit is pulled back toward its group.
	CohesionMinMates = 2
)

// World is the read-only context shared by all units in one tick.
type World struct {
	Positions   map[string]telemetry.Position
	Centers     map[string]GroupCenter
	Responders  map[string]string
	Assignments map[string]telemetry.Assignment
	Gateway     *telemetry.Position
	Rally       bool
}

// NewWorld precomputes the per-tick aggregates from the population.
func NewWorld(units []telemetry.Unit, assignments map[string]telemetry.Assignment, gateway *telemetry.Position, rally bool) *World {
	pos := make(map[string]telemetry.Position, len(units))
	for _, u := range units {
		pos[u.ID] = u.Position
	}
	return &World{
		Positions:   pos,
		Centers:     GroupCenters(units),
		Responders:  AlarmResponders(units),
		Assignments: assignments,
		Gateway:     gateway,
		Rally:       rally,
	}
}

// Resolver evaluates the priority chain for a unit.
type Resolver struct {
	rand *rand.Rand
}

// NewResolver returns a resolver drawing patrol points from rng.
func NewResolver(rng *rand.Rand) *Resolver {
	return &Resolver{rand: rng}
}

// Resolve returns the directive for u. It updates u's patrol state when an
// assignment is followed and clears it when rallying.
func (r *Resolver) Resolve(u *telemetry.Unit, w *World) Directive {
	if d, ok := r.rally(u, w); ok {
		return d
	}
	if d, ok := r.alarm(u, w); ok {
		return d
	}
	if d, ok := r.assignment(u, w); ok {
		return d
	}
	if d, ok := r.cohesion(u, w); ok {
		return d
	}
	return Directive{Kind: KindNone}
}

func (r *Resolver) rally(u *telemetry.Unit, w *World) (Directive, bool) {
	if !w.Rally || w.Gateway == nil {
		return Directive{}, false
	}
	u.ClearPatrol()
	return rally(*w.Gateway), true
}

func (r *Resolver) alarm(u *telemetry.Unit, w *World) (Directive, bool) {
	alarmID, ok := w.Responders[u.ID]
	if !ok {
		return Directive{}, false
	}
	pos, ok := w.Positions[alarmID]
	if !ok {
		return Directive{}, false
	}
	return Directive{Kind: KindAlarm, Target: pos, StopKm: DefaultStopKm, SubjectID: alarmID}, true
}

func (r *Resolver) assignment(u *telemetry.Unit, w *World) (Directive, bool) {
	if u.GroupID == "" {
		return Directive{}, false
	}
	a, ok := w.Assignments[u.GroupID]
	if !ok {
		return Directive{}, false
	}
	var target telemetry.Position
	switch a.Kind {
	case telemetry.AssignmentPatrol:
		if u.PatrolTarget == nil || geo.Distance(u.Position, *u.PatrolTarget) < PatrolRepickKm {
			p := geo.RandomInDisc(a.Target, a.RadiusKm, r.rand)
			u.PatrolTarget = &p
		}
		target = *u.PatrolTarget
	case telemetry.AssignmentPendulum:
		n := len(a.Points)
		if n == 0 {
			return Directive{}, false
		}
		idx := 0
		if u.PatrolTargetIndex != nil && *u.PatrolTargetIndex >= 0 && *u.PatrolTargetIndex < n {
			idx = *u.PatrolTargetIndex
		}
		if geo.Distance(u.Position, a.Points[idx]) < PendulumAdvanceKm {
			idx = (idx + 1) % n
		}
		p := a.Points[idx]
		u.PatrolTarget = &p
		u.PatrolTargetIndex = &idx
		target = p
	default:
		return Directive{}, false
	}
	return Directive{Kind: KindAssignment, Target: target, StopKm: DefaultStopKm, SubjectID: u.GroupID}, true
}

func (r *Resolver) cohesion(u *telemetry.Unit, w *World) (Directive, bool) {
	if u.GroupID == "" {
		return Directive{}, false
	}
	c, ok := w.Centers[u.GroupID]
	if !ok {
		return Directive{}, false
	}
	mates := c.Active
	if u.Active {
		mates--
	}
	if mates < CohesionMinMates || geo.Distance(u.Position, c.Center) <= CohesionRadiusKm {
		return Directive{}, false
	}
	return Directive{Kind: KindCohesion, Target: c.Center, StopKm: DefaultStopKm, SubjectID: u.GroupID}, true
}

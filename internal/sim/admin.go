package sim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"meshops-sim/internal/config"
	"meshops-sim/internal/logging"
	"meshops-sim/internal/power"
	"meshops-sim/internal/store"
	"meshops-sim/internal/telemetry"

	"github.com/google/uuid"
)

// Administrative operations. Each one runs under the same lock as the tick
// so it never interleaves with a read/compute/replace cycle, and either
// publishes a complete new state or returns an error and changes nothing.

// update applies fn to a copy of the current state and publishes it.
func (s *Simulator) update(fn func(*store.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Update(fn)
}

func unitAt(st *store.State, id string) (*telemetry.Unit, error) {
	i := st.UnitIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	return &st.Units[i], nil
}

func validPosition(p telemetry.Position) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: %.6f,%.6f", ErrInvalidPosition, p.Lat, p.Lng)
	}
	return nil
}

// UnitSpec describes a unit to create.
type UnitSpec struct {
	Name              string
	Type              telemetry.UnitType
	GroupID           string
	Position          telemetry.Position
	Battery           float64
	ExternallyPowered bool
	SendInterval      time.Duration
}

// AddUnit creates a unit and returns it.
func (s *Simulator) AddUnit(ctx context.Context, spec UnitSpec) (telemetry.Unit, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return telemetry.Unit{}, fmt.Errorf("%w: empty unit name", ErrDuplicateName)
	}
	if err := validPosition(spec.Position); err != nil {
		return telemetry.Unit{}, err
	}
	types, err := s.mappings.TypeNames(ctx)
	if err != nil {
		return telemetry.Unit{}, fmt.Errorf("load type names: %w", err)
	}
	if _, ok := types[string(spec.Type)]; !ok {
		return telemetry.Unit{}, fmt.Errorf("%w: %s", ErrUnknownType, spec.Type)
	}

	var created telemetry.Unit
	err = s.update(func(st *store.State) error {
		if _, dup := st.UnitByName(spec.Name); dup {
			return fmt.Errorf("%w: unit %s", ErrDuplicateName, spec.Name)
		}
		if spec.GroupID != "" && st.GroupIndex(spec.GroupID) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, spec.GroupID)
		}
		u := newUnit(spec.Name, spec.Type, s.now().UTC())
		u.GroupID = spec.GroupID
		u.Position = spec.Position
		u.Battery = clampBattery(spec.Battery)
		u.ExternallyPowered = spec.ExternallyPowered
		if spec.SendInterval > 0 {
			u.SendInterval = spec.SendInterval
		}
		power.UpdateStatus(&u)
		st.Units = append(st.Units, u)
		created = u.Clone()
		return nil
	})
	if err != nil {
		return telemetry.Unit{}, err
	}
	logging.FromContext(ctx).Info("unit added", "unit_id", created.ID, "name", created.Name, "type", created.Type)
	return created, nil
}

// RemoveUnit deletes a unit.
func (s *Simulator) RemoveUnit(ctx context.Context, id string) error {
	err := s.update(func(st *store.State) error {
		i := st.UnitIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownUnit, id)
		}
		st.Units = append(st.Units[:i], st.Units[i+1:]...)
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("unit removed", "unit_id", id)
	}
	return err
}

// ChargeUnit sets the battery level of a unit, clamped to [0,100].
func (s *Simulator) ChargeUnit(ctx context.Context, id string, level float64) error {
	if math.IsNaN(level) {
		return fmt.Errorf("charge %s: battery level is NaN", id)
	}
	err := s.update(func(st *store.State) error {
		u, err := unitAt(st, id)
		if err != nil {
			return err
		}
		u.Battery = clampBattery(level)
		power.UpdateStatus(u)
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("unit charged", "unit_id", id, "battery", clampBattery(level))
	}
	return err
}

// SetExternalPower switches a unit between battery and external power.
func (s *Simulator) SetExternalPower(ctx context.Context, id string, on bool) error {
	return s.update(func(st *store.State) error {
		u, err := unitAt(st, id)
		if err != nil {
			return err
		}
		u.ExternallyPowered = on
		power.UpdateStatus(u)
		return nil
	})
}

// MoveUnit repositions a unit and stops it.
func (s *Simulator) MoveUnit(ctx context.Context, id string, pos telemetry.Position) error {
	if err := validPosition(pos); err != nil {
		return err
	}
	err := s.update(func(st *store.State) error {
		u, err := unitAt(st, id)
		if err != nil {
			return err
		}
		u.Position = pos
		u.Speed = 0
		u.ClearPatrol()
		power.UpdateStatus(u)
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("unit moved", "unit_id", id, "lat", pos.Lat, "lng", pos.Lng)
	}
	return err
}

// SetStatus overrides a unit's status. Alarm and Maintenance stick until
// changed again; other values are recomputed by the next tick. An inactive
// unit stays Offline.
func (s *Simulator) SetStatus(ctx context.Context, id string, status telemetry.Status) error {
	statuses, err := s.mappings.StatusNames(ctx)
	if err != nil {
		return fmt.Errorf("load status names: %w", err)
	}
	if _, ok := statuses[string(status)]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}
	err = s.update(func(st *store.State) error {
		u, err := unitAt(st, id)
		if err != nil {
			return err
		}
		u.Status = status
		if !u.Active {
			power.ForceOffline(u)
		}
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("status set", "unit_id", id, "status", status)
	}
	return err
}

// SendMessage records an operator message on a unit and queues it for
// delivery with the next snapshot.
func (s *Simulator) SendMessage(ctx context.Context, id, text string) (telemetry.Message, error) {
	var msg telemetry.Message
	err := s.update(func(st *store.State) error {
		u, err := unitAt(st, id)
		if err != nil {
			return err
		}
		msg = s.newMessage(u, text, SourceOperator, s.now().UTC())
		queue(st, msg)
		return nil
	})
	if err != nil {
		return telemetry.Message{}, err
	}
	if s.msgWriter != nil {
		if werr := s.msgWriter.WriteMessage(s.messageRow(msg)); werr != nil {
			logging.FromContext(ctx).Error("message write failed", "unit_id", id, "err", werr)
		}
	}
	return msg, nil
}

// AddGroup creates an empty group.
func (s *Simulator) AddGroup(ctx context.Context, name string) (telemetry.Group, error) {
	if strings.TrimSpace(name) == "" {
		return telemetry.Group{}, fmt.Errorf("%w: empty group name", ErrDuplicateName)
	}
	g := telemetry.Group{ID: uuid.New().String(), Name: name}
	err := s.update(func(st *store.State) error {
		if _, dup := st.GroupByName(name); dup {
			return fmt.Errorf("%w: group %s", ErrDuplicateName, name)
		}
		st.Groups = append(st.Groups, g)
		return nil
	})
	if err != nil {
		return telemetry.Group{}, err
	}
	logging.FromContext(ctx).Info("group added", "group_id", g.ID, "name", name)
	return g, nil
}

// RemoveGroup deletes a group, detaches its members, clears their patrol
// state and drops the group's assignment.
func (s *Simulator) RemoveGroup(ctx context.Context, id string) error {
	err := s.update(func(st *store.State) error {
		i := st.GroupIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
		}
		st.Groups = append(st.Groups[:i], st.Groups[i+1:]...)
		for j := range st.Units {
			if st.Units[j].GroupID == id {
				st.Units[j].GroupID = ""
				st.Units[j].ClearPatrol()
			}
		}
		delete(st.Assignments, id)
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("group removed", "group_id", id)
	}
	return err
}

// SetUnitGroup moves a unit into a group, or out of any group when
// groupID is empty.
func (s *Simulator) SetUnitGroup(ctx context.Context, unitID, groupID string) error {
	return s.update(func(st *store.State) error {
		u, err := unitAt(st, unitID)
		if err != nil {
			return err
		}
		if groupID != "" && st.GroupIndex(groupID) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
		}
		u.GroupID = groupID
		u.ClearPatrol()
		return nil
	})
}

func validateAssignment(a telemetry.Assignment) error {
	switch a.Kind {
	case telemetry.AssignmentPatrol:
		if err := validPosition(a.Target); err != nil {
			return fmt.Errorf("%w: patrol target: %v", ErrInvalidAssignment, err)
		}
		if !(a.RadiusKm > 0) {
			return fmt.Errorf("%w: patrol radius must be positive", ErrInvalidAssignment)
		}
	case telemetry.AssignmentPendulum:
		if len(a.Points) == 0 {
			return fmt.Errorf("%w: pendulum needs at least one point", ErrInvalidAssignment)
		}
		for _, p := range a.Points {
			if err := validPosition(p); err != nil {
				return fmt.Errorf("%w: pendulum point: %v", ErrInvalidAssignment, err)
			}
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidAssignment, a.Kind)
	}
	return nil
}

// SetAssignment installs a as the group's only assignment, replacing any
// previous one and resetting the members' patrol state.
func (s *Simulator) SetAssignment(ctx context.Context, a telemetry.Assignment) error {
	if err := validateAssignment(a); err != nil {
		return err
	}
	a = a.Clone()
	err := s.update(func(st *store.State) error {
		if st.GroupIndex(a.GroupID) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, a.GroupID)
		}
		st.Assignments[a.GroupID] = a
		clearGroupPatrol(st, a.GroupID)
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("assignment set", "group_id", a.GroupID, "kind", a.Kind)
	}
	return err
}

// SetPatrol assigns a patrol disc to a group.
func (s *Simulator) SetPatrol(ctx context.Context, groupID string, target telemetry.Position, radiusKm float64) error {
	return s.SetAssignment(ctx, telemetry.Assignment{GroupID: groupID, Kind: telemetry.AssignmentPatrol, Target: target, RadiusKm: radiusKm})
}

// SetPendulum assigns a waypoint cycle to a group.
func (s *Simulator) SetPendulum(ctx context.Context, groupID string, points []telemetry.Position) error {
	return s.SetAssignment(ctx, telemetry.Assignment{GroupID: groupID, Kind: telemetry.AssignmentPendulum, Points: points})
}

// RemoveAssignment drops a group's assignment. Removing a missing
// assignment is not an error.
func (s *Simulator) RemoveAssignment(ctx context.Context, groupID string) error {
	err := s.update(func(st *store.State) error {
		if st.GroupIndex(groupID) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
		}
		delete(st.Assignments, groupID)
		clearGroupPatrol(st, groupID)
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("assignment removed", "group_id", groupID)
	}
	return err
}

func clearGroupPatrol(st *store.State, groupID string) {
	for i := range st.Units {
		if st.Units[i].GroupID == groupID {
			st.Units[i].ClearPatrol()
		}
	}
}

// SetRally toggles global rallying. Enabling requires a gateway.
func (s *Simulator) SetRally(ctx context.Context, on bool) error {
	err := s.update(func(st *store.State) error {
		if on && st.Gateway == nil {
			return ErrNoGateway
		}
		st.Rally = on
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("rally toggled", "rally", on)
	}
	return err
}

// SetGateway moves the control center. A nil position removes it, which
// also ends any rally.
func (s *Simulator) SetGateway(ctx context.Context, pos *telemetry.Position) error {
	if pos != nil {
		if err := validPosition(*pos); err != nil {
			return err
		}
	}
	err := s.update(func(st *store.State) error {
		if pos == nil {
			st.Gateway = nil
			st.Rally = false
			return nil
		}
		gw := *pos
		st.Gateway = &gw
		return nil
	})
	if err == nil {
		logging.FromContext(ctx).Info("gateway set", "gateway", pos)
	}
	return err
}

// ResolveUnit finds a unit by id or name.
func (s *Simulator) ResolveUnit(ref string) (telemetry.Unit, error) {
	st := s.store.Load()
	if i := st.UnitIndex(ref); i >= 0 {
		return st.Units[i].Clone(), nil
	}
	if u, ok := st.UnitByName(ref); ok {
		return u.Clone(), nil
	}
	return telemetry.Unit{}, fmt.Errorf("%w: %s", ErrUnknownUnit, ref)
}

// ResolveGroup finds a group by id or name.
func (s *Simulator) ResolveGroup(ref string) (telemetry.Group, error) {
	st := s.store.Load()
	if i := st.GroupIndex(ref); i >= 0 {
		return st.Groups[i], nil
	}
	if g, ok := st.GroupByName(ref); ok {
		return *g, nil
	}
	return telemetry.Group{}, fmt.Errorf("%w: %s", ErrUnknownGroup, ref)
}

// DefaultUnitSpec fills the optional fields of a UnitSpec from config defaults.
func DefaultUnitSpec(name string, typ telemetry.UnitType, pos telemetry.Position) UnitSpec {
	return UnitSpec{
		Name:         name,
		Type:         typ,
		Position:     pos,
		Battery:      config.DefaultBattery,
		SendInterval: time.Duration(config.DefaultSendIntervalS * float64(time.Second)),
	}
}

// Simulator orchestrating mesh units and telemetry ticks
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"meshops-sim/internal/behavior"
	"meshops-sim/internal/config"
	"meshops-sim/internal/geo"
	"meshops-sim/internal/logging"
	"meshops-sim/internal/power"
	"meshops-sim/internal/store"
	"meshops-sim/internal/telemetry"

	"github.com/google/uuid"
)

// TelemetryWriter is an interface to support different output writers.
type TelemetryWriter interface {
	Write(telemetry.UnitRow) error
}

// Optional: Writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.UnitRow) error
}

// Mappings supplies display names for type and status codes.
type Mappings interface {
	TypeNames(ctx context.Context) (map[string]string, error)
	StatusNames(ctx context.Context) (map[string]string, error)
}

type staticMappings struct {
	types, statuses map[string]string
}

func (m staticMappings) TypeNames(context.Context) (map[string]string, error) {
	return copyNames(m.types), nil
}

func (m staticMappings) StatusNames(context.Context) (map[string]string, error) {
	return copyNames(m.statuses), nil
}

func copyNames(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MaxElapsed caps the time a unit is advanced in one step, so a paused
// engine does not teleport units on resume.
const MaxElapsed = time.Minute

// DefaultSignal is the signal strength given to a freshly created unit.
const DefaultSignal = -70

// maxPending bounds the undelivered message queue; the oldest lines are
// dropped first.
const maxPending = 1000

// Simulator owns the entity store and advances it once per tick.
type Simulator struct {
	clusterID    string
	tickInterval time.Duration
	maxRangeKm   float64
	phrases      []string
	mappings     Mappings

	writer      TelemetryWriter
	msgWriter   MessageWriter
	stateWriter StateWriter
	eventWriter MeshEventWriter

	store    *store.Store
	resolver *behavior.Resolver
	rand     *rand.Rand
	now      func() time.Time
	metrics  *tickMetrics

	// alarm ids that already had an alarm_response event emitted
	answered map[string]bool

	mu sync.Mutex
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithRand replaces the random source seeded from the config.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) { s.rand = r }
}

// WithMappings replaces the type/status names taken from the config.
func WithMappings(m Mappings) Option {
	return func(s *Simulator) { s.mappings = m }
}

// WithMessageWriter sets the sink for chatter rows.
func WithMessageWriter(w MessageWriter) Option {
	return func(s *Simulator) { s.msgWriter = w }
}

// WithStateWriter sets the sink for per-tick topology summaries.
func WithStateWriter(w StateWriter) Option {
	return func(s *Simulator) { s.stateWriter = w }
}

// WithEventWriter sets the sink for mesh membership events.
func WithEventWriter(w MeshEventWriter) Option {
	return func(s *Simulator) { s.eventWriter = w }
}

// NewSimulator builds the initial population from cfg. writer receives unit
// rows; if it also implements MessageWriter, StateWriter or MeshEventWriter
// it is used for those rows unless an option says otherwise.
func NewSimulator(cfg *config.SimulationConfig, writer TelemetryWriter, opts ...Option) (*Simulator, error) {
	metrics, err := newTickMetrics()
	if err != nil {
		return nil, err
	}
	s := &Simulator{
		clusterID:    cfg.ClusterID,
		tickInterval: cfg.TickInterval,
		maxRangeKm:   cfg.MaxRangeKm,
		phrases:      DefaultPhrases,
		mappings:     staticMappings{types: cfg.TypeNames, statuses: cfg.StatusNames},
		writer:       writer,
		now:          time.Now,
		metrics:      metrics,
		answered:     make(map[string]bool),
	}
	if s.tickInterval <= 0 {
		s.tickInterval = config.DefaultTickInterval
	}
	if s.maxRangeKm <= 0 {
		s.maxRangeKm = telemetry.DefaultMaxRangeKm
	}
	if len(cfg.ChatterPhrases) > 0 {
		s.phrases = append([]string(nil), cfg.ChatterPhrases...)
	}
	if w, ok := writer.(MessageWriter); ok {
		s.msgWriter = w
	}
	if w, ok := writer.(StateWriter); ok {
		s.stateWriter = w
	}
	if w, ok := writer.(MeshEventWriter); ok {
		s.eventWriter = w
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		s.rand = rand.New(rand.NewSource(seed))
	}
	s.resolver = behavior.NewResolver(s.rand)

	initial, err := s.seed(cfg)
	if err != nil {
		return nil, err
	}
	s.store = store.New(initial)
	return s, nil
}

// seed creates groups, units and assignments described by cfg.
func (s *Simulator) seed(cfg *config.SimulationConfig) (*store.State, error) {
	st := &store.State{Assignments: make(map[string]telemetry.Assignment), Rally: cfg.Rally && cfg.Gateway != nil}
	if cfg.Gateway != nil {
		gw := *cfg.Gateway
		st.Gateway = &gw
	}
	groupIDs := make(map[string]string, len(cfg.Groups))
	for _, name := range cfg.Groups {
		g := telemetry.Group{ID: uuid.New().String(), Name: name}
		groupIDs[name] = g.ID
		st.Groups = append(st.Groups, g)
	}
	now := s.now().UTC()
	for _, f := range cfg.Fleets {
		groupID := ""
		if f.Group != "" {
			id, ok := groupIDs[f.Group]
			if !ok {
				return nil, fmt.Errorf("fleet %s: %w: %s", f.Name, ErrUnknownGroup, f.Group)
			}
			groupID = id
		}
		battery := config.DefaultBattery
		if f.Battery != nil {
			battery = *f.Battery
		}
		for i := 0; i < f.Count; i++ {
			u := newUnit(fmt.Sprintf("%s-%d", f.Name, i+1), telemetry.UnitType(f.Type), now)
			u.GroupID = groupID
			u.Position = geo.RandomInDisc(f.Center, f.SpreadKm, s.rand)
			u.Heading = s.rand.Float64() * 360
			u.Battery = clampBattery(battery)
			u.ExternallyPowered = f.ExternallyPowered
			if f.SendIntervalS > 0 {
				u.SendInterval = time.Duration(f.SendIntervalS * float64(time.Second))
			}
			power.UpdateStatus(&u)
			st.Units = append(st.Units, u)
		}
	}
	for _, a := range cfg.Assignments {
		id, ok := groupIDs[a.Group]
		if !ok {
			return nil, fmt.Errorf("assignment: %w: %s", ErrUnknownGroup, a.Group)
		}
		asg := telemetry.Assignment{GroupID: id}
		switch {
		case a.Patrol != nil:
			asg.Kind = telemetry.AssignmentPatrol
			asg.Target = a.Patrol.Target
			asg.RadiusKm = a.Patrol.RadiusKm
		case a.Pendulum != nil:
			asg.Kind = telemetry.AssignmentPendulum
			asg.Points = append([]telemetry.Position(nil), a.Pendulum.Points...)
		}
		if err := validateAssignment(asg); err != nil {
			return nil, fmt.Errorf("assignment %s: %w", a.Group, err)
		}
		st.Assignments[id] = asg
	}
	return st, nil
}

func newUnit(name string, typ telemetry.UnitType, now time.Time) telemetry.Unit {
	return telemetry.Unit{
		ID:             uuid.New().String(),
		Name:           name,
		Type:           typ,
		Status:         telemetry.StatusIdle,
		Active:         true,
		Timestamp:      now,
		SendInterval:   time.Duration(config.DefaultSendIntervalS * float64(time.Second)),
		SignalStrength: DefaultSignal,
		HopCount:       1,
	}
}

func clampBattery(b float64) float64 {
	switch {
	case b < 0:
		return 0
	case b > 100:
		return 100
	}
	return b
}

// ClusterID returns the cluster tag written on every row.
func (s *Simulator) ClusterID() string { return s.clusterID }

// TickInterval returns the scheduling period.
func (s *Simulator) TickInterval() time.Duration { return s.tickInterval }

// MaxRangeKm returns the link budget used by the topology builder.
func (s *Simulator) MaxRangeKm() float64 { return s.maxRangeKm }

// View returns the current state without draining pending messages.
// The result must be treated as read-only.
func (s *Simulator) View() *store.State {
	return s.store.Load()
}

// Snapshot is the consumer-facing copy of the engine state.
type Snapshot struct {
	ClusterID       string                 `json:"cluster_id"`
	Tick            uint64                 `json:"tick"`
	Units           []telemetry.Unit       `json:"units"`
	Groups          []telemetry.Group      `json:"groups"`
	Assignments     []telemetry.Assignment `json:"assignments"`
	Gateway         *telemetry.Position    `json:"gateway,omitempty"`
	Rally           bool                   `json:"rally"`
	TypeMapping     map[string]string      `json:"type_mapping"`
	StatusMapping   map[string]string      `json:"status_mapping"`
	PendingMessages []telemetry.Message    `json:"pending_messages"`
}

// Snapshot returns a copy of the state and drains the pending message
// queue. Each message is delivered by at most one Snapshot call.
func (s *Simulator) Snapshot(ctx context.Context) Snapshot {
	s.mu.Lock()
	old := s.store.Load()
	st := old
	if len(old.Pending) > 0 {
		next := old.Clone()
		next.Pending = nil
		if err := s.store.Replace(old, next); err == nil {
			st = next
		}
	}
	s.mu.Unlock()

	snap := s.snapshotOf(ctx, st)
	snap.PendingMessages = append([]telemetry.Message{}, old.Pending...)
	return snap
}

// Peek is Snapshot without draining pending messages.
func (s *Simulator) Peek(ctx context.Context) Snapshot {
	st := s.store.Load()
	snap := s.snapshotOf(ctx, st)
	snap.PendingMessages = append([]telemetry.Message{}, st.Pending...)
	return snap
}

func (s *Simulator) snapshotOf(ctx context.Context, st *store.State) Snapshot {
	c := st.Clone()
	snap := Snapshot{
		ClusterID:   s.clusterID,
		Tick:        c.Tick,
		Units:       c.Units,
		Groups:      c.Groups,
		Assignments: assignmentsInGroupOrder(c),
		Gateway:     c.Gateway,
		Rally:       c.Rally,
	}
	snap.TypeMapping, snap.StatusMapping = s.names(ctx)
	return snap
}

func (s *Simulator) names(ctx context.Context) (map[string]string, map[string]string) {
	types, err := s.mappings.TypeNames(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("type names unavailable", "err", err)
	}
	statuses, err := s.mappings.StatusNames(ctx)
	if err != nil {
		logging.FromContext(ctx).Warn("status names unavailable", "err", err)
	}
	return types, statuses
}

func assignmentsInGroupOrder(st *store.State) []telemetry.Assignment {
	out := make([]telemetry.Assignment, 0, len(st.Assignments))
	seen := make(map[string]bool, len(st.Assignments))
	for _, g := range st.Groups {
		if a, ok := st.Assignments[g.ID]; ok {
			out = append(out, a)
			seen[g.ID] = true
		}
	}
	// assignments whose group is gone should not exist, but keep output stable
	var rest []string
	for id := range st.Assignments {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out = append(out, st.Assignments[id])
	}
	return out
}

// UsesType reports whether any unit currently has type code.
func (s *Simulator) UsesType(code string) bool {
	for _, u := range s.store.Load().Units {
		if string(u.Type) == code {
			return true
		}
	}
	return false
}

// UsesStatus reports whether any unit currently has status code. Statuses
// the engine assigns on its own count as used even when no unit holds them.
func (s *Simulator) UsesStatus(code string) bool {
	switch telemetry.Status(code) {
	case telemetry.StatusIdle, telemetry.StatusMoving, telemetry.StatusOffline:
		return true
	}
	for _, u := range s.store.Load().Units {
		if string(u.Status) == code {
			return true
		}
	}
	return false
}

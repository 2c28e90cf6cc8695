package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"meshops-sim/internal/config"
	"meshops-sim/internal/geo"
	"meshops-sim/internal/store"
	"meshops-sim/internal/telemetry"
)

var testGateway = geo.Point{Lat: 53.2, Lng: 10.4}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() *config.SimulationConfig {
	gw := testGateway
	return &config.SimulationConfig{
		ClusterID:   "test",
		MaxRangeKm:  3,
		Gateway:     &gw,
		TypeNames:   config.DefaultTypeNames,
		StatusNames: config.DefaultStatusNames,
	}
}

func newTestSim(t *testing.T, cfg *config.SimulationConfig, w TelemetryWriter) (*Simulator, *testClock) {
	t.Helper()
	clk := &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewSimulator(cfg, w, WithClock(clk.now), WithRand(rand.New(rand.NewSource(7))))
	if err != nil {
		t.Fatalf("new simulator: %v", err)
	}
	return s, clk
}

// place adds a stationary personnel unit distKm north of the gateway.
func place(t *testing.T, s *Simulator, name string, distKm float64) string {
	t.Helper()
	spec := DefaultUnitSpec(name, telemetry.TypePersonnel, geo.Destination(testGateway, 0, distKm))
	u, err := s.AddUnit(context.Background(), spec)
	if err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
	return u.ID
}

func unitByID(t *testing.T, s *Simulator, id string) telemetry.Unit {
	t.Helper()
	u, err := s.ResolveUnit(id)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	return u
}

func TestNewSimulatorSeedsFleets(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = []string{"alpha"}
	cfg.Fleets = []config.Fleet{{Name: "car", Type: "police", Count: 3, Group: "alpha", Center: testGateway, SpreadKm: 1, SendIntervalS: 5}}
	cfg.Assignments = []config.Assignment{{Group: "alpha", Patrol: &config.Patrol{Target: testGateway, RadiusKm: 1}}}
	s, _ := newTestSim(t, cfg, nil)

	st := s.View()
	if len(st.Units) != 3 || len(st.Groups) != 1 {
		t.Fatalf("expected 3 units in 1 group, got %d/%d", len(st.Units), len(st.Groups))
	}
	for i, u := range st.Units {
		if want := "car-" + string(rune('1'+i)); u.Name != want {
			t.Errorf("unit %d: name %s, want %s", i, u.Name, want)
		}
		if u.HopCount != 1 || u.SignalStrength != DefaultSignal || !u.Active {
			t.Errorf("%s: unexpected initial metrics %+v", u.Name, u)
		}
		if u.GroupID != st.Groups[0].ID {
			t.Errorf("%s: not in alpha", u.Name)
		}
		if d := geo.Distance(u.Position, testGateway); d > 1.0001 {
			t.Errorf("%s: %.3f km from fleet center", u.Name, d)
		}
	}
	if _, ok := st.Assignments[st.Groups[0].ID]; !ok {
		t.Fatalf("expected alpha assignment")
	}
}

func TestNewSimulatorRallyNeedsGateway(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway = nil
	cfg.Rally = true
	s, _ := newTestSim(t, cfg, nil)
	if s.View().Rally {
		t.Fatalf("rally must stay off without a gateway")
	}
}

func TestNewSimulatorRejectsBadAssignment(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = []string{"alpha"}
	cfg.Assignments = []config.Assignment{{Group: "alpha", Patrol: &config.Patrol{Target: testGateway, RadiusKm: 0}}}
	_, err := NewSimulator(cfg, nil)
	if !errors.Is(err, ErrInvalidAssignment) {
		t.Fatalf("expected ErrInvalidAssignment, got %v", err)
	}
}

func TestTickAdvancesOnlyDueUnits(t *testing.T) {
	w := &recordingWriter{}
	s, clk := newTestSim(t, testConfig(), w)
	ctx := context.Background()
	place(t, s, "walker", 1)
	relay := place(t, s, "relay", 1.5)
	if err := s.SetExternalPower(ctx, relay, true); err != nil {
		t.Fatalf("power: %v", err)
	}

	clk.advance(time.Second)
	s.tick(ctx)
	if len(w.rows) != 0 {
		t.Fatalf("no unit is due after 1s, got %d rows", len(w.rows))
	}

	clk.advance(2 * time.Second)
	s.tick(ctx)
	if len(w.rows) != 1 || w.rows[0].UnitID != relay {
		t.Fatalf("only the powered unit is due after 3s, got %+v", w.rows)
	}

	clk.advance(2 * time.Second)
	s.tick(ctx)
	// walker is due for the first time, relay again after 2s
	if len(w.rows) != 3 {
		t.Fatalf("expected 3 rows after 5s, got %+v", w.rows)
	}
	if w.rows[1].Name != "walker" || w.rows[2].UnitID != relay {
		t.Fatalf("unexpected rows in population order %+v", w.rows[1:])
	}
	if w.batches == 0 {
		t.Fatalf("expected batch writes")
	}
	if len(w.states) != 3 {
		t.Fatalf("expected one state row per tick, got %d", len(w.states))
	}
	if got := s.View().Tick; got != 3 {
		t.Fatalf("expected tick 3, got %d", got)
	}
}

func TestTickBuildsRelayChain(t *testing.T) {
	w := &recordingWriter{}
	s, clk := newTestSim(t, testConfig(), w)
	a := place(t, s, "a", 2)
	b := place(t, s, "b", 4.5)

	clk.advance(5 * time.Second)
	s.tick(context.Background())

	ua, ub := unitByID(t, s, a), unitByID(t, s, b)
	if ua.HopCount != 1 || ub.HopCount != 2 {
		t.Fatalf("expected hops 1/2, got %d/%d", ua.HopCount, ub.HopCount)
	}
	if ua.SignalStrength > -88 || ua.SignalStrength < -92 {
		t.Fatalf("expected about -90 dBm for 2 km, got %d", ua.SignalStrength)
	}
	last := w.states[len(w.states)-1]
	if last.MaxHop != 2 || last.Online != 2 || !last.GatewaySet || last.RelayPasses < 1 {
		t.Fatalf("unexpected state row %+v", last)
	}
}

func TestTickStrandsAndRejoins(t *testing.T) {
	w := &recordingWriter{}
	s, clk := newTestSim(t, testConfig(), w)
	ctx := context.Background()
	far := place(t, s, "far", 10)

	clk.advance(5 * time.Second)
	s.tick(ctx)
	u := unitByID(t, s, far)
	if u.Active || u.HopCount != 0 || u.Status != telemetry.StatusOffline || u.SignalStrength != telemetry.SignalFloor {
		t.Fatalf("expected stranded unit, got %+v", u)
	}
	if len(w.events) != 1 || w.events[0].EventType != telemetry.MeshEventStranded || w.events[0].UnitIDs[0] != far {
		t.Fatalf("expected stranded event, got %+v", w.events)
	}

	// still out of range: no repeated event
	clk.advance(5 * time.Second)
	s.tick(ctx)
	if len(w.events) != 1 {
		t.Fatalf("stranded should be reported once, got %+v", w.events)
	}

	if err := s.MoveUnit(ctx, far, geo.Destination(testGateway, 90, 1)); err != nil {
		t.Fatalf("move: %v", err)
	}
	clk.advance(5 * time.Second)
	s.tick(ctx)
	u = unitByID(t, s, far)
	if !u.Active || u.HopCount != 1 {
		t.Fatalf("expected unit back in the mesh, got %+v", u)
	}
	if ev := w.events[len(w.events)-1]; ev.EventType != telemetry.MeshEventRejoined || ev.UnitIDs[0] != far {
		t.Fatalf("expected rejoined event, got %+v", ev)
	}
}

func TestTickWithoutGatewayKeepsHops(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway = nil
	w := &recordingWriter{}
	s, clk := newTestSim(t, cfg, w)
	id := place(t, s, "lonely", 50)
	clk.advance(5 * time.Second)
	s.tick(context.Background())
	if u := unitByID(t, s, id); u.HopCount != 1 || !u.Active {
		t.Fatalf("topology must be skipped without a gateway, got %+v", u)
	}
	if len(w.events) != 0 {
		t.Fatalf("no mesh events without a gateway, got %+v", w.events)
	}
}

func TestTickInactiveInvariant(t *testing.T) {
	s, clk := newTestSim(t, testConfig(), &recordingWriter{})
	ctx := context.Background()
	dead := place(t, s, "dead", 1)
	if err := s.ChargeUnit(ctx, dead, 0); err != nil {
		t.Fatalf("charge: %v", err)
	}
	for i := 0; i < 3; i++ {
		clk.advance(5 * time.Second)
		s.tick(ctx)
		u := unitByID(t, s, dead)
		if u.Active || u.Status != telemetry.StatusOffline || u.HopCount != 0 || u.SignalStrength != telemetry.SignalFloor {
			t.Fatalf("tick %d: invariant broken %+v", i, u)
		}
		if u.Speed != 0 {
			t.Fatalf("unpowered unit should not move, speed %v", u.Speed)
		}
	}
}

func TestPatrolKeepsEveryTypeInsideDisc(t *testing.T) {
	target := geo.Point{Lat: 53.20, Lng: 10.85}
	const radiusKm = 1.0
	cfg := testConfig()
	cfg.Gateway = nil
	cfg.Groups = []string{"sweep"}
	types := []telemetry.UnitType{
		telemetry.TypeVehicle, telemetry.TypePersonnel, telemetry.TypeSupport,
		telemetry.TypeMilitary, telemetry.TypePolice, telemetry.TypeAir,
	}
	for _, typ := range types {
		cfg.Fleets = append(cfg.Fleets, config.Fleet{
			Name: string(typ), Type: string(typ), Count: 5, Group: "sweep",
			Center: target, SpreadKm: 0.5, SendIntervalS: 5,
		})
	}
	cfg.Assignments = []config.Assignment{{Group: "sweep", Patrol: &config.Patrol{Target: target, RadiusKm: radiusKm}}}
	s, clk := newTestSim(t, cfg, nil)
	ctx := context.Background()

	worst := make(map[telemetry.UnitType]float64)
	for i := 0; i < 3000; i++ {
		clk.advance(time.Second)
		s.tick(ctx)
		for _, u := range s.View().Units {
			worst[u.Type] = math.Max(worst[u.Type], geo.Distance(u.Position, target))
		}
	}
	for _, typ := range types {
		if worst[typ] > radiusKm+1e-3 {
			t.Errorf("%s left the patrol disc: %.3f km from target", typ, worst[typ])
		}
	}
	moved := false
	for _, u := range s.View().Units {
		if u.Directive != "assignment" {
			t.Errorf("%s: directive %q, want assignment", u.Name, u.Directive)
		}
		if geo.Distance(u.Position, target) > 0.6 {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("expected units to roam the disc")
	}
}

func TestTickUsesFullLongSendInterval(t *testing.T) {
	s, clk := newTestSim(t, testConfig(), nil)
	ctx := context.Background()
	spec := DefaultUnitSpec("sensor", telemetry.TypePersonnel, geo.Destination(testGateway, 0, 1))
	spec.SendInterval = 2 * time.Minute
	u, err := s.AddUnit(ctx, spec)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	short := place(t, s, "walker", 1.2)

	clk.advance(2 * time.Minute)
	s.tick(ctx)
	// 0.05% per 5 s over the full 120 s interval
	if got := unitByID(t, s, u.ID).Battery; math.Abs(got-98.8) > 1e-9 {
		t.Fatalf("long interval unit battery %.3f, want 98.800", got)
	}
	// a 5 s unit after a 2 min pause is still capped at MaxElapsed
	if got := unitByID(t, s, short).Battery; math.Abs(got-99.4) > 1e-9 {
		t.Fatalf("short interval unit battery %.3f, want 99.400", got)
	}
}

func TestTickAlarmResponseReportedOnce(t *testing.T) {
	w := &recordingWriter{}
	s, clk := newTestSim(t, testConfig(), w)
	ctx := context.Background()
	alarm := place(t, s, "alarm", 1)
	place(t, s, "r1", 1.2)
	place(t, s, "r2", 1.4)
	if err := s.SetStatus(ctx, alarm, telemetry.StatusAlarm); err != nil {
		t.Fatalf("status: %v", err)
	}

	countResponses := func() int {
		n := 0
		for _, e := range w.events {
			if e.EventType == telemetry.MeshEventAlarmResponse {
				n++
				if e.SubjectID != alarm || len(e.UnitIDs) != 2 {
					t.Fatalf("unexpected alarm response %+v", e)
				}
			}
		}
		return n
	}
	for i := 0; i < 3; i++ {
		clk.advance(5 * time.Second)
		s.tick(ctx)
	}
	if n := countResponses(); n != 1 {
		t.Fatalf("expected one alarm response, got %d", n)
	}
	if u := unitByID(t, s, alarm); u.Status != telemetry.StatusAlarm {
		t.Fatalf("alarm status must stick, got %s", u.Status)
	}
	r := unitByID(t, s, "r1")
	if r.Directive != "alarm" {
		t.Fatalf("responder directive %q", r.Directive)
	}
}

func TestStepRollsBackFaultyUnit(t *testing.T) {
	s, clk := newTestSim(t, testConfig(), &recordingWriter{})
	bad := place(t, s, "bad", 1)
	good := place(t, s, "good", 1.5)
	err := s.store.Update(func(st *store.State) error {
		st.Units[st.UnitIndex(bad)].Position.Lat = math.NaN()
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	before := unitByID(t, s, bad)

	clk.advance(5 * time.Second)
	s.mu.Lock()
	res := s.step(context.Background())
	s.mu.Unlock()

	if res.faults != 1 {
		t.Fatalf("expected 1 fault, got %d", res.faults)
	}
	if len(res.rows) != 1 || res.rows[0].UnitID != good {
		t.Fatalf("expected only the good unit advanced, got %+v", res.rows)
	}
	after := unitByID(t, s, bad)
	if !after.Timestamp.Equal(before.Timestamp) || after.Battery != before.Battery {
		t.Fatalf("faulty unit should keep its previous state")
	}
}

func TestSnapshotDrainsPending(t *testing.T) {
	s, _ := newTestSim(t, testConfig(), nil)
	ctx := context.Background()
	id := place(t, s, "talker", 1)
	if _, err := s.SendMessage(ctx, id, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if p := s.Peek(ctx); len(p.PendingMessages) != 1 {
		t.Fatalf("peek should see 1 message, got %d", len(p.PendingMessages))
	}
	snap := s.Snapshot(ctx)
	if len(snap.PendingMessages) != 1 || snap.PendingMessages[0].Source != SourceOperator {
		t.Fatalf("unexpected pending %+v", snap.PendingMessages)
	}
	if len(snap.Units) != 1 || snap.TypeMapping["personnel"] == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if again := s.Snapshot(ctx); len(again.PendingMessages) != 0 {
		t.Fatalf("messages delivered twice: %+v", again.PendingMessages)
	}
}

func TestQueueCapsPending(t *testing.T) {
	st := &store.State{}
	for i := 0; i < maxPending+5; i++ {
		queue(st, telemetry.Message{ID: string(rune('a' + i%26))})
	}
	if len(st.Pending) != maxPending {
		t.Fatalf("expected %d pending, got %d", maxPending, len(st.Pending))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	s, err := NewSimulator(cfg, &recordingWriter{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
	if s.View().Tick == 0 {
		t.Fatalf("expected at least one tick")
	}
}

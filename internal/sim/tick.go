package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"meshops-sim/internal/behavior"
	"meshops-sim/internal/kinematics"
	"meshops-sim/internal/logging"
	"meshops-sim/internal/power"
	"meshops-sim/internal/store"
	"meshops-sim/internal/telemetry"
	"meshops-sim/internal/topology"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Run starts the simulation loop and stops when the context is done.
// A stopped simulator keeps its last state.
func (s *Simulator) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting simulator", "tick_interval", s.tickInterval, "max_range_km", s.maxRangeKm)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			log.Info("stopping simulator")
			return
		}
	}
}

// tickResult holds what one tick produced for the sinks.
type tickResult struct {
	rows     []telemetry.UnitRow
	messages []telemetry.MessageRow
	events   []telemetry.MeshEventRow
	state    *telemetry.TopologyStateRow
	faults   int
	stranded int
}

// tick computes the next state under the lock and writes the results.
func (s *Simulator) tick(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	res := s.step(ctx)
	s.mu.Unlock()

	s.emit(ctx, res)

	attrs := metric.WithAttributes(attribute.String("cluster_id", s.clusterID))
	s.metrics.ticks.Add(ctx, 1, attrs)
	s.metrics.advanced.Add(ctx, int64(len(res.rows)), attrs)
	s.metrics.faults.Add(ctx, int64(res.faults), attrs)
	s.metrics.messages.Add(ctx, int64(len(res.messages)), attrs)
	s.metrics.stranded.Add(ctx, int64(res.stranded), attrs)
	s.metrics.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
}

// step runs the pipeline once: behavior, kinematics and power per due
// unit, then the topology rebuild and chatter over the whole population.
// Callers must hold s.mu.
func (s *Simulator) step(ctx context.Context) tickResult {
	log := logging.FromContext(ctx)
	now := s.now().UTC()

	old := s.store.Load()
	next := old.Clone()
	next.Tick++
	world := behavior.NewWorld(old.Units, old.Assignments, old.Gateway, old.Rally)

	var res tickResult
	advanced := make([]bool, len(next.Units))
	for i := range next.Units {
		u := &next.Units[i]
		elapsed := now.Sub(u.Timestamp)
		if elapsed < u.EffectiveSendInterval() {
			continue
		}
		if limit := maxElapsed(u); elapsed > limit {
			elapsed = limit
		}
		if err := s.advance(u, world, elapsed.Seconds(), now); err != nil {
			log.Error("unit update failed, keeping previous state", "unit_id", u.ID, "err", err)
			next.Units[i] = old.Units[i].Clone()
			res.faults++
			continue
		}
		advanced[i] = true
	}

	// Units stranded last tick get another chance to join.
	for i := range next.Units {
		power.UpdateStatus(&next.Units[i])
	}

	var topo topology.Result
	if next.Gateway != nil {
		topo = topology.Build(next.Units, *next.Gateway, s.maxRangeKm)
	}
	res.events = s.meshEvents(old, next, world, now)
	res.stranded = len(topo.Stranded)
	res.messages = s.chatter(next, now)

	if err := s.store.Replace(old, next); err != nil {
		log.Error("state replace failed", "tick", next.Tick, "err", err)
		return tickResult{faults: res.faults}
	}

	for i, ok := range advanced {
		if ok {
			res.rows = append(res.rows, telemetry.RowFromUnit(s.clusterID, next.Units[i], now))
		}
	}
	state := s.stateRow(next, topo, now)
	res.state = &state
	log.Debug("tick", "tick", next.Tick, "advanced", len(res.rows), "online", state.Online, "max_hop", state.MaxHop)
	return res
}

// advance moves one unit forward by elapsed seconds. A panic inside the
// unit pipeline is returned as an error so the caller can roll back.
func (s *Simulator) advance(u *telemetry.Unit, w *behavior.World, elapsed float64, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()
	if power.Powered(u) {
		d := s.resolver.Resolve(u, w)
		p := s.resolver.Plan(u, d)
		if p.Bounded {
			kinematics.AdvanceWithin(u, p.TargetSpeed, p.Heading, p.MaxStepKm, elapsed)
		} else {
			kinematics.Advance(u, p.TargetSpeed, p.Heading, elapsed)
		}
		u.Directive = d.Kind.String()
	} else {
		kinematics.Advance(u, 0, u.Heading, elapsed)
		u.Directive = ""
	}
	power.Update(u, elapsed)
	u.Timestamp = now
	if !finite(u.Position.Lat, u.Position.Lng, u.Heading, u.Speed, u.Battery) {
		return fmt.Errorf("non-finite state for unit %s", u.ID)
	}
	return nil
}

// maxElapsed is the longest step a unit may take: MaxElapsed, or its own
// send interval when that is longer.
func maxElapsed(u *telemetry.Unit) time.Duration {
	return max(MaxElapsed, u.EffectiveSendInterval())
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// meshEvents compares hop counts before and after the tick and reports
// alarms that gained responders.
func (s *Simulator) meshEvents(old, next *store.State, w *behavior.World, now time.Time) []telemetry.MeshEventRow {
	prevHop := make(map[string]int, len(old.Units))
	for _, u := range old.Units {
		prevHop[u.ID] = u.HopCount
	}
	var stranded, rejoined []string
	for _, u := range next.Units {
		prev, ok := prevHop[u.ID]
		if !ok {
			continue
		}
		switch {
		case prev > 0 && u.HopCount == 0 && next.Gateway != nil && power.Powered(&u):
			stranded = append(stranded, u.ID)
		case prev == 0 && u.HopCount > 0:
			rejoined = append(rejoined, u.ID)
		}
	}

	var events []telemetry.MeshEventRow
	if len(stranded) > 0 {
		events = append(events, telemetry.MeshEventRow{ClusterID: s.clusterID, EventType: telemetry.MeshEventStranded, UnitIDs: stranded, Timestamp: now})
	}
	if len(rejoined) > 0 {
		events = append(events, telemetry.MeshEventRow{ClusterID: s.clusterID, EventType: telemetry.MeshEventRejoined, UnitIDs: rejoined, Timestamp: now})
	}

	byAlarm := make(map[string][]string)
	var order []string
	for _, u := range old.Units {
		alarmID, ok := w.Responders[u.ID]
		if !ok {
			continue
		}
		if _, seen := byAlarm[alarmID]; !seen {
			order = append(order, alarmID)
		}
		byAlarm[alarmID] = append(byAlarm[alarmID], u.ID)
	}
	for id := range s.answered {
		if _, ok := byAlarm[id]; !ok {
			delete(s.answered, id)
		}
	}
	for _, alarmID := range order {
		if s.answered[alarmID] {
			continue
		}
		s.answered[alarmID] = true
		events = append(events, telemetry.MeshEventRow{
			ClusterID: s.clusterID,
			EventType: telemetry.MeshEventAlarmResponse,
			UnitIDs:   byAlarm[alarmID],
			SubjectID: alarmID,
			Timestamp: now,
		})
	}
	return events
}

func (s *Simulator) stateRow(st *store.State, topo topology.Result, now time.Time) telemetry.TopologyStateRow {
	row := telemetry.TopologyStateRow{
		ClusterID:   s.clusterID,
		Units:       len(st.Units),
		RelayPasses: topo.Passes,
		Rally:       st.Rally,
		GatewaySet:  st.Gateway != nil,
		Timestamp:   now,
	}
	var signalSum int
	for _, u := range st.Units {
		if u.Active {
			row.Online++
			signalSum += u.SignalStrength
		}
		switch u.Status {
		case telemetry.StatusOffline:
			row.Offline++
		case telemetry.StatusAlarm:
			row.Alarm++
		}
		if u.HopCount > row.MaxHop {
			row.MaxHop = u.HopCount
		}
	}
	if row.Online > 0 {
		row.MeanSignal = float64(signalSum) / float64(row.Online)
	}
	return row
}

// emit hands the tick output to the configured writers. Sink failures are
// logged and never stop the loop.
func (s *Simulator) emit(ctx context.Context, res tickResult) {
	log := logging.FromContext(ctx)

	if s.writer != nil && len(res.rows) > 0 {
		if bw, ok := s.writer.(batchWriter); ok {
			if err := bw.WriteBatch(res.rows); err != nil {
				log.Error("batch write failed", "err", err)
			}
		} else {
			for _, row := range res.rows {
				if err := s.writer.Write(row); err != nil {
					log.Error("write failed", "unit_id", row.UnitID, "err", err)
				}
			}
		}
	}

	if s.msgWriter != nil && len(res.messages) > 0 {
		if bw, ok := s.msgWriter.(batchMessageWriter); ok {
			if err := bw.WriteMessages(res.messages); err != nil {
				log.Error("message batch write failed", "err", err)
			}
		} else {
			for _, m := range res.messages {
				if err := s.msgWriter.WriteMessage(m); err != nil {
					log.Error("message write failed", "unit_id", m.UnitID, "err", err)
				}
			}
		}
	}

	if s.eventWriter != nil && len(res.events) > 0 {
		if bw, ok := s.eventWriter.(batchMeshEventWriter); ok {
			if err := bw.WriteMeshEvents(res.events); err != nil {
				log.Error("mesh event batch write failed", "err", err)
			}
		} else {
			for _, e := range res.events {
				if err := s.eventWriter.WriteMeshEvent(e); err != nil {
					log.Error("mesh event write failed", "event_type", e.EventType, "err", err)
				}
			}
		}
	}

	if s.stateWriter != nil && res.state != nil {
		if err := s.stateWriter.WriteState(*res.state); err != nil {
			log.Error("state write failed", "err", err)
		}
	}
}

package sim

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "meshops-sim/internal/sim"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// tickMetrics are recorded against the global meter provider, which is a
// no-op unless the process installs one.
type tickMetrics struct {
	ticks    metric.Int64Counter
	advanced metric.Int64Counter
	faults   metric.Int64Counter
	messages metric.Int64Counter
	stranded metric.Int64Counter
	duration metric.Float64Histogram
}

func newTickMetrics() (*tickMetrics, error) {
	m := meter()
	tm := &tickMetrics{}
	var err error

	tm.ticks, err = m.Int64Counter("sim.ticks",
		metric.WithDescription("Total simulation ticks executed"))
	if err != nil {
		return nil, fmt.Errorf("creating tick counter: %w", err)
	}
	tm.advanced, err = m.Int64Counter("sim.units.advanced",
		metric.WithDescription("Units advanced by the tick engine"))
	if err != nil {
		return nil, fmt.Errorf("creating advanced counter: %w", err)
	}
	tm.faults, err = m.Int64Counter("sim.units.faults",
		metric.WithDescription("Per-unit computations that panicked and were rolled back"))
	if err != nil {
		return nil, fmt.Errorf("creating fault counter: %w", err)
	}
	tm.messages, err = m.Int64Counter("sim.messages.emitted",
		metric.WithDescription("Chatter messages queued for delivery"))
	if err != nil {
		return nil, fmt.Errorf("creating message counter: %w", err)
	}
	tm.stranded, err = m.Int64Counter("sim.units.stranded",
		metric.WithDescription("Units dropped from the mesh because no relay was in range"))
	if err != nil {
		return nil, fmt.Errorf("creating stranded counter: %w", err)
	}
	tm.duration, err = m.Float64Histogram("sim.tick.duration",
		metric.WithDescription("Wall time spent computing one tick"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	return tm, nil
}

package sim

import "meshops-sim/internal/telemetry"

// StateWriter handles per-tick topology summary rows.
type StateWriter interface {
	WriteState(telemetry.TopologyStateRow) error
}

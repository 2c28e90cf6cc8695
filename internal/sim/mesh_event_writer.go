package sim

import "meshops-sim/internal/telemetry"

// MeshEventWriter handles mesh membership and tasking events.
type MeshEventWriter interface {
	WriteMeshEvent(telemetry.MeshEventRow) error
}

// Optional: event writers may support batch mode
type batchMeshEventWriter interface {
	WriteMeshEvents([]telemetry.MeshEventRow) error
}

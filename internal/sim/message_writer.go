package sim

import "meshops-sim/internal/telemetry"

// MessageWriter handles chatter and operator message rows.
type MessageWriter interface {
	WriteMessage(telemetry.MessageRow) error
}

// Optional: message writers may support batch mode
type batchMessageWriter interface {
	WriteMessages([]telemetry.MessageRow) error
}

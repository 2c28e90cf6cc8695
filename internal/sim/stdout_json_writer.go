package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"meshops-sim/internal/telemetry"
)

// JSONStdoutWriter prints unit rows, messages, events and state as JSON to STDOUT.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

func (w *JSONStdoutWriter) print(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// Write outputs a unit row in JSON format.
func (w *JSONStdoutWriter) Write(row telemetry.UnitRow) error {
	return w.print(row)
}

// WriteBatch outputs multiple unit rows in JSON format.
func (w *JSONStdoutWriter) WriteBatch(rows []telemetry.UnitRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteMessage outputs a message row in JSON format.
func (w *JSONStdoutWriter) WriteMessage(m telemetry.MessageRow) error {
	return w.print(m)
}

// WriteMeshEvent outputs a mesh event in JSON format.
func (w *JSONStdoutWriter) WriteMeshEvent(e telemetry.MeshEventRow) error {
	return w.print(e)
}

// WriteState outputs a topology state row in JSON format.
func (w *JSONStdoutWriter) WriteState(row telemetry.TopologyStateRow) error {
	return w.print(row)
}

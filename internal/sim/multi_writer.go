package sim

import (
	"errors"
	"io"

	"meshops-sim/internal/telemetry"
)

// MultiWriter fan-outs rows to multiple writers. Message, state and mesh
// event rows only reach writers that implement the matching interface.
type MultiWriter struct {
	writers []TelemetryWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...TelemetryWriter) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Add appends another writer.
func (mw *MultiWriter) Add(w TelemetryWriter) {
	mw.writers = append(mw.writers, w)
}

// Len returns the number of writers.
func (mw *MultiWriter) Len() int { return len(mw.writers) }

// Writers returns the wrapped writers in fan-out order.
func (mw *MultiWriter) Writers() []TelemetryWriter {
	return append([]TelemetryWriter(nil), mw.writers...)
}

// Write sends a unit row to all writers.
func (mw *MultiWriter) Write(row telemetry.UnitRow) error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Write(row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteBatch sends multiple unit rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []telemetry.UnitRow) error {
	var errs []error
	for _, w := range mw.writers {
		if bw, ok := w.(batchWriter); ok {
			if err := bw.WriteBatch(rows); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		for _, r := range rows {
			if err := w.Write(r); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// WriteMessage sends a message row to all message writers.
func (mw *MultiWriter) WriteMessage(m telemetry.MessageRow) error {
	return mw.WriteMessages([]telemetry.MessageRow{m})
}

// WriteMessages sends message rows to all message writers, using batch if supported.
func (mw *MultiWriter) WriteMessages(rows []telemetry.MessageRow) error {
	var errs []error
	for _, w := range mw.writers {
		if bw, ok := w.(batchMessageWriter); ok {
			if err := bw.WriteMessages(rows); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		mwr, ok := w.(MessageWriter)
		if !ok {
			continue
		}
		for _, r := range rows {
			if err := mwr.WriteMessage(r); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// WriteMeshEvent sends a mesh event to all event writers.
func (mw *MultiWriter) WriteMeshEvent(e telemetry.MeshEventRow) error {
	return mw.WriteMeshEvents([]telemetry.MeshEventRow{e})
}

// WriteMeshEvents sends mesh events to all event writers, using batch if supported.
func (mw *MultiWriter) WriteMeshEvents(rows []telemetry.MeshEventRow) error {
	var errs []error
	for _, w := range mw.writers {
		if bw, ok := w.(batchMeshEventWriter); ok {
			if err := bw.WriteMeshEvents(rows); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		ew, ok := w.(MeshEventWriter)
		if !ok {
			continue
		}
		for _, r := range rows {
			if err := ew.WriteMeshEvent(r); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// WriteState sends a topology state row to all state writers.
func (mw *MultiWriter) WriteState(row telemetry.TopologyStateRow) error {
	var errs []error
	for _, w := range mw.writers {
		if sw, ok := w.(StateWriter); ok {
			if err := sw.WriteState(row); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer that implements io.Closer.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

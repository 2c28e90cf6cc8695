package sim

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	"meshops-sim/internal/telemetry"

	"github.com/klauspost/compress/gzip"
)

// jsonlFile is one JSONL output, gzip-compressed when the path ends in .gz.
type jsonlFile struct {
	f   *os.File
	gz  *gzip.Writer
	enc *json.Encoder
}

func createJSONL(path string) (*jsonlFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	jf := &jsonlFile{f: f}
	var w io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		jf.gz = gzip.NewWriter(f)
		w = jf.gz
	}
	jf.enc = json.NewEncoder(w)
	return jf, nil
}

func (j *jsonlFile) encode(v any) error {
	if j == nil {
		return nil
	}
	return j.enc.Encode(v)
}

func (j *jsonlFile) close() error {
	if j == nil {
		return nil
	}
	var err error
	if j.gz != nil {
		err = j.gz.Close()
	}
	return errors.Join(err, j.f.Close())
}

// FilePaths selects the JSONL logs a FileWriter produces. Empty paths are
// skipped; Units is required.
type FilePaths struct {
	Units    string
	Messages string
	Events   string
	State    string
}

// FileWriter writes unit rows, messages, mesh events and topology state to
// JSONL files.
type FileWriter struct {
	units    *jsonlFile
	messages *jsonlFile
	events   *jsonlFile
	state    *jsonlFile
}

// NewFileWriter creates a FileWriter for the given paths.
func NewFileWriter(paths FilePaths) (*FileWriter, error) {
	fw := &FileWriter{}
	var err error
	if fw.units, err = createJSONL(paths.Units); err != nil {
		return nil, err
	}
	open := func(path string, dst **jsonlFile) error {
		if path == "" {
			return nil
		}
		jf, err := createJSONL(path)
		if err != nil {
			return err
		}
		*dst = jf
		return nil
	}
	for _, o := range []struct {
		path string
		dst  **jsonlFile
	}{
		{paths.Messages, &fw.messages},
		{paths.Events, &fw.events},
		{paths.State, &fw.state},
	} {
		if err := open(o.path, o.dst); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return fw, nil
}

// Write logs a single unit row.
func (f *FileWriter) Write(row telemetry.UnitRow) error {
	return f.units.encode(row)
}

// WriteBatch logs multiple unit rows.
func (f *FileWriter) WriteBatch(rows []telemetry.UnitRow) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteMessage logs a message row, if enabled.
func (f *FileWriter) WriteMessage(m telemetry.MessageRow) error {
	return f.messages.encode(m)
}

// WriteMessages logs multiple message rows.
func (f *FileWriter) WriteMessages(rows []telemetry.MessageRow) error {
	for _, m := range rows {
		if err := f.WriteMessage(m); err != nil {
			return err
		}
	}
	return nil
}

// WriteMeshEvent logs a mesh event row, if enabled.
func (f *FileWriter) WriteMeshEvent(e telemetry.MeshEventRow) error {
	return f.events.encode(e)
}

// WriteMeshEvents logs multiple mesh events.
func (f *FileWriter) WriteMeshEvents(rows []telemetry.MeshEventRow) error {
	for _, e := range rows {
		if err := f.WriteMeshEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// WriteState logs a topology state row, if enabled.
func (f *FileWriter) WriteState(row telemetry.TopologyStateRow) error {
	return f.state.encode(row)
}

// Close flushes and closes any underlying files.
func (f *FileWriter) Close() error {
	return errors.Join(f.units.close(), f.messages.close(), f.events.close(), f.state.close())
}

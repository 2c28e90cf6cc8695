package sim

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"meshops-sim/internal/telemetry"

	"github.com/klauspost/compress/gzip"
)

// ReplayLog replays unit rows from r to writer. A speed >0 accelerates playback.
// If speed <= 0, no artificial delay is inserted.
func ReplayLog(r io.Reader, writer TelemetryWriter, speed float64) error {
	return replay(r, writer, speed, time.Sleep)
}

func replay(r io.Reader, writer TelemetryWriter, speed float64, sleep func(time.Duration)) error {
	dec := json.NewDecoder(r)
	var prev time.Time
	for {
		var row telemetry.UnitRow
		if err := dec.Decode(&row); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if !prev.IsZero() && speed > 0 {
			diff := row.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				sleep(diff)
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
		prev = row.Timestamp
	}
}

// ReplayLogFile opens a file and replays its unit rows. Files ending in
// .gz are decompressed.
func ReplayLogFile(path string, writer TelemetryWriter, speed float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}
	return ReplayLog(r, writer, speed)
}

package sim

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meshops-sim/internal/telemetry"

	"github.com/klauspost/compress/gzip"
)

type collectWriter struct{ rows []telemetry.UnitRow }

func (c *collectWriter) Write(r telemetry.UnitRow) error {
	c.rows = append(c.rows, r)
	return nil
}

func encodeRows(t *testing.T, rows []telemetry.UnitRow) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	return &buf
}

var replayRows = []telemetry.UnitRow{
	{ClusterID: "c1", UnitID: "u1", Timestamp: time.Unix(0, 0)},
	{ClusterID: "c1", UnitID: "u2", Timestamp: time.Unix(4, 0)},
}

func TestReplayLog(t *testing.T) {
	cw := &collectWriter{}
	if err := ReplayLog(encodeRows(t, replayRows), cw, 0); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if len(cw.rows) != len(replayRows) {
		t.Fatalf("expected %d rows, got %d", len(replayRows), len(cw.rows))
	}
	for i, r := range replayRows {
		if cw.rows[i].UnitID != r.UnitID {
			t.Fatalf("row %d mismatch: %+v vs %+v", i, cw.rows[i], r)
		}
	}
}

func TestReplaySpeedScalesDelay(t *testing.T) {
	var slept []time.Duration
	cw := &collectWriter{}
	err := replay(encodeRows(t, replayRows), cw, 2, func(d time.Duration) { slept = append(slept, d) })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("unexpected sleeps %v", slept)
	}
}

func TestReplayLogFileGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.jsonl.gz")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(encodeRows(t, replayRows).Bytes()); err != nil {
		t.Fatal(err)
	}
	zw.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	cw := &collectWriter{}
	if err := ReplayLogFile(path, cw, 0); err != nil {
		t.Fatalf("ReplayLogFile: %v", err)
	}
	if len(cw.rows) != 2 || cw.rows[1].UnitID != "u2" {
		t.Fatalf("unexpected rows %+v", cw.rows)
	}
}

package sim

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"meshops-sim/internal/config"
	"meshops-sim/internal/telemetry"
)

func TestJSONStdoutWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &JSONStdoutWriter{out: buf}
	row := telemetry.UnitRow{ClusterID: "c1", UnitID: "u1", HopCount: 3, Timestamp: time.Unix(0, 0)}
	if err := w.Write(row); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.WriteState(telemetry.TopologyStateRow{ClusterID: "c1", MaxHop: 3}); err != nil {
		t.Fatalf("write state failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var got telemetry.UnitRow
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if got.HopCount != 3 {
		t.Fatalf("unexpected row %+v", got)
	}
}

func TestColorStdoutWriter(t *testing.T) {
	cfg := &config.SimulationConfig{ClusterID: "c1", MaxRangeKm: 3, Fleets: []config.Fleet{{Name: "car", Type: "vehicle", Count: 2, Group: "alpha"}}}
	buf := &bytes.Buffer{}
	w := &ColorStdoutWriter{cfg: cfg, out: buf}
	row := telemetry.UnitRow{ClusterID: "c1", UnitID: "u1", Name: "car-1", GroupID: "g1", Status: telemetry.StatusAlarm, HopCount: 2, SignalStrength: -90, Timestamp: time.Unix(0, 0)}
	if err := w.Write(row); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Simulation Configuration:", "Fleets:", "unit=car-1", "hop=2 sig=-90", colorRed + "status=alarm"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	buf.Reset()
	_ = w.Write(row)
	if strings.Contains(buf.String(), "Simulation Configuration:") {
		t.Fatalf("overview printed twice")
	}
}

func TestGroupColorsStable(t *testing.T) {
	var g groupColors
	a := g.get("a")
	b := g.get("b")
	if a == b || g.get("a") != a {
		t.Fatalf("colors not stable: %q %q", a, b)
	}
	if g.get("") != colorGray {
		t.Fatalf("ungrouped units should be gray")
	}
}

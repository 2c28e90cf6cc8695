package sim

import (
	"strings"
	"testing"
	"time"

	"meshops-sim/internal/telemetry"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

type fakePointWriter struct {
	points  []*influxdb2_write.Point
	flushed bool
}

func (f *fakePointWriter) WritePoint(p *influxdb2_write.Point) { f.points = append(f.points, p) }
func (f *fakePointWriter) Flush()                              { f.flushed = true }

func TestInfluxWriterUnitPoint(t *testing.T) {
	f := &fakePointWriter{}
	w := &InfluxWriter{api: f}
	row := telemetry.UnitRow{ClusterID: "c1", UnitID: "u1", Type: telemetry.TypeAir, HopCount: 2, SignalStrength: -90, Active: true, Timestamp: time.Unix(10, 0)}
	if err := w.WriteBatch([]telemetry.UnitRow{row}); err != nil {
		t.Fatal(err)
	}
	if len(f.points) != 1 {
		t.Fatalf("points = %d", len(f.points))
	}
	lp := lineProtocol(f.points[0])
	for _, want := range []string{InfluxUnitMeasurement + ",", "unit_id=u1", "type=air", "hop_count=2i", "signal_strength=-90i", "active=true", " 10000000000"} {
		if !strings.Contains(lp, want) {
			t.Errorf("line protocol %q missing %q", lp, want)
		}
	}
}

func TestInfluxWriterOtherRows(t *testing.T) {
	f := &fakePointWriter{}
	w := &InfluxWriter{api: f}
	ts := time.Unix(0, 0)
	_ = w.WriteMessage(telemetry.MessageRow{ClusterID: "c1", UnitID: "u1", Source: SourceOperator, Text: "hold", Timestamp: ts})
	_ = w.WriteMeshEvent(telemetry.MeshEventRow{ClusterID: "c1", EventType: telemetry.MeshEventStranded, UnitIDs: []string{"a", "b"}, Timestamp: ts})
	_ = w.WriteState(telemetry.TopologyStateRow{ClusterID: "c1", MaxHop: 4, Timestamp: ts})
	if len(f.points) != 3 {
		t.Fatalf("points = %d", len(f.points))
	}
	if lp := lineProtocol(f.points[1]); !strings.Contains(lp, `unit_ids="a,b"`) || !strings.Contains(lp, "count=2i") {
		t.Fatalf("unexpected event point %q", lp)
	}
	if lp := lineProtocol(f.points[2]); !strings.Contains(lp, "max_hop=4i") {
		t.Fatalf("unexpected state point %q", lp)
	}
	if err := w.Close(); err != nil || !f.flushed {
		t.Fatalf("close did not flush")
	}
}

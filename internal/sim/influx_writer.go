package sim

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"meshops-sim/internal/telemetry"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// pointWriter is the subset of the influx non-blocking write API in use.
type pointWriter interface {
	WritePoint(point *influxdb2_write.Point)
	Flush()
}

// Influx measurement names.
const (
	InfluxUnitMeasurement    = "mesh_unit"
	InfluxMessageMeasurement = "mesh_message"
	InfluxEventMeasurement   = "mesh_event"
	InfluxStateMeasurement   = "mesh_topology"
)

// InfluxWriter writes rows as points into one InfluxDB bucket.
type InfluxWriter struct {
	client influxdb2.Client
	api    pointWriter
}

// NewInfluxWriter connects to url and writes into org/bucket. Asynchronous
// write errors are logged with log.
func NewInfluxWriter(url, token, org, bucket string, log *slog.Logger) *InfluxWriter {
	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000))
	api := client.WriteAPI(org, bucket)
	go func() {
		for err := range api.Errors() {
			log.Error("influx write failed", "bucket", bucket, "err", err)
		}
	}()
	return &InfluxWriter{client: client, api: api}
}

// Ping reports whether the server answers.
func (w *InfluxWriter) Ping(ctx context.Context) (bool, error) {
	return w.client.Ping(ctx)
}

// Write queues a unit row.
func (w *InfluxWriter) Write(r telemetry.UnitRow) error {
	p := influxdb2.NewPointWithMeasurement(InfluxUnitMeasurement).
		AddTag("cluster_id", r.ClusterID).
		AddTag("unit_id", r.UnitID).
		AddTag("type", string(r.Type)).
		AddField("name", r.Name).
		AddField("group_id", r.GroupID).
		AddField("lat", r.Lat).
		AddField("lng", r.Lng).
		AddField("heading", r.Heading).
		AddField("speed_kmh", r.Speed).
		AddField("battery", r.Battery).
		AddField("status", string(r.Status)).
		AddField("active", r.Active).
		AddField("hop_count", r.HopCount).
		AddField("signal_strength", r.SignalStrength).
		AddField("directive", r.Directive).
		SetTime(r.Timestamp)
	w.api.WritePoint(p)
	return nil
}

// WriteBatch queues multiple unit rows.
func (w *InfluxWriter) WriteBatch(rows []telemetry.UnitRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteMessage queues a message row.
func (w *InfluxWriter) WriteMessage(m telemetry.MessageRow) error {
	p := influxdb2.NewPointWithMeasurement(InfluxMessageMeasurement).
		AddTag("cluster_id", m.ClusterID).
		AddTag("unit_id", m.UnitID).
		AddTag("source", m.Source).
		AddField("message_id", m.MessageID).
		AddField("unit_name", m.UnitName).
		AddField("text", m.Text).
		SetTime(m.Timestamp)
	w.api.WritePoint(p)
	return nil
}

// WriteMeshEvent queues a mesh event.
func (w *InfluxWriter) WriteMeshEvent(e telemetry.MeshEventRow) error {
	p := influxdb2.NewPointWithMeasurement(InfluxEventMeasurement).
		AddTag("cluster_id", e.ClusterID).
		AddTag("event_type", e.EventType).
		AddField("unit_ids", strings.Join(e.UnitIDs, ",")).
		AddField("count", len(e.UnitIDs)).
		AddField("subject_id", e.SubjectID).
		SetTime(e.Timestamp)
	w.api.WritePoint(p)
	return nil
}

// WriteState queues a topology state row.
func (w *InfluxWriter) WriteState(r telemetry.TopologyStateRow) error {
	p := influxdb2.NewPointWithMeasurement(InfluxStateMeasurement).
		AddTag("cluster_id", r.ClusterID).
		AddField("units", r.Units).
		AddField("online", r.Online).
		AddField("offline", r.Offline).
		AddField("alarm", r.Alarm).
		AddField("max_hop", r.MaxHop).
		AddField("mean_signal", r.MeanSignal).
		AddField("relay_passes", r.RelayPasses).
		AddField("rally", r.Rally).
		AddField("gateway_set", r.GatewaySet).
		SetTime(r.Timestamp)
	w.api.WritePoint(p)
	return nil
}

// Close flushes pending points and closes the client.
func (w *InfluxWriter) Close() error {
	w.api.Flush()
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

// lineProtocol renders p the way it is sent to the server.
func lineProtocol(p *influxdb2_write.Point) string {
	return influxdb2_write.PointToLineProtocol(p, time.Nanosecond)
}

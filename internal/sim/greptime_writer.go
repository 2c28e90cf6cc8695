package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"meshops-sim/internal/telemetry"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

// greptimeClient is the subset of the ingester client the writer needs.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// Default GreptimeDB table names for the secondary row kinds.
const (
	DefaultMessageTable = "mesh_messages"
	DefaultEventTable   = "mesh_events"
	DefaultStateTable   = "mesh_topology_state"
)

// GreptimeDBWriter writes unit rows, messages, mesh events and topology
// state to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client       greptimeClient
	unitTable    string
	messageTable string
	eventTable   string
	stateTable   string
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port") and
// writes into database. Tables are created by the server on first insert.
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithDatabase(database)
	if port > 0 {
		cfg = cfg.WithPort(port)
	}
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{
		client:       client,
		unitTable:    telemetry.UnitTableName,
		messageTable: DefaultMessageTable,
		eventTable:   DefaultEventTable,
		stateTable:   DefaultStateTable,
	}, nil
}

// SetTables overrides the table names. Empty values keep the current name.
func (w *GreptimeDBWriter) SetTables(unit, message, event, state string) {
	for _, t := range []struct {
		dst *string
		v   string
	}{{&w.unitTable, unit}, {&w.messageTable, message}, {&w.eventTable, event}, {&w.stateTable, state}} {
		if t.v != "" {
			*t.dst = t.v
		}
	}
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, p, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port given
		return endpoint, 0, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("greptime endpoint %q: bad port: %w", endpoint, err)
	}
	return host, port, nil
}

// Write inserts a single unit row.
func (w *GreptimeDBWriter) Write(row telemetry.UnitRow) error {
	return w.WriteBatch([]telemetry.UnitRow{row})
}

// WriteBatch inserts multiple unit rows.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.UnitRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.unitTable)
	if err != nil {
		return err
	}
	cols := []struct {
		name string
		typ  types.ColumnType
		tag  bool
	}{
		{"cluster_id", types.STRING, true},
		{"unit_id", types.STRING, true},
		{"name", types.STRING, false},
		{"type", types.STRING, false},
		{"group_id", types.STRING, false},
		{"lat", types.FLOAT64, false},
		{"lng", types.FLOAT64, false},
		{"heading", types.FLOAT64, false},
		{"speed_kmh", types.FLOAT64, false},
		{"battery", types.FLOAT64, false},
		{"status", types.STRING, false},
		{"active", types.BOOLEAN, false},
		{"hop_count", types.INT64, false},
		{"signal_strength", types.INT64, false},
		{"directive", types.STRING, false},
	}
	for _, c := range cols {
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.typ)
		} else {
			err = tbl.AddFieldColumn(c.name, c.typ)
		}
		if err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(
			r.ClusterID, r.UnitID, r.Name, string(r.Type), r.GroupID,
			r.Lat, r.Lng, r.Heading, r.Speed, r.Battery,
			string(r.Status), r.Active, int64(r.HopCount), int64(r.SignalStrength),
			r.Directive, r.Timestamp,
		); err != nil {
			return err
		}
	}
	_, err = w.client.Write(context.Background(), tbl)
	return err
}

// WriteMessage inserts a single message row.
func (w *GreptimeDBWriter) WriteMessage(m telemetry.MessageRow) error {
	return w.WriteMessages([]telemetry.MessageRow{m})
}

// WriteMessages inserts multiple message rows.
func (w *GreptimeDBWriter) WriteMessages(rows []telemetry.MessageRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.messageTable)
	if err != nil {
		return err
	}
	_ = tbl.AddTagColumn("cluster_id", types.STRING)
	_ = tbl.AddTagColumn("unit_id", types.STRING)
	_ = tbl.AddFieldColumn("message_id", types.STRING)
	_ = tbl.AddFieldColumn("unit_name", types.STRING)
	_ = tbl.AddFieldColumn("source", types.STRING)
	_ = tbl.AddFieldColumn("text", types.STRING)
	_ = tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, r := range rows {
		if err := tbl.AddRow(r.ClusterID, r.UnitID, r.MessageID, r.UnitName, r.Source, r.Text, r.Timestamp); err != nil {
			return err
		}
	}
	_, err = w.client.Write(context.Background(), tbl)
	return err
}

// WriteMeshEvent inserts a single mesh event.
func (w *GreptimeDBWriter) WriteMeshEvent(e telemetry.MeshEventRow) error {
	return w.WriteMeshEvents([]telemetry.MeshEventRow{e})
}

// WriteMeshEvents inserts multiple mesh events. Unit ids are stored as a
// JSON array.
func (w *GreptimeDBWriter) WriteMeshEvents(rows []telemetry.MeshEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	_ = tbl.AddTagColumn("cluster_id", types.STRING)
	_ = tbl.AddTagColumn("event_type", types.STRING)
	_ = tbl.AddFieldColumn("unit_ids", types.JSON)
	_ = tbl.AddFieldColumn("subject_id", types.STRING)
	_ = tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	for _, r := range rows {
		ids, err := json.Marshal(r.UnitIDs)
		if err != nil {
			return err
		}
		if err := tbl.AddRow(r.ClusterID, r.EventType, string(ids), r.SubjectID, r.Timestamp); err != nil {
			return err
		}
	}
	_, err = w.client.Write(context.Background(), tbl)
	return err
}

// WriteState inserts a topology state row.
func (w *GreptimeDBWriter) WriteState(r telemetry.TopologyStateRow) error {
	tbl, err := table.New(w.stateTable)
	if err != nil {
		return err
	}
	_ = tbl.AddTagColumn("cluster_id", types.STRING)
	_ = tbl.AddFieldColumn("units", types.INT64)
	_ = tbl.AddFieldColumn("online", types.INT64)
	_ = tbl.AddFieldColumn("offline", types.INT64)
	_ = tbl.AddFieldColumn("alarm", types.INT64)
	_ = tbl.AddFieldColumn("max_hop", types.INT64)
	_ = tbl.AddFieldColumn("mean_signal", types.FLOAT64)
	_ = tbl.AddFieldColumn("relay_passes", types.INT64)
	_ = tbl.AddFieldColumn("rally", types.BOOLEAN)
	_ = tbl.AddFieldColumn("gateway_set", types.BOOLEAN)
	_ = tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	if err := tbl.AddRow(r.ClusterID, int64(r.Units), int64(r.Online), int64(r.Offline), int64(r.Alarm),
		int64(r.MaxHop), r.MeanSignal, int64(r.RelayPasses), r.Rally, r.GatewaySet, r.Timestamp); err != nil {
		return err
	}
	_, err = w.client.Write(context.Background(), tbl)
	return err
}

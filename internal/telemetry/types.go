// Unit model and telemetry rows with greptime tags
package telemetry

import (
	"os"
	"time"

	"meshops-sim/internal/geo"
)

// Position is a lat/lng pair in degrees.
type Position = geo.Point

// UnitType classifies a unit. Codes outside the built-in set are allowed and
// move like ground vehicles.
type UnitType string

const (
	TypeVehicle   UnitType = "vehicle"
	TypePersonnel UnitType = "personnel"
	TypeSupport   UnitType = "support"
	TypeMilitary  UnitType = "military"
	TypePolice    UnitType = "police"
	TypeAir       UnitType = "air"
)

// Status is the derived operating state of a unit.
type Status string

// Unit status constants.
const (
	StatusOnline      Status = "online"
	StatusMoving      Status = "moving"
	StatusIdle        Status = "idle"
	StatusAlarm       Status = "alarm"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
)

// Sticky reports whether motion inference must leave the status alone.
func (s Status) Sticky() bool {
	return s == StatusAlarm || s == StatusMaintenance
}

// Mesh metric constants.
const (
	SignalFloor       = -120
	HopDisconnected   = 0
	DefaultMaxRangeKm = 3.0
	// PoweredSendInterval is the duty cycle of externally powered units.
	PoweredSendInterval = 2 * time.Second
)

// Message is a text line attributed to a unit.
type Message struct {
	ID        string    `json:"id"`
	UnitID    string    `json:"unit_id"`
	UnitName  string    `json:"unit_name"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"ts"`
}

// Unit holds runtime state for one mesh node.
type Unit struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Type              UnitType      `json:"type"`
	GroupID           string        `json:"group_id,omitempty"`
	Position          Position      `json:"position"`
	Heading           float64       `json:"heading"`
	Speed             float64       `json:"speed_kmh"`
	Battery           float64       `json:"battery"`
	ExternallyPowered bool          `json:"externally_powered"`
	Status            Status        `json:"status"`
	Active            bool          `json:"active"`
	Timestamp         time.Time     `json:"ts"`
	SendInterval      time.Duration `json:"send_interval"`
	SignalStrength    int           `json:"signal_strength"`
	HopCount          int           `json:"hop_count"`
	PatrolTarget      *Position     `json:"patrol_target,omitempty"`
	PatrolTargetIndex *int          `json:"patrol_target_index,omitempty"`
	LastMessage       *Message      `json:"last_message,omitempty"`
	Directive         string        `json:"directive,omitempty"`
}

// EffectiveSendInterval is the cadence at which the unit is advanced.
func (u *Unit) EffectiveSendInterval() time.Duration {
	if u.ExternallyPowered {
		return PoweredSendInterval
	}
	return u.SendInterval
}

// ClearPatrol drops transient navigation state.
func (u *Unit) ClearPatrol() {
	u.PatrolTarget = nil
	u.PatrolTargetIndex = nil
}

// Clone returns a deep copy of u.
func (u Unit) Clone() Unit {
	c := u
	if u.PatrolTarget != nil {
		p := *u.PatrolTarget
		c.PatrolTarget = &p
	}
	if u.PatrolTargetIndex != nil {
		i := *u.PatrolTargetIndex
		c.PatrolTargetIndex = &i
	}
	if u.LastMessage != nil {
		m := *u.LastMessage
		c.LastMessage = &m
	}
	return c
}

// Group is a named collection of units.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssignmentKind selects the assignment variant.
type AssignmentKind string

const (
	AssignmentPatrol   AssignmentKind = "patrol"
	AssignmentPendulum AssignmentKind = "pendulum"
)

// Assignment is a standing order for one group.
type Assignment struct {
	GroupID  string         `json:"group_id"`
	Kind     AssignmentKind `json:"kind"`
	Target   Position       `json:"target,omitempty"`
	RadiusKm float64        `json:"radius_km,omitempty"`
	Points   []Position     `json:"points,omitempty"`
}

// Clone returns a deep copy of a.
func (a Assignment) Clone() Assignment {
	c := a
	c.Points = append([]Position(nil), a.Points...)
	return c
}

// UnitRow represents one unit telemetry record for GreptimeDB.
type UnitRow struct {
	ClusterID      string    `json:"cluster_id"` // TAG
	UnitID         string    `json:"unit_id"`    // TAG
	Name           string    `json:"name"`
	Type           UnitType  `json:"type"`
	GroupID        string    `json:"group_id"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	Heading        float64   `json:"heading"`
	Speed          float64   `json:"speed_kmh"`
	Battery        float64   `json:"battery"`
	Status         Status    `json:"status"`
	Active         bool      `json:"active"`
	HopCount       int       `json:"hop_count"`
	SignalStrength int       `json:"signal_strength"`
	Directive      string    `json:"directive"`
	Timestamp      time.Time `json:"ts"` // TIME INDEX
}

// RowFromUnit flattens a unit into a telemetry row.
func RowFromUnit(clusterID string, u Unit, ts time.Time) UnitRow {
	return UnitRow{
		ClusterID:      clusterID,
		UnitID:         u.ID,
		Name:           u.Name,
		Type:           u.Type,
		GroupID:        u.GroupID,
		Lat:            u.Position.Lat,
		Lng:            u.Position.Lng,
		Heading:        u.Heading,
		Speed:          u.Speed,
		Battery:        u.Battery,
		Status:         u.Status,
		Active:         u.Active,
		HopCount:       u.HopCount,
		SignalStrength: u.SignalStrength,
		Directive:      u.Directive,
		Timestamp:      ts,
	}
}

// UnitTableName holds the table name used when writing to GreptimeDB.
// It defaults to "mesh_unit_telemetry" but can be overridden via the
// GREPTIMEDB_TABLE environment variable.
var UnitTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "mesh_unit_telemetry"
}()

func (UnitRow) TableName() string {
	return UnitTableName
}

// MessageRow is one chatter line delivered to consumers.
type MessageRow struct {
	ClusterID string    `json:"cluster_id"`
	MessageID string    `json:"message_id"`
	UnitID    string    `json:"unit_id"`
	UnitName  string    `json:"unit_name"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

// TopologyStateRow summarises the mesh after one tick.
type TopologyStateRow struct {
	ClusterID   string    `json:"cluster_id"`
	Units       int       `json:"units"`
	Online      int       `json:"online"`
	Offline     int       `json:"offline"`
	Alarm       int       `json:"alarm"`
	MaxHop      int       `json:"max_hop"`
	MeanSignal  float64   `json:"mean_signal"`
	RelayPasses int       `json:"relay_passes"`
	Rally       bool      `json:"rally"`
	GatewaySet  bool      `json:"gateway_set"`
	Timestamp   time.Time `json:"ts"`
}

package telemetry

import "time"

const (
	MeshEventStranded      = "stranded"
	MeshEventRejoined      = "rejoined"
	MeshEventAlarmResponse = "alarm_response"
)

// MeshEventRow represents a change in mesh membership or tasking.
type MeshEventRow struct {
	ClusterID string    `json:"cluster_id"`
	EventType string    `json:"event_type"`
	UnitIDs   []string  `json:"unit_ids"`
	SubjectID string    `json:"subject_id,omitempty"`
	Timestamp time.Time `json:"ts"`
}

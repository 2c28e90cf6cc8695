package behavior

import (
	"sort"

	"meshops-sim/internal/geo"
	"meshops-sim/internal/telemetry"
)

// RespondersPerAlarm is how many of the nearest units answer an alarm.
const RespondersPerAlarm = 3

// GroupCenter is the unweighted centroid of a group's active members.
type GroupCenter struct {
	Center telemetry.Position
	Active int
}

// GroupCenters computes the centroid of active members for every group.
func GroupCenters(units []telemetry.Unit) map[string]GroupCenter {
	members := make(map[string][]telemetry.Position)
	for _, u := range units {
		if u.GroupID == "" || !u.Active {
			continue
		}
		members[u.GroupID] = append(members[u.GroupID], u.Position)
	}
	out := make(map[string]GroupCenter, len(members))
	for gid, pts := range members {
		c, _ := geo.Centroid(pts)
		out[gid] = GroupCenter{Center: c, Active: len(pts)}
	}
	return out
}

// AlarmResponders maps responder unit id to the alarm unit it answers.
// Alarms are visited in population order; each picks its three nearest
// active non-alarm units and a unit keeps the first alarm that picked it.
func AlarmResponders(units []telemetry.Unit) map[string]string {
	out := make(map[string]string)
	type cand struct {
		id   string
		dist float64
	}
	for _, a := range units {
		if a.Status != telemetry.StatusAlarm || !a.Active {
			continue
		}
		var cands []cand
		for _, u := range units {
			if u.ID == a.ID || !u.Active || u.Status == telemetry.StatusAlarm {
				continue
			}
			cands = append(cands, cand{id: u.ID, dist: geo.Distance(a.Position, u.Position)})
		}
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
		if len(cands) > RespondersPerAlarm {
			cands = cands[:RespondersPerAlarm]
		}
		for _, c := range cands {
			if _, taken := out[c.id]; !taken {
				out[c.id] = a.ID
			}
		}
	}
	return out
}

// Package topology rebuilds the multi-hop mesh around the gateway.
//
// The relaxation is greedy: every unconnected unit attaches to the nearest
// already connected unit in range, scanning the population in slice order.
// It is not a shortest-path search and ties resolve by that order.
package topology

import (
	"math"

	"meshops-sim/internal/geo"
	"meshops-sim/internal/power"
	"meshops-sim/internal/telemetry"
)

// Signal model: -50 dBm at zero distance, 20 dB lost per km.
const (
	signalAtZero = -50
	signalPerKm  = 20
)

// Signal returns the synthetic link quality for a link of distKm.
func Signal(distKm float64) int {
	return int(math.Round(math.Max(telemetry.SignalFloor, signalAtZero-signalPerKm*distKm)))
}

// Result summarises one rebuild.
type Result struct {
	Connected int
	Passes    int
	MaxHop    int
	Stranded  []string
	// Parents maps a connected unit id to the unit it relays through.
	// Units attached directly to the gateway map to "".
	Parents map[string]string
}

// Build assigns hop count and signal strength to every unit in place.
// Units that cannot reach the gateway are dropped from the mesh for this
// tick: hop 0, Offline, inactive.
func Build(units []telemetry.Unit, gateway telemetry.Position, maxRangeKm float64) Result {
	res := Result{Parents: make(map[string]string)}
	connected := make([]bool, len(units))
	pending := 0

	for i := range units {
		u := &units[i]
		u.SignalStrength = telemetry.SignalFloor
		if !u.Active {
			power.ForceOffline(u)
			continue
		}
		u.HopCount = telemetry.HopDisconnected
		pending++
	}

	for i := range units {
		u := &units[i]
		if !u.Active {
			continue
		}
		d := geo.Distance(u.Position, gateway)
		if d > maxRangeKm {
			continue
		}
		u.HopCount = 1
		u.SignalStrength = Signal(d)
		connected[i] = true
		res.Parents[u.ID] = ""
		pending--
	}

	for pending > 0 {
		res.Passes++
		gained := 0
		for i := range units {
			u := &units[i]
			if !u.Active || connected[i] {
				continue
			}
			parent, dist := -1, math.Inf(1)
			for j := range units {
				if j == i || !connected[j] {
					continue
				}
				if d := geo.Distance(u.Position, units[j].Position); d <= maxRangeKm && d < dist {
					parent, dist = j, d
				}
			}
			if parent < 0 {
				continue
			}
			u.HopCount = units[parent].HopCount + 1
			u.SignalStrength = Signal(dist)
			connected[i] = true
			res.Parents[u.ID] = units[parent].ID
			pending--
			gained++
		}
		if gained == 0 {
			break
		}
	}

	for i := range units {
		u := &units[i]
		if connected[i] {
			res.Connected++
			if u.HopCount > res.MaxHop {
				res.MaxHop = u.HopCount
			}
			continue
		}
		if u.Active {
			res.Stranded = append(res.Stranded, u.ID)
			u.Active = false
			power.ForceOffline(u)
		}
	}
	return res
}

package admin

import (
	"github.com/peterstace/simplefeatures/geom"

	"meshops-sim/internal/geo"
	"meshops-sim/internal/store"
	"meshops-sim/internal/telemetry"
	"meshops-sim/internal/topology"
)

// GatewayID names the gateway end of a link.
const GatewayID = "gateway"

// Node is one unit in the topology view.
type Node struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Hop    int                `json:"hop"`
	Signal int                `json:"signal"`
	Active bool               `json:"active"`
	Parent string             `json:"parent,omitempty"`
	Pos    telemetry.Position `json:"position"`
}

// Link is one relay edge, child to parent.
type Link struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	DistanceKm float64 `json:"distance_km"`
	Signal     int     `json:"signal"`
}

// TopologyView is the mesh as the last tick left it.
type TopologyView struct {
	Gateway    *telemetry.Position `json:"gateway,omitempty"`
	MaxRangeKm float64             `json:"max_range_km"`
	Connected  int                 `json:"connected"`
	MaxHop     int                 `json:"max_hop"`
	Stranded   []string            `json:"stranded"`
	Nodes      []Node              `json:"nodes"`
	Links      []Link              `json:"links"`
}

// buildTopology recovers relay parents by rebuilding the mesh on a copy of
// st. The rebuild is idempotent, so hops match the published state.
func buildTopology(st *store.State, maxRangeKm float64) TopologyView {
	units := st.Clone().Units
	view := TopologyView{Gateway: st.Gateway, MaxRangeKm: maxRangeKm, Stranded: []string{}}
	var res topology.Result
	if st.Gateway != nil {
		res = topology.Build(units, *st.Gateway, maxRangeKm)
		view.Connected, view.MaxHop = res.Connected, res.MaxHop
		view.Stranded = append(view.Stranded, res.Stranded...)
	}
	pos := make(map[string]telemetry.Position, len(units))
	for _, u := range units {
		pos[u.ID] = u.Position
	}
	for _, u := range units {
		n := Node{ID: u.ID, Name: u.Name, Hop: u.HopCount, Signal: u.SignalStrength, Active: u.Active, Pos: u.Position}
		if parent, ok := res.Parents[u.ID]; ok {
			to, end := GatewayID, *st.Gateway
			if parent != "" {
				to, end = parent, pos[parent]
			}
			n.Parent = to
			d := geo.Distance(u.Position, end)
			view.Links = append(view.Links, Link{From: u.ID, To: to, DistanceKm: d, Signal: topology.Signal(d)})
		}
		view.Nodes = append(view.Nodes, n)
	}
	return view
}

type projection func(telemetry.Position) geom.XY

func lngLat(p telemetry.Position) geom.XY { return geom.XY{X: p.Lng, Y: p.Lat} }

func mercator(p telemetry.Position) geom.XY {
	x, y := geo.WebMercator(p)
	return geom.XY{X: x, Y: y}
}

func point(xy geom.XY) geom.Geometry {
	return geom.NewPoint(geom.Coordinates{XY: xy}).AsGeometry()
}

// featureCollection renders units, relay links and the gateway as GeoJSON.
func featureCollection(st *store.State, view TopologyView, proj projection) geom.GeoJSONFeatureCollection {
	fc := geom.GeoJSONFeatureCollection{}
	if st.Gateway != nil {
		fc = append(fc, geom.GeoJSONFeature{
			ID:         GatewayID,
			Geometry:   point(proj(*st.Gateway)),
			Properties: map[string]interface{}{"kind": "gateway", "rally": st.Rally},
		})
	}
	nodes := make(map[string]Node, len(view.Nodes))
	for _, n := range view.Nodes {
		nodes[n.ID] = n
	}
	for _, u := range st.Units {
		n := nodes[u.ID]
		fc = append(fc, geom.GeoJSONFeature{
			ID:       u.ID,
			Geometry: point(proj(u.Position)),
			Properties: map[string]interface{}{
				"kind":      "unit",
				"name":      u.Name,
				"type":      string(u.Type),
				"status":    string(u.Status),
				"group_id":  u.GroupID,
				"battery":   u.Battery,
				"speed_kmh": u.Speed,
				"heading":   u.Heading,
				"hop":       n.Hop,
				"signal":    n.Signal,
				"active":    u.Active,
				"directive": u.Directive,
			},
		})
	}
	for _, l := range view.Links {
		from := proj(nodes[l.From].Pos)
		var to geom.XY
		if l.To == GatewayID {
			to = proj(*st.Gateway)
		} else {
			to = proj(nodes[l.To].Pos)
		}
		seq := geom.NewSequence([]float64{from.X, from.Y, to.X, to.Y}, geom.DimXY)
		fc = append(fc, geom.GeoJSONFeature{
			ID:       l.From + ">" + l.To,
			Geometry: geom.NewLineString(seq).AsGeometry(),
			Properties: map[string]interface{}{
				"kind":        "link",
				"from":        l.From,
				"to":          l.To,
				"distance_km": l.DistanceKm,
				"signal":      l.Signal,
			},
		})
	}
	return fc
}

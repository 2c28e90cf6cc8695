// Package geo holds the spherical math used to move units and measure links.
package geo

import (
	"math"
	"math/rand"

	"github.com/wroge/wgs84"
)

// EarthRadiusKm is the mean earth radius used by the haversine functions.
const EarthRadiusKm = 6371.0

// KmPerDegree is the equirectangular scale used for small per-tick steps.
const KmPerDegree = 111.32

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b Point) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLng := rad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial bearing from a to b in degrees [0,360).
// Coincident points yield 0.
func Bearing(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLng := rad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	if x == 0 && y == 0 {
		return 0
	}
	return NormalizeHeading(deg(math.Atan2(y, x)))
}

// Destination projects p along the great circle with the given initial bearing.
func Destination(p Point, bearingDeg, distKm float64) Point {
	if distKm == 0 {
		return p
	}
	delta := distKm / EarthRadiusKm
	theta := rad(bearingDeg)
	lat1, lng1 := rad(p.Lat), rad(p.Lng)
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lng2 := lng1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)
	return Point{Lat: ClampLat(deg(lat2)), Lng: WrapLng(deg(lng2))}
}

// Step advances p by distKm along headingDeg using the equirectangular
// approximation. Longitude is left untouched when cos(lat) is degenerate.
func Step(p Point, headingDeg, distKm float64) Point {
	theta := rad(headingDeg)
	next := p
	next.Lat = ClampLat(p.Lat + distKm*math.Cos(theta)/KmPerDegree)
	c := math.Cos(rad(p.Lat))
	if math.Abs(c) >= 1e-9 {
		next.Lng = WrapLng(p.Lng + distKm*math.Sin(theta)/(KmPerDegree*c))
	}
	if math.IsNaN(next.Lat) || math.IsNaN(next.Lng) {
		return p
	}
	return next
}

// ClampLat limits a latitude to [-90,90].
func ClampLat(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}

// WrapLng wraps a longitude into [-180,180).
func WrapLng(lng float64) float64 {
	w := math.Mod(lng+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

// NormalizeHeading wraps a heading into [0,360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// RandomInDisc picks a uniformly distributed point within radiusKm of center.
func RandomInDisc(center Point, radiusKm float64, rng *rand.Rand) Point {
	r := radiusKm * math.Sqrt(rng.Float64())
	return Destination(center, rng.Float64()*360, r)
}

// Centroid is the unweighted mean of pts. ok is false for an empty slice.
func Centroid(pts []Point) (c Point, ok bool) {
	if len(pts) == 0 {
		return Point{}, false
	}
	for _, p := range pts {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}
	n := float64(len(pts))
	c.Lat /= n
	c.Lng /= n
	return c, true
}

var toMercator = wgs84.EPSG().Transform(4326, 3857)

// WebMercator converts p to EPSG:3857 metres.
func WebMercator(p Point) (x, y float64) {
	x, y, _ = toMercator(p.Lng, p.Lat, 0)
	return x, y
}

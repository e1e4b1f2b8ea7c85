// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import "math"

// Geometry is either a single point or a polygon ring. Rings are kept in
// the order they were given; a closing vertex equal to the first one is
// allowed but not required.
type Geometry struct {
	Point Point   `json:"point"`
	Ring  []Point `json:"ring,omitempty"`
}

// NewPoint returns a point geometry.
func NewPoint(lat, lng float64) Geometry {
	return Geometry{Point: Point{Lat: lat, Lng: lng}}
}

// NewRing returns a polygon geometry.
func NewRing(ring []Point) Geometry {
	return Geometry{Ring: ring, Point: centroid(ring)}
}

// IsPolygon reports whether g is a ring.
func (g Geometry) IsPolygon() bool {
	return len(g.Ring) > 0
}

// Vertices returns the ring, or the single point for point geometries.
func (g Geometry) Vertices() []Point {
	if g.IsPolygon() {
		return g.Ring
	}

	return []Point{g.Point}
}

// Centroid returns the vertex mean for rings and the point itself otherwise.
func (g Geometry) Centroid() Point {
	if g.IsPolygon() {
		return centroid(g.Ring)
	}

	return g.Point
}

func centroid(ring []Point) Point {
	pts := openRing(ring)
	if len(pts) == 0 {
		return Point{}
	}

	var c Point
	for _, p := range pts {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}

	c.Lat /= float64(len(pts))
	c.Lng /= float64(len(pts))

	return c
}

// openRing drops a closing vertex that repeats the first one.
func openRing(ring []Point) []Point {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}

	return ring
}

// Distance returns the distance in meters between two geometries. Points
// use the haversine formula when exact is set and the equirectangular
// approximation otherwise. Any geometry involving a ring is measured in a
// local equirectangular plane and is zero when one geometry touches or
// lies inside the other.
func Distance(a, b Geometry, exact bool) float64 {
	switch {
	case !a.IsPolygon() && !b.IsPolygon():
		if exact {
			return a.Point.HaversineDistance(&b.Point)
		}

		return a.Point.ApproxDistance(&b.Point)
	case !a.IsPolygon():
		return pointRingDistance(a.Point, b.Ring)
	case !b.IsPolygon():
		return pointRingDistance(b.Point, a.Ring)
	default:
		return ringRingDistance(a.Ring, b.Ring)
	}
}

// plane is a local equirectangular projection in meters around a
// reference latitude.
type plane struct {
	cos float64
}

func newPlane(lat float64) plane {
	return plane{cos: math.Cos(lat * degToRad)}
}

func (pl plane) xy(p Point) (float64, float64) {
	return earthRadius * p.Lng * degToRad * pl.cos, earthRadius * p.Lat * degToRad
}

func pointRingDistance(p Point, ring []Point) float64 {
	pl := newPlane(p.Lat)
	px, py := pl.xy(p)
	xs, ys := projectRing(pl, ring)

	if insideRing(px, py, xs, ys) {
		return 0
	}

	best := math.Inf(1)
	forEachEdge(xs, ys, func(ax, ay, bx, by float64) {
		best = math.Min(best, segmentDistance(px, py, ax, ay, bx, by))
	})

	return best
}

func ringRingDistance(a, b []Point) float64 {
	pl := newPlane((centroid(a).Lat + centroid(b).Lat) / 2)
	ax, ay := projectRing(pl, a)
	bx, by := projectRing(pl, b)

	if insideRing(ax[0], ay[0], bx, by) || insideRing(bx[0], by[0], ax, ay) {
		return 0
	}

	best := math.Inf(1)
	forEachEdge(ax, ay, func(a1x, a1y, a2x, a2y float64) {
		forEachEdge(bx, by, func(b1x, b1y, b2x, b2y float64) {
			if segmentsIntersect(a1x, a1y, a2x, a2y, b1x, b1y, b2x, b2y) {
				best = 0

				return
			}

			best = math.Min(best, segmentDistance(a1x, a1y, b1x, b1y, b2x, b2y))
			best = math.Min(best, segmentDistance(a2x, a2y, b1x, b1y, b2x, b2y))
			best = math.Min(best, segmentDistance(b1x, b1y, a1x, a1y, a2x, a2y))
			best = math.Min(best, segmentDistance(b2x, b2y, a1x, a1y, a2x, a2y))
		})
	})

	return best
}

func projectRing(pl plane, ring []Point) ([]float64, []float64) {
	pts := openRing(ring)
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))

	for i, p := range pts {
		xs[i], ys[i] = pl.xy(p)
	}

	return xs, ys
}

// forEachEdge visits the closed ring edges; a single vertex is visited as
// a degenerate edge.
func forEachEdge(xs, ys []float64, fn func(ax, ay, bx, by float64)) {
	n := len(xs)
	if n == 1 {
		fn(xs[0], ys[0], xs[0], ys[0])

		return
	}

	for i := range n {
		j := (i + 1) % n
		fn(xs[i], ys[i], xs[j], ys[j])
	}
}

// insideRing is the even-odd rule.
func insideRing(px, py float64, xs, ys []float64) bool {
	inside := false

	for i, j := 0, len(xs)-1; i < len(xs); j, i = i, i+1 {
		if (ys[i] > py) != (ys[j] > py) &&
			px < (xs[j]-xs[i])*(py-ys[i])/(ys[j]-ys[i])+xs[i] {
			inside = !inside
		}
	}

	return inside
}

func segmentDistance(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay

	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(px-ax, py-ay)
	}

	t := ((px-ax)*dx + (py-ay)*dy) / l2
	t = math.Max(0, math.Min(1, t))

	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

func segmentsIntersect(ax, ay, bx, by, cx, cy, dx, dy float64) bool {
	d1 := cross(cx, cy, dx, dy, ax, ay)
	d2 := cross(cx, cy, dx, dy, bx, by)
	d3 := cross(ax, ay, bx, by, cx, cy)
	d4 := cross(ax, ay, bx, by, dx, dy)

	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

func cross(ax, ay, bx, by, px, py float64) float64 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

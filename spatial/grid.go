// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"math"
	"slices"
)

// maxCells bounds the number of buckets a GridIndex allocates. Larger grids
// get a coarser cell size.
const maxCells = 1 << 24

// querySlack widens query radii so that pairs accepted by ApproxDistance
// are never lost to the great-circle box computation.
const (
	querySlackFactor = 1.05
	querySlackMeters = 1.0
)

// GridIndex is a spatial blocking index over a lon/lat bounding box. Cells
// live in an equirectangular plane (x = R·lon·cos(latRef), y = R·lat, in
// meters) and hold ids. Queries return a superset of the ids inserted
// within the requested distance; callers verify candidates themselves.
//
// Rings are indexed once per vertex. A long edge crossing a cell that holds
// none of its vertices is not indexed there, so ring queries are only sound
// for rings whose edges are short compared to the query distance.
type GridIndex struct {
	cellSize float64
	cosRef   float64
	minX     float64
	minY     float64
	width    int
	height   int
	cells    [][]int
}

// NewGridIndex creates an empty grid covering bbox with square cells of
// cellSize meters.
func NewGridIndex(bbox BBox, cellSize float64) *GridIndex {
	if bbox.IsEmpty() {
		bbox = BBox{}
	}

	if cellSize <= 0 {
		cellSize = 1000
	}

	idx := &GridIndex{cosRef: math.Cos(bbox.Center().Lat * degToRad)}
	idx.minX, idx.minY = idx.project(bbox.Min)
	maxX, maxY := idx.project(bbox.Max)

	for {
		idx.width = int((maxX-idx.minX)/cellSize) + 1
		idx.height = int((maxY-idx.minY)/cellSize) + 1

		if idx.width*idx.height <= maxCells {
			break
		}

		cellSize *= 2
	}

	idx.cellSize = cellSize
	idx.cells = make([][]int, idx.width*idx.height)

	return idx
}

// CellSize returns the effective cell size in meters.
func (idx *GridIndex) CellSize() float64 {
	return idx.cellSize
}

func (idx *GridIndex) project(p Point) (float64, float64) {
	return earthRadius * p.Lng * degToRad * idx.cosRef, earthRadius * p.Lat * degToRad
}

// cell returns the clamped cell coordinates of p.
func (idx *GridIndex) cell(p Point) (int, int) {
	x, y := idx.project(p)
	cx := int(math.Floor((x - idx.minX) / idx.cellSize))
	cy := int(math.Floor((y - idx.minY) / idx.cellSize))

	return min(max(cx, 0), idx.width-1), min(max(cy, 0), idx.height-1)
}

// Insert adds id at point p.
func (idx *GridIndex) Insert(id int, p Point) {
	cx, cy := idx.cell(p)
	bucket := &idx.cells[cy*idx.width+cx]

	if n := len(*bucket); n > 0 && (*bucket)[n-1] == id {
		return
	}

	*bucket = append(*bucket, id)
}

// InsertRing adds id at every vertex of ring.
func (idx *GridIndex) InsertRing(id int, ring []Point) {
	for _, p := range ring {
		idx.Insert(id, p)
	}
}

// InsertGeometry adds id for a point or ring geometry.
func (idx *GridIndex) InsertGeometry(id int, g Geometry) {
	if g.IsPolygon() {
		idx.InsertRing(id, g.Ring)

		return
	}

	idx.Insert(id, g.Point)
}

// Query returns the sorted, unique ids inserted in cells that may hold a
// point within d meters of p.
func (idx *GridIndex) Query(p Point, d float64) []int {
	box := EmptyBBox()
	box.Extend(p)

	return idx.queryBox(box, d)
}

// QueryGeometry is Query for every vertex of g.
func (idx *GridIndex) QueryGeometry(g Geometry, d float64) []int {
	box := EmptyBBox()
	for _, p := range g.Vertices() {
		box.Extend(p)
	}

	return idx.queryBox(box, d)
}

func (idx *GridIndex) queryBox(box BBox, d float64) []int {
	d = d*querySlackFactor + querySlackMeters

	ang := d / earthRadius
	dLat := ang / degToRad

	lo := Point{Lat: box.Min.Lat - dLat, Lng: box.Min.Lng}
	hi := Point{Lat: box.Max.Lat + dLat, Lng: box.Max.Lng}

	maxLat := math.Max(math.Abs(lo.Lat), math.Abs(hi.Lat))
	if ang >= math.Pi/2 || maxLat >= 90 {
		lo.Lng, hi.Lng = -180, 180
	} else {
		s := math.Sin(ang) / math.Cos(maxLat*degToRad)
		if s >= 1 {
			lo.Lng, hi.Lng = -180, 180
		} else {
			dLng := math.Asin(s) / degToRad
			lo.Lng -= dLng
			hi.Lng += dLng
		}
	}

	x0, y0 := idx.cell(lo)
	x1, y1 := idx.cell(hi)

	var out []int
	for cy := y0; cy <= y1; cy++ {
		row := idx.cells[cy*idx.width : (cy+1)*idx.width]
		for cx := x0; cx <= x1; cx++ {
			out = append(out, row[cx]...)
		}
	}

	slices.Sort(out)

	return slices.Compact(out)
}

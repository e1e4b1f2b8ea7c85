// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/jcodagnone/statsimi/spatial"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/uber/h3-go/v4"
)

const (
	minH3Res = 5
	maxH3Res = 8
)

// h3Cells returns the cells containing p at resolutions minH3Res to
// maxH3Res.
func h3Cells(p spatial.Point) ([maxH3Res - minH3Res + 1]uint64, error) {
	var cells [maxH3Res - minH3Res + 1]uint64

	latLng := h3.NewLatLng(p.Lat, p.Lng)
	for res := minH3Res; res <= maxH3Res; res++ {
		cell, err := h3.LatLngToCell(latLng, res)
		if err != nil {
			return cells, eris.Wrapf(err, "converting to h3 cell at res %d", res)
		}

		cells[res-minH3Res] = uint64(cell)
	}

	return cells, nil
}

func flat(pts []spatial.Point) []float64 {
	coords := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		coords = append(coords, p.Lng, p.Lat)
	}

	return coords
}

// encodeGeometry returns the WKT of g. Rings are written closed; rings
// with fewer than three distinct vertices cannot form a polygon and are
// written as line strings.
func encodeGeometry(g spatial.Geometry) (string, error) {
	var t geom.T

	switch ring := g.Ring; {
	case !g.IsPolygon():
		t = geom.NewPointFlat(geom.XY, []float64{g.Point.Lng, g.Point.Lat})
	case len(ring) == 1:
		t = geom.NewPointFlat(geom.XY, flat(ring))
	default:
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring[:len(ring):len(ring)], ring[0])
		}

		coords := flat(ring)
		if len(ring) < 4 {
			t = geom.NewLineStringFlat(geom.XY, coords)
		} else {
			t = geom.NewPolygonFlat(geom.XY, coords, []int{len(coords)})
		}
	}

	s, err := wkt.Marshal(t)
	if err != nil {
		return "", eris.Wrap(err, "encoding geometry")
	}

	return s, nil
}

func points(coords []float64) []spatial.Point {
	pts := make([]spatial.Point, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		pts = append(pts, spatial.Point{Lat: coords[i+1], Lng: coords[i]})
	}

	return pts
}

// decodeGeometry parses a WKT written by encodeGeometry.
func decodeGeometry(s string) (spatial.Geometry, error) {
	t, err := wkt.Unmarshal(s)
	if err != nil {
		return spatial.Geometry{}, eris.Wrapf(err, "decoding geometry %q", s)
	}

	switch g := t.(type) {
	case *geom.Point:
		return spatial.NewPoint(g.Y(), g.X()), nil
	case *geom.LineString:
		return spatial.NewRing(points(g.FlatCoords())), nil
	case *geom.Polygon:
		if g.NumLinearRings() == 0 {
			return spatial.Geometry{}, eris.Errorf("empty polygon %q", s)
		}

		return spatial.NewRing(points(g.LinearRing(0).FlatCoords())), nil
	default:
		return spatial.Geometry{}, eris.Errorf("unsupported geometry %q", s)
	}
}

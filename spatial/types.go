// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"fmt"
	"math"
)

const (
	earthRadius = 6371e3 // meters
	degToRad    = math.Pi / 180
)

// Point represents a geographical point with latitude and longitude.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String returns a string representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("POINT(%f %f)", p.Lng, p.Lat)
}

// HaversineDistance calculates the distance between two points on Earth in meters.
func (p *Point) HaversineDistance(other *Point) float64 {
	lat1 := p.Lat * degToRad
	lat2 := other.Lat * degToRad
	dLat := (other.Lat - p.Lat) * degToRad
	dLng := (other.Lng - p.Lng) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// ApproxDistance is an equirectangular approximation of HaversineDistance.
// It needs a single cosine and is accurate for distances well below the
// Earth radius.
func (p *Point) ApproxDistance(other *Point) float64 {
	x := (other.Lng - p.Lng) * degToRad * math.Cos(0.5*(other.Lat+p.Lat)*degToRad)
	y := (other.Lat - p.Lat) * degToRad

	return earthRadius * math.Sqrt(x*x+y*y)
}

// BBox is a lon/lat bounding box.
type BBox struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// EmptyBBox returns a box that any call to Extend will replace.
func EmptyBBox() BBox {
	return BBox{
		Min: Point{Lat: math.Inf(1), Lng: math.Inf(1)},
		Max: Point{Lat: math.Inf(-1), Lng: math.Inf(-1)},
	}
}

// Extend grows the box so that it contains p.
func (b *BBox) Extend(p Point) {
	b.Min.Lat = math.Min(b.Min.Lat, p.Lat)
	b.Min.Lng = math.Min(b.Min.Lng, p.Lng)
	b.Max.Lat = math.Max(b.Max.Lat, p.Lat)
	b.Max.Lng = math.Max(b.Max.Lng, p.Lng)
}

// IsEmpty reports whether no point was ever added to the box.
func (b BBox) IsEmpty() bool {
	return b.Min.Lat > b.Max.Lat || b.Min.Lng > b.Max.Lng
}

// Center returns the midpoint of the box.
func (b BBox) Center() Point {
	return Point{Lat: (b.Min.Lat + b.Max.Lat) / 2, Lng: (b.Min.Lng + b.Max.Lng) / 2}
}

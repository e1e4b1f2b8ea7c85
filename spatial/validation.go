// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"fmt"
	"math"
)

// ValidateCoordinates checks that lat and lon are finite and within the
// global bounds.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return fmt.Errorf("coordinates must be numbers (got: %f, %f)", lat, lon)
	}

	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90 (got: %f)", lat)
	}

	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude must be between -180 and 180 (got: %f)", lon)
	}

	return nil
}

// Validate checks every vertex of g.
func (g Geometry) Validate() error {
	for _, p := range g.Vertices() {
		if err := ValidateCoordinates(p.Lat, p.Lng); err != nil {
			return err
		}
	}

	return nil
}

// Contains reports whether p lies inside the box, borders included.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.Min.Lat && p.Lat <= b.Max.Lat &&
		p.Lng >= b.Min.Lng && p.Lng <= b.Max.Lng
}

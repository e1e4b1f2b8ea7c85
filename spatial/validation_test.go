// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package spatial

import (
	"math"
	"testing"
)

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{
			name:    "valid montevideo coordinates",
			lat:     -34.9011,
			lon:     -56.1645,
			wantErr: false,
		},
		{
			name:    "valid freiburg coordinates",
			lat:     47.9977,
			lon:     7.8421,
			wantErr: false,
		},
		{
			name:    "borders",
			lat:     -90,
			lon:     180,
			wantErr: false,
		},
		{
			name:    "latitude too high",
			lat:     91.0,
			lon:     -56.0,
			wantErr: true,
		},
		{
			name:    "latitude too low",
			lat:     -91.0,
			lon:     -56.0,
			wantErr: true,
		},
		{
			name:    "longitude too high",
			lat:     -34.0,
			lon:     181.0,
			wantErr: true,
		},
		{
			name:    "longitude too low",
			lat:     -34.0,
			lon:     -181.0,
			wantErr: true,
		},
		{
			name:    "not a number",
			lat:     math.NaN(),
			lon:     0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoordinates(tt.lat, tt.lon)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCoordinates() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGeometryValidate(t *testing.T) {
	ok := NewRing([]Point{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 0}, {Lat: 1, Lng: 1}})
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	bad := NewRing([]Point{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 200}})
	if err := bad.Validate(); err == nil {
		t.Error("Validate() expected an error for a vertex out of range")
	}
}

func TestBBoxContains(t *testing.T) {
	b := EmptyBBox()
	b.Extend(Point{Lat: 47.99, Lng: 7.84})
	b.Extend(Point{Lat: 48.0, Lng: 7.85})

	if !b.Contains(Point{Lat: 47.995, Lng: 7.845}) {
		t.Error("expected inner point to be contained")
	}

	if !b.Contains(b.Max) {
		t.Error("expected border to be contained")
	}

	if b.Contains(Point{Lat: 48.1, Lng: 7.845}) {
		t.Error("expected outer point not to be contained")
	}

	if EmptyBBox().Contains(Point{}) {
		t.Error("expected empty box to contain nothing")
	}
}

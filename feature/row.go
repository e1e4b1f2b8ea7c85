// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"math"

	"github.com/jcodagnone/statsimi/simi"
	"github.com/jcodagnone/statsimi/spatial"
	"go.uber.org/zap"
)

const (
	maxValue = 255
	// geoDistUnit is the number of meters per geodist step.
	geoDistUnit = 4
	// numTiles is the number of tiles per axis of the global position grid.
	numTiles = 256
	// exactDistCutoff is the cutoff from which distances use the haversine
	// formula instead of the equirectangular approximation.
	exactDistCutoff = 500000
)

// record is a station as seen by the encoder.
type record struct {
	profile
	geom  spatial.Geometry
	point spatial.Point
}

// encoder writes feature rows. It is read-only after construction and
// safe for concurrent use.
type encoder struct {
	features    []string
	numPosPairs int
	numFeats    int
	vocab       *Vocabulary
	exact       bool
	log         *zap.Logger
}

func newEncoder(opts *Options, vocab *Vocabulary) *encoder {
	features := opts.canonical()

	return &encoder{
		features:    features,
		numPosPairs: opts.NumPosPairs,
		numFeats:    len(features) + 2*opts.NumPosPairs,
		vocab:       vocab,
		exact:       opts.Cutoff >= exactDistCutoff,
		log:         opts.Logger,
	}
}

// labelCol is the index of the label column.
func (e *encoder) labelCol() int {
	return e.numFeats + e.vocab.Len()
}

func (e *encoder) dist(a, b *record) float64 {
	return spatial.Distance(a.geom, b.geom, e.exact)
}

// encode appends one row for the pair (a, b) to buf.
func (e *encoder) encode(buf *rowBuffer, a, b *record, match bool) {
	for col, f := range e.features {
		if v := e.clamp(e.value(f, a, b), f, a, b); v > 0 {
			buf.put(col, uint8(v))
		}
	}

	base := len(e.features)
	for i, t := range tilePairs(a.point, b.point, e.numPosPairs) {
		if x := e.clamp(t[0], "tile_x", a, b); x != 0 {
			buf.put(base+2*i, uint8(x))
		}

		if y := e.clamp(t[1], "tile_y", a, b); y != 0 {
			buf.put(base+2*i+1, uint8(y))
		}
	}

	diffMerge(a.top, b.top, func(rank, diff int) {
		// negative differences wrap, -1 is stored as 255
		if v := ((diff % 256) + 256) % 256; v != 0 {
			buf.put(e.numFeats+rank, uint8(v))
		}
	})

	if match {
		buf.put(e.labelCol(), 1)
	}

	buf.endRow()
}

func (e *encoder) value(f string, a, b *record) int {
	switch f {
	case LevSimi:
		return quantize(simi.LevSimi(a.name, b.name))
	case GeoDist:
		return int(e.dist(a, b)) / geoDistUnit
	case PEDSimiFw:
		return quantize(simi.PEDSimi(a.name, b.name))
	case PEDSimiBw:
		return quantize(simi.PEDSimi(b.name, a.name))
	case SEDSimiFw:
		return quantize(simi.SEDSimi(a.name, b.name))
	case SEDSimiBw:
		return quantize(simi.SEDSimi(b.name, a.name))
	case JaccardSimi:
		return quantize(simi.Jaccard(b.name, a.name))
	case MissingNGramCount:
		return missingGrams(a.grams, b.grams)
	case BTSSimi:
		return quantize(simi.BTS(b.name, a.name))
	case JaroSimi:
		return quantize(simi.Jaro(b.name, a.name))
	case JaroWinklerSimi:
		return quantize(simi.JaroWinkler(b.name, a.name))
	}

	return 0
}

// clamp saturates v to the uint8 range and warns when it overflowed.
func (e *encoder) clamp(v int, what string, a, b *record) int {
	if v > maxValue {
		e.log.Warn("feature value does not fit in 8 bits",
			zap.String("feature", what),
			zap.Int("value", v),
			zap.String("a", a.name),
			zap.String("b", b.name),
		)

		return maxValue
	}

	return max(v, 0)
}

func quantize(s float64) int {
	return int(s * maxValue)
}

// tilePairs places the midpoint of two points on a numTiles² lon/lat grid,
// followed by n-1 copies shifted by a fraction of a tile.
func tilePairs(a, b spatial.Point, n int) [][2]int {
	if n == 0 {
		return nil
	}

	lng := (a.Lng+b.Lng)/2 + 180
	lat := (a.Lat+b.Lat)/2 + 90

	tileX := 360.0 / numTiles
	tileY := 180.0 / numTiles

	out := make([][2]int, n)
	for i := range out {
		shift := float64(i) / float64(n)
		out[i] = [2]int{
			int(math.Trunc((lng - shift*tileX) / tileX)),
			int(math.Trunc((lat - shift*tileY) / tileY)),
		}
	}

	return out
}

// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"context"
	"math/rand/v2"
	"slices"

	"github.com/jcodagnone/statsimi/station"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pair is a candidate station pair. Indices at or beyond the number of
// corpus stations refer to synthetic (spiced) stations held by the Builder.
type Pair struct {
	A, B  int
	Match bool
}

// Stats summarizes the last build.
type Stats struct {
	Stations         int     `json:"stations"`
	Groups           int     `json:"groups"`
	Positives        int     `json:"positives"`
	Negatives        int     `json:"negatives"`
	Spiced           int     `json:"spiced"`
	EmptyNames       int     `json:"empty_names"`
	SuspiciousGroups int     `json:"suspicious_groups"`
	MeanPosDist      float64 `json:"mean_pos_dist"`
	MedianPosDist    float64 `json:"median_pos_dist"`
	MeanGroupSize    float64 `json:"mean_group_size"`
}

// Builder generates candidate pairs from a corpus and encodes them into a
// feature Matrix.
type Builder struct {
	opts    Options
	log     *zap.Logger
	vocab   *Vocabulary
	enc     *encoder
	rng     *rand.Rand
	recs    []record
	spiceOf []int // source station of every synthetic record
	numReal int
	pairs   []Pair
	stats   Stats
}

// NewBuilder validates opts and returns a Builder. Unknown feature names
// yield a *ConfigError.
func NewBuilder(opts Options) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	o := opts.withDefaults()

	seed1, seed2 := o.Seed, o.Seed^0x9e3779b97f4a7c15
	if o.Seed == 0 {
		seed1, seed2 = rand.Uint64(), rand.Uint64()
	}

	b := &Builder{
		opts: o,
		log:  o.Logger,
		rng:  rand.New(rand.NewPCG(seed1, seed2)),
	}

	if o.Vocabulary != nil {
		if o.Vocabulary.N != o.NGram {
			return nil, invalidOption("vocabulary n-gram size %d does not match ngram %d",
				o.Vocabulary.N, o.NGram)
		}

		o.Vocabulary.index()
		b.setVocabulary(o.Vocabulary)
	} else {
		b.setVocabulary(&Vocabulary{N: o.NGram, rank: map[string]int{}})
	}

	return b, nil
}

func (b *Builder) setVocabulary(v *Vocabulary) {
	b.vocab = v
	b.enc = newEncoder(&b.opts, v)
}

func (b *Builder) prepare(stations []station.Station) {
	if b.opts.Vocabulary == nil {
		names := make([]string, len(stations))
		for i := range stations {
			names[i] = stations[i].Name
		}

		b.setVocabulary(BuildVocabulary(names, b.opts.NGram, b.opts.TopK))
	}

	b.recs = make([]record, len(stations))
	for i := range stations {
		b.recs[i] = b.record(&stations[i])
	}

	b.numReal = len(stations)
	b.spiceOf = nil
	b.pairs = nil
	b.stats = Stats{Stations: len(stations)}
}

func (b *Builder) record(st *station.Station) record {
	return record{
		profile: newProfile(st.Name, st.OrigName, b.vocab),
		geom:    st.Geom,
		point:   st.Point(),
	}
}

// Build generates the candidate pairs of c and encodes them.
func (b *Builder) Build(ctx context.Context, c *station.Corpus) (*Matrix, error) {
	b.prepare(c.Stations)
	b.stats.Groups = len(c.Groups)

	b.log.Info("writing matrix",
		zap.Int("groups", len(c.Groups)),
		zap.Int("stations", len(c.Stations)),
		zap.Strings("features", b.enc.features),
	)

	b.generate(c, b.suspiciousGroups(c))

	b.log.Info("generated pairs",
		zap.Int("positives", b.stats.Positives),
		zap.Int("negatives", b.stats.Negatives),
		zap.Int("spiced", b.stats.Spiced),
		zap.Float64("mean_pos_dist", b.stats.MeanPosDist),
		zap.Float64("median_pos_dist", b.stats.MedianPosDist),
		zap.Float64("mean_group_size", b.stats.MeanGroupSize),
	)

	return b.encodePairs(ctx, b.pairs)
}

// BuildFromPairs encodes pre-labelled pairs over stations.
func (b *Builder) BuildFromPairs(ctx context.Context, stations []station.Station, pairs []Pair) (*Matrix, error) {
	for i, p := range pairs {
		if p.A < 0 || p.A >= len(stations) || p.B < 0 || p.B >= len(stations) {
			return nil, eris.Errorf("feature: pair %d (%d, %d) out of range", i, p.A, p.B)
		}
	}

	b.prepare(stations)
	b.pairs = slices.Clone(pairs)

	for _, p := range pairs {
		if p.Match {
			b.stats.Positives++
		} else {
			b.stats.Negatives++
		}
	}

	return b.encodePairs(ctx, b.pairs)
}

// FeatureVec encodes a single pair as a dense row without the label. It
// uses the current vocabulary and does not touch any stored matrix.
func (b *Builder) FeatureVec(s1, s2 *station.Station) []uint8 {
	r1, r2 := b.record(s1), b.record(s2)

	var buf rowBuffer

	b.enc.encode(&buf, &r1, &r2, false)

	return buf.dense(0, b.enc.labelCol())
}

// Pairs returns the pairs of the last build, in row order.
func (b *Builder) Pairs() []Pair {
	return b.pairs
}

// SpiceOf returns the real station a synthetic station index was copied
// from. ok is false for real stations.
func (b *Builder) SpiceOf(i int) (src int, ok bool) {
	if i < b.numReal || i-b.numReal >= len(b.spiceOf) {
		return 0, false
	}

	return b.spiceOf[i-b.numReal], true
}

// NumStations returns the number of real stations of the last build.
func (b *Builder) NumStations() int {
	return b.numReal
}

// FeatureIndex returns the column of a named feature.
func (b *Builder) FeatureIndex(name string) (int, bool) {
	i := slices.Index(b.enc.features, name)

	return i, i >= 0
}

// Features returns the enabled features in column order.
func (b *Builder) Features() []string {
	return slices.Clone(b.enc.features)
}

// NumCols returns the row width including the label column.
func (b *Builder) NumCols() int {
	return b.enc.labelCol() + 1
}

// Vocabulary returns the n-gram vocabulary in use.
func (b *Builder) Vocabulary() *Vocabulary {
	return b.vocab
}

// Stats returns the statistics of the last build.
func (b *Builder) Stats() Stats {
	return b.stats
}

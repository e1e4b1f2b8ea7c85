// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jcodagnone/statsimi/spatial"
	"github.com/jcodagnone/statsimi/station"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testOptions(t *testing.T) Options {
	t.Helper()

	opts := DefaultOptions()
	opts.Features = Names
	opts.TempDir = t.TempDir()
	opts.Seed = 7
	opts.Logger = zap.NewNop()

	return opts
}

func newBuilder(t *testing.T, opts Options) *Builder {
	t.Helper()

	b, err := NewBuilder(opts)
	require.NoError(t, err)

	return b
}

func build(t *testing.T, b *Builder, c *station.Corpus) *Matrix {
	t.Helper()

	m, err := b.Build(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })

	return m
}

type testStation struct {
	name     string
	lat, lng float64
}

// corpusOf creates one group per entry of groups with the given relation
// ids.
func corpusOf(relIDs []int64, groups ...[]testStation) *station.Corpus {
	c := station.NewCorpus()

	for i, members := range groups {
		gid := c.AddGroup(relIDs[i], 0, nil)
		for _, m := range members {
			c.AddStation(station.Station{
				NodeID:   int64(len(c.Stations) + 1),
				Name:     m.name,
				OrigName: m.name,
				GroupID:  gid,
				Src:      station.SrcAttr,
				NameAttr: "name",
				Geom:     spatial.NewPoint(m.lat, m.lng),
			})
		}
	}

	return c
}

func TestNewBuilder_UnknownFeature(t *testing.T) {
	opts := testOptions(t)
	opts.Features = []string{LevSimi, "soundex"}

	_, err := NewBuilder(opts)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, ErrorKindUnknownFeature, cfgErr.Kind)
	assert.True(t, IsConfigError(fmt.Errorf("wrapped: %w", err)))
}

func TestBuilder_CanonicalColumnOrder(t *testing.T) {
	opts := testOptions(t)
	opts.Features = []string{JaroSimi, GeoDist, LevSimi}

	b := newBuilder(t, opts)

	assert.Equal(t, []string{LevSimi, GeoDist, JaroSimi}, b.Features())

	col, ok := b.FeatureIndex(JaroSimi)
	assert.True(t, ok)
	assert.Equal(t, 2, col)

	_, ok = b.FeatureIndex(BTSSimi)
	assert.False(t, ok)

	// three named columns, two tile pairs, an empty vocabulary and the label
	assert.Equal(t, 3+4+1, b.NumCols())
}

func TestBuild_OrphansCloseByForced(t *testing.T) {
	c := corpusOf([]int64{0, 0},
		[]testStation{{"Freiburg Hbf", 47.997700, 7.8421}},
		[]testStation{{"Freiburg Hauptbahnhof", 47.997745, 7.8421}},
	)

	opts := testOptions(t)
	opts.ForceOrphans = true

	b := newBuilder(t, opts)
	m := build(t, b, c)

	want := []Pair{
		{A: 0, B: 0, Match: true},
		{A: 0, B: 0, Match: true},
		{A: 0, B: 1, Match: false},
		{A: 1, B: 0, Match: false},
		{A: 1, B: 1, Match: true},
		{A: 1, B: 1, Match: true},
	}
	if diff := cmp.Diff(want, b.Pairs()); diff != "" {
		t.Errorf("Pairs() mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, len(want), m.Rows())
	assert.Equal(t, b.NumCols(), m.Cols())

	geo, _ := b.FeatureIndex(GeoDist)
	lev, _ := b.FeatureIndex(LevSimi)
	jw, _ := b.FeatureIndex(JaroWinklerSimi)

	assert.Equal(t, uint8(1), m.Value(2, geo))
	assert.Greater(t, m.Value(2, lev), uint8(128))
	assert.Greater(t, m.Value(2, jw), uint8(200))
	assert.False(t, m.Label(2))
	assert.True(t, m.Label(0))

	// self pairs are identical and have zero distance
	assert.Equal(t, uint8(255), m.Value(0, lev))
	assert.Zero(t, m.Value(0, geo))
}

func TestBuild_OrphansNotPairedByDefault(t *testing.T) {
	c := corpusOf([]int64{0, 0},
		[]testStation{{"Freiburg Hbf", 47.997700, 7.8421}},
		[]testStation{{"Freiburg Hauptbahnhof", 47.997745, 7.8421}},
	)

	b := newBuilder(t, testOptions(t))
	build(t, b, c)

	for _, p := range b.Pairs() {
		assert.True(t, p.Match)
	}

	assert.Equal(t, 4, b.Stats().Positives)
	assert.Zero(t, b.Stats().Negatives)
}

func TestBuild_FarApartNotPaired(t *testing.T) {
	c := corpusOf([]int64{10, 20},
		[]testStation{{"Hauptbahnhof", 47.9977, 7.8421}},
		[]testStation{{"Hauptbahnhof", 48.4475, 7.8421}},
	)

	b := newBuilder(t, testOptions(t))
	build(t, b, c)

	assert.Zero(t, b.Stats().Negatives)
}

func TestBuild_NegativesWithinCutoff(t *testing.T) {
	c := corpusOf([]int64{10, 20, 30},
		[]testStation{{"Stadttheater", 47.9950, 7.8440}, {"Theater", 47.9951, 7.8441}},
		[]testStation{{"Bertoldsbrunnen", 47.9946, 7.8497}},
		[]testStation{{"Paduaallee", 48.0200, 7.8100}},
	)

	b := newBuilder(t, testOptions(t))
	build(t, b, c)

	var negatives []Pair

	for _, p := range b.Pairs() {
		if !p.Match {
			negatives = append(negatives, p)
		}
	}

	want := []Pair{
		{A: 0, B: 2},
		{A: 2, B: 0},
		{A: 1, B: 2},
		{A: 2, B: 1},
	}
	if diff := cmp.Diff(want, negatives); diff != "" {
		t.Errorf("negatives mismatch (-want +got):\n%s", diff)
	}

	st := b.Stats()
	assert.Equal(t, 4, st.Negatives)
	assert.Equal(t, 2*(3+1+1), st.Positives)
	assert.InDelta(t, 13.4, st.MeanPosDist, 1)
	assert.InDelta(t, 2.0, st.MeanGroupSize, 1e-9)
}

func TestBuild_SharedMetaGroupNotPaired(t *testing.T) {
	c := station.NewCorpus()
	g1 := c.AddGroup(10, 99, nil)
	g2 := c.AddGroup(20, 99, nil)
	c.AddStation(station.Station{Name: "Bahnhof", GroupID: g1, Geom: spatial.NewPoint(48, 7.8)})
	c.AddStation(station.Station{Name: "Busbahnhof", GroupID: g2, Geom: spatial.NewPoint(48.0005, 7.8)})

	b := newBuilder(t, testOptions(t))
	build(t, b, c)

	assert.Zero(t, b.Stats().Negatives)
}

func TestBuild_CleanData(t *testing.T) {
	c := corpusOf([]int64{10, 20, 30},
		[]testStation{{"Hauptbahnhof", 47.9977, 7.8421}},
		[]testStation{{"Hauptbahnhof", 47.9986, 7.8421}},
		[]testStation{{"Linie 1", 47.99, 7.80}, {"Linie 1", 48.03, 7.80}},
	)

	t.Run("without", func(t *testing.T) {
		b := newBuilder(t, testOptions(t))
		build(t, b, c)

		assert.Equal(t, 2, b.Stats().Negatives)
		assert.Zero(t, b.Stats().SuspiciousGroups)
	})

	t.Run("with", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)

		opts := testOptions(t)
		opts.CleanData = true
		opts.Logger = zap.New(core)

		b := newBuilder(t, opts)
		build(t, b, c)

		assert.Zero(t, b.Stats().Negatives)
		assert.Equal(t, 1, b.Stats().SuspiciousGroups)
		assert.Equal(t, 1, logs.FilterMessageSnippet("suspicious").Len())

		for _, p := range b.Pairs() {
			assert.Less(t, p.A, 2)
		}
	})
}

func TestBuild_Spice(t *testing.T) {
	// about 5 km apart: beyond the cutoff, within the spice radius
	c := corpusOf([]int64{10, 20},
		[]testStation{{"Stadttheater", 47.9950, 7.8440}},
		[]testStation{{"Littenweiler", 47.9950, 7.9110}},
	)

	opts := testOptions(t)
	opts.Spice = 1

	b := newBuilder(t, opts)
	m := build(t, b, c)

	assert.Zero(t, b.Stats().Negatives)
	assert.Equal(t, 2, b.Stats().Spiced)
	assert.Equal(t, len(b.Pairs()), m.Rows())

	spiced := 0

	for r, p := range b.Pairs() {
		for _, i := range []int{p.A, p.B} {
			if src, ok := b.SpiceOf(i); ok {
				spiced++

				assert.GreaterOrEqual(t, i, b.NumStations())
				assert.False(t, p.Match)
				assert.False(t, m.Label(r))
				assert.Equal(t, 1, src)
			}
		}
	}

	// spicing 0 with 1 also covers 1 with 0
	assert.Equal(t, 2, spiced)

	_, ok := b.SpiceOf(0)
	assert.False(t, ok)
}

func TestBuild_SpiceSkipsPairedNeighbors(t *testing.T) {
	// about 430 m apart, already a negative pair
	c := corpusOf([]int64{10, 20},
		[]testStation{{"Stadttheater", 47.9950, 7.8440}},
		[]testStation{{"Bertoldsbrunnen", 47.9946, 7.8497}},
	)

	opts := testOptions(t)
	opts.Spice = 1

	b := newBuilder(t, opts)
	build(t, b, c)

	assert.Equal(t, 2, b.Stats().Negatives)
	assert.Zero(t, b.Stats().Spiced)
	assert.Equal(t, 2, b.NumStations())
}

func randomCorpus(seed uint64, groups int) *station.Corpus {
	rng := rand.New(rand.NewPCG(seed, seed))
	words := []string{"Freiburg", "Hauptbahnhof", "Hbf", "Bertoldsbrunnen", "Stadttheater", "Süd", "Nord", "Platz", "Straße"}

	c := station.NewCorpus()

	for range groups {
		rel := int64(0)
		if rng.IntN(4) > 0 {
			rel = int64(rng.IntN(1000) + 1)
		}

		gid := c.AddGroup(rel, 0, nil)
		lat, lng := 47.95+rng.Float64()*0.1, 7.80+rng.Float64()*0.1

		for range 1 + rng.IntN(3) {
			name := words[rng.IntN(len(words))]
			if rng.IntN(2) == 0 {
				name += " " + words[rng.IntN(len(words))]
			}

			c.AddStation(station.Station{
				NodeID:  int64(rng.IntN(1 << 20)),
				Name:    name,
				GroupID: gid,
				Geom:    spatial.NewPoint(lat+rng.NormFloat64()*0.0005, lng+rng.NormFloat64()*0.0005),
			})
		}
	}

	return c
}

func TestBuild_ParallelEqualsSequential(t *testing.T) {
	c := randomCorpus(3, 120)

	seq := testOptions(t)
	seq.Spice = 0.3
	seq.Workers = 1
	seq.ChunkSize = 1 << 20

	par := seq
	par.Workers = 4
	par.ChunkSize = 7

	bs := newBuilder(t, seq)
	ms := build(t, bs, c)

	bp := newBuilder(t, par)
	mp := build(t, bp, c)

	require.Equal(t, bs.Pairs(), bp.Pairs())
	require.Equal(t, ms.Rows(), mp.Rows())
	require.Equal(t, ms.NNZ(), mp.NNZ())
	require.Positive(t, ms.Rows())

	for r := range ms.Rows() {
		require.Equal(t, ms.Dense(r), mp.Dense(r), "row %d", r)
		require.Equal(t, ms.Label(r), mp.Label(r), "row %d", r)
	}
}

func TestBuild_NGramDiffAntisymmetric(t *testing.T) {
	c := randomCorpus(5, 60)

	opts := testOptions(t)
	opts.ForceOrphans = true

	b := newBuilder(t, opts)
	m := build(t, b, c)

	pairs := b.Pairs()
	first := opts.canonical()
	ngramBase := len(first) + 2*opts.NumPosPairs

	for r := 0; r+1 < len(pairs); r += 2 {
		require.Equal(t, pairs[r].A, pairs[r+1].B)
		require.Equal(t, pairs[r].B, pairs[r+1].A)

		fw, bw := m.Dense(r), m.Dense(r+1)
		for col := ngramBase; col < len(fw); col++ {
			assert.Zero(t, (int(fw[col])+int(bw[col]))%256, "row %d col %d", r, col)
		}
	}
}

func TestBuilder_FeatureVecMatchesMatrix(t *testing.T) {
	c := randomCorpus(11, 40)

	opts := testOptions(t)
	opts.ForceOrphans = true

	b := newBuilder(t, opts)
	m := build(t, b, c)

	for r, p := range b.Pairs() {
		got := b.FeatureVec(c.Station(p.A), c.Station(p.B))
		require.Equal(t, m.Dense(r), got, "row %d", r)
	}
}

func TestBuilder_FeatureVecOverflow(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	opts := testOptions(t)
	opts.Logger = zap.New(core)

	b := newBuilder(t, opts)

	a := station.Station{Name: "Freiburg Hbf", Geom: spatial.NewPoint(47.9977, 7.8421)}
	z := station.Station{Name: "Basel SBB", Geom: spatial.NewPoint(47.5476, 7.5897)}

	vec := b.FeatureVec(&a, &z)
	geo, _ := b.FeatureIndex(GeoDist)

	assert.Len(t, vec, b.NumCols()-1)
	assert.Equal(t, uint8(255), vec[geo])
	assert.Equal(t, 1, logs.FilterField(zap.String("feature", GeoDist)).Len())
}

func TestBuilder_ReusedVocabulary(t *testing.T) {
	c := randomCorpus(13, 30)

	b1 := newBuilder(t, testOptions(t))
	build(t, b1, c)

	opts := testOptions(t)
	opts.Vocabulary = b1.Vocabulary()

	b2 := newBuilder(t, opts)
	build(t, b2, randomCorpus(17, 10))

	assert.Same(t, b1.Vocabulary(), b2.Vocabulary())
	assert.Equal(t, b1.NumCols(), b2.NumCols())

	opts.NGram = 2
	_, err := NewBuilder(opts)
	assert.True(t, IsConfigError(err))
}

func TestBuildFromPairs(t *testing.T) {
	stations := []station.Station{
		{Name: "Freiburg Hbf", Geom: spatial.NewPoint(47.9977, 7.8421)},
		{Name: "Freiburg Hauptbahnhof", Geom: spatial.NewPoint(47.9978, 7.8421)},
		{Name: "Stadttheater", Geom: spatial.NewPoint(47.9950, 7.8440)},
	}
	pairs := []Pair{{A: 0, B: 1, Match: true}, {A: 0, B: 2}}

	b := newBuilder(t, testOptions(t))

	m, err := b.BuildFromPairs(context.Background(), stations, pairs)
	require.NoError(t, err)

	defer m.Close()

	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, []bool{true, false}, m.Labels())
	assert.Equal(t, 1, b.Stats().Positives)

	_, err = b.BuildFromPairs(context.Background(), stations, []Pair{{A: 0, B: 3}})
	assert.Error(t, err)
}

func TestBuild_EmptyCorpus(t *testing.T) {
	b := newBuilder(t, testOptions(t))
	m := build(t, b, station.NewCorpus())

	assert.Zero(t, m.Rows())
	assert.Zero(t, m.NNZ())
	assert.Empty(t, m.Labels())
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newBuilder(t, testOptions(t))

	_, err := b.Build(ctx, randomCorpus(1, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

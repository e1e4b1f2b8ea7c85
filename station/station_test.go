// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package station

import (
	"testing"

	"github.com/jcodagnone/statsimi/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCorpus(t *testing.T) *Corpus {
	t.Helper()

	c := NewCorpus()
	g0 := c.AddGroup(100, 0, []NamePair{{Name: "Freiburg Hbf", Attr: "name"}})
	g1 := c.AddGroup(0, 0, nil)
	g2 := c.AddGroup(200, 900, nil)

	c.AddStation(Station{Name: "Freiburg Hbf", NodeID: 1, GroupID: g0, Src: SrcAttr, Geom: spatial.NewPoint(47.9977, 7.8421)})
	c.AddStation(Station{Name: "Freiburg Hauptbahnhof", NodeID: 2, GroupID: g0, Src: SrcAttr, Geom: spatial.NewPoint(47.9978, 7.8422)})
	c.AddStation(Station{Name: "Stadttheater", NodeID: 3, GroupID: g1, Src: SrcAttr, Geom: spatial.NewPoint(47.9950, 7.8440)})
	c.AddStation(Station{Name: "Bertoldsbrunnen", NodeID: 4, GroupID: g2, Src: SrcAttr, Geom: spatial.NewPoint(47.9946, 7.8497)})

	require.NoError(t, c.Check())

	return c
}

func TestCorpus_AddStation(t *testing.T) {
	c := newTestCorpus(t)

	assert.Equal(t, []int{0, 1}, c.Group(0).Stations)
	assert.Equal(t, 0, c.Station(1).OrigGroupID)
	assert.InDelta(t, 47.9946, c.BBox.Min.Lat, 1e-9)
	assert.InDelta(t, 7.8497, c.BBox.Max.Lng, 1e-9)
	assert.True(t, c.Group(0).HasName("Freiburg Hbf"))
	assert.Panics(t, func() { c.AddStation(Station{GroupID: 42}) })
}

func TestCorpus_Evict(t *testing.T) {
	c := newTestCorpus(t)

	gid := c.Evict(1)

	assert.Equal(t, 3, gid)
	assert.Equal(t, []int{0}, c.Group(0).Stations)
	assert.Equal(t, []int{1}, c.Group(gid).Stations)
	assert.True(t, c.IsSingletonOrphan(gid))
	assert.Equal(t, 0, c.Station(1).OrigGroupID)
	require.NoError(t, c.Check())
}

func TestCorpus_Merge(t *testing.T) {
	tests := []struct {
		name       string
		a, b       int
		wantMaster int
		wantRelID  int64
	}{
		{name: "larger group wins", a: 1, b: 0, wantMaster: 0, wantRelID: 100},
		{name: "proposer wins when larger", a: 0, b: 1, wantMaster: 0, wantRelID: 100},
		{name: "meta group wins", a: 0, b: 2, wantMaster: 2, wantRelID: 200},
		{name: "meta group wins between singletons", a: 1, b: 2, wantMaster: 2, wantRelID: 200},
		{name: "meta proposer stays master when smaller", a: 2, b: 0, wantMaster: 2, wantRelID: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCorpus(t)
			moved := len(c.Group(tt.a).Stations) + len(c.Group(tt.b).Stations)

			master, minor := c.Merge(tt.a, tt.b)

			assert.Equal(t, tt.wantMaster, master)
			assert.Empty(t, c.Group(minor).Stations)
			assert.Len(t, c.Group(master).Stations, moved)
			assert.Equal(t, tt.wantRelID, c.Group(master).RelID)
			require.NoError(t, c.Check())
		})
	}
}

func TestCorpus_MergeDistinctMetaGroups(t *testing.T) {
	newCorpus := func() *Corpus {
		c := NewCorpus()
		big := c.AddGroup(100, 900, nil)
		small := c.AddGroup(200, 901, nil)
		other := c.AddGroup(300, 902, nil)

		c.AddStation(Station{Name: "Freiburg Hbf", GroupID: big})
		c.AddStation(Station{Name: "Freiburg Hauptbahnhof", GroupID: big})
		c.AddStation(Station{Name: "Stadttheater", GroupID: small})
		c.AddStation(Station{Name: "Bertoldsbrunnen", GroupID: other})

		return c
	}

	tests := []struct {
		name       string
		a, b       int
		wantMaster int
	}{
		{name: "larger group wins", a: 1, b: 0, wantMaster: 0},
		{name: "proposer wins when larger", a: 0, b: 1, wantMaster: 0},
		{name: "proposer wins a tie", a: 1, b: 2, wantMaster: 1},
		{name: "proposer wins a tie reversed", a: 2, b: 1, wantMaster: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCorpus()
			relID := c.Group(tt.wantMaster).RelID

			master, minor := c.Merge(tt.a, tt.b)

			assert.Equal(t, tt.wantMaster, master)
			assert.Empty(t, c.Group(minor).Stations)
			assert.Equal(t, relID, c.Group(master).RelID)
			require.NoError(t, c.Check())
		})
	}
}

func TestCorpus_MergeOrphansGetSyntheticRelation(t *testing.T) {
	c := NewCorpus()
	a := c.AddGroup(0, 0, nil)
	b := c.AddGroup(0, 0, nil)
	c.AddStation(Station{Name: "A", GroupID: a})
	c.AddStation(Station{Name: "B", GroupID: b})

	master, _ := c.Merge(a, b)

	assert.Equal(t, a, master)
	assert.Equal(t, SyntheticRelID, c.Group(master).RelID)
	assert.False(t, c.Group(master).IsOrphan())
	assert.Panics(t, func() { c.Merge(a, a) })
}

func TestCorpus_Check(t *testing.T) {
	c := newTestCorpus(t)
	c.Stations[2].GroupID = 0
	assert.Error(t, c.Check())

	c = newTestCorpus(t)
	c.Groups[0].Stations = append(c.Groups[0].Stations, 0)
	assert.Error(t, c.Check())
}

func TestCorpus_Clone(t *testing.T) {
	c := newTestCorpus(t)
	cl := c.Clone()

	cl.Evict(0)

	assert.Equal(t, []int{0, 1}, c.Group(0).Stations)
	assert.Len(t, c.Groups, 3)
	require.NoError(t, c.Check())
	require.NoError(t, cl.Check())
}

// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/jcodagnone/statsimi/fixer"
	"github.com/jcodagnone/statsimi/spatial"
	"github.com/jcodagnone/statsimi/station"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sql.DB, Repository) {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewRepository(db)
	require.NoError(t, repo.CreateSchema())

	return db, repo
}

func testCorpus() *station.Corpus {
	c := station.NewCorpus()

	hbf := c.AddGroup(100, 7, []station.NamePair{{Name: "Freiburg Hbf", Attr: "name"}})
	theater := c.AddGroup(0, 0, nil)

	c.AddStation(station.Station{
		NodeID: 1, Name: "Freiburg Hbf", OrigName: "Freiburg Hbf", NameAttr: "name",
		Geom: spatial.NewPoint(47.9977, 7.8421), GroupID: hbf, Src: station.SrcAttr,
	})
	c.AddStation(station.Station{
		NodeID: 2, Name: "Hauptbahnhof", OrigName: "Hauptbahnhof", NameAttr: station.AltNameAttr,
		Geom: spatial.NewPoint(47.9978, 7.8422), GroupID: hbf, Src: station.SrcAttr,
	})
	c.AddStation(station.Station{
		NodeID: 100, Name: "Freiburg Hbf", OrigName: "Freiburg Hbf", NameAttr: "name",
		Geom: spatial.NewPoint(47.9977, 7.8421), GroupID: hbf, Src: station.SrcGroup,
	})
	c.AddStation(station.Station{
		NodeID: 3, Name: "Stadttheater", OrigName: "Stadttheater", NameAttr: "name",
		Geom: spatial.NewRing([]spatial.Point{
			{Lat: 47.99, Lng: 7.84}, {Lat: 47.99, Lng: 7.85}, {Lat: 48.0, Lng: 7.85}, {Lat: 47.99, Lng: 7.84},
		}),
		GroupID: theater, Src: station.SrcAttr,
	})

	return c
}

func TestCreateSchema(t *testing.T) {
	db, repo := setupTestDB(t)

	// idempotent
	require.NoError(t, repo.CreateSchema())

	var n int

	err := db.QueryRow(`
		SELECT count(*) FROM information_schema.tables
		WHERE table_name IN ('runs', 'station_groups', 'stations', 'evictions', 'merges', 'suggestions', 'attr_errors')
	`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestCorpusRoundTrip(t *testing.T) {
	_, repo := setupTestDB(t)

	c := testCorpus()
	c.Evict(1)

	require.NoError(t, repo.SaveCorpus("freiburg", c))

	got, err := repo.LoadCorpus("freiburg")
	require.NoError(t, err)
	require.NoError(t, got.Check())

	if diff := cmp.Diff(c, got); diff != "" {
		t.Errorf("corpus mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveCorpus_ReplacesRun(t *testing.T) {
	db, repo := setupTestDB(t)

	require.NoError(t, repo.SaveCorpus("a", testCorpus()))
	require.NoError(t, repo.SaveCorpus("b", testCorpus()))
	require.NoError(t, repo.SaveCorpus("a", testCorpus()))

	var n int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM stations WHERE run = 'a'").Scan(&n))
	assert.Equal(t, 4, n)

	require.NoError(t, db.QueryRow("SELECT count(*) FROM runs").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestLoadCorpus_NotFound(t *testing.T) {
	_, repo := setupTestDB(t)

	_, err := repo.LoadCorpus("missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestSaveResult(t *testing.T) {
	db, repo := setupTestDB(t)

	res := &fixer.Result{
		Evictions: []fixer.Eviction{{
			Station: 3, NodeID: 4, Name: "Bahnhof", FromGroup: 0, ToGroup: 2, Confidence: 0.9,
			Conflicts: []fixer.Conflict{{Station: 0, Confidence: 0.9}, {Station: 1, Confidence: 0.8}},
		}},
		Merges: []fixer.Merge{{Round: 1, Master: 1, Minor: 2, Confidence: 0.75}},
		Suggestions: []fixer.Suggestion{
			{NodeID: 4, Kind: fixer.MoveOutOfRelation, FromGroup: 0, ToGroup: 2, FromRelID: 100},
		},
		AttrErrors: []fixer.AttrError{{NodeID: 4, Attr: "name", Name: "Bahnhof", Group: 2, Confidence: 0.9}},
	}

	require.NoError(t, repo.SaveResult("r", res))
	// saving twice replaces the rows
	require.NoError(t, repo.SaveResult("r", res))

	var (
		sid   int
		conf  float64
		sids  any
		kind  string
		toRel sql.NullInt64
	)

	require.NoError(t, db.QueryRow("SELECT sid, confidence, conflict_sids FROM evictions WHERE run = 'r'").Scan(&sid, &conf, &sids))
	assert.Equal(t, 3, sid)
	assert.InDelta(t, 0.9, conf, 1e-12)
	assert.Len(t, sids, 2)

	require.NoError(t, db.QueryRow("SELECT kind, to_rel_id FROM suggestions WHERE run = 'r'").Scan(&kind, &toRel))
	assert.Equal(t, string(fixer.MoveOutOfRelation), kind)
	assert.False(t, toRel.Valid)

	for table, want := range map[string]int{"evictions": 1, "merges": 1, "suggestions": 1, "attr_errors": 1} {
		var n int
		require.NoError(t, db.QueryRow("SELECT count(*) FROM "+table+" WHERE run = 'r'").Scan(&n))
		assert.Equal(t, want, n, table)
	}
}

func TestCellCounts(t *testing.T) {
	_, repo := setupTestDB(t)

	require.NoError(t, repo.SaveCorpus("freiburg", testCorpus()))

	counts, err := repo.CellCounts("freiburg", 5)
	require.NoError(t, err)
	require.NotEmpty(t, counts)

	total := 0
	for i, cc := range counts {
		total += cc.Stations
		assert.Len(t, cc.Cell, 15)

		if i > 0 {
			assert.LessOrEqual(t, cc.Stations, counts[i-1].Stations)
		}
	}

	assert.Equal(t, 4, total)

	_, err = repo.CellCounts("freiburg", 9)
	assert.Error(t, err)
}

func TestGeometryCodec(t *testing.T) {
	tests := []struct {
		name string
		geom spatial.Geometry
		want spatial.Geometry
	}{
		{"point", spatial.NewPoint(-34.9, -56.16), spatial.NewPoint(-34.9, -56.16)},
		{
			"closed ring",
			spatial.NewRing([]spatial.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 0, Lng: 0}}),
			spatial.NewRing([]spatial.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 0, Lng: 0}}),
		},
		{
			"open ring is closed",
			spatial.NewRing([]spatial.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}}),
			spatial.NewRing([]spatial.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 0, Lng: 0}}),
		},
		{
			"degenerate ring",
			spatial.NewRing([]spatial.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}}),
			spatial.NewRing([]spatial.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 0, Lng: 0}}),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := encodeGeometry(tc.geom)
			require.NoError(t, err)

			got, err := decodeGeometry(s)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.geom.Centroid(), got.Centroid())
		})
	}

	_, err := decodeGeometry("LINESTRING (0 0, 1 1")
	assert.Error(t, err)
}

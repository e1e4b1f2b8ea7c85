// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists station corpora and fixer results in DuckDB.
// Every row carries the name of the run it belongs to; saving a run
// replaces what was stored under the same name.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jcodagnone/statsimi/fixer"
	"github.com/jcodagnone/statsimi/spatial"
	"github.com/jcodagnone/statsimi/station"
	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"
	"go.uber.org/zap"
)

// ErrRunNotFound is returned when loading a run that was never saved.
var ErrRunNotFound = errors.New("store: run not found")

// Repository defines the database operations of a run.
type Repository interface {
	// CreateSchema creates the tables if they do not exist.
	CreateSchema() error
	// SaveCorpus stores the stations and groups of c, with the current
	// group assignment.
	SaveCorpus(run string, c *station.Corpus) error
	// LoadCorpus reads back a corpus stored by SaveCorpus.
	LoadCorpus(run string) (*station.Corpus, error)
	// SaveResult stores the evictions, merges, suggestions and attribute
	// errors of a fixer run.
	SaveResult(run string, r *fixer.Result) error
	// CellCounts returns the number of stations per h3 cell at resolution
	// res, most populated first.
	CellCounts(run string, res int) ([]CellCount, error)
}

// CellCount is the number of stations of a run inside an h3 cell.
type CellCount struct {
	Cell     string `json:"cell"`
	Stations int    `json:"stations"`
}

type sqlRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewRepository returns a Repository backed by db.
func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db, log: zap.L()}
}

func (r *sqlRepository) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run VARCHAR NOT NULL,
			min_lat DOUBLE,
			min_lon DOUBLE,
			max_lat DOUBLE,
			max_lon DOUBLE,
			created_at TIMESTAMPTZ DEFAULT current_timestamp
		);

		CREATE TABLE IF NOT EXISTS station_groups (
			run VARCHAR NOT NULL,
			gid INTEGER NOT NULL,
			rel_id BIGINT,
			meta_id BIGINT,
			names VARCHAR[],
			name_attrs VARCHAR[]
		);

		CREATE TABLE IF NOT EXISTS stations (
			run VARCHAR NOT NULL,
			sid INTEGER NOT NULL,
			node_id BIGINT NOT NULL,
			name VARCHAR,
			orig_name VARCHAR,
			name_attr VARCHAR,
			src VARCHAR,
			gid INTEGER NOT NULL,
			orig_gid INTEGER NOT NULL,
			geom VARCHAR NOT NULL,
			lat DOUBLE,
			lon DOUBLE,
			h3_res5 UBIGINT,
			h3_res6 UBIGINT,
			h3_res7 UBIGINT,
			h3_res8 UBIGINT
		);

		CREATE TABLE IF NOT EXISTS evictions (
			run VARCHAR NOT NULL,
			sid INTEGER NOT NULL,
			node_id BIGINT,
			name VARCHAR,
			from_gid INTEGER,
			to_gid INTEGER,
			confidence DOUBLE,
			conflict_sids INTEGER[],
			conflict_confidences DOUBLE[]
		);

		CREATE TABLE IF NOT EXISTS merges (
			run VARCHAR NOT NULL,
			round INTEGER,
			master INTEGER,
			minor INTEGER,
			confidence DOUBLE
		);

		CREATE TABLE IF NOT EXISTS suggestions (
			run VARCHAR NOT NULL,
			node_id BIGINT,
			kind VARCHAR,
			from_gid INTEGER,
			to_gid INTEGER,
			from_rel_id BIGINT,
			to_rel_id BIGINT
		);

		CREATE TABLE IF NOT EXISTS attr_errors (
			run VARCHAR NOT NULL,
			node_id BIGINT,
			rel_id BIGINT,
			attr VARCHAR,
			name VARCHAR,
			gid INTEGER,
			confidence DOUBLE,
			track_number BOOLEAN
		);
	`)
	if err != nil {
		return eris.Wrap(err, "store: creating schema")
	}

	return nil
}

// listOrNil binds empty lists as NULL.
func listOrNil[T any](s []T) any {
	if len(s) == 0 {
		return nil
	}

	return s
}

func nz(v int64) any {
	if v == 0 {
		return nil
	}

	return v
}

// inTx runs fn in a transaction after deleting the rows of run from
// tables.
func (r *sqlRepository) inTx(run string, tables []string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return eris.Wrapf(err, "store: starting transaction for %s", run)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.log.Warn("failed to rollback transaction", zap.String("run", run), zap.Error(err))
		}
	}()

	for _, table := range tables {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run = ?", run); err != nil {
			return eris.Wrapf(err, "store: deleting %s of %s", table, run)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "store: committing %s", run)
	}

	return nil
}

func (r *sqlRepository) SaveCorpus(run string, c *station.Corpus) error {
	return r.inTx(run, []string{"runs", "station_groups", "stations"}, func(tx *sql.Tx) error {
		var bbox [4]any
		if !c.BBox.IsEmpty() {
			bbox = [4]any{c.BBox.Min.Lat, c.BBox.Min.Lng, c.BBox.Max.Lat, c.BBox.Max.Lng}
		}

		if _, err := tx.Exec(
			"INSERT INTO runs (run, min_lat, min_lon, max_lat, max_lon) VALUES (?, ?, ?, ?, ?)",
			run, bbox[0], bbox[1], bbox[2], bbox[3],
		); err != nil {
			return eris.Wrapf(err, "store: inserting run %s", run)
		}

		if err := saveGroups(tx, run, c); err != nil {
			return err
		}

		return saveStations(tx, run, c)
	})
}

func saveGroups(tx *sql.Tx, run string, c *station.Corpus) error {
	stmt, err := tx.Prepare(`
		INSERT INTO station_groups (run, gid, rel_id, meta_id, names, name_attrs)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return eris.Wrap(err, "store: preparing groups statement")
	}
	defer stmt.Close()

	for gid := range c.Groups {
		g := &c.Groups[gid]

		names := make([]string, len(g.Names))
		attrs := make([]string, len(g.Names))

		for i, p := range g.Names {
			names[i], attrs[i] = p.Name, p.Attr
		}

		if _, err := stmt.Exec(run, gid, nz(g.RelID), nz(g.MetaID), listOrNil(names), listOrNil(attrs)); err != nil {
			return eris.Wrapf(err, "store: inserting group %d", gid)
		}
	}

	return nil
}

func saveStations(tx *sql.Tx, run string, c *station.Corpus) error {
	stmt, err := tx.Prepare(`
		INSERT INTO stations (
			run, sid, node_id, name, orig_name, name_attr, src, gid, orig_gid,
			geom, lat, lon, h3_res5, h3_res6, h3_res7, h3_res8
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return eris.Wrap(err, "store: preparing stations statement")
	}
	defer stmt.Close()

	for sid := range c.Stations {
		st := &c.Stations[sid]

		g, err := encodeGeometry(st.Geom)
		if err != nil {
			return eris.Wrapf(err, "store: station %d", sid)
		}

		p := st.Point()

		cells, err := h3Cells(p)
		if err != nil {
			return eris.Wrapf(err, "store: station %d", sid)
		}

		if _, err := stmt.Exec(
			run, sid, st.NodeID, st.Name, st.OrigName, st.NameAttr, st.Src.String(),
			st.GroupID, st.OrigGroupID, g, p.Lat, p.Lng,
			cells[0], cells[1], cells[2], cells[3],
		); err != nil {
			return eris.Wrapf(err, "store: inserting station %d", sid)
		}
	}

	return nil
}

func parseSrc(s string) (station.SrcType, error) {
	switch s {
	case station.SrcAttr.String():
		return station.SrcAttr, nil
	case station.SrcGroup.String():
		return station.SrcGroup, nil
	default:
		return 0, eris.Errorf("unknown station src %q", s)
	}
}

// LoadCorpus rebuilds group membership in station order.
func (r *sqlRepository) LoadCorpus(run string) (*station.Corpus, error) {
	var bbox [4]sql.NullFloat64

	err := r.db.QueryRow(
		"SELECT min_lat, min_lon, max_lat, max_lon FROM runs WHERE run = ?", run,
	).Scan(&bbox[0], &bbox[1], &bbox[2], &bbox[3])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "loading %q", run)
	}

	if err != nil {
		return nil, eris.Wrapf(err, "store: querying run %s", run)
	}

	c := station.NewCorpus()
	if err := r.loadGroups(run, c); err != nil {
		return nil, err
	}

	if err := r.loadStations(run, c); err != nil {
		return nil, err
	}

	if bbox[0].Valid {
		c.BBox.Extend(spatial.Point{Lat: bbox[0].Float64, Lng: bbox[1].Float64})
		c.BBox.Extend(spatial.Point{Lat: bbox[2].Float64, Lng: bbox[3].Float64})
	}

	return c, nil
}

func (r *sqlRepository) loadGroups(run string, c *station.Corpus) error {
	rows, err := r.db.Query(`
		SELECT gid, rel_id, meta_id, names, name_attrs
		FROM station_groups
		WHERE run = ?
		ORDER BY gid
	`, run)
	if err != nil {
		return eris.Wrapf(err, "store: querying groups of %s", run)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			gid            int
			relID, metaID  sql.NullInt64
			namesV, attrsV any
		)

		if err := rows.Scan(&gid, &relID, &metaID, &namesV, &attrsV); err != nil {
			return eris.Wrap(err, "store: scanning group")
		}

		if gid != len(c.Groups) {
			return eris.Errorf("store: group ids of %s are not dense at %d", run, gid)
		}

		names, ok1 := anyToStringSlice(namesV)
		attrs, ok2 := anyToStringSlice(attrsV)

		if !ok1 || !ok2 || len(names) != len(attrs) {
			return eris.Errorf("store: malformed names of group %d", gid)
		}

		var pairs []station.NamePair
		for i := range names {
			pairs = append(pairs, station.NamePair{Name: names[i], Attr: attrs[i]})
		}

		c.AddGroup(relID.Int64, metaID.Int64, pairs)
	}

	return eris.Wrap(rows.Err(), "store: iterating groups")
}

func (r *sqlRepository) loadStations(run string, c *station.Corpus) error {
	rows, err := r.db.Query(`
		SELECT sid, node_id, name, orig_name, name_attr, src, gid, orig_gid, geom
		FROM stations
		WHERE run = ?
		ORDER BY sid
	`, run)
	if err != nil {
		return eris.Wrapf(err, "store: querying stations of %s", run)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sid, gid, origGid int
			st                station.Station
			src, g            string
		)

		if err := rows.Scan(
			&sid, &st.NodeID, &st.Name, &st.OrigName, &st.NameAttr, &src, &gid, &origGid, &g,
		); err != nil {
			return eris.Wrap(err, "store: scanning station")
		}

		if sid != len(c.Stations) {
			return eris.Errorf("store: station ids of %s are not dense at %d", run, sid)
		}

		if gid < 0 || gid >= len(c.Groups) || origGid < 0 || origGid >= len(c.Groups) {
			return eris.Errorf("store: station %d refers to a missing group", sid)
		}

		if st.Src, err = parseSrc(src); err != nil {
			return eris.Wrapf(err, "store: station %d", sid)
		}

		if st.Geom, err = decodeGeometry(g); err != nil {
			return eris.Wrapf(err, "store: station %d", sid)
		}

		st.GroupID = gid
		c.AddStation(st)
		c.Stations[sid].OrigGroupID = origGid
	}

	return eris.Wrap(rows.Err(), "store: iterating stations")
}

func conflictLists(cs []fixer.Conflict) (any, any) {
	sids := make([]int32, len(cs))
	confs := make([]float64, len(cs))

	for i, c := range cs {
		sids[i], confs[i] = int32(c.Station), c.Confidence
	}

	return listOrNil(sids), listOrNil(confs)
}

func (r *sqlRepository) SaveResult(run string, res *fixer.Result) error {
	tables := []string{"evictions", "merges", "suggestions", "attr_errors"}

	return r.inTx(run, tables, func(tx *sql.Tx) error {
		for _, e := range res.Evictions {
			sids, confs := conflictLists(e.Conflicts)
			if _, err := tx.Exec(`
				INSERT INTO evictions (
					run, sid, node_id, name, from_gid, to_gid, confidence,
					conflict_sids, conflict_confidences
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, run, e.Station, e.NodeID, e.Name, e.FromGroup, e.ToGroup, e.Confidence, sids, confs); err != nil {
				return eris.Wrapf(err, "store: inserting eviction of %d", e.Station)
			}
		}

		for _, m := range res.Merges {
			if _, err := tx.Exec(
				"INSERT INTO merges (run, round, master, minor, confidence) VALUES (?, ?, ?, ?, ?)",
				run, m.Round, m.Master, m.Minor, m.Confidence,
			); err != nil {
				return eris.Wrapf(err, "store: inserting merge of %d into %d", m.Minor, m.Master)
			}
		}

		for _, s := range res.Suggestions {
			if _, err := tx.Exec(`
				INSERT INTO suggestions (run, node_id, kind, from_gid, to_gid, from_rel_id, to_rel_id)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, run, s.NodeID, string(s.Kind), s.FromGroup, s.ToGroup, nz(s.FromRelID), nz(s.ToRelID)); err != nil {
				return eris.Wrapf(err, "store: inserting suggestion for node %d", s.NodeID)
			}
		}

		for _, a := range res.AttrErrors {
			if _, err := tx.Exec(`
				INSERT INTO attr_errors (run, node_id, rel_id, attr, name, gid, confidence, track_number)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, run, nz(a.NodeID), nz(a.RelID), a.Attr, a.Name, a.Group, a.Confidence, a.TrackNumber); err != nil {
				return eris.Wrapf(err, "store: inserting attribute error %q", a.Name)
			}
		}

		return nil
	})
}

func (r *sqlRepository) CellCounts(run string, res int) ([]CellCount, error) {
	if res < minH3Res || res > maxH3Res {
		return nil, eris.Errorf("store: h3 resolution %d not in [%d, %d]", res, minH3Res, maxH3Res)
	}

	col := fmt.Sprintf("h3_res%d", res)

	rows, err := r.db.Query(`
		SELECT `+col+`, count(*)
		FROM stations
		WHERE run = ?
		GROUP BY 1
		ORDER BY 2 DESC, 1
	`, run)
	if err != nil {
		return nil, eris.Wrapf(err, "store: counting cells of %s", run)
	}
	defer rows.Close()

	var counts []CellCount

	for rows.Next() {
		var (
			cell uint64
			n    int
		)

		if err := rows.Scan(&cell, &n); err != nil {
			return nil, eris.Wrap(err, "store: scanning cell count")
		}

		counts = append(counts, CellCount{Cell: h3.Cell(cell).String(), Stations: n})
	}

	return counts, eris.Wrap(rows.Err(), "store: iterating cell counts")
}

// anyToStringSlice converts a scanned VARCHAR[] value.
func anyToStringSlice(v any) ([]string, bool) {
	if v == nil {
		return nil, true
	}

	if i, ok := v.([]string); ok {
		return i, true
	}

	if i, ok := v.([]any); ok {
		s := make([]string, len(i))

		for j, e := range i {
			val, ok := e.(string)
			if !ok {
				return nil, false
			}

			s[j] = val
		}

		return s, true
	}

	return nil, false
}

// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package impo

import (
	"encoding/json"
	"io"

	"github.com/jcodagnone/statsimi/spatial"
	"github.com/jcodagnone/statsimi/station"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// corpusFile is the JSON layout of a corpus.
type corpusFile struct {
	// [[min_lat, min_lon], [max_lat, max_lon]]
	BBox     *[2][2]float64 `json:"bbox,omitempty"`
	Groups   []groupRecord  `json:"groups"`
	Stations []stationRec   `json:"stations"`
}

type groupRecord struct {
	RelID  int64              `json:"rel_id,omitempty"`
	MetaID int64              `json:"meta_id,omitempty"`
	Names  []station.NamePair `json:"names,omitempty"`
}

type stationRec struct {
	NodeID int64    `json:"node_id"`
	Name   string   `json:"name"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	// [[lon, lat], ...]
	Poly [][2]float64 `json:"poly,omitempty"`
	// index into groups; a missing group gives the station a group of
	// its own
	Group    *int   `json:"group,omitempty"`
	Src      string `json:"src,omitempty"`
	NameAttr string `json:"name_attr,omitempty"`
	OrigName string `json:"orig_name,omitempty"`
}

func (s *stationRec) geometry() (spatial.Geometry, error) {
	switch {
	case len(s.Poly) > 0:
		ring := make([]spatial.Point, len(s.Poly))
		for i, ll := range s.Poly {
			ring[i] = spatial.Point{Lat: ll[1], Lng: ll[0]}
		}

		return spatial.NewRing(ring), nil
	case s.Lat != nil && s.Lon != nil:
		return spatial.NewPoint(*s.Lat, *s.Lon), nil
	default:
		return spatial.Geometry{}, eris.Errorf("station %d (%q) has neither lat/lon nor poly", s.NodeID, s.Name)
	}
}

func parseSrc(s string) (station.SrcType, error) {
	switch s {
	case "", "attr":
		return station.SrcAttr, nil
	case "group":
		return station.SrcGroup, nil
	default:
		return 0, eris.Errorf("unknown station src %q", s)
	}
}

// ReadCorpus decodes a JSON corpus and appends it to c. Group indices of
// the file are shifted past the groups c already holds.
func ReadCorpus(r io.Reader, c *station.Corpus) error {
	var f corpusFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return eris.Wrap(err, "impo: decoding corpus")
	}

	box := spatial.EmptyBBox()
	if f.BBox != nil {
		box.Extend(spatial.Point{Lat: f.BBox[0][0], Lng: f.BBox[0][1]})
		box.Extend(spatial.Point{Lat: f.BBox[1][0], Lng: f.BBox[1][1]})
		c.BBox.Extend(box.Min)
		c.BBox.Extend(box.Max)
	}

	base := len(c.Groups)
	for _, g := range f.Groups {
		c.AddGroup(g.RelID, g.MetaID, g.Names)
	}

	for i := range f.Stations {
		rec := &f.Stations[i]

		geom, err := rec.geometry()
		if err == nil {
			err = geom.Validate()
		}

		if err != nil {
			return eris.Wrapf(err, "impo: station %d", i)
		}

		if f.BBox != nil && !box.Contains(geom.Centroid()) {
			zap.L().Warn("station outside the corpus bounding box",
				zap.Int64("node_id", rec.NodeID),
				zap.String("name", rec.Name),
			)
		}

		src, err := parseSrc(rec.Src)
		if err != nil {
			return eris.Wrapf(err, "impo: station %d", i)
		}

		var gid int

		switch {
		case rec.Group == nil:
			gid = c.AddGroup(0, 0, nil)
		case *rec.Group < 0 || *rec.Group >= len(f.Groups):
			return eris.Errorf("impo: station %d: group %d out of range", i, *rec.Group)
		default:
			gid = base + *rec.Group
		}

		st := station.Station{
			NodeID:   rec.NodeID,
			Name:     rec.Name,
			Geom:     geom,
			GroupID:  gid,
			Src:      src,
			NameAttr: rec.NameAttr,
			OrigName: rec.OrigName,
		}

		if st.NameAttr == "" {
			st.NameAttr = "name"
		}

		if st.OrigName == "" {
			st.OrigName = st.Name
		}

		c.AddStation(st)
	}

	return nil
}

// WriteCorpus encodes c as JSON with the current group assignment.
// Emptied groups are kept so group ids stay stable.
func WriteCorpus(w io.Writer, c *station.Corpus) error {
	f := corpusFile{
		Groups:   make([]groupRecord, len(c.Groups)),
		Stations: make([]stationRec, len(c.Stations)),
	}

	if !c.BBox.IsEmpty() {
		f.BBox = &[2][2]float64{
			{c.BBox.Min.Lat, c.BBox.Min.Lng},
			{c.BBox.Max.Lat, c.BBox.Max.Lng},
		}
	}

	for gid, g := range c.Groups {
		f.Groups[gid] = groupRecord{RelID: g.RelID, MetaID: g.MetaID, Names: g.Names}
	}

	for sid := range c.Stations {
		st := &c.Stations[sid]
		gid := st.GroupID
		rec := stationRec{
			NodeID:   st.NodeID,
			Name:     st.Name,
			Group:    &gid,
			Src:      st.Src.String(),
			NameAttr: st.NameAttr,
			OrigName: st.OrigName,
		}

		if st.Geom.IsPolygon() {
			for _, p := range st.Geom.Ring {
				rec.Poly = append(rec.Poly, [2]float64{p.Lng, p.Lat})
			}
		} else {
			lat, lon := st.Geom.Point.Lat, st.Geom.Point.Lng
			rec.Lat, rec.Lon = &lat, &lon
		}

		f.Stations[sid] = rec
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(&f); err != nil {
		return eris.Wrap(err, "impo: encoding corpus")
	}

	return nil
}

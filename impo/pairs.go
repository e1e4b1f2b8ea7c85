// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package impo

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/spatial"
	"github.com/jcodagnone/statsimi/station"
	"github.com/rotisserie/eris"
)

const maxLine = 1 << 20

// pairsLoader reads pairs files into a corpus. Stations are identified by
// the id column and shared between all files of a run.
type pairsLoader struct {
	c     *station.Corpus
	group int
	ids   map[int64]int
	pairs []feature.Pair
}

func newPairsLoader(c *station.Corpus) *pairsLoader {
	return &pairsLoader{c: c, group: -1, ids: map[int64]int{}}
}

func (l *pairsLoader) station(id int64, name, lat, lon string) (int, error) {
	if sid, ok := l.ids[id]; ok {
		return sid, nil
	}

	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "latitude of %d", id)
	}

	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "longitude of %d", id)
	}

	if err := spatial.ValidateCoordinates(la, lo); err != nil {
		return 0, eris.Wrapf(err, "station %d", id)
	}

	if l.group < 0 {
		l.group = l.c.AddGroup(0, 0, nil)
	}

	sid := l.c.AddStation(station.Station{
		NodeID:   id,
		Name:     name,
		OrigName: name,
		Geom:     spatial.NewPoint(la, lo),
		GroupID:  l.group,
		Src:      station.SrcAttr,
		NameAttr: "name",
	})
	l.ids[id] = sid

	return sid, nil
}

// load reads lines of the form
//
//	id1 name1 lat1 lon1 id2 name2 lat2 lon2 match
//
// separated by tabs, where match is 1 for the same station.
func (l *pairsLoader) load(r io.Reader, name string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	for n := 1; sc.Scan(); n++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}

		cols := strings.Split(line, "\t")
		if len(cols) != pairColumns {
			return eris.Errorf("%s:%d: expected %d columns, got %d", name, n, pairColumns, len(cols))
		}

		var sids [2]int

		for i := range sids {
			c := cols[4*i : 4*i+4]

			id, err := strconv.ParseInt(c[0], 10, 64)
			if err != nil {
				return eris.Wrapf(err, "%s:%d: station id", name, n)
			}

			if sids[i], err = l.station(id, c[1], c[2], c[3]); err != nil {
				return eris.Wrapf(err, "%s:%d", name, n)
			}
		}

		l.pairs = append(l.pairs, feature.Pair{
			A:     sids[0],
			B:     sids[1],
			Match: strings.TrimSpace(cols[8]) == "1",
		})
	}

	if err := sc.Err(); err != nil {
		return eris.Wrapf(err, "%s: reading pairs", name)
	}

	return nil
}

// ReadPairs reads a single pairs file into a new corpus.
func ReadPairs(r io.Reader) (*station.Corpus, []feature.Pair, error) {
	l := newPairsLoader(station.NewCorpus())
	if err := l.load(r, "pairs"); err != nil {
		return nil, nil, err
	}

	return l.c, l.pairs, nil
}

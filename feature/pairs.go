// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"slices"
	"unicode/utf8"

	"github.com/jcodagnone/statsimi/spatial"
	"github.com/jcodagnone/statsimi/station"
	"github.com/jcodagnone/statsimi/utils/textutils"
	"go.uber.org/zap"
)

// spiceRadiusFactor widens the neighbor query used to pick spice groups.
const spiceRadiusFactor = 10

type pairKey struct{ a, b int }

func keyOf(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}

	return pairKey{a, b}
}

// pairGen holds the state of one pair generation pass.
type pairGen struct {
	*Builder
	c       *station.Corpus
	idx     *spatial.GridIndex
	skip    map[int]bool
	matched map[pairKey]struct{}
	dists   []float64
}

// suspiciousGroups returns the relation groups with a member farther than
// SuspiciousDist from the first member. They are left out of pairing when
// CleanData is set.
func (b *Builder) suspiciousGroups(c *station.Corpus) map[int]bool {
	skip := map[int]bool{}
	if !b.opts.CleanData {
		return skip
	}

	for gid := range c.Groups {
		g := &c.Groups[gid]
		if len(g.Stations) == 0 || g.IsOrphan() {
			continue
		}

		first := &b.recs[g.Stations[0]]
		for _, sid := range g.Stations[1:] {
			if b.enc.dist(first, &b.recs[sid]) < b.opts.SuspiciousDist {
				continue
			}

			b.log.Warn("filtering out suspicious station group, is this an erroneously tagged transit route?",
				zap.Int("group", gid),
				zap.Int64("rel_id", g.RelID),
				zap.Int("stations", len(g.Stations)),
			)

			skip[gid] = true

			break
		}
	}

	b.stats.SuspiciousGroups = len(skip)

	return skip
}

func (b *Builder) generate(c *station.Corpus, skip map[int]bool) {
	gen := &pairGen{
		Builder: b,
		c:       c,
		idx:     spatial.NewGridIndex(c.BBox, b.opts.CellSize),
		skip:    skip,
		matched: map[pairKey]struct{}{},
	}

	for sid := range c.Stations {
		st := &c.Stations[sid]
		gen.idx.InsertGeometry(st.GroupID, st.Geom)
	}

	grouped, groups := 0, 0

	for gid := range c.Groups {
		if skip[gid] {
			continue
		}

		if n := gen.group(gid); n > 1 {
			grouped += n
			groups++
		}
	}

	b.stats.MeanPosDist, b.stats.MedianPosDist = meanMedian(gen.dists)
	if groups > 0 {
		b.stats.MeanGroupSize = float64(grouped) / float64(groups)
	}
}

// group writes the pairs of every member of gid and returns the number of
// members that were negatively paired.
func (g *pairGen) group(gid int) int {
	grp := &g.c.Groups[gid]
	paired := 0

	for i, sid1 := range grp.Stations {
		st1 := &g.c.Stations[sid1]

		// positives, self pairs included, also for orphan groups
		for _, sid2 := range grp.Stations[i:] {
			st2 := &g.c.Stations[sid2]
			if st1.Name == "" || st2.Name == "" {
				g.stats.EmptyNames++

				continue
			}

			if sid1 != sid2 && st1.NodeID != st2.NodeID {
				g.dists = append(g.dists, g.enc.dist(&g.recs[sid1], &g.recs[sid2]))
			}

			g.addBoth(sid1, sid2, true)
		}

		// orphans only get negatives when forced
		if grp.IsOrphan() && !g.opts.ForceOrphans {
			continue
		}

		paired++

		g.negatives(sid1, g.idx.QueryGeometry(st1.Geom, g.opts.Cutoff), false)

		if g.opts.Spice > 0 && g.rng.Float64() <= g.opts.Spice {
			near := g.idx.QueryGeometry(st1.Geom, g.opts.Cutoff*spiceRadiusFactor)
			g.negatives(sid1, g.sample(near, g.opts.SpiceCount), true)
		}
	}

	return paired
}

func (g *pairGen) negatives(sid1 int, groups []int, spice bool) {
	st1 := &g.c.Stations[sid1]
	if st1.Name == "" {
		return
	}

	g1 := &g.c.Groups[st1.GroupID]

	for _, gid2 := range groups {
		if gid2 == st1.GroupID || g.skip[gid2] {
			continue
		}

		g2 := &g.c.Groups[gid2]
		if g2.IsOrphan() && !g.opts.ForceOrphans {
			continue
		}

		if g1.HasMeta() && g1.MetaID == g2.MetaID {
			continue
		}

		for _, sid2 := range g2.Stations {
			st2 := &g.c.Stations[sid2]
			if st2.Name == "" {
				continue
			}

			if spice {
				g.spiced(sid1, sid2)

				continue
			}

			d := g.enc.dist(&g.recs[sid1], &g.recs[sid2])
			if d > g.opts.Cutoff || g.isMatched(sid1, sid2) {
				continue
			}

			if g.opts.CleanData && d < g.opts.NearDupDist && nearDuplicate(st1, st2) {
				continue
			}

			g.matched[keyOf(sid1, sid2)] = struct{}{}
			g.addBoth(sid1, sid2, false)
		}
	}
}

// spiced pairs sid1 with a copy of sid2 moved next to sid1. Stations
// already paired with sid1 are not spiced again.
func (g *pairGen) spiced(sid1, sid2 int) {
	if g.isMatched(sid1, sid2) {
		return
	}

	rec := g.recs[sid2]
	p := g.recs[sid1].point
	p.Lat += g.rng.NormFloat64() * g.opts.SpiceSigma
	p.Lng += g.rng.NormFloat64() * g.opts.SpiceSigma
	rec.geom = spatial.Geometry{Point: p}
	rec.point = p

	if g.enc.dist(&g.recs[sid1], &rec) > g.opts.Cutoff {
		return
	}

	g.recs = append(g.recs, rec)
	g.spiceOf = append(g.spiceOf, sid2)

	id := len(g.recs) - 1
	g.matched[keyOf(sid1, sid2)] = struct{}{}
	g.addBoth(sid1, id, false)
	g.stats.Spiced += 2
}

func (g *pairGen) isMatched(a, b int) bool {
	_, ok := g.matched[keyOf(a, b)]

	return ok
}

func (g *pairGen) addBoth(a, b int, match bool) {
	g.pairs = append(g.pairs, Pair{A: a, B: b, Match: match}, Pair{A: b, B: a, Match: match})

	if match {
		g.stats.Positives += 2
	} else {
		g.stats.Negatives += 2
	}
}

// sample returns up to k distinct elements of ids in random order.
func (g *pairGen) sample(ids []int, k int) []int {
	ids = slices.Clone(ids)
	k = min(k, len(ids))

	for i := range k {
		j := i + g.rng.IntN(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}

	return ids[:k]
}

// nearDuplicate reports whether two stations carry an equivalent name.
func nearDuplicate(a, b *station.Station) bool {
	if utf8.RuneCountInString(a.Name) > 2 && textutils.SameFoldedName(a.Name, b.Name) {
		return true
	}

	return utf8.RuneCountInString(a.OrigName) > 3 && a.OrigName == b.OrigName
}

func meanMedian(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, x := range xs {
		sum += x
	}

	s := slices.Clone(xs)
	slices.Sort(s)

	mid := len(s) / 2
	median := s[mid]

	if len(s)%2 == 0 {
		median = (s[mid-1] + s[mid]) / 2
	}

	return sum / float64(len(xs)), median
}

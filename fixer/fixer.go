// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package fixer repairs station groups using the match probabilities of
// a classifier. Stations that disagree with most of their group are
// evicted into singleton groups, then groups that look alike are merged
// round by round until nothing changes.
package fixer

import (
	"cmp"
	"context"
	"slices"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/station"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// neighbor is a scored candidate pair seen from one of its stations.
type neighbor struct {
	id int
	p  float64
}

// evidence explains why a station was evicted.
type evidence struct {
	conf      float64
	conflicts map[int]float64
}

// Fixer holds the state of one repair run over a corpus. The corpus is
// modified in place.
type Fixer struct {
	c     *station.Corpus
	opts  Options
	log   *zap.Logger
	pairs []feature.Pair
	proba [][2]float64

	neighbors [][]neighbor
	track     []bool
	evicted   map[int]*evidence

	// group state when the Fixer was created
	origRel  []int64
	origMeta []int64
	origSize []int
}

// New indexes the scored pairs of c. proba holds [p_no_match, p_match]
// for every pair. Pairs that involve synthetic stations are ignored.
func New(c *station.Corpus, pairs []feature.Pair, proba [][2]float64, opts Options) (*Fixer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if len(pairs) != len(proba) {
		return nil, eris.Errorf("fixer: %d pairs but %d probabilities", len(pairs), len(proba))
	}

	o := opts.withDefaults()
	f := &Fixer{
		c:        c,
		opts:     o,
		log:      o.Logger,
		pairs:    pairs,
		proba:    proba,
		evicted:  map[int]*evidence{},
		origRel:  make([]int64, len(c.Groups)),
		origMeta: make([]int64, len(c.Groups)),
		origSize: make([]int, len(c.Groups)),
	}

	for gid := range c.Groups {
		f.origRel[gid] = c.Groups[gid].RelID
		f.origMeta[gid] = c.Groups[gid].MetaID
	}

	for sid := range c.Stations {
		if gid := c.Stations[sid].OrigGroupID; gid < len(f.origSize) {
			f.origSize[gid]++
		}
	}

	f.track = make([]bool, len(c.Stations))
	for sid := range c.Stations {
		f.track[sid] = IsTrackNumber(c.Stations[sid].Name)
	}

	f.buildNeighbors()

	return f, nil
}

func (f *Fixer) real(sid int) bool {
	return sid >= 0 && sid < len(f.c.Stations)
}

// buildNeighbors fills the per-station neighbor lists, sorted by id. A
// pair scored in both directions is kept once with the mean probability.
func (f *Fixer) buildNeighbors() {
	raw := make([][]neighbor, len(f.c.Stations))

	for r, p := range f.pairs {
		if p.A == p.B || !f.real(p.A) || !f.real(p.B) {
			continue
		}

		pm := f.proba[r][1]
		raw[p.A] = append(raw[p.A], neighbor{p.B, pm})
		raw[p.B] = append(raw[p.B], neighbor{p.A, pm})
	}

	f.neighbors = make([][]neighbor, len(raw))

	for sid, ns := range raw {
		slices.SortStableFunc(ns, func(a, b neighbor) int { return cmp.Compare(a.id, b.id) })

		var out []neighbor

		for i := 0; i < len(ns); {
			j, sum := i, 0.0
			for ; j < len(ns) && ns[j].id == ns[i].id; j++ {
				sum += ns[j].p
			}

			out = append(out, neighbor{ns[i].id, sum / float64(j-i)})
			i = j
		}

		f.neighbors[sid] = out
	}
}

// Corpus returns the corpus being repaired.
func (f *Fixer) Corpus() *station.Corpus {
	return f.c
}

// Run evicts dissenting stations, regroups and derives the suggestions.
func (f *Fixer) Run(ctx context.Context) (*Result, error) {
	res := &Result{Evictions: f.Evict()}

	merges, rounds, converged, err := f.Regroup(ctx)
	if err != nil {
		return nil, err
	}

	res.Merges = merges
	res.Rounds = rounds
	res.Converged = converged
	res.Suggestions = f.Suggestions()
	res.AttrErrors = f.AttrErrors()

	f.log.Info("fixed groups",
		zap.Int("evictions", len(res.Evictions)),
		zap.Int("merges", len(res.Merges)),
		zap.Int("rounds", res.Rounds),
		zap.Int("suggestions", len(res.Suggestions)),
	)

	return res, nil
}

// mustCheck panics when group membership became inconsistent.
func (f *Fixer) mustCheck(phase string) {
	if err := f.c.Check(); err != nil {
		panic(eris.Wrapf(err, "fixer: corpus inconsistent after %s", phase))
	}
}

// Evict moves every station that conflicts with at least half of its
// group into a new singleton group. All decisions are taken before the
// first station moves.
func (f *Fixer) Evict() []Eviction {
	conflicts := map[int]map[int]float64{}

	add := func(a, b int, conf float64) {
		m := conflicts[a]
		if m == nil {
			m = map[int]float64{}
			conflicts[a] = m
		}

		m[b] = max(m[b], conf)
	}

	for r, p := range f.pairs {
		pNo := f.proba[r][0]
		if !p.Match || pNo <= f.opts.MinConfidence {
			continue
		}

		if p.A == p.B || !f.real(p.A) || !f.real(p.B) {
			continue
		}

		s1, s2 := &f.c.Stations[p.A], &f.c.Stations[p.B]
		if s1.GroupID != s2.GroupID || s1.IsAltName() != s2.IsAltName() {
			continue
		}

		add(p.A, p.B, pNo)
		add(p.B, p.A, pNo)
	}

	var removes []int

	for sid, m := range conflicts {
		gid := f.c.Stations[sid].GroupID

		size := len(f.c.Groups[gid].Stations)
		if gid < len(f.origSize) {
			size = max(size, f.origSize[gid])
		}

		if 2*len(m) < size {
			continue
		}

		sum := 0.0
		for _, conf := range m {
			sum += conf
		}

		f.evicted[sid] = &evidence{conf: sum / float64(len(m)), conflicts: m}
		removes = append(removes, sid)
	}

	slices.Sort(removes)

	out := make([]Eviction, 0, len(removes))

	for _, sid := range removes {
		st := &f.c.Stations[sid]
		from := st.GroupID
		to := f.c.Evict(sid)
		ev := f.evicted[sid]

		f.log.Debug("evicted station",
			zap.Int("station", sid),
			zap.String("name", st.Name),
			zap.Int("from", from),
			zap.Int("to", to),
			zap.Float64("confidence", ev.conf),
		)

		out = append(out, Eviction{
			Station:    sid,
			NodeID:     st.NodeID,
			Name:       st.Name,
			FromGroup:  from,
			ToGroup:    to,
			Confidence: ev.conf,
			Conflicts:  conflictList(ev.conflicts),
		})
	}

	f.mustCheck("eviction")

	return out
}

func conflictList(m map[int]float64) []Conflict {
	out := make([]Conflict, 0, len(m))
	for sid, conf := range m {
		out = append(out, Conflict{Station: sid, Confidence: conf})
	}

	slices.SortFunc(out, func(a, b Conflict) int { return cmp.Compare(a.Station, b.Station) })

	return out
}

// excluded reports whether gid never takes part in a merge: singleton
// orphans holding a track number or a synonym inherited from a group.
func (f *Fixer) excluded(gid int) bool {
	if !f.c.IsSingletonOrphan(gid) {
		return false
	}

	sid := f.c.Groups[gid].Stations[0]

	return f.track[sid] || f.c.Stations[sid].Src == station.SrcGroup
}

type proposal struct {
	from, to int
	score    float64
}

// candidate returns the best merge candidate of gid.
func (f *Fixer) candidate(gid int) (proposal, bool) {
	g := &f.c.Groups[gid]
	if len(g.Stations) == 0 || f.excluded(gid) {
		return proposal{}, false
	}

	scores := map[int]float64{}

	for _, sid1 := range g.Stations {
		for _, n := range f.neighbors[sid1] {
			gid2 := f.c.Stations[n.id].GroupID
			if gid2 == gid || f.excluded(gid2) {
				continue
			}

			scores[gid2] += n.p
		}
	}

	best := proposal{from: gid, to: -1}

	for gid2, s := range scores {
		s /= float64(len(g.Stations) * len(f.c.Groups[gid2].Stations))
		if s > best.score || (s == best.score && gid2 < best.to) {
			best.to, best.score = gid2, s
		}
	}

	return best, best.to >= 0 && best.score > f.opts.MinConfidence
}

// proposals scores every group concurrently. The corpus is not modified
// while they run.
func (f *Fixer) proposals(ctx context.Context) ([]proposal, error) {
	n := len(f.c.Groups)
	found := make([]proposal, n)
	ok := make([]bool, n)

	chunk := max(1, (n+f.opts.Workers-1)/f.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)

	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			for gid := lo; gid < hi; gid++ {
				found[gid], ok[gid] = f.candidate(gid)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "fixer: scoring merge candidates")
	}

	var out []proposal

	for gid := range found {
		if ok[gid] {
			out = append(out, found[gid])
		}
	}

	slices.SortStableFunc(out, func(a, b proposal) int { return cmp.Compare(b.score, a.score) })

	return out, nil
}

// step runs one regroup round and returns the merges it applied.
func (f *Fixer) step(ctx context.Context, round int) ([]Merge, error) {
	props, err := f.proposals(ctx)
	if err != nil {
		return nil, err
	}

	tainted := map[int]bool{}

	var merges []Merge

	for _, p := range props {
		if tainted[p.from] || tainted[p.to] {
			continue
		}

		master, minor := f.c.Merge(p.from, p.to)

		tainted[p.from] = true
		tainted[p.to] = true

		merges = append(merges, Merge{
			Round:      round,
			Master:     master,
			Minor:      minor,
			Confidence: p.score,
		})
	}

	return merges, nil
}

// Regroup merges groups until a round changes nothing or MaxRounds is
// reached. It returns the merges, the number of rounds run and whether a
// fixed point was reached.
func (f *Fixer) Regroup(ctx context.Context) ([]Merge, int, bool, error) {
	var all []Merge

	for round := 1; round <= f.opts.MaxRounds; round++ {
		merges, err := f.step(ctx, round)
		if err != nil {
			return nil, round, false, err
		}

		f.mustCheck("merge")

		if len(merges) == 0 {
			return all, round, true, nil
		}

		f.log.Info("regroup round", zap.Int("round", round), zap.Int("merges", len(merges)))

		all = append(all, merges...)
	}

	f.log.Warn("regrouping did not converge",
		zap.Int("max_rounds", f.opts.MaxRounds),
		zap.Int("merges", len(all)),
	)

	return all, f.opts.MaxRounds, false, nil
}

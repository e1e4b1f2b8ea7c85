// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jcodagnone/statsimi/station"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// IsTrackNumber reports whether a name looks like a platform or track
// number, a common tagging mistake ("3", "Gleis 3", "Bahnsteig B").
func IsTrackNumber(name string) bool {
	switch utf8.RuneCountInString(name) {
	case 0:
		return false
	case 1:
		return true
	}

	tokens := nonWord.Split(name, -1)
	if len(tokens) >= 3 {
		return false
	}

	last := tokens[len(tokens)-1]
	if utf8.RuneCountInString(last) == 1 || isNumeric(last) {
		return true
	}

	return strings.ContainsFunc(last, unicode.IsDigit)
}

func isNumeric(s string) bool {
	return s != "" && !strings.ContainsFunc(s, func(r rune) bool { return !unicode.IsNumber(r) })
}

// node is a source node with its name stations.
type node struct {
	id       int64
	stations []int
}

// nodes returns the source nodes with at least one name attribute, in
// order of first appearance.
func (f *Fixer) nodes() []node {
	index := map[int64]int{}

	var out []node

	for sid := range f.c.Stations {
		st := &f.c.Stations[sid]
		if st.Src != station.SrcAttr {
			continue
		}

		i, ok := index[st.NodeID]
		if !ok {
			i = len(out)
			index[st.NodeID] = i
			out = append(out, node{id: st.NodeID})
		}

		out[i].stations = append(out[i].stations, sid)
	}

	return out
}

// Suggestions proposes moving source nodes whose name stations mostly
// ended up in a group other than their original one.
func (f *Fixer) Suggestions() []Suggestion {
	var out []Suggestion

	for _, n := range f.nodes() {
		counts := map[int]int{}
		for _, sid := range n.stations {
			counts[f.c.Stations[sid].GroupID]++
		}

		target, best := -1, 0
		for gid, cnt := range counts {
			if cnt > best || (cnt == best && gid < target) {
				target, best = gid, cnt
			}
		}

		if 2*best <= len(n.stations) {
			continue
		}

		orig := f.c.Stations[n.stations[0]].OrigGroupID
		if target == orig {
			continue
		}

		kind, ok := f.suggestionKind(orig, target)
		if !ok {
			continue
		}

		out = append(out, Suggestion{
			NodeID:    n.id,
			Kind:      kind,
			FromGroup: orig,
			ToGroup:   target,
			FromRelID: f.origRel[orig],
			ToRelID:   f.c.Groups[target].RelID,
		})
	}

	return out
}

func (f *Fixer) suggestionKind(orig, target int) (SuggestionKind, bool) {
	origRel, origMeta := f.origRel[orig], f.origMeta[orig]
	tg := &f.c.Groups[target]

	switch {
	case tg.RelID == station.SyntheticRelID:
		return NewRelation, true
	case tg.IsOrphan() && origRel != 0:
		return MoveOutOfRelation, true
	case tg.IsOrphan():
		return "", false
	case origRel == 0:
		return MoveIntoRelation, true
	case origMeta != 0 && tg.MetaID == origMeta:
		// both relations belong to the same stop area group
		return "", false
	default:
		return MoveBetweenRelations, true
	}
}

// AttrErrors reports name attributes that were evicted from their group:
// node attributes individually, and relation attributes when at least
// half of their stations were evicted into orphan groups.
func (f *Fixer) AttrErrors() []AttrError {
	var out []AttrError

	for _, n := range f.nodes() {
		for _, sid := range n.stations {
			st := &f.c.Stations[sid]

			ev, ok := f.evicted[sid]
			if !ok || st.GroupID == st.OrigGroupID {
				continue
			}

			out = append(out, AttrError{
				NodeID:      n.id,
				Attr:        st.NameAttr,
				Name:        st.Name,
				Group:       st.GroupID,
				Confidence:  ev.conf,
				Conflicts:   f.nodeConflicts(ev.conflicts),
				TrackNumber: f.c.IsSingletonOrphan(st.GroupID) && f.track[sid],
			})
		}
	}

	return append(out, f.relationAttrErrors()...)
}

// nodeConflicts lists the conflicts of a node attribute. Names inherited
// from a relation count once per group and attribute, with the mean
// confidence, and are listed after the node's own names.
func (f *Fixer) nodeConflicts(m map[int]float64) []Conflict {
	type attrKey struct {
		gid  int
		attr string
	}

	type agg struct {
		sid   int
		sum   float64
		count int
	}

	var (
		out  []Conflict
		keys []attrKey
	)

	inherited := map[attrKey]*agg{}

	for _, c := range conflictList(m) {
		other := &f.c.Stations[c.Station]
		if other.Src != station.SrcGroup {
			out = append(out, c)

			continue
		}

		// no reports against relation names that left their group
		if rel := f.c.Groups[other.GroupID].RelID; rel == 0 || rel == station.SyntheticRelID {
			continue
		}

		k := attrKey{other.GroupID, other.NameAttr}
		a, ok := inherited[k]
		if !ok {
			a = &agg{sid: c.Station}
			inherited[k] = a
			keys = append(keys, k)
		}

		a.sum += c.Confidence
		a.count++
	}

	for _, k := range keys {
		a := inherited[k]
		out = append(out, Conflict{Station: a.sid, Confidence: a.sum / float64(a.count)})
	}

	return out
}

func (f *Fixer) relationAttrErrors() []AttrError {
	type attrKey struct {
		gid  int
		attr string
	}

	byAttr := map[attrKey][]int{}

	var keys []attrKey

	for sid := range f.c.Stations {
		st := &f.c.Stations[sid]
		if st.Src != station.SrcGroup || st.OrigGroupID >= len(f.origRel) || f.origRel[st.OrigGroupID] == 0 {
			continue
		}

		k := attrKey{st.OrigGroupID, st.NameAttr}
		if _, ok := byAttr[k]; !ok {
			keys = append(keys, k)
		}

		byAttr[k] = append(byAttr[k], sid)
	}

	var out []AttrError

	for _, k := range keys {
		sids := byAttr[k]
		dismatches, conf := 0, 0.0
		sums, counts := map[int]float64{}, map[int]int{}

		for _, sid := range sids {
			st := &f.c.Stations[sid]

			ev, ok := f.evicted[sid]
			if !ok || st.GroupID == k.gid || !f.c.Groups[st.GroupID].IsOrphan() {
				continue
			}

			dismatches++
			conf += ev.conf

			for other, c := range ev.conflicts {
				sums[other] += c
				counts[other]++
			}
		}

		if dismatches == 0 || 2*dismatches < len(sids) {
			continue
		}

		conflicts := make([]Conflict, 0, len(sums))
		for other, s := range sums {
			conflicts = append(conflicts, Conflict{Station: other, Confidence: s / float64(counts[other])})
		}

		slices.SortFunc(conflicts, func(a, b Conflict) int { return a.Station - b.Station })

		out = append(out, AttrError{
			RelID:      f.origRel[k.gid],
			Attr:       k.attr,
			Name:       f.c.Stations[sids[0]].Name,
			Group:      k.gid,
			Confidence: conf / float64(dismatches),
			Conflicts:  conflicts,
		})
	}

	return out
}

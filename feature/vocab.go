// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package feature

import (
	"slices"

	"github.com/jcodagnone/statsimi/simi"
)

// Vocabulary is the ranked list of the most frequent n-grams. The rank of
// a gram is its column offset in the n-gram part of a row.
type Vocabulary struct {
	N     int      `json:"n"`
	Grams []string `json:"grams"`
	Count []int    `json:"count"`

	rank map[string]int
}

// BuildVocabulary counts every n-gram occurrence over names and keeps the
// k most frequent. Ties keep the order of first occurrence.
func BuildVocabulary(names []string, n, k int) *Vocabulary {
	index := map[string]int{}

	var (
		grams  []string
		counts []int
	)

	for _, name := range names {
		for _, g := range simi.NGrams(name, n) {
			id, ok := index[g]
			if !ok {
				id = len(grams)
				index[g] = id
				grams = append(grams, g)
				counts = append(counts, 0)
			}

			counts[id]++
		}
	}

	order := make([]int, len(grams))
	for i := range order {
		order[i] = i
	}

	slices.SortStableFunc(order, func(a, b int) int {
		return counts[b] - counts[a]
	})

	if len(order) > k {
		order = order[:k]
	}

	v := &Vocabulary{N: n, Grams: make([]string, len(order)), Count: make([]int, len(order))}
	for rank, id := range order {
		v.Grams[rank] = grams[id]
		v.Count[rank] = counts[id]
	}

	v.index()

	return v
}

// index builds the gram to rank lookup. It must run before the
// vocabulary is shared between goroutines.
func (v *Vocabulary) index() {
	v.rank = make(map[string]int, len(v.Grams))
	for i, gram := range v.Grams {
		v.rank[gram] = i
	}
}

// Len returns the number of grams in the vocabulary.
func (v *Vocabulary) Len() int {
	return len(v.Grams)
}

// Rank returns the rank of gram g.
func (v *Vocabulary) Rank(g string) (int, bool) {
	r, ok := v.rank[g]

	return r, ok
}

// gramCount is the number of occurrences of the gram with a given rank.
type gramCount struct {
	rank  int
	count int
}

// profile is the per-station data the row encoder needs.
type profile struct {
	name     string
	origName string
	grams    []string    // sorted, unique
	top      []gramCount // sorted by rank
}

func newProfile(name, origName string, v *Vocabulary) profile {
	all := simi.NGrams(name, v.N)

	counts := map[int]int{}
	for _, g := range all {
		if r, ok := v.Rank(g); ok {
			counts[r]++
		}
	}

	top := make([]gramCount, 0, len(counts))
	for r, c := range counts {
		top = append(top, gramCount{rank: r, count: c})
	}

	slices.SortFunc(top, func(a, b gramCount) int { return a.rank - b.rank })

	grams := slices.Clone(all)
	slices.Sort(grams)

	return profile{
		name:     name,
		origName: origName,
		grams:    slices.Compact(grams),
		top:      top,
	}
}

// missingGrams is the size of the symmetric difference of two sorted gram
// sets.
func missingGrams(a, b []string) int {
	i, j, n := 0, 0, 0

	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			i++
			j++
		case a[i] < b[j]:
			n++
			i++
		default:
			n++
			j++
		}
	}

	return n + len(a) - i + len(b) - j
}

// diffMerge walks two rank-sorted lists and calls fn with the signed count
// difference for every rank present in either list.
func diffMerge(a, b []gramCount, fn func(rank, diff int)) {
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		switch {
		case a[i].rank == b[j].rank:
			fn(a[i].rank, a[i].count-b[j].count)
			i++
			j++
		case a[i].rank < b[j].rank:
			fn(a[i].rank, a[i].count)
			i++
		default:
			fn(b[j].rank, -b[j].count)
			j++
		}
	}

	for ; i < len(a); i++ {
		fn(a[i].rank, a[i].count)
	}

	for ; j < len(b); j++ {
		fn(b[j].rank, -b[j].count)
	}
}

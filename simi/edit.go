// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package simi implements the string similarity measures used to compare
// station names. All functions work on Unicode code points.
package simi

// ED returns the Levenshtein distance between a and b.
func ED(a, b string) int {
	return ed([]rune(a), []rune(b))
}

func ed(s, t []rune) int {
	if len(s) == 0 {
		return len(t)
	}

	column := make([]int, len(s)+1)
	for y := range column {
		column[y] = y
	}

	for x := 1; x <= len(t); x++ {
		column[0] = x
		lastdiag := x - 1

		for y := 1; y <= len(s); y++ {
			olddiag := column[y]
			cost := 1

			if s[y-1] == t[x-1] {
				cost = 0
			}

			column[y] = min(column[y]+1, column[y-1]+1, lastdiag+cost)
			lastdiag = olddiag
		}
	}

	return column[len(s)]
}

// PED returns the prefix edit distance: the smallest edit distance between
// a and any prefix of b.
func PED(a, b string) int {
	return affixED([]rune(a), []rune(b), false)
}

// SED returns the suffix edit distance: the smallest edit distance between
// a and any suffix of b.
func SED(a, b string) int {
	return affixED([]rune(a), []rune(b), true)
}

// affixED fills the edit distance table of a against growing prefixes (or
// suffixes, when reversed) of b and keeps the best final column value.
func affixED(a, b []rune, reversed bool) int {
	at := func(s []rune, i int) rune {
		if reversed {
			return s[len(s)-1-i]
		}

		return s[i]
	}

	prev := make([]int, len(a)+1)
	cur := make([]int, len(a)+1)

	for y := range prev {
		prev[y] = y
	}

	best := prev[len(a)]

	for x := 1; x <= len(b); x++ {
		cur[0] = x

		for y := 1; y <= len(a); y++ {
			cost := 1
			if at(a, y-1) == at(b, x-1) {
				cost = 0
			}

			cur[y] = min(prev[y]+1, cur[y-1]+1, prev[y-1]+cost)
		}

		best = min(best, cur[len(a)])
		prev, cur = cur, prev
	}

	return best
}

// LevSimi is the edit distance normalized to a similarity in [0, 1].
func LevSimi(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)

	n := max(len(ra), len(rb))
	if n == 0 {
		return 1
	}

	return 1 - float64(ed(ra, rb))/float64(n)
}

// PEDSimi is 1 - PED(a, b)/len(a).
func PEDSimi(a, b string) float64 {
	return affixSimi(a, b, false)
}

// SEDSimi is 1 - SED(a, b)/len(a).
func SEDSimi(a, b string) float64 {
	return affixSimi(a, b, true)
}

func affixSimi(a, b string, reversed bool) float64 {
	ra := []rune(a)
	if len(ra) == 0 {
		return 0
	}

	return 1 - float64(affixED(ra, []rune(b), reversed))/float64(len(ra))
}

// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package simi

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// maxBTSTokens bounds the token sets BTS enumerates permutations for.
// Longer names fall back to plain LevSimi.
const maxBTSTokens = 10

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

func wordSet(s string) map[string]struct{} {
	set := map[string]struct{}{}

	for _, tok := range nonWord.Split(s, -1) {
		if tok != "" {
			set[tok] = struct{}{}
		}
	}

	return set
}

// Jaccard returns the Jaccard index of the word sets of a and b. Words are
// maximal runs of letters, digits and underscores.
func Jaccard(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)

	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}

	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}

	return float64(inter) / float64(union)
}

// NGrams returns the n-grams of s padded with one space on either side, so
// that a short token such as "S" in "S Bahn" yields the gram " S ".
func NGrams(s string, n int) []string {
	r := []rune(" " + s + " ")
	if n <= 0 || len(r) < n {
		return nil
	}

	out := make([]string, 0, len(r)-n+1)
	for i := 0; i+n <= len(r); i++ {
		out = append(out, string(r[i:i+n]))
	}

	return out
}

func tokenSet(s string) []string {
	toks := strings.FieldsFunc(s, unicode.IsSpace)
	slices.Sort(toks)

	return slices.Compact(toks)
}

// BTS is the best token subset similarity: the highest LevSimi between one
// string and any ordering of any subset of the other string's tokens,
// tried in both directions.
func BTS(a, b string) float64 {
	if a == b {
		return 1
	}

	ta, tb := tokenSet(a), tokenSet(b)

	if len(ta) == 1 && len(tb) == 1 {
		return LevSimi(a, b)
	}

	if len(ta) > len(tb) {
		ta, tb = tb, ta
		a, b = b, a
	}

	best := LevSimi(a, b)
	if best == 0 || len(tb) > maxBTSTokens {
		return best
	}

	best = btsInner(ta, b, best)
	if best == 1 {
		return 1
	}

	return btsInner(tb, a, best)
}

func btsInner(tokens []string, b string, best float64) float64 {
	bl := len([]rune(b))

	for size := 1; size <= len(tokens); size++ {
		done := false

		combinations(tokens, size, func(subset []string) bool {
			// the edit distance is bounded below by the length difference
			l := len([]rune(strings.Join(subset, " ")))
			if 1-float64(abs(l-bl))/float64(max(l, bl)) <= best {
				return true
			}

			permutations(subset, func(perm []string) bool {
				d := LevSimi(strings.Join(perm, " "), b)
				if d == 1 {
					best = 1
					done = true

					return false
				}

				best = max(best, d)

				return true
			})

			return !done
		})

		if done {
			return 1
		}
	}

	return best
}

// combinations calls fn with every size-k subset of items, in order.
// Enumeration stops when fn returns false.
func combinations(items []string, k int, fn func([]string) bool) {
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}

	buf := make([]string, k)

	for {
		for i, j := range idx {
			buf[i] = items[j]
		}

		if !fn(buf) {
			return
		}

		i := k - 1
		for i >= 0 && idx[i] == len(items)-k+i {
			i--
		}

		if i < 0 {
			return
		}

		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// permutations calls fn with every ordering of items (Heap's algorithm).
// Enumeration stops when fn returns false.
func permutations(items []string, fn func([]string) bool) {
	p := slices.Clone(items)
	c := make([]int, len(p))

	if !fn(p) {
		return
	}

	for i := 0; i < len(p); {
		if c[i] < i {
			if i%2 == 0 {
				p[0], p[i] = p[i], p[0]
			} else {
				p[c[i]], p[i] = p[i], p[c[i]]
			}

			if !fn(p) {
				return
			}

			c[i]++
			i = 0
		} else {
			c[i] = 0
			i++
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}

	return x
}

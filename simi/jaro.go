// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package simi

const (
	winklerPrefix = 4
	winklerScale  = 0.1
)

// Jaro returns the Jaro similarity of a and b.
func Jaro(a, b string) float64 {
	return jaro([]rune(a), []rune(b))
}

func jaro(s, t []rune) float64 {
	if len(s) == 0 {
		if len(t) == 0 {
			return 1
		}

		return 0
	}

	window := max(max(len(s), len(t))/2-1, 0)

	sMatches := make([]bool, len(s))
	tMatches := make([]bool, len(t))
	matches := 0

	for i := range s {
		start := max(0, i-window)
		end := min(i+window+1, len(t))

		for k := start; k < end; k++ {
			if tMatches[k] || s[i] != t[k] {
				continue
			}

			sMatches[i] = true
			tMatches[k] = true
			matches++

			break
		}
	}

	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0

	for i := range s {
		if !sMatches[i] {
			continue
		}

		for !tMatches[k] {
			k++
		}

		if s[i] != t[k] {
			transpositions++
		}

		k++
	}

	m := float64(matches)

	return (m/float64(len(s)) + m/float64(len(t)) + (m-float64(transpositions)/2)/m) / 3
}

// JaroWinkler boosts the Jaro similarity by the length of the common
// prefix, up to four code points.
func JaroWinkler(a, b string) float64 {
	s, t := []rune(a), []rune(b)

	l := 0
	for l < min(len(s), len(t), winklerPrefix) && s[l] == t[l] {
		l++
	}

	j := jaro(s, t)

	return j + float64(l)*winklerScale*(1-j)
}

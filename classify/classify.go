// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package classify has the classifier contract used by the fixer and a
// set of untrained baselines over single feature columns.
package classify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/rotisserie/eris"
)

// Features is the read side of a feature matrix.
type Features interface {
	Rows() int
	Value(r, c int) uint8
}

// Classifier is a binary classifier over feature rows. PredictProba
// returns [p_no_match, p_match] for every row.
type Classifier interface {
	Fit(ctx context.Context, X Features, y []bool) error
	PredictProba(ctx context.Context, X Features) ([][2]float64, error)
}

// Indexer maps a feature name to its column. *feature.Builder is one.
type Indexer interface {
	FeatureIndex(name string) (int, bool)
}

// Params are the thresholds of the baselines.
type Params struct {
	// GeoDistThreshold is the distance in meters with a match
	// probability of 0.5.
	GeoDistThreshold float64 `mapstructure:"geodist_threshold"`
	// SimiThreshold is the similarity with a match probability of 0.5.
	SimiThreshold float64 `mapstructure:"simi_threshold"`
}

// DefaultParams returns the baseline thresholds.
func DefaultParams() Params {
	return Params{GeoDistThreshold: 20, SimiThreshold: 0.7}
}

const stringEqEpsilon = 0.0001

// methods maps a method name to the features it reads.
var methods = map[string][]string{
	"geodist":      {feature.GeoDist},
	"editdist":     {feature.LevSimi},
	"stringeq":     {feature.LevSimi},
	"ped":          {feature.PEDSimiFw, feature.PEDSimiBw},
	"sed":          {feature.SEDSimiFw, feature.SEDSimiBw},
	"jaccard":      {feature.JaccardSimi},
	"bts":          {feature.BTSSimi},
	"jaro":         {feature.JaroSimi},
	"jaro_winkler": {feature.JaroWinklerSimi},
}

func splitMethods(list string) ([]string, error) {
	var out []string

	for _, m := range strings.Split(list, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}

		if _, ok := methods[m]; !ok {
			return nil, &feature.ConfigError{
				Kind:    feature.ErrorKindUnknownMethod,
				Message: fmt.Sprintf("unknown method %q", m),
			}
		}

		out = append(out, m)
	}

	if len(out) == 0 {
		return nil, &feature.ConfigError{
			Kind:    feature.ErrorKindUnknownMethod,
			Message: "no classification method given",
		}
	}

	return out, nil
}

// FeaturesFor returns the encoder features a comma separated method list
// needs, without duplicates.
func FeaturesFor(list string) ([]string, error) {
	ms, err := splitMethods(list)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}

	var out []string

	for _, m := range ms {
		for _, f := range methods[m] {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}

	return out, nil
}

// New builds the classifier for a comma separated method list. More than
// one method yields a SoftVote over them.
func New(list string, idx Indexer, p Params) (Classifier, error) {
	ms, err := splitMethods(list)
	if err != nil {
		return nil, err
	}

	members := make([]Classifier, 0, len(ms))

	for _, m := range ms {
		cols := make([]int, 0, len(methods[m]))

		for _, f := range methods[m] {
			c, ok := idx.FeatureIndex(f)
			if !ok {
				return nil, &feature.ConfigError{
					Kind:    feature.ErrorKindUnknownFeature,
					Message: fmt.Sprintf("method %q needs feature %q, which is not encoded", m, f),
				}
			}

			cols = append(cols, c)
		}

		switch m {
		case "geodist":
			members = append(members, &GeoDist{Col: cols[0], Threshold: p.GeoDistThreshold})
		case "stringeq":
			members = append(members, &Threshold{Cols: cols, T: 1 - stringEqEpsilon})
		default:
			members = append(members, &Threshold{Cols: cols, T: p.SimiThreshold})
		}
	}

	if len(members) == 1 {
		return members[0], nil
	}

	return &SoftVote{Members: members}, nil
}

// Predict returns true for every row whose match probability is the
// larger one.
func Predict(ctx context.Context, c Classifier, X Features) ([]bool, error) {
	proba, err := c.PredictProba(ctx, X)
	if err != nil {
		return nil, err
	}

	out := make([]bool, len(proba))
	for i, p := range proba {
		out[i] = p[1] > p[0]
	}

	return out, nil
}

// rowCheck is the row interval between context checks.
const rowCheck = 4096

func predictRows(ctx context.Context, X Features, fn func(r int) float64) ([][2]float64, error) {
	out := make([][2]float64, X.Rows())

	for r := range out {
		if r%rowCheck == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eris.Wrap(err, "classify: predicting")
			}
		}

		p := fn(r)
		out[r] = [2]float64{1 - p, p}
	}

	return out, nil
}

// GeoDist assumes exponentially distributed distances between the
// members of a group, with the median at Threshold meters.
type GeoDist struct {
	Col       int
	Threshold float64
}

// Fit does nothing.
func (g *GeoDist) Fit(context.Context, Features, []bool) error {
	return nil
}

// PredictProba implements Classifier.
func (g *GeoDist) PredictProba(ctx context.Context, X Features) ([][2]float64, error) {
	lambda := math.Ln2 / g.Threshold

	return predictRows(ctx, X, func(r int) float64 {
		// the column is in units of 4 meters
		return math.Exp(-lambda * 4 * float64(X.Value(r, g.Col)))
	})
}

// Threshold maps a similarity column piecewise linearly to a probability,
// with 0.5 at T. With several columns the largest value is used.
type Threshold struct {
	Cols []int
	T    float64
}

// Fit does nothing.
func (t *Threshold) Fit(context.Context, Features, []bool) error {
	return nil
}

// PredictProba implements Classifier.
func (t *Threshold) PredictProba(ctx context.Context, X Features) ([][2]float64, error) {
	return predictRows(ctx, X, func(r int) float64 {
		var v uint8
		for _, c := range t.Cols {
			v = max(v, X.Value(r, c))
		}

		return t.prob(float64(v) / 255)
	})
}

func (t *Threshold) prob(s float64) float64 {
	if s > t.T {
		return 0.5 + (s-t.T)/(2*(1-t.T))
	}

	return s / (2 * t.T)
}

// SoftVote averages the probabilities of its members.
type SoftVote struct {
	Members []Classifier
}

// Fit fits every member.
func (v *SoftVote) Fit(ctx context.Context, X Features, y []bool) error {
	for _, m := range v.Members {
		if err := m.Fit(ctx, X, y); err != nil {
			return err
		}
	}

	return nil
}

// PredictProba implements Classifier.
func (v *SoftVote) PredictProba(ctx context.Context, X Features) ([][2]float64, error) {
	out := make([][2]float64, X.Rows())

	for _, m := range v.Members {
		p, err := m.PredictProba(ctx, X)
		if err != nil {
			return nil, err
		}

		for r := range out {
			out[r][0] += p[r][0]
			out[r][1] += p[r][1]
		}
	}

	n := float64(len(v.Members))
	for r := range out {
		out[r][0] /= n
		out[r][1] /= n
	}

	return out, nil
}

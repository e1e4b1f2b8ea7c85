// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/impo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func addFeatureFlags(fs *pflag.FlagSet) {
	def := feature.DefaultOptions()
	fs.StringSlice("features", def.Features, "features to encode, in any order")
	fs.Float64("cutoff", def.Cutoff, "distance in meters beyond which stations never match")
	fs.Int("top-k", def.TopK, "number of n-gram columns")
	fs.Float64("spice", def.Spice, "probability of adding jittered hard negatives for a station")
	fs.Bool("force-orphans", def.ForceOrphans, "also build negative pairs from and to orphan groups")
	fs.Bool("clean", def.CleanData, "drop near-duplicate negatives and skip groups with far apart members")
	fs.Uint64("seed", def.Seed, "random seed, 0 for a random one")
	fs.Int("workers", def.Workers, "concurrent encoders")
	fs.String("temp-dir", def.TempDir, "directory of the matrix files")
}

// featureOptions returns the configured builder options, with extra
// features enabled.
func featureOptions(extra ...string) feature.Options {
	opts := cfg.Features
	opts.Logger = zap.L()

	for _, f := range extra {
		if !slices.Contains(opts.Features, f) {
			opts.Features = append(opts.Features, f)
		}
	}

	return opts
}

// buildMatrix encodes the loaded inputs: the candidate pairs of a corpus,
// or the labelled pairs of pairs files.
func buildMatrix(ctx context.Context, in *impo.Inputs, opts feature.Options) (*feature.Builder, *feature.Matrix, error) {
	b, err := feature.NewBuilder(opts)
	if err != nil {
		return nil, nil, err
	}

	var m *feature.Matrix
	if in.Type == impo.TypePairs {
		m, err = b.BuildFromPairs(ctx, in.Corpus.Stations, in.Pairs)
	} else {
		m, err = b.Build(ctx, in.Corpus)
	}

	if err != nil {
		return nil, nil, err
	}

	return b, m, nil
}

func printStats(w io.Writer, b *feature.Builder, m *feature.Matrix) {
	st := b.Stats()
	rows := []struct {
		k string
		v string
	}{
		{"Rows", fmt.Sprint(m.Rows())},
		{"Columns", fmt.Sprint(m.Cols())},
		{"Non-zero values", fmt.Sprint(m.NNZ())},
		{"Features", strings.Join(b.Features(), ", ")},
		{"N-gram columns", fmt.Sprint(b.Vocabulary().Len())},
		{"Stations", fmt.Sprint(st.Stations)},
		{"Groups", fmt.Sprint(st.Groups)},
		{"Positive pairs", fmt.Sprint(st.Positives)},
		{"Negative pairs", fmt.Sprint(st.Negatives)},
		{"Spiced pairs", fmt.Sprint(st.Spiced)},
		{"Suspicious groups", fmt.Sprint(st.SuspiciousGroups)},
		{"Mean positive dist", fmt.Sprintf("%.1f m", st.MeanPosDist)},
		{"Median positive dist", fmt.Sprintf("%.1f m", st.MedianPosDist)},
		{"Mean group size", fmt.Sprintf("%.2f", st.MeanGroupSize)},
	}

	a, c := strings.Repeat("─", 20), strings.Repeat("─", 40)
	fmt.Fprintf(w, "╭─%-20s─┬─%-40s─╮\n", a, c)

	for _, r := range rows {
		fmt.Fprintf(w, "│ %-20s │ %-40s │\n", r.k, r.v)
	}

	fmt.Fprintf(w, "╰─%-20s─┴─%-40s─╯\n", a, c)
}

var featuresCmd = &cobra.Command{
	Use:   "features <input>...",
	Short: "Builds the feature matrix of the inputs and prints its shape",
	Long: `
Builds the feature matrix of station corpora (JSON) or of labelled pairs
files (tab separated). Corpora and pairs files cannot be mixed.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := impo.LoadInputs(args)
		if err != nil {
			return err
		}

		b, m, err := buildMatrix(cmd.Context(), in, featureOptions())
		if err != nil {
			return err
		}
		defer m.Close()

		printStats(cmd.OutOrStdout(), b, m)

		return nil
	},
}

func init() {
	addFeatureFlags(featuresCmd.Flags())
	rootCmd.AddCommand(featuresCmd)
}

// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/spatial"
	"github.com/jcodagnone/statsimi/station"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func parseStation(name, lat, lon string) (station.Station, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return station.Station{}, eris.Wrapf(err, "latitude of %q", name)
	}

	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return station.Station{}, eris.Wrapf(err, "longitude of %q", name)
	}

	return station.Station{
		Name:     name,
		OrigName: name,
		NameAttr: "name",
		Geom:     spatial.NewPoint(la, lo),
		Src:      station.SrcAttr,
	}, nil
}

// columnNames names the columns of a row of b, n-gram columns included.
func columnNames(b *feature.Builder, numPosPairs int) []string {
	names := b.Features()
	for i := range numPosPairs {
		names = append(names, fmt.Sprintf("tile_x_%d", i), fmt.Sprintf("tile_y_%d", i))
	}

	for _, g := range b.Vocabulary().Grams {
		names = append(names, strconv.Quote(g))
	}

	return names
}

var compareCmd = &cobra.Command{
	Use:   "compare <name> <lat> <lon> <name> <lat> <lon>",
	Short: "Prints the feature vector of a pair of stations",
	Long: `
Prints every feature of a pair of stations. N-gram columns are built from
the two names and only the non-zero ones are listed; 255 stands for -1.
`,
	Args: cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		s1, err := parseStation(args[0], args[1], args[2])
		if err != nil {
			return err
		}

		s2, err := parseStation(args[3], args[4], args[5])
		if err != nil {
			return err
		}

		opts := featureOptions(feature.Names...)
		opts.Vocabulary = feature.BuildVocabulary([]string{s1.Name, s2.Name}, opts.NGram, opts.TopK)

		b, err := feature.NewBuilder(opts)
		if err != nil {
			return err
		}

		vec := b.FeatureVec(&s1, &s2)
		names := columnNames(b, opts.NumPosPairs)
		numeric := len(b.Features()) + 2*opts.NumPosPairs

		for i, v := range vec {
			if i < numeric || v != 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %3d\n", names[i], v)
			}
		}

		return nil
	},
}

func init() {
	addFeatureFlags(compareCmd.Flags())
	rootCmd.AddCommand(compareCmd)
}

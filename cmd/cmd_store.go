// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/impo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var storeOptions struct {
	Res int
	Top int
}

var storeCmd = &cobra.Command{
	Use:   "store <corpus.json>...",
	Short: "Imports station corpora into DuckDB",
	Long: `
Imports one or more station corpora into a DuckDB file under a run name,
replacing an earlier import with the same name, and prints the h3 cells
holding the most stations.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.Path == "" {
			return &feature.ConfigError{Kind: feature.ErrorKindInvalidOption, Message: "--db is required"}
		}

		in, err := impo.LoadInputs(args)
		if err != nil {
			return err
		}

		db, repo, err := openRepository(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repo.SaveCorpus(cfg.Store.Run, in.Corpus); err != nil {
			return err
		}

		zap.L().Info("stored corpus",
			zap.String("run", cfg.Store.Run),
			zap.Int("stations", len(in.Corpus.Stations)),
			zap.Int("groups", len(in.Corpus.Groups)),
		)

		counts, err := repo.CellCounts(cfg.Store.Run, storeOptions.Res)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		a, b := strings.Repeat("─", 16), strings.Repeat("─", 8)
		fmt.Fprintf(w, "╭─%s─┬─%s─╮\n", a, b)
		fmt.Fprintf(w, "│ %-16s │ %8s │\n", fmt.Sprintf("h3 cell (res %d)", storeOptions.Res), "Stations")
		fmt.Fprintf(w, "├─%s─┼─%s─┤\n", a, b)

		for _, c := range counts[:min(storeOptions.Top, len(counts))] {
			fmt.Fprintf(w, "│ %-16s │ %8d │\n", c.Cell, c.Stations)
		}

		fmt.Fprintf(w, "╰─%s─┴─%s─╯\n", a, b)

		return nil
	},
}

func init() {
	fs := storeCmd.Flags()
	fs.String("db", "", "DuckDB file")
	fs.String("run", "default", "name of the stored run")
	fs.IntVar(&storeOptions.Res, "res", 7, "h3 resolution of the cell summary, 5 to 8")
	fs.IntVar(&storeOptions.Top, "top", 10, "number of cells to print")

	rootCmd.AddCommand(storeCmd)
}

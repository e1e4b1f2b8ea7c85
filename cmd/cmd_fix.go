// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	"github.com/jcodagnone/statsimi/classify"
	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/fixer"
	"github.com/jcodagnone/statsimi/impo"
	"github.com/jcodagnone/statsimi/store"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fixOptions struct {
	Out       string
	Corrected string
}

// openRepository opens the DuckDB file at path and makes sure the schema
// exists.
func openRepository(path string) (*sql.DB, store.Repository, error) {
	db, err := sql.Open("duckdb", filepath.Clean(path))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "opening database %s", path)
	}

	repo := store.NewRepository(db)
	if err := repo.CreateSchema(); err != nil {
		return nil, nil, errors.Join(err, db.Close())
	}

	return db, repo, nil
}

// create opens path for writing; "-" is stdout.
func create(stdout io.Writer, path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{stdout}, nil
	}

	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return nil, eris.Wrapf(err, "creating %s", path)
	}

	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeTo(stdout io.Writer, path string, fn func(io.Writer) error) error {
	w, err := create(stdout, path)
	if err != nil {
		return err
	}

	if err := fn(w); err != nil {
		return errors.Join(err, w.Close())
	}

	return eris.Wrapf(w.Close(), "closing %s", path)
}

var fixCmd = &cobra.Command{
	Use:   "fix <corpus.json>...",
	Short: "Repairs the station groups of a corpus",
	Long: `
Encodes the candidate pairs of a corpus, classifies them with the configured
baseline and repairs the groups: dissenting stations are evicted and
matching orphan groups are merged. The report lists evictions, merges,
suggested edits per source node and suspicious name attributes.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L()

		in, err := impo.LoadInputs(args)
		if err != nil {
			return err
		}

		if in.Type != impo.TypeCorpus {
			return &feature.ConfigError{
				Kind:    feature.ErrorKindMixedInputs,
				Message: "fix needs station corpora, not pairs files",
			}
		}

		feats, err := classify.FeaturesFor(cfg.Classify.Method)
		if err != nil {
			return err
		}

		b, m, err := buildMatrix(ctx, in, featureOptions(feats...))
		if err != nil {
			return err
		}
		defer m.Close()

		clf, err := classify.New(cfg.Classify.Method, b, cfg.Classify.Params)
		if err != nil {
			return err
		}

		if err := clf.Fit(ctx, m, m.Labels()); err != nil {
			return err
		}

		proba, err := clf.PredictProba(ctx, m)
		if err != nil {
			return err
		}

		f, err := fixer.New(in.Corpus, b.Pairs(), proba, cfg.Fixer)
		if err != nil {
			return err
		}

		res, err := f.Run(ctx)
		if err != nil {
			return err
		}

		if !res.Converged {
			log.Warn("report is based on groups that did not converge", zap.Int("rounds", res.Rounds))
		}

		if err := writeTo(cmd.OutOrStdout(), fixOptions.Out, res.WriteJSON); err != nil {
			return err
		}

		if fixOptions.Corrected != "" {
			err := writeTo(cmd.OutOrStdout(), fixOptions.Corrected, func(w io.Writer) error {
				return impo.WriteCorpus(w, f.Corpus())
			})
			if err != nil {
				return err
			}
		}

		if cfg.Store.Path == "" {
			return nil
		}

		db, repo, err := openRepository(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repo.SaveCorpus(cfg.Store.Run, f.Corpus()); err != nil {
			return err
		}

		if err := repo.SaveResult(cfg.Store.Run, res); err != nil {
			return err
		}

		log.Info("stored run", zap.String("db", cfg.Store.Path), zap.String("run", cfg.Store.Run))

		return nil
	},
}

func init() {
	fs := fixCmd.Flags()
	addFeatureFlags(fs)

	def := fixer.DefaultOptions()
	fs.String("method", "geodist,jaro_winkler", "comma separated baselines; more than one is a soft vote")
	fs.Float64("min-confidence", def.MinConfidence, "probability floor for evictions and merges")
	fs.Int("max-rounds", def.MaxRounds, "maximum regroup rounds")
	fs.String("db", "", "DuckDB file to store the fixed corpus and the report in")
	fs.String("run", "default", "name of the stored run")
	fs.StringVarP(&fixOptions.Out, "out", "o", "-", "report file, - for stdout")
	fs.StringVar(&fixOptions.Corrected, "corrected", "", "write the fixed corpus as JSON to this file")

	rootCmd.AddCommand(fixCmd)
}

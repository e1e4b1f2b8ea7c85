// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the settings of a run from statsimi.yaml, the
// environment and command line flags.
package config

import (
	"errors"
	"strings"

	"github.com/jcodagnone/statsimi/classify"
	"github.com/jcodagnone/statsimi/feature"
	"github.com/jcodagnone/statsimi/fixer"
	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Features feature.Options `mapstructure:"features"`
	Classify ClassifyConfig  `mapstructure:"classify"`
	Fixer    fixer.Options   `mapstructure:"fixer"`
	Store    StoreConfig     `mapstructure:"store"`
	Log      LogConfig       `mapstructure:"log"`
}

// ClassifyConfig selects the baseline and its thresholds.
type ClassifyConfig struct {
	// Method is a comma separated list of baselines; more than one is a
	// soft vote.
	Method string `mapstructure:"method"`

	classify.Params `mapstructure:",squash"`
}

// StoreConfig configures DuckDB persistence.
type StoreConfig struct {
	// Path of the database file; empty disables persistence.
	Path string `mapstructure:"path"`
	// Run names the rows written by a command.
	Run string `mapstructure:"run"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Flags maps command line flag names to configuration keys. Flags missing
// from the set given to Load are ignored.
var Flags = map[string]string{
	"features":       "features.features",
	"cutoff":         "features.cutoff",
	"top-k":          "features.top_k",
	"spice":          "features.spice",
	"force-orphans":  "features.force_orphans",
	"clean":          "features.clean_data",
	"seed":           "features.seed",
	"workers":        "features.workers",
	"temp-dir":       "features.temp_dir",
	"method":         "classify.method",
	"min-confidence": "fixer.min_confidence",
	"max-rounds":     "fixer.max_rounds",
	"db":             "store.path",
	"run":            "store.run",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

func setDefaults(v *viper.Viper) {
	fo := feature.DefaultOptions()
	v.SetDefault("features.features", fo.Features)
	v.SetDefault("features.cutoff", fo.Cutoff)
	v.SetDefault("features.cell_size", fo.CellSize)
	v.SetDefault("features.top_k", fo.TopK)
	v.SetDefault("features.ngram", fo.NGram)
	v.SetDefault("features.num_pos_pairs", fo.NumPosPairs)
	v.SetDefault("features.spice", fo.Spice)
	v.SetDefault("features.spice_count", fo.SpiceCount)
	v.SetDefault("features.spice_sigma", fo.SpiceSigma)
	v.SetDefault("features.force_orphans", fo.ForceOrphans)
	v.SetDefault("features.clean_data", fo.CleanData)
	v.SetDefault("features.suspicious_dist", fo.SuspiciousDist)
	v.SetDefault("features.near_dup_dist", fo.NearDupDist)
	v.SetDefault("features.workers", fo.Workers)
	v.SetDefault("features.chunk_size", fo.ChunkSize)
	v.SetDefault("features.temp_dir", fo.TempDir)
	v.SetDefault("features.seed", fo.Seed)

	cp := classify.DefaultParams()
	v.SetDefault("classify.method", "geodist,jaro_winkler")
	v.SetDefault("classify.geodist_threshold", cp.GeoDistThreshold)
	v.SetDefault("classify.simi_threshold", cp.SimiThreshold)

	xo := fixer.DefaultOptions()
	v.SetDefault("fixer.min_confidence", xo.MinConfidence)
	v.SetDefault("fixer.max_rounds", xo.MaxRounds)
	v.SetDefault("fixer.workers", xo.Workers)

	v.SetDefault("store.path", "")
	v.SetDefault("store.run", "default")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration from file, environment and flags, in
// increasing order of precedence. An empty file looks for statsimi.yaml
// in the working directory, which may be missing.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("statsimi")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STATSIMI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range Flags {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, eris.Wrapf(err, "config: binding flag %s", name)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the options of every section.
func (c *Config) Validate() error {
	if err := c.Features.Validate(); err != nil {
		return err
	}

	if _, err := classify.FeaturesFor(c.Classify.Method); err != nil {
		return err
	}

	return c.Fixer.Validate()
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}

	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	zap.ReplaceGlobals(logger)

	return nil
}

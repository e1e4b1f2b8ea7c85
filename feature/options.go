// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package feature turns pairs of stations into quantized similarity rows
// and stores them in a compressed sparse row matrix.
package feature

import (
	"errors"
	"fmt"
	"runtime"
	"slices"

	"go.uber.org/zap"
)

// Feature names, in canonical column order.
const (
	LevSimi           = "lev_simi"
	GeoDist           = "geodist"
	PEDSimiFw         = "ped_simi_fw"
	PEDSimiBw         = "ped_simi_bw"
	SEDSimiFw         = "sed_simi_fw"
	SEDSimiBw         = "sed_simi_bw"
	JaccardSimi       = "jaccard_simi"
	MissingNGramCount = "missing_ngram_count"
	BTSSimi           = "bts_simi"
	JaroSimi          = "jaro_simi"
	JaroWinklerSimi   = "jaro_winkler_simi"
)

// Names lists every known feature in canonical column order.
var Names = []string{
	LevSimi,
	GeoDist,
	PEDSimiFw,
	PEDSimiBw,
	SEDSimiFw,
	SEDSimiBw,
	JaccardSimi,
	MissingNGramCount,
	BTSSimi,
	JaroSimi,
	JaroWinklerSimi,
}

// ErrorKind classifies configuration errors.
type ErrorKind int

const (
	// ErrorKindUnknownFeature is an unsupported feature name.
	ErrorKindUnknownFeature ErrorKind = iota + 1
	// ErrorKindInvalidOption is an out of range option value.
	ErrorKindInvalidOption
	// ErrorKindMixedInputs is a mix of corpus and pairs input files.
	ErrorKindMixedInputs
	// ErrorKindUnknownMethod is an unsupported classification method.
	ErrorKindUnknownMethod
)

// ConfigError is a configuration problem detected before any work starts.
type ConfigError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError

	return errors.As(err, &cfgErr)
}

// Options configures a Builder.
type Options struct {
	// Features to encode; unknown names are rejected.
	Features []string `mapstructure:"features"`
	// Cutoff is the distance in meters beyond which stations never match.
	Cutoff float64 `mapstructure:"cutoff"`
	// CellSize of the blocking grid, in meters.
	CellSize float64 `mapstructure:"cell_size"`
	TopK     int     `mapstructure:"top_k"`
	NGram    int     `mapstructure:"ngram"`
	// NumPosPairs is the number of tile (x, y) column pairs.
	NumPosPairs int `mapstructure:"num_pos_pairs"`
	// Spice is the probability of adding jittered hard negatives for a
	// station.
	Spice      float64 `mapstructure:"spice"`
	SpiceCount int     `mapstructure:"spice_count"`
	// SpiceSigma is the standard deviation of the jitter, in degrees.
	SpiceSigma     float64 `mapstructure:"spice_sigma"`
	ForceOrphans   bool    `mapstructure:"force_orphans"`
	CleanData      bool    `mapstructure:"clean_data"`
	SuspiciousDist float64 `mapstructure:"suspicious_dist"`
	NearDupDist    float64 `mapstructure:"near_dup_dist"`
	Workers        int     `mapstructure:"workers"`
	ChunkSize      int     `mapstructure:"chunk_size"`
	// TempDir holds the matrix backing files; empty means os.TempDir.
	TempDir string `mapstructure:"temp_dir"`
	Seed    uint64 `mapstructure:"seed"`

	// Vocabulary reuses the n-gram vocabulary of an earlier build.
	Vocabulary *Vocabulary `mapstructure:"-"`
	Logger     *zap.Logger `mapstructure:"-"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Features:       []string{LevSimi, GeoDist},
		Cutoff:         1000,
		CellSize:       1000,
		TopK:           250,
		NGram:          3,
		NumPosPairs:    2,
		SpiceCount:     5,
		SpiceSigma:     0.0005,
		SuspiciousDist: 2000,
		NearDupDist:    250,
		Workers:        runtime.NumCPU(),
		ChunkSize:      50000,
	}
}

// Validate checks the options and returns a *ConfigError on failure.
func (o *Options) Validate() error {
	for _, f := range o.Features {
		if !slices.Contains(Names, f) {
			return &ConfigError{
				Kind:    ErrorKindUnknownFeature,
				Message: fmt.Sprintf("unknown feature %q", f),
			}
		}
	}

	switch {
	case o.Cutoff <= 0:
		return invalidOption("cutoff must be positive, got %v", o.Cutoff)
	case o.NGram <= 0:
		return invalidOption("ngram must be positive, got %d", o.NGram)
	case o.TopK < 0:
		return invalidOption("top_k must not be negative, got %d", o.TopK)
	case o.NumPosPairs < 0:
		return invalidOption("num_pos_pairs must not be negative, got %d", o.NumPosPairs)
	case o.Spice < 0 || o.Spice > 1:
		return invalidOption("spice must be a probability, got %v", o.Spice)
	}

	return nil
}

func invalidOption(format string, args ...any) *ConfigError {
	return &ConfigError{Kind: ErrorKindInvalidOption, Message: fmt.Sprintf(format, args...)}
}

// canonical returns the enabled features in column order.
func (o *Options) canonical() []string {
	var out []string

	for _, f := range Names {
		if slices.Contains(o.Features, f) {
			out = append(out, f)
		}
	}

	return out
}

func (o *Options) withDefaults() Options {
	opts := *o
	def := DefaultOptions()

	if opts.CellSize <= 0 {
		opts.CellSize = def.CellSize
	}

	if opts.SpiceCount <= 0 {
		opts.SpiceCount = def.SpiceCount
	}

	if opts.SpiceSigma <= 0 {
		opts.SpiceSigma = def.SpiceSigma
	}

	if opts.SuspiciousDist <= 0 {
		opts.SuspiciousDist = def.SuspiciousDist
	}

	if opts.NearDupDist <= 0 {
		opts.NearDupDist = def.NearDupDist
	}

	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}

	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	return opts
}

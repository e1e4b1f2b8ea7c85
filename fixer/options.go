// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package fixer

import (
	"fmt"
	"runtime"

	"github.com/jcodagnone/statsimi/feature"
	"go.uber.org/zap"
)

// Options configures a Fixer.
type Options struct {
	// MinConfidence is the probability floor for dismatches and merges.
	MinConfidence float64 `mapstructure:"min_confidence"`
	// MaxRounds caps the number of regroup rounds.
	MaxRounds int `mapstructure:"max_rounds"`
	// Workers scoring merge candidates concurrently.
	Workers int `mapstructure:"workers"`

	Logger *zap.Logger `mapstructure:"-"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinConfidence: 0.6,
		MaxRounds:     500,
		Workers:       runtime.NumCPU(),
	}
}

// Validate checks the options and returns a *feature.ConfigError on
// failure.
func (o *Options) Validate() error {
	switch {
	case o.MinConfidence < 0 || o.MinConfidence >= 1:
		return invalidOption("min_confidence must be in [0, 1), got %v", o.MinConfidence)
	case o.MaxRounds <= 0:
		return invalidOption("max_rounds must be positive, got %d", o.MaxRounds)
	}

	return nil
}

func invalidOption(format string, args ...any) error {
	return &feature.ConfigError{
		Kind:    feature.ErrorKindInvalidOption,
		Message: fmt.Sprintf(format, args...),
	}
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	if opts.Logger == nil {
		opts.Logger = zap.L()
	}

	return opts
}
